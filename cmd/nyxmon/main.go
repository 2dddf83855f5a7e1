package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dandantas/nyxmon/internal/bootstrap"
	"github.com/dandantas/nyxmon/internal/config"
	"github.com/spf13/pflag"
)

const usage = `Usage: nyxmon <command> [flags]

Commands:
  start   run the monitoring agent
  seed    load services and checks from a YAML file into a SQLite database

Run "nyxmon <command> --help" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = start(os.Args[2:])
	case "seed":
		err = seed(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("Fatal error", "error", err.Error())
		os.Exit(1)
	}
}

func start(args []string) error {
	flags := pflag.NewFlagSet("start", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCloser, err := config.InitLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return bootstrap.Run(ctx, cfg)
}

func seed(args []string) error {
	flags := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	db := flags.String("db", "", "SQLite database path, created if missing")
	file := flags.String("file", "", "YAML file with services and checks")
	logLevel := flags.String("log-level", "INFO", "log level")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *db == "" || *file == "" {
		return errors.New("seed requires --db and --file")
	}

	if _, err := config.InitLogger(config.LogConfig{Level: *logLevel, Format: "text"}); err != nil {
		return err
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	store, err := bootstrap.OpenStore(ctx, config.StorageConfig{DB: *db}, true)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	_, _, err = bootstrap.Seed(ctx, store, f)
	return err
}
