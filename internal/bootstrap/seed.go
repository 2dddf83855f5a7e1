package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dandantas/nyxmon/internal/database"
	"github.com/dandantas/nyxmon/internal/model"
	"github.com/dandantas/nyxmon/internal/service"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document loaded by the seed command
type SeedFile struct {
	Services []model.Service `yaml:"services"`
	Checks   []model.Check   `yaml:"checks"`
}

// Seed loads services and checks from YAML into store through AddService and
// AddCheck, services first. It stops at the first rejected entry.
func Seed(ctx context.Context, store database.Store, r io.Reader) (services, checks int, err error) {
	var file SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return 0, 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	bus := service.NewMessageBus(func() *service.UnitOfWork { return service.NewUnitOfWork(store) })
	service.RegisterHandlers(bus, service.Dependencies{})

	for _, s := range file.Services {
		if err := bus.Handle(ctx, service.AddService{Service: s}); err != nil {
			return services, checks, fmt.Errorf("failed to add service %d: %w", s.ServiceID, err)
		}
		services++
	}
	for _, c := range file.Checks {
		if err := bus.Handle(ctx, service.AddCheck{Check: c}); err != nil {
			return services, checks, fmt.Errorf("failed to add check %d: %w", c.CheckID, err)
		}
		checks++
	}

	slog.Info("Seed completed", "services", services, "checks", checks)
	return services, checks, nil
}
