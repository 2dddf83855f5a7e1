package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/dandantas/nyxmon/internal/model"
	"github.com/sourcegraph/conc/panics"
)

// ErrNoHandler is returned when a command has no registered handler
var ErrNoHandler = errors.New("no handler registered")

// CommandHandler handles one command type with a fresh unit of work
type CommandHandler[C Command] func(ctx context.Context, uow *UnitOfWork, cmd C) error

// EventHandler handles one event type with a fresh unit of work
type EventHandler[E model.Event] func(ctx context.Context, uow *UnitOfWork, event E) error

type handlerFunc func(ctx context.Context, uow *UnitOfWork, msg any) error

// MessageBus routes commands to their single handler and events to every subscriber.
// Events raised by a handler are processed after it, in the order collected.
type MessageBus struct {
	newUoW   UnitOfWorkFactory
	commands map[reflect.Type]handlerFunc
	events   map[reflect.Type][]handlerFunc
}

// NewMessageBus creates a bus that gives every handler invocation its own unit of work
func NewMessageBus(newUoW UnitOfWorkFactory) *MessageBus {
	return &MessageBus{
		newUoW:   newUoW,
		commands: make(map[reflect.Type]handlerFunc),
		events:   make(map[reflect.Type][]handlerFunc),
	}
}

// HandleCommand registers the handler for C, replacing any previous one.
// Registration must finish before the bus handles messages.
func HandleCommand[C Command](b *MessageBus, h CommandHandler[C]) {
	b.commands[reflect.TypeFor[C]()] = func(ctx context.Context, uow *UnitOfWork, msg any) error {
		return h(ctx, uow, msg.(C))
	}
}

// HandleEvent subscribes h to events of type E
func HandleEvent[E model.Event](b *MessageBus, h EventHandler[E]) {
	t := reflect.TypeFor[E]()
	b.events[t] = append(b.events[t], func(ctx context.Context, uow *UnitOfWork, msg any) error {
		return h(ctx, uow, msg.(E))
	})
}

// Handle processes msg and every event it causes. A command error stops
// processing and is returned; event handler errors are logged.
func (b *MessageBus) Handle(ctx context.Context, msg any) error {
	queue := []any{msg}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		switch m := current.(type) {
		case model.Event:
			queue = append(queue, b.handleEvent(ctx, m)...)
		case Command:
			events, err := b.handleCommand(ctx, m)
			if err != nil {
				return err
			}
			queue = append(queue, events...)
		default:
			return fmt.Errorf("%w: %T is neither a command nor an event", ErrNoHandler, current)
		}
	}
	return nil
}

func (b *MessageBus) handleCommand(ctx context.Context, cmd Command) ([]any, error) {
	h, ok := b.commands[reflect.TypeOf(cmd)]
	if !ok {
		return nil, fmt.Errorf("%w for command %s", ErrNoHandler, cmd.CommandName())
	}

	slog.Debug("Handling command", "command", cmd.CommandName())
	events, err := b.invoke(ctx, h, cmd)
	if err != nil {
		slog.Debug("Command failed", "command", cmd.CommandName(), "error", err.Error())
		return nil, err
	}
	return events, nil
}

func (b *MessageBus) handleEvent(ctx context.Context, event model.Event) []any {
	var next []any
	for _, h := range b.events[reflect.TypeOf(event)] {
		slog.Debug("Handling event", "event", event.EventName())
		events, err := b.invoke(ctx, h, event)
		if err != nil {
			slog.Error("Event handler failed", "event", event.EventName(), "error", err.Error())
			continue
		}
		next = append(next, events...)
	}
	return next
}

// invoke runs h with a fresh unit of work. Panics become errors and roll back.
func (b *MessageBus) invoke(ctx context.Context, h handlerFunc, msg any) ([]any, error) {
	uow := b.newUoW()

	var err error
	var catcher panics.Catcher
	catcher.Try(func() {
		err = h(ctx, uow, msg)
	})
	if rec := catcher.Recovered(); rec != nil {
		err = fmt.Errorf("handler panicked: %v", rec.Value)
	}

	if err != nil {
		if rbErr := uow.Rollback(ctx); rbErr != nil {
			slog.Warn("Failed to rollback after handler error", "error", rbErr.Error())
		}
		uow.CollectNewEvents()
		return nil, err
	}

	if uow.tx != nil {
		slog.Warn("Handler returned with an open transaction, rolling back", "message", fmt.Sprintf("%T", msg))
		_ = uow.Rollback(ctx)
	}

	collected := uow.CollectNewEvents()
	events := make([]any, len(collected))
	for i, e := range collected {
		events[i] = e
	}
	return events, nil
}
