package service

import "github.com/dandantas/nyxmon/internal/model"

// Command is a request for the system to change state. Each command has exactly one handler.
type Command interface {
	CommandName() string
}

// AddCheck creates or replaces a check
type AddCheck struct {
	Check model.Check
}

// DeleteCheck removes a check and its results
type DeleteCheck struct {
	CheckID int64
}

// AddService creates or replaces a service
type AddService struct {
	Service model.Service
}

// AddResult records the outcome of one check execution
type AddResult struct {
	Result model.Result
}

// ExecuteChecks claims the listed checks and runs them in the background
type ExecuteChecks struct {
	CheckIDs []int64
}

type StartCollector struct{}
type StopCollector struct{}
type StartCleaner struct{}
type StopCleaner struct{}

func (AddCheck) CommandName() string       { return "add_check" }
func (DeleteCheck) CommandName() string    { return "delete_check" }
func (AddService) CommandName() string     { return "add_service" }
func (AddResult) CommandName() string      { return "add_result" }
func (ExecuteChecks) CommandName() string  { return "execute_checks" }
func (StartCollector) CommandName() string { return "start_collector" }
func (StopCollector) CommandName() string  { return "stop_collector" }
func (StartCleaner) CommandName() string   { return "start_cleaner" }
func (StopCleaner) CommandName() string    { return "stop_cleaner" }
