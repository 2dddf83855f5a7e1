package model

// Event is a domain event recorded on an aggregate and dispatched after commit
type Event interface {
	EventName() string
}

// CheckSucceeded is recorded when a check produced an ok result
type CheckSucceeded struct {
	CheckID  int64  `json:"check_id"`
	ResultID string `json:"result_id"`
}

// CheckFailed is recorded when a check produced a warning or error result
type CheckFailed struct {
	CheckID   int64        `json:"check_id"`
	ResultID  string       `json:"result_id"`
	Status    ResultStatus `json:"status"`
	ErrorType string       `json:"error_type,omitempty"`
}

// ServiceStatusChanged is recorded when a service's aggregated status changes
type ServiceStatusChanged struct {
	ServiceID int64         `json:"service_id"`
	Status    ServiceStatus `json:"status"`
}

func (CheckSucceeded) EventName() string       { return "check_succeeded" }
func (CheckFailed) EventName() string          { return "check_failed" }
func (ServiceStatusChanged) EventName() string { return "service_status_changed" }
