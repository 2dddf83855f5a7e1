package model

import "errors"

// ServiceStatus is the aggregated health of a service, computed from its checks' latest results
type ServiceStatus string

const (
	ServiceStatusOK      ServiceStatus = "ok"
	ServiceStatusWarning ServiceStatus = "warning"
	ServiceStatusError   ServiceStatus = "error"
	ServiceStatusUnknown ServiceStatus = "unknown"
)

// Service groups checks under a name
type Service struct {
	ServiceID int64  `json:"service_id" bson:"_id" yaml:"service_id"`
	Name      string `json:"name" bson:"name" yaml:"name"`

	events []Event
}

// Validate validates a service definition
func (s *Service) Validate() error {
	if s.ServiceID <= 0 {
		return errors.New("service_id must be positive")
	}
	if s.Name == "" {
		return errors.New("service name is required")
	}
	return nil
}

// Clone returns a copy without pending events
func (s *Service) Clone() *Service {
	out := *s
	out.events = nil
	return &out
}

// Record appends a pending domain event
func (s *Service) Record(e Event) {
	s.events = append(s.events, e)
}

// PopEvents drains pending events in the order they were recorded
func (s *Service) PopEvents() []Event {
	events := s.events
	s.events = nil
	return events
}

// AggregateStatus rolls latest result statuses up into a service status
func AggregateStatus(statuses []ResultStatus) ServiceStatus {
	if len(statuses) == 0 {
		return ServiceStatusUnknown
	}
	status := ServiceStatusOK
	for _, s := range statuses {
		switch s {
		case ResultStatusError:
			return ServiceStatusError
		case ResultStatusWarning:
			status = ServiceStatusWarning
		}
	}
	return status
}

// AggregateLatest rolls up a map of check id to latest result status
func AggregateLatest(latest map[int64]ResultStatus) ServiceStatus {
	statuses := make([]ResultStatus, 0, len(latest))
	for _, s := range latest {
		statuses = append(statuses, s)
	}
	return AggregateStatus(statuses)
}
