package notify

import (
	"fmt"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
)

// Payload is the JSON body posted to webhooks
type Payload struct {
	Text     string         `json:"text"`
	Event    string         `json:"event"`
	Metadata map[string]any `json:"metadata"`
	Details  map[string]any `json:"details"`
}

// FormatCheckFailed builds the payload for a warning or error result
func FormatCheckFailed(check model.Check, result model.Result) Payload {
	name := check.Name
	if name == "" {
		name = fmt.Sprintf("check %d", check.CheckID)
	}

	text := fmt.Sprintf("Check %s (%s) is %s", name, check.CheckType, result.Status)
	if msg := result.ErrorMessage(); msg != "" {
		text = fmt.Sprintf("%s: %s", text, msg)
	}

	return Payload{
		Text:  text,
		Event: model.CheckFailed{}.EventName(),
		Metadata: map[string]any{
			"service":   "nyxmon",
			"severity":  severity(result.Status),
			"timestamp": time.Unix(result.CreatedAt, 0).UTC().Format(time.RFC3339),
		},
		Details: map[string]any{
			"check_id":   check.CheckID,
			"service_id": check.ServiceID,
			"check_type": check.CheckType,
			"url":        check.URL,
			"result_id":  result.ResultID,
			"status":     result.Status,
			"error_type": result.ErrorType(),
			"data":       result.Data,
		},
	}
}

// FormatServiceStatusChanged builds the payload for a service status change
func FormatServiceStatusChanged(service model.Service, status model.ServiceStatus, at time.Time) Payload {
	return Payload{
		Text:  fmt.Sprintf("Service %s is now %s", service.Name, status),
		Event: model.ServiceStatusChanged{}.EventName(),
		Metadata: map[string]any{
			"service":   "nyxmon",
			"severity":  severity(model.ResultStatus(status)),
			"timestamp": at.UTC().Format(time.RFC3339),
		},
		Details: map[string]any{
			"service_id":   service.ServiceID,
			"service_name": service.Name,
			"status":       status,
		},
	}
}

func severity(status model.ResultStatus) string {
	switch status {
	case model.ResultStatusError:
		return "error"
	case model.ResultStatusWarning:
		return "warning"
	default:
		return "info"
	}
}
