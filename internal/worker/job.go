package worker

import "context"

// Job is one unit of background work, such as a notification delivery
type Job struct {
	// Name identifies the job kind in logs
	Name string
	// Key identifies the subject of the job, for example a check id
	Key string
	Run func(ctx context.Context) error
}
