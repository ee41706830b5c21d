package queue

import "context"

// Job defines a handler for due tasks of one kind.
type Job interface {
	// Name returns the unique identifier of the job.
	Name() string

	// Kind returns the task kind that the job handles.
	Kind() string

	// Handle processes one due task identified by its key.
	Handle(ctx context.Context, key string) error
}
