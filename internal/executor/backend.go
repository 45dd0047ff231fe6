package executor

import (
	"context"

	"github.com/ShayCichocki/delegate/pkg/models"
)

// Call is the request crossing the backend boundary.
type Call struct {
	TaskID       string
	Type         models.TaskType
	Executor     models.ExecutorID
	Model        string
	System       string
	Payload      string
	Capabilities []models.Capability
	// Budget is the largest amount the call may consume.
	Budget    int64
	MaxTokens int64
}

// Response is a successful backend reply.
type Response struct {
	Payload string
	// Consumed is the resource amount the call used.
	Consumed int64
}

// Backend performs the actual compute for a gateway.
// On failure a backend may still report Consumed in the response.
type Backend interface {
	Invoke(ctx context.Context, call Call) (Response, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, call Call) (Response, error)

// Invoke calls f.
func (f BackendFunc) Invoke(ctx context.Context, call Call) (Response, error) {
	return f(ctx, call)
}
