package container

import "context"

// BuildRequest asks the runtime to build an image from a local context dir.
type BuildRequest struct {
	Tag        string
	ContextDir string
}

// RunRequest asks the runtime to start a detached container.
type RunRequest struct {
	Image string
}

// Container is a summary of a container known to the runtime.
type Container struct {
	ID     string `json:"id"`
	Image  string `json:"image"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Status string `json:"status"`
}

// Runtime is the container engine boundary. All calls block until the
// engine answers.
type Runtime interface {
	Build(ctx context.Context, req BuildRequest) (string, error)
	Run(ctx context.Context, req RunRequest) (string, error)
	List(ctx context.Context) ([]Container, error)
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Logs(ctx context.Context, id string, tail int) (string, error)
}

// OutcomeStatus is the result of one build-and-run attempt.
type OutcomeStatus string

const (
	OutcomeBuilt  OutcomeStatus = "built"
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome is logged and then discarded.
type Outcome struct {
	ContainerID string        `json:"container_id,omitempty"`
	ImageTag    string        `json:"image_tag"`
	RunImage    string        `json:"run_image"`
	Status      OutcomeStatus `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Err         error         `json:"-"`
}

// Succeeded reports whether the container was built and started.
func (o Outcome) Succeeded() bool { return o.Status == OutcomeBuilt }
