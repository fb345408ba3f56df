package taskgraph

import "github.com/pkg/errors"

// Error kinds per the error handling design: each is a sentinel checked
// with errors.Is after a wrap at the call site.
var (
	ErrInvalidDependency = errors.New("invalid dependency")
	ErrCycleDetected     = errors.New("cycle detected")
	ErrUnknownTask       = errors.New("unknown task")
)
