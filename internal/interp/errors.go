package interp

import (
	"fmt"

	"github.com/ppiankov/flowtrace/internal/event"
)

// UnsupportedError reports a script construct the tracer cannot hook.
// It is raised during Load, before any execution.
type UnsupportedError struct {
	Loc       event.Loc
	Construct string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: unsupported construct: %s", e.Loc, e.Construct)
}

// RuntimeError reports a failure raised by the traced program itself.
// The recorder treats it as non-fatal: the partial graph survives.
type RuntimeError struct {
	Loc event.Loc
	Msg string
}

func (e *RuntimeError) Error() string {
	if e.Loc.File == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Loc, e.Msg)
}
