package machine

import "github.com/pkg/errors"

// Kind discriminates the operator-visible error kinds from §7. Transport
// and PeripheralUnavailable faults never reach this boundary: they are
// recovered locally (the link closes and retries on the next Connect,
// peripheral sinks degrade to no-ops at construction).
type Kind int

// The three operator-visible error kinds.
const (
	_ Kind = iota
	KindNotFound
	KindInvalidArgument
	KindInvalidState
)

// Error is a typed operator-visible fault, distinguishable with errors.As.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// ErrNotFound reports a referenced file or tool that does not exist.
func ErrNotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// ErrInvalidArgument reports a malformed operator argument, e.g. a jog
// axis that is not one of X/Y/Z.
func ErrInvalidArgument(msg string) error {
	return &Error{Kind: KindInvalidArgument, Message: msg}
}

// ErrInvalidState reports an operation rejected by the state machine,
// e.g. start_job while a job is already Running or Paused.
func ErrInvalidState(msg string) error {
	return &Error{Kind: KindInvalidState, Message: msg}
}

// Is lets errors.Is match on Kind alone, so callers can write
// errors.Is(err, machine.ErrInvalidState("")) without caring about the
// message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// wrapFault wraps a transport or peripheral fault with context for
// logging; it is never returned to an operator-facing caller.
func wrapFault(err error, context string) error {
	return errors.Wrap(err, context)
}
