package agentrt

import "errors"

// Kind categorizes errors per the taxonomy in SPEC_FULL.md §7. It is a kind,
// not a type name: callers branch on Kind via errors.As on a *Error, not on
// concrete Go types per component.
type Kind int

const (
	KindValidation Kind = iota
	KindOwnership
	KindSafetyGate
	KindSynthesis
	KindSandboxTimeout
	KindSandboxMemory
	KindSandboxRuntime
	KindTransport
	KindIntegration
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindOwnership:
		return "ownership"
	case KindSafetyGate:
		return "safety-gate"
	case KindSynthesis:
		return "synthesis"
	case KindSandboxTimeout:
		return "sandbox-timeout"
	case KindSandboxMemory:
		return "sandbox-memory"
	case KindSandboxRuntime:
		return "sandbox-runtime"
	case KindTransport:
		return "transport"
	case KindIntegration:
		return "integration"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the taxonomy-carrying error type threaded through every component.
// It wraps an underlying cause so errors.Is/errors.As still work against it.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, agentrt.ErrOwnership)-style sentinel checks even
// though Error carries a dynamic message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// newKind builds an *Error of the given kind wrapping cause (cause may be nil).
func newKind(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Msg: msg, Err: cause}
}

// WrapValidation, WrapOwnership, ... build a tagged *Error of the matching
// kind. These are the constructors every component should use instead of
// fmt.Errorf so callers further up the stack can classify failures per §7.
func WrapValidation(cause error, msg string) error { return newKind(KindValidation, msg, cause) }
func WrapOwnership(cause error, msg string) error  { return newKind(KindOwnership, msg, cause) }
func WrapSafetyGate(cause error, msg string) error { return newKind(KindSafetyGate, msg, cause) }
func WrapSynthesis(cause error, msg string) error  { return newKind(KindSynthesis, msg, cause) }
func WrapSandboxTimeout(msg string) error          { return newKind(KindSandboxTimeout, msg, nil) }
func WrapSandboxMemory(msg string) error           { return newKind(KindSandboxMemory, msg, nil) }
func WrapSandboxRuntime(cause error, msg string) error {
	return newKind(KindSandboxRuntime, msg, cause)
}
func WrapTransport(cause error, msg string) error   { return newKind(KindTransport, msg, cause) }
func WrapIntegration(cause error, msg string) error { return newKind(KindIntegration, msg, cause) }
func WrapFatal(cause error, msg string) error       { return newKind(KindFatal, msg, cause) }

// Sentinel causes. Wrap with the constructors above to attach a Kind, e.g.
// WrapOwnership(ErrNotFound, "agent 42").
var (
	// ErrNotFound indicates a row does not exist, or exists but is owned by
	// someone else — the two are deliberately indistinguishable (§4.1).
	ErrNotFound = errors.New("not found")

	// ErrInvalidTrigger indicates a Trigger's Kind/parameter combination is
	// malformed (e.g. scheduled with period <= 0).
	ErrInvalidTrigger = errors.New("invalid trigger")

	// ErrBusy indicates the per-agent lock was held when a trigger arrived.
	ErrBusy = errors.New("agent busy")

	// ErrSynthesisExhausted indicates the model chain / safety-gate retry
	// budget was exhausted without producing an acceptable artifact.
	ErrSynthesisExhausted = errors.New("synthesis failed")

	// ErrNotInstalled indicates call_plugin referenced a plugin the calling
	// user has not installed.
	ErrNotInstalled = errors.New("plugin not installed")
)

// IsNotFoundOrForbidden reports whether err represents the ownership-masking
// not-found response required by §4.1 / §8 (S4): true for both a genuinely
// missing row and a row owned by someone else.
func IsNotFoundOrForbidden(err error) bool {
	return errors.Is(err, ErrNotFound)
}
