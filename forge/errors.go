package forge

import "errors"

// Error kinds, not types: every error the orchestrator returns across a
// package boundary wraps one of these sentinels so callers can
// errors.Is against a stable vocabulary regardless of which component
// produced it.
var (
	// ErrConfigError indicates static configuration is invalid. Fatal at
	// startup; never returned from a running request path.
	ErrConfigError = errors.New("config error")

	// ErrNoCapableNode indicates the Router found no node satisfying both
	// healthy=true and the required capability tag.
	ErrNoCapableNode = errors.New("no capable node")

	// ErrTransport indicates a network or protocol failure talking to a
	// worker. Retriable via reconnection/backoff; surfaced per-job as failed.
	ErrTransport = errors.New("transport error")

	// ErrTimeout indicates a deadline elapsed waiting for a submit, poll,
	// or artifact fetch to complete.
	ErrTimeout = errors.New("timeout")

	// ErrRejectedByWorker indicates the worker refused a submitted job graph.
	ErrRejectedByWorker = errors.New("rejected by worker")

	// ErrMissingParameter indicates a template placeholder had no
	// corresponding value at build time.
	ErrMissingParameter = errors.New("missing parameter")

	// ErrUnsupportedAdapter indicates adapter injection was attempted on a
	// template whose manifest entry forbids adapters.
	ErrUnsupportedAdapter = errors.New("unsupported adapter")

	// ErrNotFound indicates a generation, session, node, or artifact is unknown.
	ErrNotFound = errors.New("not found")

	// ErrCorruptExport indicates a Preference Engine import payload failed
	// to decode or failed its version check.
	ErrCorruptExport = errors.New("corrupt export")

	// ErrCancelled indicates a job was aborted by session cancellation.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalidTransition indicates a requested state transition is not
	// reachable from the current state (e.g. advancing a session that is
	// not in the reviewing stage).
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Kind classifies an error for HTTP-status mapping and logging, without
// requiring callers to errors.Is against every sentinel above.
type Kind string

const (
	KindConfig             Kind = "config_error"
	KindNoCapableNode      Kind = "no_capable_node"
	KindTransport          Kind = "transport_error"
	KindTimeout            Kind = "timeout"
	KindRejectedByWorker   Kind = "rejected_by_worker"
	KindMissingParameter   Kind = "missing_parameter"
	KindUnsupportedAdapter Kind = "unsupported_adapter"
	KindNotFound           Kind = "not_found"
	KindCorruptExport      Kind = "corrupt_export"
	KindCancelled          Kind = "cancelled"
	KindInvalidTransition  Kind = "invalid_transition"
	KindInternal           Kind = "internal"
)

// KindOf classifies err against the sentinel vocabulary above, unwrapping
// through errors.Is. Returns KindInternal for anything unrecognized.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrConfigError):
		return KindConfig
	case errors.Is(err, ErrNoCapableNode):
		return KindNoCapableNode
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrRejectedByWorker):
		return KindRejectedByWorker
	case errors.Is(err, ErrMissingParameter):
		return KindMissingParameter
	case errors.Is(err, ErrUnsupportedAdapter):
		return KindUnsupportedAdapter
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCorruptExport):
		return KindCorruptExport
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	default:
		return KindInternal
	}
}

// HTTPStatus maps a Kind to the status code §7 specifies for it.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNoCapableNode:
		return 503
	case KindMissingParameter, KindUnsupportedAdapter:
		return 400
	case KindNotFound:
		return 404
	case KindCorruptExport:
		return 422
	case KindTimeout:
		return 504
	case KindInvalidTransition:
		return 409
	case KindConfig, KindInternal:
		return 500
	default:
		return 500
	}
}

// APIError is the human-readable, kind-tagged error returned over the
// HTTP surface.
type APIError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError wraps err with its classified Kind and a human message.
func NewAPIError(err error) *APIError {
	return &APIError{Kind: KindOf(err), Message: err.Error()}
}
