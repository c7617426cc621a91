package transport

import "errors"

// Error kinds returned by the runtime. All are wrapped with additional
// context via fmt.Errorf's %w so errors.Is still matches the sentinel.
var (
	// ErrInvalidTopic reports that a topic name failed validation.
	ErrInvalidTopic = errors.New("invalid topic name")

	// ErrNotAdvertised reports an operation on a topic or service that has
	// no local advertisement (e.g. unadvertising something never
	// advertised).
	ErrNotAdvertised = errors.New("topic or service not advertised")

	// ErrDiscoveryUnavailable reports that the discovery beacon could not
	// be reached to advertise or query.
	ErrDiscoveryUnavailable = errors.New("discovery unavailable")

	// ErrTransportFailure reports a socket send or receive failure. These
	// are always recoverable: the runtime logs and continues.
	ErrTransportFailure = errors.New("transport failure")

	// ErrTypeMismatch reports that an incoming or locally dispatched
	// message's declared type disagreed with the handler it reached.
	ErrTypeMismatch = errors.New("message type mismatch")

	// ErrTimeout reports that a blocking request exceeded its caller-
	// supplied deadline before a response arrived.
	ErrTimeout = errors.New("request timed out")

	// ErrParseFailure reports that a wire frame list could not be parsed.
	// The malformed message is discarded; no synthetic frame is
	// substituted.
	ErrParseFailure = errors.New("failed to parse wire frames")

	// ErrUnknownResponder reports a send attempt to a destination socket-id
	// the runtime has no active connection for (the ROUTER_MANDATORY
	// equivalent: a send to an unknown identity fails loudly rather than
	// dropping silently).
	ErrUnknownResponder = errors.New("unknown responder socket")

	// ErrClosed reports an operation attempted after the runtime or node
	// has been torn down.
	ErrClosed = errors.New("runtime is closed")
)
