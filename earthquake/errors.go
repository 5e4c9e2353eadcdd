package earthquake

import "errors"

// Failure sentinels. Components wrap these so callers can match with errors.Is.
var (
	ErrInvalidRequest   = errors.New("earthquake: invalid request")
	ErrNoConnectivity   = errors.New("earthquake: no connectivity")
	ErrNetwork          = errors.New("earthquake: network error")
	ErrUnexpectedStatus = errors.New("earthquake: unexpected status")
	ErrParse            = errors.New("earthquake: parse error")
)

// FailureKind classifies why a load attempt failed.
type FailureKind int

const (
	KindNone FailureKind = iota
	InvalidRequest
	NoConnectivity
	NetworkError
	ParseError
)

// String returns string representation.
func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case InvalidRequest:
		return "InvalidRequest"
	case NoConnectivity:
		return "NoConnectivity"
	case NetworkError:
		return "NetworkError"
	case ParseError:
		return "ParseError"
	default:
		return "Unknown"
	}
}

// Classify maps an error produced by the pipeline to its FailureKind.
// A non-200 status counts as a NetworkError.
// Errors outside the taxonomy are reported as NetworkError.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidRequest):
		return InvalidRequest
	case errors.Is(err, ErrNoConnectivity):
		return NoConnectivity
	case errors.Is(err, ErrParse):
		return ParseError
	default:
		return NetworkError
	}
}
