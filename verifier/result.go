package verifier

import "strings"

const (
	// AcceptedCode is the response code for an approved challenge.
	AcceptedCode = "TOUCH_ACCEPTED"
	// UnknownCode is returned by ParseResponseCode when no code can be read.
	UnknownCode = "UNKNOWN"

	codeMarker = `"code":"`
)

// FailureKind classifies why a challenge produced no response code.
type FailureKind int

const (
	// FailureTransport covers connection, TLS and I/O errors.
	FailureTransport FailureKind = iota + 1
	// FailureTimeout means the request or connection timed out.
	FailureTimeout
	// FailureStatus means the upstream answered with a non-200 status.
	FailureStatus
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureTimeout:
		return "timeout"
	case FailureStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Failure describes a call that did not yield a response code.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

// Result is the outcome of one challenge. Exactly one of Code and Failure is
// meaningful: Failure is nil when the upstream replied with status 200.
type Result struct {
	Code       string
	StatusCode int
	Failure    *Failure
}

// Accepted reports whether the user approved the challenge.
func (r Result) Accepted() bool {
	return r.Failure == nil && r.Code == AcceptedCode
}

// ParseResponseCode extracts the value of the "code" field from body without a
// JSON decoder. Blank bodies, a missing marker or an unterminated value yield
// UnknownCode.
func ParseResponseCode(body string) string {
	if strings.TrimSpace(body) == "" {
		return UnknownCode
	}
	start := strings.Index(body, codeMarker)
	if start < 0 {
		return UnknownCode
	}
	start += len(codeMarker)
	end := strings.IndexByte(body[start:], '"')
	if end < 0 {
		return UnknownCode
	}
	return body[start : start+end]
}

// IsTimeoutCode reports whether a response code signals that the user did not
// answer in time.
func IsTimeoutCode(code string) bool {
	return strings.Contains(code, "TIMEOUT") || strings.Contains(code, "EXPIRED")
}
