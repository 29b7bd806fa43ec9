package botrule

import "fmt"

// Domain error codes carried in the response envelope.
const (
	CodeOK            = 0
	CodeInternal      = 500
	CodeMultipleHosts = 50000
)

// DomainError is a business rejection reported through the envelope code
// (HTTP status stays 200).
type DomainError struct {
	Code int
	Msg  string
}

func (e *DomainError) Error() string { return fmt.Sprintf("botrule: %d: %s", e.Code, e.Msg) }

// Is matches on Code so callers can errors.Is against the sentinels.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// ErrMultipleHosts rejects a replace request whose rules do not name exactly
// one host.
var ErrMultipleHosts = &DomainError{
	Code: CodeMultipleHosts,
	Msg:  "发现多套网站的规则，每次更新只能同一套网站。",
}
