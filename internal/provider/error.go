// Package provider holds the HTTP clients for the external
// collaborators: the web search provider, the language model and the
// opaque scoring service. Clients map transport and API failures to
// *Error so phase workers can propagate the reason verbatim.
package provider

import "fmt"

// Error is a collaborator call failure. The message is preserved as
// returned by the collaborator; a failed phase carries it through to
// observers unchanged.
type Error struct {
	Collaborator string
	Op           string
	StatusCode   int
	Message      string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (status %d): %s", e.Collaborator, e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Collaborator, e.Op, e.Message)
}

func newError(collaborator, op string, status int, message string) *Error {
	return &Error{Collaborator: collaborator, Op: op, StatusCode: status, Message: message}
}
