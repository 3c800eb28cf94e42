package tools

import (
	"errors"
	"fmt"
)

// NotConnectedError reports that the user never authorized the service.
type NotConnectedError struct {
	Service string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s is not connected", e.Service)
}

// RefreshError reports a failed token refresh exchange. The message is what
// the model sees as the tool result, so it stays human-readable.
type RefreshError struct {
	Service string
	Err     error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("Failed to refresh %s token", e.Service)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// UpstreamError reports a non-success response or transport failure from a
// connected service's API, including credential-store outages observed
// during tool execution.
type UpstreamError struct {
	Service string
	Op      string
	Status  int
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed with status %d", e.Service, e.Op, e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// UnsupportedServiceError reports a tool name whose derived service has no
// registered connector. Unlike the other tool errors this one is turn-fatal.
type UnsupportedServiceError struct {
	Service string
}

func (e *UnsupportedServiceError) Error() string {
	return fmt.Sprintf("%s is not a supported app", e.Service)
}

// UnknownToolError reports a tool name the owning connector does not
// recognize.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("Unknown tool: %s", e.Name)
}

// Recoverable reports whether a tool-execution failure should be folded into
// the conversation as the tool result text rather than aborting the turn.
func Recoverable(err error) bool {
	var (
		notConnected *NotConnectedError
		refresh      *RefreshError
		upstream     *UpstreamError
		unknownTool  *UnknownToolError
	)
	return errors.As(err, &notConnected) ||
		errors.As(err, &refresh) ||
		errors.As(err, &upstream) ||
		errors.As(err, &unknownTool)
}
