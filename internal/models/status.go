package models

import "fmt"

// RequestStatus is the lifecycle state of a RequestRecord.
type RequestStatus string

// Request lifecycle states
const (
	StatusAutoResponded   RequestStatus = "auto_responded"
	StatusPendingApproval RequestStatus = "pending_approval"
	StatusApprovedGrok    RequestStatus = "approved_grok"
	StatusApprovedManual  RequestStatus = "approved_manual"
	StatusRejected        RequestStatus = "rejected"
	StatusError           RequestStatus = "error"
)

// transitions lists the only edges out of a persisted state.
var transitions = map[RequestStatus][]RequestStatus{
	StatusPendingApproval: {StatusApprovedGrok, StatusApprovedManual, StatusRejected, StatusError},
}

// ParseRequestStatus validates a status string.
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(s); st {
	case StatusAutoResponded, StatusPendingApproval, StatusApprovedGrok,
		StatusApprovedManual, StatusRejected, StatusError:
		return st, nil
	}
	return "", fmt.Errorf("unknown request status %q", s)
}

// IsTerminal reports whether no further transition is possible.
func (s RequestStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether s may advance to next.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsInitial reports whether a record may be created in this state.
func (s RequestStatus) IsInitial() bool {
	return s == StatusAutoResponded || s == StatusPendingApproval || s == StatusError
}
