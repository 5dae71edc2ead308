package models

import (
	"fmt"
	"strings"
)

// DecisionKind names an admin resolution of a pending request.
type DecisionKind string

// Decision kinds
const (
	DecisionGrok   DecisionKind = "grok"
	DecisionManual DecisionKind = "manual"
	DecisionReject DecisionKind = "reject"
)

// Default reply texts used when an admin leaves the field empty.
const (
	DefaultManualReply = "Admin reply."
	DefaultRejectReply = "Request rejected by an admin."
)

// Decision is a closed set: GrokDecision, ManualDecision and RejectDecision.
// The unexported method keeps other packages from adding variants.
type Decision interface {
	Kind() DecisionKind
	decision()
}

// GrokDecision runs the deferred AI call.
type GrokDecision struct{}

// ManualDecision answers with an admin-written reply.
type ManualDecision struct {
	Reply string
}

// RejectDecision declines the request. Reason becomes the user-facing reply.
type RejectDecision struct {
	Reason string
}

func (GrokDecision) Kind() DecisionKind   { return DecisionGrok }
func (ManualDecision) Kind() DecisionKind { return DecisionManual }
func (RejectDecision) Kind() DecisionKind { return DecisionReject }

func (GrokDecision) decision()   {}
func (ManualDecision) decision() {}
func (RejectDecision) decision() {}

// ReplyText returns the admin text or the default.
func (d ManualDecision) ReplyText() string {
	if strings.TrimSpace(d.Reply) == "" {
		return DefaultManualReply
	}
	return d.Reply
}

// ReplyText returns the reason or the default.
func (d RejectDecision) ReplyText() string {
	if strings.TrimSpace(d.Reason) == "" {
		return DefaultRejectReply
	}
	return d.Reason
}

// ParseDecision builds a Decision from its wire form.
func ParseDecision(kind, manualReply, reason string) (Decision, error) {
	switch DecisionKind(strings.ToLower(strings.TrimSpace(kind))) {
	case DecisionGrok:
		return GrokDecision{}, nil
	case DecisionManual:
		return ManualDecision{Reply: manualReply}, nil
	case DecisionReject:
		return RejectDecision{Reason: reason}, nil
	}
	return nil, fmt.Errorf("unknown decision %q", kind)
}
