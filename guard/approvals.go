package guard

import (
	"context"
	"time"

	"github.com/chillysbabybackribs/clawdia/internal/jsonutil"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

func statusForDecision(d ApprovalDecision, src DecisionSource) ApprovalStatus {
	switch d {
	case DecisionApprove, DecisionTask, DecisionAlways:
		return ApprovalApproved
	}
	if src == SourceTimeout {
		return ApprovalExpired
	}
	return ApprovalDenied
}

// ApprovalRecord is the durable mirror of one ApprovalRequest.
type ApprovalRecord struct {
	Request    ApprovalRequest
	ActionHash string

	Status     ApprovalStatus
	Decision   ApprovalDecision
	Source     DecisionSource
	ResolvedAt *time.Time
}

// ApprovalStore persists the request lifecycle. Resolve must succeed at most
// once per id and return ErrAlreadyResolved afterwards.
type ApprovalStore interface {
	Create(ctx context.Context, rec ApprovalRecord) error
	Get(ctx context.Context, id string) (ApprovalRecord, bool, error)
	Resolve(ctx context.Context, id string, decision ApprovalDecision, source DecisionSource) error
	ListPending(ctx context.Context) ([]ApprovalRecord, error)
}

// actionHash fingerprints what was asked so an audit reader can match a
// record to the action that ran.
func (r ApprovalRequest) actionHash() string {
	h, err := jsonutil.Hash(map[string]any{
		"tool":   r.Tool,
		"risk":   string(r.Risk),
		"detail": r.Detail,
		"taskId": r.TaskID,
	})
	if err != nil {
		return ""
	}
	return h
}
