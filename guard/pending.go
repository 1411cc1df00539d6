package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultResolvedTTL = 10 * time.Minute
	// resolvedCacheSize bounds how many resolved ids SourceOf remembers.
	resolvedCacheSize = 4096
)

type pendingEntry struct {
	req   ApprovalRequest
	ch    chan pendingResult
	timer *time.Timer
}

type pendingResult struct {
	decision ApprovalDecision
	source   DecisionSource
}

type resolvedEntry struct {
	source DecisionSource
	at     time.Time
}

type PendingOptions struct {
	// Store mirrors every request durably when set.
	Store ApprovalStore
	// DenyOnExpiry resolves a request DENY with source timeout once its
	// ExpiresAt passes.
	DenyOnExpiry bool
	// ResolvedTTL is how long the source of a resolved request stays
	// queryable through SourceOf.
	ResolvedTTL time.Duration
	// Notify is called on its own goroutine once a request is registered,
	// so a frontend can present it and call Resolve.
	Notify func(ApprovalRequest)
	Logger *slog.Logger
}

// PendingApprovals is a table of in-flight approval requests keyed by
// request id. Request publishes and blocks; Resolve completes a request
// exactly once from whichever channel the human answered on.
type PendingApprovals struct {
	mu       sync.Mutex
	pending  map[string]*pendingEntry
	resolved *lru.Cache[string, resolvedEntry]

	done      chan struct{}
	closeOnce sync.Once

	store        ApprovalStore
	denyOnExpiry bool
	resolvedTTL  time.Duration
	notify       func(ApprovalRequest)
	log          *slog.Logger
	now          func() time.Time
}

func NewPendingApprovals(opts PendingOptions) *PendingApprovals {
	if opts.ResolvedTTL <= 0 {
		opts.ResolvedTTL = defaultResolvedTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	resolved, _ := lru.New[string, resolvedEntry](resolvedCacheSize)
	p := &PendingApprovals{
		pending:      make(map[string]*pendingEntry),
		resolved:     resolved,
		done:         make(chan struct{}),
		store:        opts.Store,
		denyOnExpiry: opts.DenyOnExpiry,
		resolvedTTL:  opts.ResolvedTTL,
		notify:       opts.Notify,
		log:          opts.Logger,
		now:          time.Now,
	}
	go p.evictLoop()
	return p
}

// Request has the RequestApprovalFunc signature. It returns ctx.Err() if the
// caller gives up and ErrBrokerClosed on shutdown.
func (p *PendingApprovals) Request(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error) {
	id := strings.TrimSpace(req.RequestID)
	if id == "" {
		return "", fmt.Errorf("missing approval request id")
	}
	select {
	case <-p.done:
		return "", ErrBrokerClosed
	default:
	}

	if p.store != nil {
		rec := ApprovalRecord{Request: req, ActionHash: req.actionHash(), Status: ApprovalPending}
		if err := p.store.Create(context.WithoutCancel(ctx), rec); err != nil {
			p.log.Warn("gate_approval_store_error", "op", "create", "request_id", id, "error", err.Error())
		}
	}

	entry := &pendingEntry{req: req, ch: make(chan pendingResult, 1)}

	p.mu.Lock()
	if _, dup := p.pending[id]; dup {
		p.mu.Unlock()
		return "", fmt.Errorf("duplicate approval request id %q", id)
	}
	p.pending[id] = entry
	if p.denyOnExpiry && !req.ExpiresAt.IsZero() {
		wait := req.ExpiresAt.Sub(p.now())
		if wait < 0 {
			wait = 0
		}
		entry.timer = time.AfterFunc(wait, func() {
			if err := p.Resolve(context.Background(), id, DecisionDeny, SourceTimeout); err == nil {
				p.log.Info("gate_approval_expired", "request_id", id, "tool", req.Tool, "risk", string(req.Risk))
			}
		})
	}
	p.mu.Unlock()

	if p.notify != nil {
		go p.notify(req)
	}

	select {
	case res := <-entry.ch:
		return res.decision, nil
	case <-ctx.Done():
		p.abandon(id, entry)
		return "", ctx.Err()
	case <-p.done:
		return "", ErrBrokerClosed
	}
}

// Resolve completes request id with decision. A second call for the same id
// returns ErrAlreadyResolved; an id never seen returns ErrUnknownRequest.
func (p *PendingApprovals) Resolve(ctx context.Context, id string, decision ApprovalDecision, source DecisionSource) error {
	id = strings.TrimSpace(id)
	if _, err := ParseApprovalDecision(string(decision)); err != nil {
		return err
	}
	if source == "" {
		source = SourceDesktop
	}

	p.mu.Lock()
	entry, ok := p.pending[id]
	if !ok {
		was := p.resolved.Contains(id)
		p.mu.Unlock()
		if was {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
		}
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	delete(p.pending, id)
	p.resolved.Add(id, resolvedEntry{source: source, at: p.now()})
	if entry.timer != nil {
		entry.timer.Stop()
	}
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Resolve(context.WithoutCancel(ctx), id, decision, source); err != nil {
			p.log.Warn("gate_approval_store_error", "op", "resolve", "request_id", id, "error", err.Error())
		}
	}
	entry.ch <- pendingResult{decision: decision, source: source}
	return nil
}

// SourceOf is a DecisionSourceResolver. It returns "" for ids it has no
// record of.
func (p *PendingApprovals) SourceOf(id string) DecisionSource {
	r, _ := p.resolved.Peek(strings.TrimSpace(id))
	return r.source
}

// List returns the requests still awaiting a decision, oldest first.
func (p *PendingApprovals) List() []ApprovalRequest {
	p.mu.Lock()
	out := make([]ApprovalRequest, 0, len(p.pending))
	for _, e := range p.pending {
		out = append(out, e.req)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close fails every waiter with ErrBrokerClosed.
func (p *PendingApprovals) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		for _, e := range p.pending {
			if e.timer != nil {
				e.timer.Stop()
			}
		}
		p.mu.Unlock()
	})
}

func (p *PendingApprovals) abandon(id string, entry *pendingEntry) {
	p.mu.Lock()
	if cur, ok := p.pending[id]; !ok || cur != entry {
		p.mu.Unlock()
		return
	}
	delete(p.pending, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	p.mu.Unlock()

	p.log.Info("gate_approval_abandoned", "request_id", id, "tool", entry.req.Tool)
	if p.store != nil {
		if err := p.store.Resolve(context.Background(), id, DecisionDeny, SourceAuto); err != nil {
			p.log.Warn("gate_approval_store_error", "op", "abandon", "request_id", id, "error", err.Error())
		}
	}
}

func (p *PendingApprovals) evictLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.evictResolved()
		}
	}
}

func (p *PendingApprovals) evictResolved() {
	now := p.now()
	for _, id := range p.resolved.Keys() {
		if r, ok := p.resolved.Peek(id); ok && now.Sub(r.at) > p.resolvedTTL {
			p.resolved.Remove(id)
		}
	}
}
