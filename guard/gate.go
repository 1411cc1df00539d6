package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chillysbabybackribs/clawdia/settings"
	"github.com/google/uuid"
)

// Gate decides whether a tool call may run, asking a human when policy
// requires it, and records every step to the audit sink.
type Gate struct {
	cfg        Config
	settings   settings.Store
	overrides  *OverrideStore
	classifier *Classifier
	audit      *auditor
	observer   Observer
	log        *slog.Logger
	now        func() time.Time
	newID      func() string

	resolverMu sync.RWMutex
	resolver   DecisionSourceResolver
}

type Option func(*Gate)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(g *Gate) {
		if o != nil {
			g.observer = o
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithIDFunc replaces uuid.NewString for request and event ids.
func WithIDFunc(f func() string) Option {
	return func(g *Gate) {
		if f != nil {
			g.newID = f
		}
	}
}

func WithDecisionSourceResolver(r DecisionSourceResolver) Option {
	return func(g *Gate) { g.resolver = r }
}

func WithClassifier(c *Classifier) Option {
	return func(g *Gate) {
		if c != nil {
			g.classifier = c
		}
	}
}

// New builds a Gate. A nil store keeps settings in memory; a nil sink drops
// audit events.
func New(cfg Config, store settings.Store, sink AuditSink, opts ...Option) *Gate {
	if cfg.Approvals.TTL <= 0 {
		cfg.Approvals.TTL = DefaultApprovalTTL
	}
	if store == nil {
		store = settings.NewMemoryStore()
	}
	g := &Gate{
		cfg:       cfg,
		settings:  store,
		overrides: NewOverrideStore(store),
		observer:  nopObserver{},
		log:       slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.classifier == nil {
		g.classifier = NewClassifier(NewRedactor(cfg.Redaction))
	}
	g.audit = &auditor{sink: sink, log: g.log, now: g.now, newID: g.newID}
	return g
}

func (g *Gate) Overrides() *OverrideStore { return g.overrides }

// ClassifyAction classifies with this gate's redaction rules. It has no side
// effects.
func (g *Gate) ClassifyAction(tool string, input map[string]any) RiskClassification {
	return g.classifier.Classify(tool, input)
}

// Mode reads the persisted autonomy mode, DefaultMode when unset.
func (g *Gate) Mode(ctx context.Context) (AutonomyMode, error) {
	var raw string
	ok, err := g.settings.Get(ctx, settings.KeyAutonomyMode, &raw)
	if err != nil {
		return "", fmt.Errorf("load autonomy mode: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return DefaultMode, nil
	}
	return ParseAutonomyMode(raw)
}

func (g *Gate) SetMode(ctx context.Context, mode AutonomyMode) error {
	m, err := ParseAutonomyMode(string(mode))
	if err != nil {
		return err
	}
	if err := g.settings.Set(ctx, settings.KeyAutonomyMode, string(m)); err != nil {
		return fmt.Errorf("save autonomy mode: %w", err)
	}
	return nil
}

func (g *Gate) SetDecisionSourceResolver(r DecisionSourceResolver) {
	g.resolverMu.Lock()
	g.resolver = r
	g.resolverMu.Unlock()
}

func (g *Gate) decisionSource(requestID string) DecisionSource {
	g.resolverMu.RLock()
	r := g.resolver
	g.resolverMu.RUnlock()
	if r == nil {
		return SourceDesktop
	}
	if src := r(requestID); src != "" {
		return src
	}
	return SourceDesktop
}

// Authorize resolves the autonomy mode once and runs AuthorizeInMode. A
// mode that cannot be read is treated as safe.
func (g *Gate) Authorize(ctx context.Context, call Call, requester RequestApprovalFunc) (Result, error) {
	mode, err := g.Mode(ctx)
	if err != nil {
		g.log.Warn("gate_mode_load_error", "tool", call.Tool, "error", err.Error())
		mode = ModeSafe
	}
	return g.AuthorizeInMode(ctx, mode, call, requester)
}

// AuthorizeInMode runs one authorization attempt. The only blocking step is
// the call to requester; its error is returned unchanged and the call is
// neither allowed nor denied.
func (g *Gate) AuthorizeInMode(ctx context.Context, mode AutonomyMode, call Call, requester RequestApprovalFunc) (Result, error) {
	taskID := strings.TrimSpace(call.TaskID)
	if taskID == "" {
		taskID, _ = TaskIDFromContext(ctx)
	}

	cls := g.classifier.Classify(call.Tool, call.Input)
	g.observer.RecordClassification(call.Tool, cls.Risk)

	base := AuditEvent{
		ConversationID: taskID,
		ToolName:       call.Tool,
		Risk:           cls.Risk,
		RiskReason:     cls.Reason,
		AutonomyMode:   mode,
	}

	if cls.Risk != RiskSafe {
		e := base
		e.Kind = KindRiskClassified
		e.Outcome = OutcomeInfo
		e.CommandPreview, e.URLPreview = g.classifier.previewOf(call.Tool, call.Input)
		e.Detail = cls.Detail
		g.audit.emit(ctx, e)
	}

	if mode == ModeUnrestricted || cls.Risk == RiskSafe {
		g.observer.RecordAuthorization(cls.Risk, PathAutoAllowed)
		return Result{Allowed: true, Risk: cls.Risk}, nil
	}
	if !NeedsApproval(mode, cls.Risk) {
		g.observer.RecordAuthorization(cls.Risk, PathPolicyAllowed)
		return Result{Allowed: true, Risk: cls.Risk}, nil
	}

	if g.overrides.TaskAllowed(taskID, cls.Risk) {
		g.observer.RecordAuthorization(cls.Risk, PathTaskOverride)
		return Result{Allowed: true, Risk: cls.Risk, Scope: ScopeTask}, nil
	}
	globalOK, err := g.overrides.GlobalAllowed(ctx, cls.Risk)
	if err != nil {
		g.log.Warn("gate_override_load_error", "risk", string(cls.Risk), "error", err.Error())
	}
	if globalOK {
		g.observer.RecordAuthorization(cls.Risk, PathGlobalOverride)
		return Result{Allowed: true, Risk: cls.Risk, Scope: ScopeAlways}, nil
	}

	if requester == nil {
		return Result{}, ErrNoRequester
	}

	now := g.now()
	req := ApprovalRequest{
		RequestID:    g.newID(),
		Tool:         call.Tool,
		Risk:         cls.Risk,
		Reason:       cls.Reason,
		Detail:       cls.Detail,
		AutonomyMode: mode,
		TaskID:       taskID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(g.cfg.Approvals.TTL),
	}
	base.RequestID = req.RequestID

	requested := base
	requested.Kind = KindApprovalRequested
	requested.Outcome = OutcomePending
	requested.Detail = cls.Detail
	g.audit.emit(ctx, requested)

	decision, err := requester(ctx, req)
	g.observer.RecordApprovalWait(cls.Risk, g.now().Sub(now), err)
	if err != nil {
		g.observer.RecordAuthorization(cls.Risk, PathApprovalFailure)
		g.log.Warn("gate_approval_error",
			"request_id", req.RequestID,
			"tool", call.Tool,
			"risk", string(cls.Risk),
			"error", err.Error(),
		)
		return Result{}, err
	}

	source := g.decisionSource(req.RequestID)
	decided := base
	decided.Kind = KindApprovalDecided
	decided.DecisionSource = source

	switch decision {
	case DecisionApprove, DecisionTask, DecisionAlways:
		scope := ScopeOnce
		persisted := false
		switch decision {
		case DecisionTask:
			scope = ScopeTask
			if !g.overrides.GrantForTask(taskID, cls.Risk) {
				g.log.Warn("gate_task_grant_ignored", "request_id", req.RequestID, "risk", string(cls.Risk))
			}
		case DecisionAlways:
			scope = ScopeAlways
			if err := g.overrides.GrantGlobally(ctx, cls.Risk); err != nil {
				g.log.Error("gate_override_persist_error",
					"request_id", req.RequestID,
					"risk", string(cls.Risk),
					"error", err.Error(),
				)
			} else {
				persisted = true
			}
		}
		decided.Decision = decision
		decided.DecisionScope = scope
		decided.Outcome = OutcomeExecuted
		g.audit.emit(ctx, decided)
		if persisted {
			g.emitOverride(ctx, KindOverrideAdded, base, source)
		}
		g.observer.RecordAuthorization(cls.Risk, PathHumanApproved)
		return Result{Allowed: true, Risk: cls.Risk, Scope: scope, RequestID: req.RequestID}, nil
	default:
		if decision != DecisionDeny {
			g.log.Warn("gate_unknown_decision", "request_id", req.RequestID, "decision", string(decision))
		}
		decided.Decision = DecisionDeny
		decided.Outcome = OutcomeDenied
		g.audit.emit(ctx, decided)
		g.observer.RecordAuthorization(cls.Risk, PathHumanDenied)
		return Result{
			Allowed:   false,
			Error:     deniedMessage(cls.Reason),
			Risk:      cls.Risk,
			RequestID: req.RequestID,
		}, nil
	}
}

// ClearTaskApprovals drops the task-scoped grants of taskID. Requests
// already waiting on a human are not affected.
func (g *Gate) ClearTaskApprovals(ctx context.Context, taskID string) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return
	}
	g.overrides.ClearTask(taskID)
	g.audit.emit(ctx, AuditEvent{
		Kind:           KindTaskCleared,
		ConversationID: taskID,
		Outcome:        OutcomeInfo,
	})
}

// GrantOverride sets a global override outside of an approval, e.g. from
// the CLI.
func (g *Gate) GrantOverride(ctx context.Context, risk RiskLevel, source DecisionSource) error {
	if err := g.overrides.GrantGlobally(ctx, risk); err != nil {
		return err
	}
	g.emitOverride(ctx, KindOverrideAdded, AuditEvent{Risk: risk}, source)
	return nil
}

func (g *Gate) RevokeOverride(ctx context.Context, risk RiskLevel, source DecisionSource) error {
	if err := g.overrides.RevokeGlobally(ctx, risk); err != nil {
		return err
	}
	g.emitOverride(ctx, KindOverrideRemoved, AuditEvent{Risk: risk}, source)
	return nil
}

func (g *Gate) emitOverride(ctx context.Context, kind AuditKind, base AuditEvent, source DecisionSource) {
	e := base
	e.Kind = kind
	e.Outcome = OutcomeInfo
	e.DecisionScope = ScopeAlways
	e.DecisionSource = source
	if kind == KindOverrideAdded {
		e.Decision = DecisionAlways
	}
	g.audit.emit(ctx, e)
}

// RecordExecution audits the outcome of a tool call the host ran after
// authorization.
func (g *Gate) RecordExecution(ctx context.Context, rep ExecutionReport) {
	taskID := strings.TrimSpace(rep.TaskID)
	if taskID == "" {
		taskID, _ = TaskIDFromContext(ctx)
	}
	cls := g.classifier.Classify(rep.Tool, rep.Input)
	e := AuditEvent{
		Kind:           KindToolExecuted,
		ConversationID: taskID,
		RequestID:      rep.RequestID,
		ToolName:       rep.Tool,
		Risk:           cls.Risk,
		RiskReason:     cls.Reason,
		Outcome:        OutcomeExecuted,
		ExitCode:       rep.ExitCode,
	}
	e.CommandPreview, e.URLPreview = g.classifier.previewOf(rep.Tool, rep.Input)
	if rep.Duration > 0 {
		ms := rep.Duration.Milliseconds()
		e.DurationMs = &ms
	}
	failed := rep.Err != nil || (rep.ExitCode != nil && *rep.ExitCode != 0)
	if failed {
		e.Kind = KindToolFailed
		e.Outcome = OutcomeFailed
		if rep.Err != nil {
			e.ErrorPreview = g.classifier.redactor.ErrorPreview(rep.Err.Error())
		}
	}
	g.audit.emit(ctx, e)
}
