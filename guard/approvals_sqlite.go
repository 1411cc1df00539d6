package guard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteApprovalStore struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteApprovalStore(dsn string) (*SQLiteApprovalStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	s := &SQLiteApprovalStore{dsn: dsn}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteApprovalStore) Create(ctx context.Context, rec ApprovalRecord) error {
	if s == nil {
		return fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	req := rec.Request
	if strings.TrimSpace(req.RequestID) == "" {
		return fmt.Errorf("missing approval request id")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO gate_approvals (
  id, task_id, tool, risk, reason, detail, autonomy_mode,
  created_at_ms, expires_at_ms, action_hash,
  status, decision, source, resolved_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', NULL)
`, req.RequestID, req.TaskID, req.Tool, string(req.Risk), req.Reason, req.Detail, string(req.AutonomyMode),
		req.CreatedAt.UnixMilli(), req.ExpiresAt.UnixMilli(), rec.ActionHash,
		string(ApprovalPending),
	)
	return err
}

func (s *SQLiteApprovalStore) Get(ctx context.Context, id string) (ApprovalRecord, bool, error) {
	if s == nil {
		return ApprovalRecord{}, false, fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return ApprovalRecord{}, false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ApprovalRecord{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, selectApprovals+` WHERE id = ?`, id)
	rec, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ApprovalRecord{}, false, nil
	}
	if err != nil {
		return ApprovalRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteApprovalStore) Resolve(ctx context.Context, id string, decision ApprovalDecision, source DecisionSource) error {
	if s == nil {
		return fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("missing approval id")
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE gate_approvals
SET status = ?, decision = ?, source = ?, resolved_at_ms = ?
WHERE id = ? AND status = ?
`, string(statusForDecision(decision, source)), string(decision), string(source), time.Now().UTC().UnixMilli(),
		id, string(ApprovalPending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, ok, gerr := s.Get(ctx, id); gerr == nil && !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
		}
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}
	return nil
}

func (s *SQLiteApprovalStore) ListPending(ctx context.Context) ([]ApprovalRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("nil approval store")
	}
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectApprovals+` WHERE status = ? ORDER BY created_at_ms ASC`, string(ApprovalPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApprovalRecord
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteApprovalStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

const selectApprovals = `
SELECT
  id, task_id, tool, risk, reason, detail, autonomy_mode,
  created_at_ms, expires_at_ms, action_hash,
  status, decision, source, resolved_at_ms
FROM gate_approvals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (ApprovalRecord, error) {
	var (
		rec          ApprovalRecord
		risk         string
		mode         string
		createdAtMs  int64
		expiresAtMs  int64
		status       string
		decision     string
		source       string
		resolvedAtMs sql.NullInt64
	)
	err := row.Scan(
		&rec.Request.RequestID, &rec.Request.TaskID, &rec.Request.Tool, &risk, &rec.Request.Reason,
		&rec.Request.Detail, &mode, &createdAtMs, &expiresAtMs, &rec.ActionHash,
		&status, &decision, &source, &resolvedAtMs,
	)
	if err != nil {
		return ApprovalRecord{}, err
	}
	rec.Request.Risk = RiskLevel(risk)
	rec.Request.AutonomyMode = AutonomyMode(mode)
	rec.Request.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	rec.Request.ExpiresAt = time.UnixMilli(expiresAtMs).UTC()
	rec.Status = ApprovalStatus(status)
	rec.Decision = ApprovalDecision(decision)
	rec.Source = DecisionSource(source)
	if resolvedAtMs.Valid {
		t := time.UnixMilli(resolvedAtMs.Int64).UTC()
		rec.ResolvedAt = &t
	}
	return rec, nil
}

func (s *SQLiteApprovalStore) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)
	s.db = db
	return s.migrate()
}

func (s *SQLiteApprovalStore) ensureOpen() error {
	s.mu.Lock()
	open := s.db != nil
	s.mu.Unlock()
	if open {
		return nil
	}
	return s.open()
}

func (s *SQLiteApprovalStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite db is not open")
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS gate_approvals (
  id TEXT PRIMARY KEY,
  task_id TEXT,
  tool TEXT NOT NULL,
  risk TEXT NOT NULL,
  reason TEXT,
  detail TEXT,
  autonomy_mode TEXT,
  created_at_ms INTEGER NOT NULL,
  expires_at_ms INTEGER NOT NULL,
  action_hash TEXT,
  status TEXT NOT NULL,
  decision TEXT,
  source TEXT,
  resolved_at_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_gate_approvals_status ON gate_approvals(status);
`)
	return err
}
