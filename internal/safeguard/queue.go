package safeguard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/widip/mcp-gateway/internal/metrics"
	"github.com/widip/mcp-gateway/internal/secrets"
)

// Approval statuses. Transitions follow
// pending → {approved, rejected, expired} and approved → {executed, failed};
// terminal states are immutable.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
	StatusExecuted = "executed"
	StatusFailed   = "failed"
)

var (
	// ErrApprovalNotFound reports an unknown approval id.
	ErrApprovalNotFound = errors.New("approval not found")
	// ErrNotSensitiveLevel rejects queue entry for anything but L3.
	ErrNotSensitiveLevel = errors.New("only L3 operations enter the approval queue")
	// ErrSecretsLost means the record survived but its envelope did not;
	// the approval cannot be executed and must be recreated.
	ErrSecretsLost = errors.New("secret envelope expired or lost; approval is not executable")
)

// TransitionError reports a state-machine violation with the observed
// status.
type TransitionError struct {
	ID      string
	Status  string
	Attempt string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("approval %s is %s, cannot %s", e.ID, e.Status, e.Attempt)
}

// Approval is one durable record in the queue. Arguments are stored
// redacted; the originals live in the secret envelope.
type Approval struct {
	ID             string         `json:"approval_id"`
	ToolName       string         `json:"tool_name"`
	Arguments      map[string]any `json:"arguments"`
	SecurityLevel  string         `json:"security_level"`
	RequesterIP    string         `json:"requester_ip"`
	Context        string         `json:"context,omitempty"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
	Approver       string         `json:"approver,omitempty"`
	Comment        string         `json:"approval_comment,omitempty"`
	ExecutedAt     *time.Time     `json:"executed_at,omitempty"`
	Result         map[string]any `json:"execution_result,omitempty"`
	ExecutionError string         `json:"execution_error,omitempty"`

	// TimeRemaining is computed on read for pending records.
	TimeRemaining int64 `json:"time_remaining_seconds,omitempty"`
}

// envelopeKey returns the side-store key for an approval's secrets.
func envelopeKey(id string) string { return "approval:" + id }

// EnvelopeTTLMargin is added to the approval TTL so the envelope outlives
// the record's pending window.
const EnvelopeTTLMargin = 5 * time.Minute

// Queue is the durable approval store over PostgreSQL, with the secret
// envelope side-store in Redis.
type Queue struct {
	db        *sql.DB
	envelopes secrets.EnvelopeStore
	notifier  Notifier
	dashboard string
}

// NewQueue builds the queue. notifier and dashboardURL may be empty; they
// only affect the out-of-band approval notices.
func NewQueue(db *sql.DB, envelopes secrets.EnvelopeStore, notifier Notifier, dashboardURL string) *Queue {
	return &Queue{db: db, envelopes: envelopes, notifier: notifier, dashboard: dashboardURL}
}

// Initialize creates the approvals table and its indexes.
func (q *Queue) Initialize(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS safeguard_approvals (
			id UUID PRIMARY KEY,
			tool_name TEXT NOT NULL,
			arguments JSONB NOT NULL DEFAULT '{}',
			security_level TEXT NOT NULL,
			requester_ip TEXT NOT NULL DEFAULT '',
			request_context JSONB NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL,
			approved_at TIMESTAMPTZ,
			approver TEXT,
			approval_comment TEXT,
			executed_at TIMESTAMPTZ,
			execution_result JSONB,
			execution_error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_safeguard_approvals_status
			ON safeguard_approvals (status)`,
		`CREATE INDEX IF NOT EXISTS idx_safeguard_approvals_expires
			ON safeguard_approvals (expires_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_safeguard_approvals_created
			ON safeguard_approvals (created_at DESC)`,
	}
	for _, stmt := range ddl {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init approvals schema: %w", err)
		}
	}
	return nil
}

// Create enters a new pending approval. Only L3 operations are accepted.
// Sensitive fields are split out of the arguments and stored encrypted with
// a TTL outliving the approval window.
func (q *Queue) Create(ctx context.Context, tool string, args map[string]any, level Level, requesterIP, requestContext string, ttl time.Duration) (*Approval, error) {
	if level != L3 {
		return nil, ErrNotSensitiveLevel
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	clean, extracted := secrets.Extract(args)
	if clean == nil {
		clean = map[string]any{}
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	expires := now.Add(ttl)

	if len(extracted) > 0 {
		if err := q.envelopes.Store(ctx, envelopeKey(id), extracted, ttl+EnvelopeTTLMargin); err != nil {
			return nil, fmt.Errorf("store secret envelope: %w", err)
		}
	}

	argsJSON, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}
	ctxJSON, err := json.Marshal(map[string]any{"context": requestContext})
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO safeguard_approvals
			(id, tool_name, arguments, security_level, requester_ip, request_context, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, tool, argsJSON, level.String(), requesterIP, ctxJSON, StatusPending, now, expires)
	if err != nil {
		// Roll the envelope back so no orphan ciphertext outlives the
		// failed insert.
		if len(extracted) > 0 {
			_ = q.envelopes.Delete(ctx, envelopeKey(id))
		}
		return nil, fmt.Errorf("insert approval: %w", err)
	}

	metrics.PendingApprovals.Inc()
	slog.Info("approval created",
		"approval_id", id,
		"tool", tool,
		"requester_ip", requesterIP,
		"expires_at", expires)

	if q.notifier != nil {
		msg := fmt.Sprintf("Approval required for %s (id %s, expires %s)", tool, id, expires.Format(time.RFC3339))
		if q.dashboard != "" {
			msg += " — review at " + q.dashboard
		}
		q.notifier.Notify("SAFEGUARD approval pending", msg)
	}

	return &Approval{
		ID:            id,
		ToolName:      tool,
		Arguments:     clean,
		SecurityLevel: level.String(),
		RequesterIP:   requesterIP,
		Context:       requestContext,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     expires,
		TimeRemaining: int64(ttl.Seconds()),
	}, nil
}

const approvalColumns = `id, tool_name, arguments, security_level, requester_ip, request_context,
	status, created_at, expires_at, approved_at, approver, approval_comment,
	executed_at, execution_result, execution_error`

func scanApproval(row interface{ Scan(...any) error }) (*Approval, error) {
	var (
		a          Approval
		argsJSON   []byte
		ctxJSON    []byte
		approver   sql.NullString
		comment    sql.NullString
		execErr    sql.NullString
		approvedAt sql.NullTime
		executedAt sql.NullTime
		resultJSON []byte
	)
	err := row.Scan(&a.ID, &a.ToolName, &argsJSON, &a.SecurityLevel, &a.RequesterIP, &ctxJSON,
		&a.Status, &a.CreatedAt, &a.ExpiresAt, &approvedAt, &approver, &comment,
		&executedAt, &resultJSON, &execErr)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(argsJSON, &a.Arguments); err != nil {
		return nil, fmt.Errorf("decode arguments for %s: %w", a.ID, err)
	}
	var reqCtx struct {
		Context string `json:"context"`
	}
	if len(ctxJSON) > 0 {
		_ = json.Unmarshal(ctxJSON, &reqCtx)
	}
	a.Context = reqCtx.Context

	a.Approver = approver.String
	a.Comment = comment.String
	a.ExecutionError = execErr.String
	if approvedAt.Valid {
		a.ApprovedAt = &approvedAt.Time
	}
	if executedAt.Valid {
		a.ExecutedAt = &executedAt.Time
	}
	if len(resultJSON) > 0 {
		_ = json.Unmarshal(resultJSON, &a.Result)
	}
	if a.Status == StatusPending {
		if remaining := time.Until(a.ExpiresAt); remaining > 0 {
			a.TimeRemaining = int64(remaining.Seconds())
		}
	}
	return &a, nil
}

// Status returns one approval by id.
func (q *Queue) Status(ctx context.Context, id string) (*Approval, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM safeguard_approvals WHERE id = $1`, id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrApprovalNotFound
	}
	return a, err
}

// PendingApprovals lists live pending records, newest first.
func (q *Queue) PendingApprovals(ctx context.Context, limit int) ([]*Approval, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM safeguard_approvals
		WHERE status = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT $2`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Approve moves pending → approved. A record past its deadline is first
// expired and the call fails with a transition error.
func (q *Queue) Approve(ctx context.Context, id, approver, comment string) (*Approval, error) {
	if err := q.expireIfOverdue(ctx, id); err != nil {
		return nil, err
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE safeguard_approvals
		SET status = $1, approved_at = NOW(), approver = $2, approval_comment = $3
		WHERE id = $4 AND status = $5`,
		StatusApproved, approver, comment, id, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", id, err)
	}
	if err := q.requireTransition(ctx, res, id, "approve"); err != nil {
		return nil, err
	}

	metrics.PendingApprovals.Dec()
	slog.Info("approval granted", "approval_id", id, "approver", approver)
	return q.Status(ctx, id)
}

// Reject moves pending → rejected and deletes the secret envelope.
func (q *Queue) Reject(ctx context.Context, id, approver, comment string) (*Approval, error) {
	if err := q.expireIfOverdue(ctx, id); err != nil {
		return nil, err
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE safeguard_approvals
		SET status = $1, approved_at = NOW(), approver = $2, approval_comment = $3
		WHERE id = $4 AND status = $5`,
		StatusRejected, approver, comment, id, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("reject %s: %w", id, err)
	}
	if err := q.requireTransition(ctx, res, id, "reject"); err != nil {
		return nil, err
	}

	metrics.PendingApprovals.Dec()
	_ = q.envelopes.Delete(ctx, envelopeKey(id))
	slog.Info("approval rejected", "approval_id", id, "approver", approver)
	return q.Status(ctx, id)
}

// expireIfOverdue transitions a pending record past its deadline to
// expired. It is a no-op otherwise.
func (q *Queue) expireIfOverdue(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE safeguard_approvals
		SET status = $1
		WHERE id = $2 AND status = $3 AND expires_at <= NOW()`,
		StatusExpired, id, StatusPending)
	if err != nil {
		return fmt.Errorf("expire check %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		metrics.PendingApprovals.Dec()
		_ = q.envelopes.Delete(ctx, envelopeKey(id))
	}
	return nil
}

// requireTransition converts a zero-row CAS update into a typed state
// error, distinguishing a missing record from a wrong-state one.
func (q *Queue) requireTransition(ctx context.Context, res sql.Result, id, attempt string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	current, err := q.Status(ctx, id)
	if err != nil {
		return err
	}
	return &TransitionError{ID: id, Status: current.Status, Attempt: attempt}
}

// FullArguments reconstitutes the original argument tree for an approved
// record by merging the envelope back over the redacted copy. A missing
// envelope on a record that had secrets makes the approval un-executable.
func (q *Queue) FullArguments(ctx context.Context, id string) (map[string]any, error) {
	a, err := q.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusApproved {
		return nil, &TransitionError{ID: id, Status: a.Status, Attempt: "execute"}
	}

	merged := make(map[string]any, len(a.Arguments))
	for k, v := range a.Arguments {
		merged[k] = v
	}

	if !secrets.HasSensitive(merged) {
		return merged, nil
	}

	extracted, err := q.envelopes.Get(ctx, envelopeKey(id))
	if errors.Is(err, secrets.ErrEnvelopeNotFound) {
		return nil, ErrSecretsLost
	}
	if err != nil {
		return nil, fmt.Errorf("read secret envelope for %s: %w", id, err)
	}
	secrets.Merge(merged, extracted)
	return merged, nil
}

// MarkExecuted moves approved → executed (execErr empty) or failed.
func (q *Queue) MarkExecuted(ctx context.Context, id string, result map[string]any, execErr string) error {
	status := StatusExecuted
	if execErr != "" {
		status = StatusFailed
	}

	var resultJSON []byte
	if result != nil {
		var err error
		if resultJSON, err = json.Marshal(result); err != nil {
			return fmt.Errorf("marshal execution result: %w", err)
		}
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE safeguard_approvals
		SET status = $1, executed_at = NOW(), execution_result = $2, execution_error = $3
		WHERE id = $4 AND status = $5`,
		status, resultJSON, nullIfEmpty(execErr), id, StatusApproved)
	if err != nil {
		return fmt.Errorf("mark executed %s: %w", id, err)
	}
	if err := q.requireTransition(ctx, res, id, "mark executed"); err != nil {
		return err
	}

	slog.Info("approval resolved", "approval_id", id, "status", status)
	return nil
}

// CleanupSecrets deletes the envelope once the record is past approved.
func (q *Queue) CleanupSecrets(ctx context.Context, id string) error {
	return q.envelopes.Delete(ctx, envelopeKey(id))
}

// ExpireOld bulk-transitions overdue pending records and deletes their
// envelopes. Returns the expired ids.
func (q *Queue) ExpireOld(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		UPDATE safeguard_approvals
		SET status = $1
		WHERE status = $2 AND expires_at <= NOW()
		RETURNING id`,
		StatusExpired, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("expire old approvals: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		metrics.PendingApprovals.Dec()
		_ = q.envelopes.Delete(ctx, envelopeKey(id))
	}
	if len(ids) > 0 {
		slog.Info("expired stale approvals", "count", len(ids))
	}
	return ids, nil
}

// PendingCount reports the live queue depth, used to resync the gauge.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM safeguard_approvals WHERE status = $1 AND expires_at > NOW()`,
		StatusPending).Scan(&n)
	return n, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
