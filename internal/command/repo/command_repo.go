package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/safeplay/safeplay-api/internal/command/entity"
	"github.com/safeplay/safeplay-api/pkg/database"
)

// CommandRepo provides data access for the commands table.
type CommandRepo struct {
	db *sqlx.DB
}

func NewCommandRepo(db *sqlx.DB) *CommandRepo { return &CommandRepo{db: db} }

const postgresDDL = `
CREATE TABLE IF NOT EXISTS commands (
  id BIGSERIAL PRIMARY KEY,
  supervisor_id BIGINT NOT NULL REFERENCES supervisors(id) ON DELETE CASCADE,
  action VARCHAR(20) NOT NULL CHECK (action IN ('block','unblock','set_timer','get_status')),
  target VARCHAR(255),
  duration INT,
  status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','executed','failed')),
  executed_at TIMESTAMPTZ,
  error_message TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_commands_owner_status ON commands(supervisor_id, status, created_at);
`

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS commands (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  supervisor_id INTEGER NOT NULL REFERENCES supervisors(id) ON DELETE CASCADE,
  action TEXT NOT NULL CHECK (action IN ('block','unblock','set_timer','get_status')),
  target TEXT,
  duration INTEGER,
  status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','executed','failed')),
  executed_at TIMESTAMP,
  error_message TEXT,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_owner_status ON commands(supervisor_id, status, created_at);
`

// EnsureTable creates the commands table if not exists (idempotent).
func (r *CommandRepo) EnsureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, database.Pick(r.db, postgresDDL, sqliteDDL))
	return err
}

const selectColumns = `SELECT id, supervisor_id, action, target, duration, status, executed_at, error_message,
	created_at, updated_at FROM commands`

// Create inserts c as pending and fills in its ID.
func (r *CommandRepo) Create(ctx context.Context, c *entity.Command) error {
	q := r.db.Rebind(`INSERT INTO commands (supervisor_id, action, target, duration, status, created_at, updated_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	return r.db.GetContext(ctx, &c.ID, q,
		c.SupervisorID, c.Action, c.Target, c.Duration, entity.StatusPending, c.CreatedAt, c.UpdatedAt)
}

// GetByID returns the command or sql.ErrNoRows.
func (r *CommandRepo) GetByID(ctx context.Context, id int64) (*entity.Command, error) {
	var c entity.Command
	if err := r.db.GetContext(ctx, &c, r.db.Rebind(selectColumns+` WHERE id = ?`), id); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListPending returns the owner's pending commands, oldest first.
func (r *CommandRepo) ListPending(ctx context.Context, supervisorID int64, limit int) ([]entity.Command, error) {
	q := r.db.Rebind(selectColumns + ` WHERE supervisor_id = ? AND status = ? ORDER BY created_at ASC, id ASC LIMIT ?`)
	out := []entity.Command{}
	if err := r.db.SelectContext(ctx, &out, q, supervisorID, entity.StatusPending, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the owner's commands newest first, optionally by status.
func (r *CommandRepo) History(ctx context.Context, supervisorID int64, status *entity.Status, limit int) ([]entity.Command, error) {
	q := selectColumns + ` WHERE supervisor_id = ?`
	args := []any{supervisorID}
	if status != nil {
		q += ` AND status = ?`
		args = append(args, *status)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	out := []entity.Command{}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Complete moves a pending command to status. Reports false when the
// command was no longer pending.
func (r *CommandRepo) Complete(ctx context.Context, id int64, status entity.Status, errMsg *string, now time.Time) (bool, error) {
	q := r.db.Rebind(`UPDATE commands SET status = ?, executed_at = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`)
	res, err := r.db.ExecContext(ctx, q, status, now, errMsg, now, id, entity.StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
