package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/safeplay/safeplay-api/internal/activity/entity"
	"github.com/safeplay/safeplay-api/pkg/database"
)

// ActivityRepo provides append and read access to activity_logs.
type ActivityRepo struct {
	db *sqlx.DB
}

func NewActivityRepo(db *sqlx.DB) *ActivityRepo { return &ActivityRepo{db: db} }

const postgresDDL = `
CREATE TABLE IF NOT EXISTS activity_logs (
  id BIGSERIAL PRIMARY KEY,
  supervisor_id BIGINT NOT NULL REFERENCES supervisors(id) ON DELETE CASCADE,
  game_name VARCHAR(255) NOT NULL,
  action VARCHAR(20) NOT NULL CHECK (action IN ('started','closed','blocked','unblocked','timer_set')),
  duration INT,
  details TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_activity_owner_created ON activity_logs(supervisor_id, created_at);
`

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS activity_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  supervisor_id INTEGER NOT NULL REFERENCES supervisors(id) ON DELETE CASCADE,
  game_name TEXT NOT NULL,
  action TEXT NOT NULL CHECK (action IN ('started','closed','blocked','unblocked','timer_set')),
  duration INTEGER,
  details TEXT,
  created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_owner_created ON activity_logs(supervisor_id, created_at);
`

// EnsureTable creates the activity_logs table if not exists (idempotent).
func (r *ActivityRepo) EnsureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, database.Pick(r.db, postgresDDL, sqliteDDL))
	return err
}

const insertQuery = `INSERT INTO activity_logs (supervisor_id, game_name, action, duration, details, created_at)
  VALUES (?, ?, ?, ?, ?, ?) RETURNING id`

const selectColumns = `SELECT id, supervisor_id, game_name, action, duration, details, created_at FROM activity_logs`

// Insert appends one entry and fills in its ID.
func (r *ActivityRepo) Insert(ctx context.Context, a *entity.ActivityLog) error {
	return r.db.GetContext(ctx, &a.ID, r.db.Rebind(insertQuery),
		a.SupervisorID, a.GameName, a.Action, a.Duration, a.Details, a.CreatedAt)
}

// InsertBatch appends all entries in one transaction.
func (r *ActivityRepo) InsertBatch(ctx context.Context, entries []entity.ActivityLog) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(insertQuery))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range entries {
		a := &entries[i]
		if err := stmt.GetContext(ctx, &a.ID, a.SupervisorID, a.GameName, a.Action, a.Duration, a.Details, a.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Filter narrows List. Zero values mean no constraint.
type Filter struct {
	SupervisorID int64
	GameName     string
	Since        time.Time
	Limit        int
	Offset       int
}

func (f Filter) where() (string, []any) {
	q := ` WHERE supervisor_id = ?`
	args := []any{f.SupervisorID}
	if f.GameName != "" {
		q += ` AND game_name = ?`
		args = append(args, f.GameName)
	}
	if !f.Since.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, f.Since)
	}
	return q, args
}

// List returns matching entries newest first.
func (r *ActivityRepo) List(ctx context.Context, f Filter) ([]entity.ActivityLog, error) {
	where, args := f.where()
	q := selectColumns + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	out := []entity.ActivityLog{}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of entries matching f, ignoring paging.
func (r *ActivityRepo) Count(ctx context.Context, f Filter) (int, error) {
	where, args := f.where()
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM activity_logs`+where), args...); err != nil {
		return 0, err
	}
	return n, nil
}

// CountByAction totals entries per action for f.
func (r *ActivityRepo) CountByAction(ctx context.Context, f Filter) (map[entity.Action]int, error) {
	where, args := f.where()
	rows := []struct {
		Action entity.Action `db:"action"`
		N      int           `db:"n"`
	}{}
	q := `SELECT action, COUNT(*) AS n FROM activity_logs` + where + ` GROUP BY action`
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	out := make(map[entity.Action]int, len(rows))
	for _, row := range rows {
		out[row.Action] = row.N
	}
	return out, nil
}
