package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	activityrepo "github.com/safeplay/safeplay-api/internal/activity/repo"
	commandrepo "github.com/safeplay/safeplay-api/internal/command/repo"
	"github.com/safeplay/safeplay-api/internal/supervisor/entity"
	"github.com/safeplay/safeplay-api/pkg/database"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (*SupervisorRepo, *sqlx.DB) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := NewSupervisorRepo(db)
	ctx := context.Background()
	require.NoError(t, r.EnsureTable(ctx))
	require.NoError(t, r.EnsureTable(ctx), "EnsureTable must be idempotent")
	require.NoError(t, commandrepo.NewCommandRepo(db).EnsureTable(ctx))
	require.NoError(t, activityrepo.NewActivityRepo(db).EnsureTable(ctx))
	return r, db
}

func newSupervisor(username, email string) *entity.Supervisor {
	return &entity.Supervisor{
		Username:     username,
		Email:        email,
		PasswordHash: "hash",
		FullName:     "Test " + username,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
}

func TestCreateAndGet(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()

	phone := "555-0100"
	s := newSupervisor("alice", "alice@example.com")
	s.Phone = &phone
	id, err := r.Create(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, id, s.ID)

	got, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "alice@example.com", got.Email)
	require.NotNil(t, got.Phone)
	assert.Equal(t, phone, *got.Phone)
	assert.False(t, got.EmailVerified)
	assert.Equal(t, 0, got.FailedLoginAttempts)
	assert.True(t, t0.Equal(got.CreatedAt))
	assert.Equal(t, entity.StateUnverified, got.State())

	byEmail, err := r.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)

	byName, err := r.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)

	_, err = r.GetByUsername(ctx, "bob")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCreateDuplicate(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()

	_, err := r.Create(ctx, newSupervisor("alice", "alice@example.com"))
	require.NoError(t, err)

	_, err = r.Create(ctx, newSupervisor("alice", "other@example.com"))
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = r.Create(ctx, newSupervisor("other", "alice@example.com"))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestFailedLoginLocksAtThreshold(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	id, err := r.Create(ctx, newSupervisor("alice", "alice@example.com"))
	require.NoError(t, err)

	for want := 1; want <= 2; want++ {
		n, err := r.IncrementFailedLogin(ctx, id, t0)
		require.NoError(t, err)
		assert.Equal(t, want, n)
		locked, err := r.LockIfThreshold(ctx, id, 3, t0)
		require.NoError(t, err)
		assert.False(t, locked)
	}

	n, err := r.IncrementFailedLogin(ctx, id, t0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	locked, err := r.LockIfThreshold(ctx, id, 3, t0)
	require.NoError(t, err)
	assert.True(t, locked)

	// already locked: no second transition
	locked, err = r.LockIfThreshold(ctx, id, 3, t0)
	require.NoError(t, err)
	assert.False(t, locked)

	got, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StateLocked, got.State())

	require.NoError(t, r.ResetLoginSuccess(ctx, id, t0))
	got, err = r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedLoginAttempts)
	assert.True(t, got.MustResetPassword, "a successful login never clears the lock")
}

func TestMarkVerifiedConsumesToken(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	id, err := r.Create(ctx, newSupervisor("alice", "alice@example.com"))
	require.NoError(t, err)

	require.NoError(t, r.SetVerifyToken(ctx, id, "h1", t0.Add(time.Hour), t0))
	got, err := r.GetByVerifyTokenHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	require.NotNil(t, got.VerifyTokenExpiresAt)
	assert.True(t, t0.Add(time.Hour).Equal(*got.VerifyTokenExpiresAt))

	ok, err := r.MarkVerified(ctx, id, "wrong", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.MarkVerified(ctx, id, "h1", t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.MarkVerified(ctx, id, "h1", t0)
	require.NoError(t, err)
	assert.False(t, ok, "token is single use")

	got, err = r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
	assert.Nil(t, got.VerifyTokenHash)
	assert.Nil(t, got.VerifyTokenExpiresAt)
	assert.Equal(t, entity.StateActive, got.State())
}

func TestResetPasswordClearsLock(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	s := newSupervisor("alice", "alice@example.com")
	s.MustResetPassword = true
	id, err := r.Create(ctx, s)
	require.NoError(t, err)
	_, err = r.IncrementFailedLogin(ctx, id, t0)
	require.NoError(t, err)

	require.NoError(t, r.SetResetToken(ctx, id, "rh", t0.Add(30*time.Minute), t0))

	ok, err := r.ResetPassword(ctx, id, "rh", "newhash", t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.ResetPassword(ctx, id, "rh", "again", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "newhash", got.PasswordHash)
	assert.Nil(t, got.ResetTokenHash)
	assert.Equal(t, 0, got.FailedLoginAttempts)
	assert.False(t, got.MustResetPassword)
}

func TestUpdateProfileAndPassword(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	id, err := r.Create(ctx, newSupervisor("alice", "alice@example.com"))
	require.NoError(t, err)

	later := t0.Add(time.Minute)
	require.NoError(t, r.UpdateProfile(ctx, id, "Alice Liddell", nil, later))
	require.NoError(t, r.UpdatePassword(ctx, id, "h2", later))
	require.NoError(t, r.RehashPassword(ctx, id, "h3", later))

	got, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", got.FullName)
	assert.Nil(t, got.Phone)
	assert.Equal(t, "h3", got.PasswordHash)
	assert.True(t, later.Equal(got.UpdatedAt))
}

func TestDeleteRemovesOwnedRows(t *testing.T) {
	r, db := newRepo(t)
	ctx := context.Background()
	id, err := r.Create(ctx, newSupervisor("alice", "alice@example.com"))
	require.NoError(t, err)
	other, err := r.Create(ctx, newSupervisor("bob", "bob@example.com"))
	require.NoError(t, err)

	for _, owner := range []int64{id, other} {
		_, err = db.ExecContext(ctx, `INSERT INTO commands (supervisor_id, action, status, created_at, updated_at) VALUES (?, 'get_status', 'pending', ?, ?)`, owner, t0, t0)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `INSERT INTO activity_logs (supervisor_id, game_name, action, created_at) VALUES (?, 'Chess', 'started', ?)`, owner, t0)
		require.NoError(t, err)
	}

	ok, err := r.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.GetByID(ctx, id)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	var n int
	require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM commands WHERE supervisor_id = ?`, id))
	assert.Zero(t, n)
	require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM activity_logs WHERE supervisor_id = ?`, id))
	assert.Zero(t, n)
	require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM commands WHERE supervisor_id = ?`, other))
	assert.Equal(t, 1, n)

	ok, err = r.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}
