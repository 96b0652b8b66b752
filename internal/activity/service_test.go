package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeplay/safeplay-api/internal/activity/entity"
	"github.com/safeplay/safeplay-api/internal/activity/repo"
	"github.com/safeplay/safeplay-api/internal/apperr"
	"github.com/safeplay/safeplay-api/pkg/database"
)

type fakeMailer struct {
	to     string
	report *entity.Report
	err    error
}

func (f *fakeMailer) SendActivitySummary(_ context.Context, to, _ string, r *entity.Report) error {
	if f.err != nil {
		return f.err
	}
	f.to, f.report = to, r
	return nil
}

type fixture struct {
	svc    *Service
	mailer *fakeMailer
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := repo.NewActivityRepo(db)
	require.NoError(t, r.EnsureTable(context.Background()))

	f := &fixture{mailer: &fakeMailer{}, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.svc = NewService(Deps{
		Repo: r,
		Accounts: RecipientFunc(func(_ context.Context, id int64) (Recipient, error) {
			if id != 1 {
				return Recipient{}, sql.ErrNoRows
			}
			return Recipient{Email: "alice@example.com", FullName: "Alice"}, nil
		}),
		Mailer: f.mailer,
		Now:    func() time.Time { return f.now },
	})
	return f
}

func intPtr(v int) *int { return &v }

func TestRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Record(ctx, 1, Entry{
		GameName: " Chess ",
		Action:   "started",
		Duration: intPtr(90),
		Details:  json.RawMessage(`{ "pid": 42 }`),
	})
	require.NoError(t, err)
	assert.NotZero(t, a.ID)
	assert.Equal(t, "Chess", a.GameName)
	assert.JSONEq(t, `{"pid":42}`, string(a.Details))

	page, err := f.svc.Query(ctx, 1, 0, 0, "")
	require.NoError(t, err)
	require.Len(t, page.Activities, 1)
	assert.JSONEq(t, `{"pid":42}`, string(page.Activities[0].Details))
	require.NotNil(t, page.Activities[0].Duration)
	assert.Equal(t, 90, *page.Activities[0].Duration)
}

func TestRecordValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]Entry{
		"no game":        {Action: "started"},
		"bad action":     {GameName: "Chess", Action: "paused"},
		"neg duration":   {GameName: "Chess", Action: "closed", Duration: intPtr(-1)},
		"array details":  {GameName: "Chess", Action: "closed", Details: json.RawMessage(`[1,2]`)},
		"scalar details": {GameName: "Chess", Action: "closed", Details: json.RawMessage(`"x"`)},
	}
	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Record(ctx, 1, e)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	a, err := f.svc.Record(ctx, 1, Entry{GameName: "Chess", Action: "closed", Details: json.RawMessage(`null`)})
	require.NoError(t, err)
	assert.Nil(t, a.Details)
}

func TestRecordBatchIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordBatch(ctx, 1, []Entry{
		{GameName: "A", Action: "started"},
		{GameName: "B", Action: "nope"},
	})
	require.ErrorIs(t, err, apperr.ErrValidation)
	msg, _ := apperr.Message(err)
	assert.Contains(t, msg, "activities[1]")

	page, err := f.svc.Query(ctx, 1, 0, 0, "")
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	items, err := f.svc.RecordBatch(ctx, 1, []Entry{
		{GameName: "A", Action: "started"},
		{GameName: "A", Action: "closed", Duration: intPtr(600)},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.NotZero(t, items[0].ID)
	assert.NotEqual(t, items[0].ID, items[1].ID)

	_, err = f.svc.RecordBatch(ctx, 1, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.RecordBatch(ctx, 1, make([]Entry, MaxBatch+1))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestQueryPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, game := range []string{"A", "B", "A", "C", "A"} {
		f.now = f.now.Add(time.Minute)
		_, err := f.svc.Record(ctx, 1, Entry{GameName: game, Action: "started", Duration: intPtr(i)})
		require.NoError(t, err)
	}
	_, err := f.svc.Record(ctx, 2, Entry{GameName: "A", Action: "started"})
	require.NoError(t, err)

	page, err := f.svc.Query(ctx, 1, 2, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Activities, 2)
	assert.Equal(t, 4, *page.Activities[0].Duration, "newest first")

	page, err = f.svc.Query(ctx, 1, 2, 4, "")
	require.NoError(t, err)
	require.Len(t, page.Activities, 1)
	assert.Equal(t, 0, *page.Activities[0].Duration)

	page, err = f.svc.Query(ctx, 1, 0, 0, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, DefaultLimit, page.Limit)

	page, err = f.svc.Query(ctx, 1, 10_000, 0, "")
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, page.Limit)

	_, err = f.svc.Query(ctx, 1, 10, -1, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestActivitySinceWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Record(ctx, 1, Entry{GameName: "Old", Action: "started"})
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Hour)
	for _, a := range []string{"started", "blocked", "blocked"} {
		f.now = f.now.Add(time.Minute)
		_, err := f.svc.Record(ctx, 1, Entry{GameName: "New", Action: a})
		require.NoError(t, err)
	}

	report, err := f.svc.ActivitySince(ctx, 1, 24)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.ByAction[entity.ActionBlocked])
	assert.Equal(t, 1, report.ByAction[entity.ActionStarted])
	require.Len(t, report.Entries, 3)
	assert.Equal(t, entity.ActionBlocked, report.Entries[0].Action)

	report, err = f.svc.ActivitySince(ctx, 1, 48)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)

	_, err = f.svc.ActivitySince(ctx, 1, -1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.ActivitySince(ctx, 1, MaxHours+1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSendSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Record(ctx, 1, Entry{GameName: "Chess", Action: "started"})
	require.NoError(t, err)

	report, err := f.svc.SendSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, "alice@example.com", f.mailer.to)
	assert.Same(t, report, f.mailer.report)

	_, err = f.svc.SendSummary(ctx, 7)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	f.mailer.err = errors.New("provider down")
	_, err = f.svc.SendSummary(ctx, 1)
	assert.ErrorIs(t, err, apperr.ErrEmailDelivery)
}
