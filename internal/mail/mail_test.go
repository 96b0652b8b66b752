package mail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safeplay/safeplay-api/internal/activity/entity"
	"github.com/safeplay/safeplay-api/pkg/utilities"
)

type recordingSender struct {
	sent []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, m Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, m)
	return nil
}

func newTestMailer(s Sender) *Mailer {
	return NewMailer(s, Config{From: "SafePlay <test@safeplay.dev>", ResetTTLMinutes: 30}, utilities.NewIDGenerator(1), zap.NewNop().Sugar())
}

func TestSendVerification(t *testing.T) {
	rec := &recordingSender{}
	m := newTestMailer(rec)

	link := "http://localhost:3000/api/auth/verify?token=abc"
	require.NoError(t, m.SendVerification(context.Background(), "alice@x.com", "Alice <script>", link))
	require.Len(t, rec.sent, 1)

	msg := rec.sent[0]
	assert.Equal(t, "alice@x.com", msg.To)
	assert.Equal(t, "SafePlay <test@safeplay.dev>", msg.From)
	assert.Equal(t, link, msg.Link)
	assert.NotEmpty(t, msg.ID)
	assert.Contains(t, msg.HTML, `href="`+"http://localhost:3000/api/auth/verify?token=abc"+`"`)
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestSendPasswordResetQuotesTTL(t *testing.T) {
	rec := &recordingSender{}
	require.NoError(t, newTestMailer(rec).SendPasswordReset(context.Background(), "a@x.com", "A", "http://x/reset-password?token=t"))
	require.Len(t, rec.sent, 1)
	assert.Contains(t, rec.sent[0].Text, "30 minutes")
}

func TestSendWrapsSenderError(t *testing.T) {
	boom := errors.New("provider down")
	err := newTestMailer(&recordingSender{err: boom}).SendVerification(context.Background(), "a@x.com", "A", "http://x")
	assert.ErrorIs(t, err, boom)
}

func TestSendActivitySummary(t *testing.T) {
	rec := &recordingSender{}
	d := 125
	report := &entity.Report{
		Since:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Hours:    24,
		Total:    2,
		ByAction: map[entity.Action]int{entity.ActionStarted: 1, entity.ActionBlocked: 1},
		Entries: []entity.ActivityLog{
			{GameName: "Chess", Action: entity.ActionStarted, Duration: &d, CreatedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)},
			{GameName: "Fortnite", Action: entity.ActionBlocked, CreatedAt: time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)},
		},
	}
	require.NoError(t, newTestMailer(rec).SendActivitySummary(context.Background(), "a@x.com", "A", report))
	require.Len(t, rec.sent, 1)

	text := rec.sent[0].Text
	assert.Contains(t, text, "**2 events**")
	assert.Contains(t, text, "- Started: 1")
	assert.Contains(t, text, "- Blocked: 1")
	assert.Contains(t, text, "Chess")
	assert.Contains(t, text, "(2m)")
}

func TestSendActivitySummaryEmpty(t *testing.T) {
	rec := &recordingSender{}
	report := &entity.Report{Hours: 24, ByAction: map[entity.Action]int{}}
	require.NoError(t, newTestMailer(rec).SendActivitySummary(context.Background(), "a@x.com", "A", report))
	assert.Contains(t, rec.sent[0].Text, "No activity")
}

func TestNewSender(t *testing.T) {
	lg := zap.NewNop().Sugar()

	s, err := NewSender(Config{}, lg)
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, s)
	require.NoError(t, s.Send(context.Background(), Message{To: "a@x.com"}))

	_, err = NewSender(Config{Provider: ProviderResend}, lg)
	assert.Error(t, err)
	s, err = NewSender(Config{Provider: ProviderResend, ResendAPIKey: "re_test"}, lg)
	require.NoError(t, err)
	assert.IsType(t, &ResendSender{}, s)

	_, err = NewSender(Config{Provider: ProviderSMTP}, lg)
	assert.Error(t, err)
	s, err = NewSender(Config{Provider: ProviderSMTP, SMTPHost: "smtp.example.com"}, lg)
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, s)

	_, err = NewSender(Config{Provider: "pigeon"}, lg)
	assert.Error(t, err)
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "45s", formatSeconds(45))
	assert.Equal(t, "2m", formatSeconds(125))
	assert.Equal(t, "1h 1m", formatSeconds(3660))
}
