// Package activity is the append-only ledger of what the desktop agent saw,
// plus the windowed report mailed to supervisors.
package activity

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safeplay/safeplay-api/internal/activity/entity"
	"github.com/safeplay/safeplay-api/internal/activity/repo"
	"github.com/safeplay/safeplay-api/internal/apperr"
)

const (
	DefaultLimit  = 50
	MaxLimit      = 200
	MaxBatch      = 100
	ReportEntries = 500
	DefaultHours  = 24
	MaxHours      = 24 * 31
	maxGameName   = 255
)

// Recipient is the account a summary is mailed to.
type Recipient struct {
	Email    string
	FullName string
}

// Accounts resolves the recipient of a summary.
type Accounts interface {
	Recipient(ctx context.Context, id int64) (Recipient, error)
}

// Mailer sends the activity summary.
type Mailer interface {
	SendActivitySummary(ctx context.Context, to, fullName string, r *entity.Report) error
}

type Service struct {
	repo     *repo.ActivityRepo
	accounts Accounts
	mailer   Mailer
	logger   *zap.SugaredLogger
	now      func() time.Time
}

type Deps struct {
	Repo     *repo.ActivityRepo
	Accounts Accounts
	Mailer   Mailer
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &Service{repo: d.Repo, accounts: d.Accounts, mailer: d.Mailer, logger: d.Logger, now: d.Now}
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Entry is one reported event before it is stored.
type Entry struct {
	GameName string          `json:"gameName" validate:"required,max=255"`
	Action   string          `json:"action" validate:"required,oneof=started closed blocked unblocked timer_set"`
	Duration *int            `json:"duration" validate:"omitempty,min=0"`
	Details  json.RawMessage `json:"details"`
}

func (s *Service) build(ownerID int64, e Entry, now time.Time) (entity.ActivityLog, error) {
	name := strings.TrimSpace(e.GameName)
	if name == "" {
		return entity.ActivityLog{}, apperr.Validation("gameName is required")
	}
	if len(name) > maxGameName {
		return entity.ActivityLog{}, apperr.Validation("gameName must be at most 255 characters")
	}
	action := entity.Action(e.Action)
	if !action.Valid() {
		return entity.ActivityLog{}, apperr.Validation("action must be one of: started closed blocked unblocked timer_set")
	}
	if e.Duration != nil && *e.Duration < 0 {
		return entity.ActivityLog{}, apperr.Validation("duration must be at least 0")
	}
	details, err := objectOrNil(e.Details)
	if err != nil {
		return entity.ActivityLog{}, err
	}
	return entity.ActivityLog{
		SupervisorID: ownerID,
		GameName:     name,
		Action:       action,
		Duration:     e.Duration,
		Details:      details,
		CreatedAt:    now,
	}, nil
}

// objectOrNil accepts a JSON object or null and returns its compact form.
func objectOrNil(raw json.RawMessage) (entity.JSONText, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return nil, apperr.Validation("details must be a JSON object")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, apperr.Validation("details must be a JSON object")
	}
	return entity.JSONText(buf.Bytes()), nil
}

// Record appends one entry.
func (s *Service) Record(ctx context.Context, ownerID int64, e Entry) (*entity.ActivityLog, error) {
	a, err := s.build(ownerID, e, s.clock())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// RecordBatch validates every entry first and stores them all or none.
func (s *Service) RecordBatch(ctx context.Context, ownerID int64, entries []Entry) ([]entity.ActivityLog, error) {
	if len(entries) == 0 {
		return nil, apperr.Validation("activities must contain at least 1 entry")
	}
	if len(entries) > MaxBatch {
		return nil, apperr.Validation(fmt.Sprintf("activities must contain at most %d entries", MaxBatch))
	}
	now := s.clock()
	out := make([]entity.ActivityLog, 0, len(entries))
	for i, e := range entries {
		a, err := s.build(ownerID, e, now)
		if err != nil {
			msg, _ := apperr.Message(err)
			return nil, apperr.Validation(fmt.Sprintf("activities[%d]: %s", i, msg))
		}
		out = append(out, a)
	}
	if err := s.repo.InsertBatch(ctx, out); err != nil {
		return nil, err
	}
	s.logger.Debugw("activity batch stored", "supervisor", ownerID, "count", len(out))
	return out, nil
}

type Page struct {
	Activities []entity.ActivityLog `json:"activities"`
	Total      int                  `json:"total"`
	Limit      int                  `json:"limit"`
	Offset     int                  `json:"offset"`
}

// Query pages through the owner's entries newest first.
func (s *Service) Query(ctx context.Context, ownerID int64, limit, offset int, gameName string) (*Page, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	if offset < 0 {
		return nil, apperr.Validation("offset must be at least 0")
	}
	f := repo.Filter{SupervisorID: ownerID, GameName: strings.TrimSpace(gameName), Limit: limit, Offset: offset}
	items, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.Count(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Page{Activities: items, Total: total, Limit: limit, Offset: offset}, nil
}

// ActivitySince reports totals per action and the newest entries of the
// last hours.
func (s *Service) ActivitySince(ctx context.Context, ownerID int64, hours int) (*entity.Report, error) {
	if hours == 0 {
		hours = DefaultHours
	}
	if hours < 1 || hours > MaxHours {
		return nil, apperr.Validation(fmt.Sprintf("hours must be between 1 and %d", MaxHours))
	}
	since := s.clock().Add(-time.Duration(hours) * time.Hour)
	f := repo.Filter{SupervisorID: ownerID, Since: since, Limit: ReportEntries}

	byAction, err := s.repo.CountByAction(ctx, f)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range byAction {
		total += n
	}
	return &entity.Report{Since: since, Hours: hours, Total: total, ByAction: byAction, Entries: entries}, nil
}

// SendSummary mails the last 24 hours to the owner. Delivery failures are
// reported as apperr.ErrEmailDelivery.
func (s *Service) SendSummary(ctx context.Context, ownerID int64) (*entity.Report, error) {
	to, err := s.accounts.Recipient(ctx, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "account not found")
		}
		return nil, err
	}
	report, err := s.ActivitySince(ctx, ownerID, DefaultHours)
	if err != nil {
		return nil, err
	}
	if err := s.mailer.SendActivitySummary(ctx, to.Email, to.FullName, report); err != nil {
		s.logger.Errorw("activity summary email failed", "supervisor", ownerID, "err", err)
		return nil, fmt.Errorf("%w: %v", apperr.ErrEmailDelivery, err)
	}
	return report, nil
}
