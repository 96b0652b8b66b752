// Package command is the queue of instructions a supervisor issues and the
// desktop agent polls, executes and reports back on.
package command

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safeplay/safeplay-api/internal/apperr"
	"github.com/safeplay/safeplay-api/internal/command/entity"
	"github.com/safeplay/safeplay-api/internal/command/repo"
)

const (
	MaxPending     = 50
	DefaultHistory = 50
	MaxHistory     = 100
	// Timer bounds in minutes.
	MinDuration = 1
	MaxDuration = 1440
	maxTarget   = 255
)

type Service struct {
	repo   *repo.CommandRepo
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(r *repo.CommandRepo, logger *zap.SugaredLogger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: r, logger: logger, now: now}
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Create queues a new pending command for the owner.
func (s *Service) Create(ctx context.Context, ownerID int64, action entity.Action, target *string, duration *int) (*entity.Command, error) {
	if !action.Valid() {
		return nil, apperr.Validation("action must be one of: block unblock set_timer get_status")
	}
	if target != nil {
		t := strings.TrimSpace(*target)
		if t == "" {
			target = nil
		} else {
			if len(t) > maxTarget {
				return nil, apperr.Validation("target must be at most 255 characters")
			}
			target = &t
		}
	}
	if action == entity.ActionSetTimer && duration == nil {
		return nil, apperr.Validation("duration is required for set_timer")
	}
	if duration != nil && (*duration < MinDuration || *duration > MaxDuration) {
		return nil, apperr.Validation("duration must be between 1 and 1440 minutes")
	}

	now := s.clock()
	c := &entity.Command{
		SupervisorID: ownerID,
		Action:       action,
		Target:       target,
		Duration:     duration,
		Status:       entity.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Infow("command queued", "id", c.ID, "supervisor", ownerID, "action", action)
	return c, nil
}

// ListPending returns up to limit pending commands, oldest first. limit is
// clamped to 1..50; zero means 50.
func (s *Service) ListPending(ctx context.Context, ownerID int64, limit int) ([]entity.Command, error) {
	if limit <= 0 || limit > MaxPending {
		limit = MaxPending
	}
	return s.repo.ListPending(ctx, ownerID, limit)
}

// History returns recent commands newest first. status may be empty.
func (s *Service) History(ctx context.Context, ownerID int64, status string, limit int) ([]entity.Command, error) {
	var filter *entity.Status
	if status != "" {
		st := entity.Status(status)
		if !st.Valid() {
			return nil, apperr.Validation("status must be one of: pending executed failed")
		}
		filter = &st
	}
	switch {
	case limit <= 0:
		limit = DefaultHistory
	case limit > MaxHistory:
		limit = MaxHistory
	}
	return s.repo.History(ctx, ownerID, filter, limit)
}

// Get returns one of the caller's commands.
func (s *Service) Get(ctx context.Context, id, callerID int64) (*entity.Command, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.ErrNotFound, "command not found")
		}
		return nil, err
	}
	if c.SupervisorID != callerID {
		return nil, apperr.New(apperr.ErrForbidden, "command belongs to another account")
	}
	return c, nil
}

// MarkExecuted records a successful execution.
func (s *Service) MarkExecuted(ctx context.Context, id, callerID int64) (*entity.Command, error) {
	return s.complete(ctx, id, callerID, entity.StatusExecuted, nil)
}

// MarkFailed records a failed execution with an optional reason.
func (s *Service) MarkFailed(ctx context.Context, id, callerID int64, errMsg *string) (*entity.Command, error) {
	if errMsg != nil && strings.TrimSpace(*errMsg) == "" {
		errMsg = nil
	}
	return s.complete(ctx, id, callerID, entity.StatusFailed, errMsg)
}

func (s *Service) complete(ctx context.Context, id, callerID int64, status entity.Status, errMsg *string) (*entity.Command, error) {
	c, err := s.Get(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, apperr.New(apperr.ErrConflict, "command already "+string(c.Status))
	}
	now := s.clock()
	ok, err := s.repo.Complete(ctx, id, status, errMsg, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// lost a race with another report
		return nil, apperr.New(apperr.ErrConflict, "command already completed")
	}
	c.Status = status
	c.ExecutedAt = &now
	c.ErrorMessage = errMsg
	c.UpdatedAt = now
	s.logger.Infow("command completed", "id", id, "status", status)
	return c, nil
}
