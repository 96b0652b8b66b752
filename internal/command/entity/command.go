package entity

import "time"

// Action is an instruction for the desktop agent.
type Action string

const (
	ActionBlock     Action = "block"
	ActionUnblock   Action = "unblock"
	ActionSetTimer  Action = "set_timer"
	ActionGetStatus Action = "get_status"
)

func (a Action) Valid() bool {
	switch a {
	case ActionBlock, ActionUnblock, ActionSetTimer, ActionGetStatus:
		return true
	}
	return false
}

// Status of a command. pending moves to executed or failed exactly once.
type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusExecuted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed
}

// Command is one queued instruction owned by a supervisor.
type Command struct {
	ID           int64      `db:"id" json:"id"`
	SupervisorID int64      `db:"supervisor_id" json:"supervisorId"`
	Action       Action     `db:"action" json:"action"`
	Target       *string    `db:"target" json:"target"`
	Duration     *int       `db:"duration" json:"duration"`
	Status       Status     `db:"status" json:"status"`
	ExecutedAt   *time.Time `db:"executed_at" json:"executedAt"`
	ErrorMessage *string    `db:"error_message" json:"errorMessage"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}
