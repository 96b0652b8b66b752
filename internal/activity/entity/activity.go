package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Action is what the agent observed for a game or app.
type Action string

const (
	ActionStarted   Action = "started"
	ActionClosed    Action = "closed"
	ActionBlocked   Action = "blocked"
	ActionUnblocked Action = "unblocked"
	ActionTimerSet  Action = "timer_set"
)

// Actions lists every valid Action in display order.
var Actions = []Action{ActionStarted, ActionClosed, ActionBlocked, ActionUnblocked, ActionTimerSet}

func (a Action) Valid() bool {
	switch a {
	case ActionStarted, ActionClosed, ActionBlocked, ActionUnblocked, ActionTimerSet:
		return true
	}
	return false
}

// Label is the human readable form used in reports.
func (a Action) Label() string {
	switch a {
	case ActionStarted:
		return "Started"
	case ActionClosed:
		return "Closed"
	case ActionBlocked:
		return "Blocked"
	case ActionUnblocked:
		return "Unblocked"
	case ActionTimerSet:
		return "Timer set"
	}
	return string(a)
}

// JSONText is a JSON document persisted in a text column.
type JSONText json.RawMessage

func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONText) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[:0], b...)
	return nil
}

func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(JSONText(nil), v...)
	case string:
		*j = JSONText(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONText", src)
	}
	return nil
}

// ActivityLog is one agent-reported event. Rows are append-only.
type ActivityLog struct {
	ID           int64     `db:"id" json:"id"`
	SupervisorID int64     `db:"supervisor_id" json:"supervisorId"`
	GameName     string    `db:"game_name" json:"gameName"`
	Action       Action    `db:"action" json:"action"`
	Duration     *int      `db:"duration" json:"duration,omitempty"`
	Details      JSONText  `db:"details" json:"details,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Report aggregates the ledger over a time window.
type Report struct {
	Since    time.Time      `json:"since"`
	Hours    int            `json:"hours"`
	Total    int            `json:"total"`
	ByAction map[Action]int `json:"byAction"`
	Entries  []ActivityLog  `json:"entries"`
}
