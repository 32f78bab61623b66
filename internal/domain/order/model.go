package order

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/platform/auth"
)

// Order statuses. An order walks ordered → accepted → in_progress →
// result_ready → confirmed; cancelled is reachable from any non-terminal
// status. A worker releasing an order reverts it to ordered instead.
const (
	StatusOrdered     = "ordered"
	StatusAccepted    = "accepted"
	StatusInProgress  = "in_progress"
	StatusResultReady = "result_ready"
	StatusConfirmed   = "confirmed"
	StatusCancelled   = "cancelled"
)

// Priorities.
const (
	PriorityNormal = "normal"
	PriorityUrgent = "urgent"
	PriorityStat   = "stat"
)

var validPriorities = map[string]bool{
	PriorityNormal: true,
	PriorityUrgent: true,
	PriorityStat:   true,
}

// transitions defines the valid forward edges of the status graph.
// Worker release (back to ordered) and cancellation are handled separately
// because their legality depends on who is acting.
var transitions = map[string][]string{
	StatusOrdered:     {StatusAccepted, StatusCancelled},
	StatusAccepted:    {StatusInProgress, StatusOrdered, StatusCancelled},
	StatusInProgress:  {StatusResultReady, StatusOrdered, StatusCancelled},
	StatusResultReady: {StatusConfirmed, StatusOrdered, StatusCancelled},
	StatusConfirmed:   {},
	StatusCancelled:   {},
}

// CanTransition reports whether the status graph permits from → to.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// ValidDepartment reports whether d is a known executing department.
func ValidDepartment(d string) bool {
	for _, dept := range auth.AllDepartments {
		if dept == d {
			return true
		}
	}
	return false
}

// confirmingDepartments lists the departments whose assigned worker may
// confirm their own result in addition to the ordering physician.
var confirmingDepartments = map[string]bool{
	"imaging": true,
	"lab":     true,
}

// WorkerMayConfirm reports whether the assigned worker of an order routed
// to the given department may confirm the result.
func WorkerMayConfirm(department string) bool {
	return confirmingDepartments[department]
}

// Order is one diagnostic work item routed to a department.
type Order struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	DisplayID      string          `db:"display_id" json:"display_id"`
	JobRole        string          `db:"job_role" json:"job_role"`
	JobType        string          `db:"job_type" json:"job_type"`
	Priority       string          `db:"priority" json:"priority"`
	OrderedBy      string          `db:"ordered_by" json:"ordered_by"`
	AssignedWorker *string         `db:"assigned_worker" json:"assigned_worker,omitempty"`
	PatientID      uuid.UUID       `db:"patient_id" json:"patient_id"`
	EncounterID    *uuid.UUID      `db:"encounter_id" json:"encounter_id,omitempty"`
	RequestPayload json.RawMessage `db:"request_payload" json:"request_payload,omitempty"`
	ResultPayload  json.RawMessage `db:"result_payload" json:"result_payload,omitempty"`
	OutcomeFlag    *bool           `db:"outcome_flag" json:"outcome_flag,omitempty"`
	CancelReason   *string         `db:"cancel_reason" json:"cancel_reason,omitempty"`
	Status         string          `db:"status" json:"status"`
	AcceptedAt     *time.Time      `db:"accepted_at" json:"accepted_at,omitempty"`
	StartedAt      *time.Time      `db:"started_at" json:"started_at,omitempty"`
	ResultReadyAt  *time.Time      `db:"result_ready_at" json:"result_ready_at,omitempty"`
	ConfirmedAt    *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CancelledAt    *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Deleted        bool            `db:"deleted" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// AssignedTo reports whether the order is currently assigned to actorID.
func (o *Order) AssignedTo(actorID string) bool {
	return o.AssignedWorker != nil && *o.AssignedWorker == actorID
}

// StatusChange is one entry of an order's transition history, derived from
// the per-state timestamps.
type StatusChange struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// History returns the transitions the order has gone through, in order.
func (o *Order) History() []StatusChange {
	history := []StatusChange{{Status: StatusOrdered, At: o.CreatedAt}}
	for _, entry := range []struct {
		status string
		at     *time.Time
	}{
		{StatusAccepted, o.AcceptedAt},
		{StatusInProgress, o.StartedAt},
		{StatusResultReady, o.ResultReadyAt},
		{StatusConfirmed, o.ConfirmedAt},
		{StatusCancelled, o.CancelledAt},
	} {
		if entry.at != nil {
			history = append(history, StatusChange{Status: entry.status, At: *entry.at})
		}
	}
	return history
}
