package domain

import (
	"fmt"
	"strings"
	"time"
)

// UnassignedOwner is the owner of a task nobody has picked up.
const UnassignedOwner = "(unassigned)"

// Task is the tracked unit of work.
type Task struct {
	ID          string
	Name        string
	Description string
	Plan        string
	AppAcronym  string
	State       State
	Owner       string
	Creator     string
	CreateDate  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Notes       NoteLog
}

// TaskInput holds input values for task construction.
type TaskInput struct {
	ID          string
	Name        string
	Description string
	Plan        string
	AppAcronym  string
	Creator     string
}

// PlanChange carries a staged plan value alongside a transition.
// Expected, when set, is the plan the caller last saw persisted.
type PlanChange struct {
	Expected *string
	New      string
}

// NewTask constructs an Open, unassigned task with an empty ledger.
func NewTask(in TaskInput, now time.Time) (Task, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.AppAcronym = strings.TrimSpace(in.AppAcronym)
	in.Creator = strings.TrimSpace(in.Creator)
	if in.ID == "" {
		return Task{}, ErrInvalidID
	}
	if !validAcronym(in.AppAcronym) {
		return Task{}, ErrInvalidAcronym
	}
	if in.Creator == "" {
		return Task{}, ErrInvalidUsername
	}
	name, description, err := NormalizeTaskFields(in.Name, in.Description)
	if err != nil {
		return Task{}, err
	}
	plan, err := NormalizePlanName(in.Plan)
	if err != nil {
		return Task{}, err
	}

	return Task{
		ID:          in.ID,
		Name:        name,
		Description: description,
		Plan:        plan,
		AppAcronym:  in.AppAcronym,
		State:       StateOpen,
		Owner:       UnassignedOwner,
		Creator:     in.Creator,
		CreateDate:  Day(now),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
		Notes:       NoteLog{},
	}, nil
}

// NormalizeTaskFields trims and length-checks the immutable text fields.
func NormalizeTaskFields(name, description string) (string, string, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" || longerThan(name, MaxNameLength) {
		return "", "", ErrInvalidName
	}
	if longerThan(description, MaxDescriptionLength) {
		return "", "", ErrInvalidDescription
	}
	return name, description, nil
}

// Transition moves the task along the edge ending in to, applies the edge side effects
// and appends the system note.
func (t *Task) Transition(to State, change *PlanChange, actor string, now time.Time) (Edge, error) {
	if t.State.Terminal() {
		return "", ErrTaskClosed
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "", ErrInvalidUsername
	}
	from := t.State
	edge, err := LookupEdge(from, to)
	if err != nil {
		return "", err
	}

	plan, err := t.planAfter(edge, change)
	if err != nil {
		return "", err
	}

	owner := t.Owner
	switch edge {
	case EdgeRelease:
		if plan == "" {
			return "", ErrPlanRequired
		}
		owner = UnassignedOwner
	case EdgePickUp:
		owner = actor
	case EdgeDrop:
		owner = UnassignedOwner
	}

	if err := t.Notes.Append(Note{
		Author:   actor,
		Status:   from,
		Datetime: now,
		Message:  StateChangeMessage(from, to),
	}); err != nil {
		return "", err
	}
	t.Owner = owner
	t.Plan = plan
	t.State = to
	t.UpdatedAt = now.UTC()
	return edge, nil
}

// planAfter resolves the plan value the task holds once edge fires.
func (t Task) planAfter(edge Edge, change *PlanChange) (string, error) {
	if change == nil {
		return t.Plan, nil
	}
	next, err := NormalizePlanName(change.New)
	if err != nil {
		return "", err
	}
	if change.Expected != nil {
		expected, err := NormalizePlanName(*change.Expected)
		if err != nil {
			return "", err
		}
		if expected != t.Plan {
			return "", fmt.Errorf("%w: expected %q, persisted %q", ErrStalePlan, expected, t.Plan)
		}
	}

	switch edge {
	case EdgeRelease, EdgeReject:
		return next, nil
	case EdgeApprove:
		if next != t.Plan {
			return "", fmt.Errorf("%w: staged %q, persisted %q", ErrStagedPlanPending, next, t.Plan)
		}
		return t.Plan, nil
	default:
		if next != t.Plan {
			return "", fmt.Errorf("%w: %s", ErrPlanOverrideDenied, edge)
		}
		return t.Plan, nil
	}
}

// ChangePlan replaces the plan immediately. Only Open tasks accept it.
func (t *Task) ChangePlan(plan string, now time.Time) error {
	if t.State.Terminal() {
		return ErrTaskClosed
	}
	if t.State != StateOpen {
		return fmt.Errorf("%w: %s", ErrPlanReadOnly, t.State)
	}
	plan, err := NormalizePlanName(plan)
	if err != nil {
		return err
	}
	t.Plan = plan
	t.UpdatedAt = now.UTC()
	return nil
}

// AddNote appends a user note stamped with the current state.
func (t *Task) AddNote(author, message string, now time.Time) error {
	if t.State.Terminal() {
		return ErrTaskClosed
	}
	if err := t.Notes.Append(Note{
		Author:   author,
		Status:   t.State,
		Datetime: now,
		Message:  message,
	}); err != nil {
		return err
	}
	t.UpdatedAt = now.UTC()
	return nil
}
