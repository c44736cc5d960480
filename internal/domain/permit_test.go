package domain

import (
	"errors"
	"testing"
	"time"
)

func TestPermitTableAllowsAnyListedGroup(t *testing.T) {
	table, err := NewPermitTable(map[Gate][]string{
		GateCreate: {" dev ", "lead", "dev"},
		GateDone:   {"lead"},
	})
	if err != nil {
		t.Fatalf("NewPermitTable() error = %v", err)
	}
	if got := table.Groups(GateCreate); len(got) != 2 || got[0] != "dev" || got[1] != "lead" {
		t.Fatalf("create groups = %#v, want [dev lead]", got)
	}

	dev := Principal{Username: "alice", Groups: []string{"qa", "dev"}, Active: true}
	if !table.Allows(dev, GateCreate) {
		t.Fatal("expected dev to pass create gate")
	}
	if table.Allows(dev, GateDone) {
		t.Fatal("expected dev to be refused at done gate")
	}
	if table.Allows(dev, GateOpen) {
		t.Fatal("expected empty gate to refuse everyone")
	}
	if err := table.Check(dev, GateDone); !errors.Is(err, ErrPrincipalNotAllowed) {
		t.Fatalf("Check() error = %v, want ErrPrincipalNotAllowed", err)
	}

	dev.Active = false
	if table.Allows(dev, GateCreate) {
		t.Fatal("expected inactive principal to be refused")
	}
	if err := table.Check(dev, GateCreate); !errors.Is(err, ErrPrincipalInactive) {
		t.Fatalf("Check() error = %v, want ErrPrincipalInactive", err)
	}
}

func TestPermitTableRejectsUnknownGate(t *testing.T) {
	if _, err := NewPermitTable(map[Gate][]string{"Closed": {"lead"}}); !errors.Is(err, ErrInvalidGate) {
		t.Fatalf("NewPermitTable() error = %v, want ErrInvalidGate", err)
	}
}

func TestGateForClosedHasNoGate(t *testing.T) {
	if _, ok := GateFor(StateClosed); ok {
		t.Fatal("expected closed to have no gate")
	}
	for _, state := range []State{StateOpen, StateToDo, StateDoing, StateDone} {
		gate, ok := GateFor(state)
		if !ok || string(gate) != string(state) {
			t.Fatalf("GateFor(%s) = %q, %t", state, gate, ok)
		}
	}
}

func TestNewApplicationAndNextTaskID(t *testing.T) {
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	start, _ := ParseDate("2026-01-01")
	end, _ := ParseDate("2026-06-30")
	application, err := NewApplication(ApplicationInput{
		Acronym:     " APP1 ",
		TaskCounter: 4,
		StartDate:   &start,
		EndDate:     &end,
		Permits:     map[Gate][]string{GateCreate: {"dev"}},
	}, now)
	if err != nil {
		t.Fatalf("NewApplication() error = %v", err)
	}
	id, seq := application.NextTaskID()
	if id != "APP1_5" || seq != 5 {
		t.Fatalf("NextTaskID() = %q, %d; want APP1_5, 5", id, seq)
	}

	if _, err := NewApplication(ApplicationInput{Acronym: "APP1", StartDate: &end, EndDate: &start}, now); !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("NewApplication() error = %v, want ErrInvalidDateRange", err)
	}
	if _, err := NewApplication(ApplicationInput{Acronym: "APP1", TaskCounter: -1}, now); !errors.Is(err, ErrInvalidCounter) {
		t.Fatalf("NewApplication() error = %v, want ErrInvalidCounter", err)
	}
}

func TestNewPlanValidation(t *testing.T) {
	start, _ := ParseDate("2026-02-01")
	end, _ := ParseDate("2026-02-14")
	plan, err := NewPlan(PlanInput{Name: " Q1 ", AppAcronym: "APP1", StartDate: start, EndDate: end})
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}
	if plan.Name != "Q1" {
		t.Fatalf("plan name = %q, want Q1", plan.Name)
	}
	if _, err := NewPlan(PlanInput{Name: "Q1", AppAcronym: "APP1", StartDate: end, EndDate: start}); !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("NewPlan() error = %v, want ErrInvalidDateRange", err)
	}
	if _, err := NewPlan(PlanInput{Name: "", AppAcronym: "APP1", StartDate: start, EndDate: end}); !errors.Is(err, ErrInvalidPlanName) {
		t.Fatalf("NewPlan() error = %v, want ErrInvalidPlanName", err)
	}
}
