package domain

import (
	"strings"
	"time"
)

// Plan is a named date range scoped to one application.
type Plan struct {
	Name       string
	AppAcronym string
	StartDate  time.Time
	EndDate    time.Time
}

// PlanInput holds input values for plan construction.
type PlanInput struct {
	Name       string
	AppAcronym string
	StartDate  time.Time
	EndDate    time.Time
}

// NewPlan constructs a normalized plan.
func NewPlan(in PlanInput) (Plan, error) {
	name, err := NormalizePlanName(in.Name)
	if err != nil {
		return Plan{}, err
	}
	if name == "" {
		return Plan{}, ErrInvalidPlanName
	}
	acronym := strings.TrimSpace(in.AppAcronym)
	if !validAcronym(acronym) {
		return Plan{}, ErrInvalidAcronym
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return Plan{}, ErrInvalidDate
	}
	start, end := Day(in.StartDate), Day(in.EndDate)
	if start.After(end) {
		return Plan{}, ErrInvalidDateRange
	}
	return Plan{
		Name:       name,
		AppAcronym: acronym,
		StartDate:  start,
		EndDate:    end,
	}, nil
}

// NormalizePlanName trims a plan reference. Empty means "no plan".
func NormalizePlanName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if longerThan(name, MaxNameLength) {
		return "", ErrInvalidPlanName
	}
	return name, nil
}
