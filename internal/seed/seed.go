// Package seed loads applications, plans and accounts from a YAML fixture.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hylla/taskgate/internal/app"
	"github.com/hylla/taskgate/internal/domain"
)

// Fixture is the top-level document.
type Fixture struct {
	Applications []ApplicationFixture `yaml:"applications"`
	Accounts     []AccountFixture     `yaml:"accounts"`
}

// ApplicationFixture describes one application and its plans.
// Permits are keyed by gate name (create, open, todo, doing, done).
type ApplicationFixture struct {
	Acronym     string              `yaml:"acronym"`
	Description string              `yaml:"description"`
	RNumber     int64               `yaml:"r_number"`
	StartDate   string              `yaml:"start_date"`
	EndDate     string              `yaml:"end_date"`
	Permits     map[string][]string `yaml:"permits"`
	Plans       []PlanFixture       `yaml:"plans"`
}

type PlanFixture struct {
	Name      string `yaml:"name"`
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
}

// AccountFixture describes one account. Active defaults to true.
type AccountFixture struct {
	Username string   `yaml:"username"`
	Email    string   `yaml:"email"`
	Active   *bool    `yaml:"active"`
	Groups   []string `yaml:"groups"`
}

// Result counts what a Load call wrote.
type Result struct {
	Applications int `json:"applications"`
	Plans        int `json:"plans"`
	Accounts     int `json:"accounts"`
	// Skipped counts applications and plans that already existed.
	Skipped int `json:"skipped"`
}

// Parse decodes a fixture, rejecting unknown keys.
func Parse(r io.Reader) (Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		if errors.Is(err, io.EOF) {
			return Fixture{}, nil
		}
		return Fixture{}, fmt.Errorf("decode seed yaml: %w", err)
	}
	return fx, nil
}

// ParseFile reads and decodes the fixture at path.
func ParseFile(path string) (Fixture, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(bytes.NewReader(content))
}

// Build validates every fixture entry through the domain constructors
// without touching storage.
func (fx Fixture) Build(now time.Time) ([]domain.Application, []domain.Plan, []domain.Account, error) {
	var (
		applications []domain.Application
		plans        []domain.Plan
		accounts     []domain.Account
	)
	for i, in := range fx.Applications {
		application, err := in.build(now)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("applications[%d] %q: %w", i, in.Acronym, err)
		}
		applications = append(applications, application)
		for j, p := range in.Plans {
			plan, err := p.build(application.Acronym)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("applications[%d].plans[%d] %q: %w", i, j, p.Name, err)
			}
			plans = append(plans, plan)
		}
	}
	for i, in := range fx.Accounts {
		active := true
		if in.Active != nil {
			active = *in.Active
		}
		account, err := domain.NewAccount(domain.AccountInput{
			Username: in.Username,
			Email:    in.Email,
			Active:   active,
			Groups:   in.Groups,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("accounts[%d] %q: %w", i, in.Username, err)
		}
		accounts = append(accounts, account)
	}
	return applications, plans, accounts, nil
}

func (in ApplicationFixture) build(now time.Time) (domain.Application, error) {
	start, err := domain.ParseOptionalDate(in.StartDate)
	if err != nil {
		return domain.Application{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := domain.ParseOptionalDate(in.EndDate)
	if err != nil {
		return domain.Application{}, fmt.Errorf("end_date: %w", err)
	}
	permits := make(map[domain.Gate][]string, len(in.Permits))
	for name, groups := range in.Permits {
		gate, err := domain.ParseGate(name)
		if err != nil {
			return domain.Application{}, err
		}
		permits[gate] = append(permits[gate], groups...)
	}
	return domain.NewApplication(domain.ApplicationInput{
		Acronym:     in.Acronym,
		Description: in.Description,
		TaskCounter: in.RNumber,
		StartDate:   start,
		EndDate:     end,
		Permits:     permits,
	}, now)
}

func (p PlanFixture) build(acronym string) (domain.Plan, error) {
	start, err := domain.ParseDate(p.StartDate)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := domain.ParseDate(p.EndDate)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("end_date: %w", err)
	}
	return domain.NewPlan(domain.PlanInput{Name: p.Name, AppAcronym: acronym, StartDate: start, EndDate: end})
}

// Load validates the whole fixture first, then writes it. Existing
// applications and plans are left untouched; accounts are upserted.
func Load(ctx context.Context, registry app.Registry, fx Fixture, now time.Time) (Result, error) {
	applications, plans, accounts, err := fx.Build(now)
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, application := range applications {
		switch err := registry.CreateApplication(ctx, application); {
		case err == nil:
			res.Applications++
		case errors.Is(err, app.ErrConflict):
			res.Skipped++
		default:
			return res, fmt.Errorf("create application %s: %w", application.Acronym, err)
		}
	}
	for _, plan := range plans {
		switch err := registry.CreatePlan(ctx, plan); {
		case err == nil:
			res.Plans++
		case errors.Is(err, app.ErrConflict):
			res.Skipped++
		default:
			return res, fmt.Errorf("create plan %s/%s: %w", plan.AppAcronym, plan.Name, err)
		}
	}
	for _, account := range accounts {
		if err := registry.UpsertAccount(ctx, account); err != nil {
			return res, fmt.Errorf("upsert account %s: %w", account.Username, err)
		}
		res.Accounts++
	}
	return res, nil
}
