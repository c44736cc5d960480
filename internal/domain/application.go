package domain

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Field length limits shared by the registry and task rules, in characters.
const (
	MaxNameLength        = 50
	MaxDescriptionLength = 255
)

func longerThan(s string, limit int) bool {
	return utf8.RuneCountInString(s) > limit
}

// DateLayout is the calendar-day format used for application, plan and task dates.
const DateLayout = "2006-01-02"

// Application is one tenant of the tracker: a task counter plus its permit table.
type Application struct {
	Acronym     string
	Description string
	TaskCounter int64
	StartDate   *time.Time
	EndDate     *time.Time
	Permits     PermitTable
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ApplicationInput holds input values for application construction.
type ApplicationInput struct {
	Acronym     string
	Description string
	TaskCounter int64
	StartDate   *time.Time
	EndDate     *time.Time
	Permits     map[Gate][]string
}

// NewApplication constructs a normalized application.
func NewApplication(in ApplicationInput, now time.Time) (Application, error) {
	acronym := strings.TrimSpace(in.Acronym)
	if !validAcronym(acronym) {
		return Application{}, ErrInvalidAcronym
	}
	description := strings.TrimSpace(in.Description)
	if longerThan(description, MaxDescriptionLength) {
		return Application{}, ErrInvalidDescription
	}
	if in.TaskCounter < 0 {
		return Application{}, ErrInvalidCounter
	}
	start, end := normalizeDay(in.StartDate), normalizeDay(in.EndDate)
	if start != nil && end != nil && start.After(*end) {
		return Application{}, ErrInvalidDateRange
	}
	permits, err := NewPermitTable(in.Permits)
	if err != nil {
		return Application{}, err
	}
	return Application{
		Acronym:     acronym,
		Description: description,
		TaskCounter: in.TaskCounter,
		StartDate:   start,
		EndDate:     end,
		Permits:     permits,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// NextTaskID returns the id and sequence the next created task receives.
func (a Application) NextTaskID() (string, int64) {
	seq := a.TaskCounter + 1
	return TaskID(a.Acronym, seq), seq
}

// TaskID formats `<acronym>_<seq>`.
func TaskID(acronym string, seq int64) string {
	return acronym + "_" + strconv.FormatInt(seq, 10)
}

// validAcronym reports whether an acronym can prefix task ids unambiguously.
func validAcronym(acronym string) bool {
	if acronym == "" || longerThan(acronym, MaxNameLength) {
		return false
	}
	return !strings.ContainsAny(acronym, "_ \t\r\n/")
}

// ParseDate parses one `YYYY-MM-DD` calendar day.
func ParseDate(raw string) (time.Time, error) {
	day, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return day.UTC(), nil
}

// ParseOptionalDate parses a calendar day, treating blank input as unset.
func ParseOptionalDate(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	day, err := ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

// FormatDate renders a calendar day, or "" for nil.
func FormatDate(day *time.Time) string {
	if day == nil {
		return ""
	}
	return day.UTC().Format(DateLayout)
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normalizeDay(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	day := Day(*t)
	return &day
}
