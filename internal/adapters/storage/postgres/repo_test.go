package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hylla/taskgate/internal/app"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{codeSerializationFailure, app.ErrTransient},
		{codeDeadlockDetected, app.ErrTransient},
		{codeLockNotAvailable, app.ErrTransient},
		{codeUniqueViolation, app.ErrConflict},
		{codeForeignKeyViolation, app.ErrInvalidReference},
	}
	for _, tc := range cases {
		err := classifyError(fmt.Errorf("exec: %w", &pgconn.PgError{Code: tc.code}))
		if !errors.Is(err, tc.want) {
			t.Fatalf("classifyError(%s) = %v, want %v", tc.code, err, tc.want)
		}
	}
	if err := classifyError(app.ErrNotFound); err != app.ErrNotFound {
		t.Fatalf("classifyError(ErrNotFound) = %v, want passthrough", err)
	}
	if err := classifyError(nil); err != nil {
		t.Fatalf("classifyError(nil) = %v", err)
	}
}

func TestUTCDayNormalizesDates(t *testing.T) {
	local := time.Date(2026, 4, 9, 0, 0, 0, 0, time.FixedZone("east", 5*3600))
	got := utcDay(&local)
	if got == nil || got.Location() != time.UTC || got.Day() != 9 {
		t.Fatalf("utcDay() = %v", got)
	}
	if utcDay(nil) != nil {
		t.Fatal("utcDay(nil) should stay nil")
	}
}

func TestCalendarDayKeepsLocalDate(t *testing.T) {
	cases := []time.Time{
		time.Date(2026, 4, 9, 0, 0, 0, 0, time.FixedZone("east", 9*3600)),
		time.Date(2026, 4, 9, 23, 30, 0, 0, time.FixedZone("west", -7*3600)),
		time.Date(2026, 4, 9, 12, 0, 0, 0, time.UTC),
	}
	want := time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC)
	for _, in := range cases {
		if got := calendarDay(in); !got.Equal(want) || got.Location() != time.UTC {
			t.Fatalf("calendarDay(%v) = %v, want %v", in, got, want)
		}
	}
}
