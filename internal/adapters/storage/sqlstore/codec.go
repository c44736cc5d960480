package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hylla/taskgate/internal/domain"
)

// TimestampLayout is fixed-width so stored timestamps sort lexically.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// TS formats t for storage.
func TS(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTS parses a stored timestamp. Unparseable values decode to the zero time.
func ParseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// NullableDate formats an optional calendar day.
func NullableDate(day *time.Time) any {
	if day == nil {
		return nil
	}
	return day.UTC().Format(domain.DateLayout)
}

// ParseNullableDate parses an optional calendar day.
func ParseNullableDate(raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	return domain.ParseOptionalDate(*raw)
}

// EncodePermits serializes a permit table as a gate→groups object.
func EncodePermits(permits domain.PermitTable) (string, error) {
	raw, err := json.Marshal(permits.Map())
	if err != nil {
		return "", fmt.Errorf("encode permits: %w", err)
	}
	return string(raw), nil
}

// DecodePermits rebuilds a permit table.
func DecodePermits(raw []byte) (domain.PermitTable, error) {
	groups := map[domain.Gate][]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &groups); err != nil {
			return domain.PermitTable{}, fmt.Errorf("decode permits: %w", err)
		}
	}
	return domain.NewPermitTable(groups)
}

// EncodeNotes serializes the note ledger as a JSON array.
func EncodeNotes(notes domain.NoteLog) (string, error) {
	raw, err := json.Marshal(notes)
	if err != nil {
		return "", fmt.Errorf("encode notes: %w", err)
	}
	return string(raw), nil
}

// DecodeNotes rebuilds a note ledger.
func DecodeNotes(raw []byte) (domain.NoteLog, error) {
	var notes domain.NoteLog
	if len(raw) == 0 {
		return notes, nil
	}
	if err := json.Unmarshal(raw, &notes); err != nil {
		return domain.NoteLog{}, fmt.Errorf("decode notes: %w", err)
	}
	return notes, nil
}

// EncodeGroups serializes account groups.
func EncodeGroups(groups []string) (string, error) {
	if groups == nil {
		groups = []string{}
	}
	raw, err := json.Marshal(groups)
	if err != nil {
		return "", fmt.Errorf("encode groups: %w", err)
	}
	return string(raw), nil
}

// DecodeGroups rebuilds account groups.
func DecodeGroups(raw []byte) ([]string, error) {
	groups := []string{}
	if len(raw) == 0 {
		return groups, nil
	}
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}
	return groups, nil
}
