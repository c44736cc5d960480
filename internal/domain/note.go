package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Note is one immutable ledger entry attached to a task.
type Note struct {
	Author   string    `json:"author"`
	Status   State     `json:"status"`
	Datetime time.Time `json:"datetime"`
	Message  string    `json:"message"`
}

// NoteLog is an append-only ledger. Entries can be read and appended, never edited or removed.
type NoteLog struct {
	entries []Note
}

// RestoreNoteLog rebuilds a ledger from persisted entries in insertion order.
func RestoreNoteLog(entries []Note) NoteLog {
	return NoteLog{entries: append([]Note(nil), entries...)}
}

// Len returns the number of entries.
func (l NoteLog) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the entries in insertion order.
func (l NoteLog) Entries() []Note {
	return append([]Note(nil), l.entries...)
}

// Last returns the newest entry.
func (l NoteLog) Last() (Note, bool) {
	if len(l.entries) == 0 {
		return Note{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Append adds one entry at the end of the ledger.
// A datetime earlier than the newest entry is raised to it so time order matches insertion order.
func (l *NoteLog) Append(n Note) error {
	n.Author = strings.TrimSpace(n.Author)
	n.Message = strings.TrimSpace(n.Message)
	if n.Author == "" || n.Message == "" {
		return ErrInvalidNote
	}
	if _, err := ParseState(string(n.Status)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNote, err)
	}
	n.Datetime = n.Datetime.UTC()
	if last, ok := l.Last(); ok && n.Datetime.Before(last.Datetime) {
		n.Datetime = last.Datetime
	}
	// Copy before append so earlier snapshots sharing the backing array stay intact.
	next := make([]Note, len(l.entries), len(l.entries)+1)
	copy(next, l.entries)
	l.entries = append(next, n)
	return nil
}

// MarshalJSON encodes the ledger as a JSON array.
func (l NoteLog) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

// UnmarshalJSON decodes a JSON array into a ledger.
func (l *NoteLog) UnmarshalJSON(data []byte) error {
	var entries []Note
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*l = RestoreNoteLog(entries)
	return nil
}

// StateChangeMessage renders the system note text for a transition.
func StateChangeMessage(from, to State) string {
	return fmt.Sprintf("Task state changed from %q to %q", string(from), string(to))
}
