package domain

import (
	"fmt"
	"slices"
	"strings"
)

// PermitTable maps each gate to the groups allowed through it.
type PermitTable struct {
	groups map[Gate][]string
}

// NewPermitTable normalizes raw gate/group lists into a permit table.
func NewPermitTable(raw map[Gate][]string) (PermitTable, error) {
	out := PermitTable{groups: make(map[Gate][]string, len(validGates))}
	for gate, groups := range raw {
		if !slices.Contains(validGates, gate) {
			return PermitTable{}, fmt.Errorf("%w: %q", ErrInvalidGate, gate)
		}
		out.groups[gate] = normalizeGroups(groups)
	}
	return out, nil
}

// Groups returns the sorted groups permitted through gate.
func (p PermitTable) Groups(gate Gate) []string {
	return append([]string(nil), p.groups[gate]...)
}

// Map returns a copy of the table keyed by gate, with every gate present.
func (p PermitTable) Map() map[Gate][]string {
	out := make(map[Gate][]string, len(validGates))
	for _, gate := range validGates {
		out[gate] = p.Groups(gate)
	}
	return out
}

// Allows reports whether principal may pass gate: active and holding any listed group.
func (p PermitTable) Allows(principal Principal, gate Gate) bool {
	if !principal.Active {
		return false
	}
	for _, group := range p.groups[gate] {
		if principal.InGroup(group) {
			return true
		}
	}
	return false
}

// Check is Allows with a reason.
func (p PermitTable) Check(principal Principal, gate Gate) error {
	if !principal.Active {
		return ErrPrincipalInactive
	}
	if !p.Allows(principal, gate) {
		return fmt.Errorf("%w for gate %s", ErrPrincipalNotAllowed, gate)
	}
	return nil
}

// normalizeGroups trims, dedupes and sorts group names.
func normalizeGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	for _, raw := range groups {
		group := strings.TrimSpace(raw)
		if group == "" || slices.Contains(out, group) {
			continue
		}
		out = append(out, group)
	}
	slices.Sort(out)
	return out
}
