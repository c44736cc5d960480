package domain

import (
	"slices"
	"strings"
)

// Principal is an authenticated actor as seen by the permission checks.
type Principal struct {
	Username string
	Groups   []string
	Active   bool
}

// InGroup reports whether the principal holds group.
func (p Principal) InGroup(group string) bool {
	return slices.Contains(p.Groups, strings.TrimSpace(group))
}

// Account is one entry of the account directory.
type Account struct {
	Username string
	Email    string
	Active   bool
	Groups   []string
}

// AccountInput holds input values for account construction.
type AccountInput struct {
	Username string
	Email    string
	Active   bool
	Groups   []string
}

// NewAccount constructs a normalized account.
func NewAccount(in AccountInput) (Account, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || longerThan(username, MaxNameLength) {
		return Account{}, ErrInvalidUsername
	}
	for _, group := range in.Groups {
		if strings.TrimSpace(group) == "" {
			return Account{}, ErrInvalidGroup
		}
	}
	return Account{
		Username: username,
		Email:    strings.TrimSpace(in.Email),
		Active:   in.Active,
		Groups:   normalizeGroups(in.Groups),
	}, nil
}

// Principal projects the account onto the permission view.
func (a Account) Principal() Principal {
	return Principal{
		Username: a.Username,
		Groups:   append([]string(nil), a.Groups...),
		Active:   a.Active,
	}
}
