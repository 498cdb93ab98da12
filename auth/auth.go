// Package auth resolves user roles for the Flight service.
package auth

import (
	"slices"
)

// RoleAnalyst may read reports and ingest order lines.
const RoleAnalyst = "analyst"

type RoleManager interface {
	HasRole(username, role string) bool
}

// Static is a RoleManager over a fixed user table.
type Static struct {
	roles map[string][]string
}

// NewStatic builds a Static manager from username to roles.
func NewStatic(roles map[string][]string) *Static {
	users := make(map[string][]string, len(roles))
	for name, r := range roles {
		users[name] = slices.Clone(r)
	}
	return &Static{roles: users}
}

func (s *Static) HasRole(username, role string) bool {
	return slices.Contains(s.roles[username], role)
}
