// internal/domain/notification/roles.go
package notification

import (
	"fmt"
	"strings"
)

// RoleCategory is one of the closed set of recipient categories a workflow
// object can address.
type RoleCategory uint8

const (
	RoleAdmin RoleCategory = iota
	RoleWorkflowMember
	RoleTaskAssignees
	RoleTaskSecondaryAssignees
	roleCategoryCount
)

var roleCategoryNames = [roleCategoryCount]string{
	RoleAdmin:                  "Admin",
	RoleWorkflowMember:         "Workflow Member",
	RoleTaskAssignees:          "Task Assignees",
	RoleTaskSecondaryAssignees: "Task Secondary Assignees",
}

func (c RoleCategory) Valid() bool {
	return c < roleCategoryCount
}

func (c RoleCategory) String() string {
	if !c.Valid() {
		return fmt.Sprintf("RoleCategory(%d)", uint8(c))
	}
	return roleCategoryNames[c]
}

// AllRoleCategories lists every category in declaration order.
func AllRoleCategories() []RoleCategory {
	out := make([]RoleCategory, 0, roleCategoryCount)
	for c := RoleCategory(0); c < roleCategoryCount; c++ {
		out = append(out, c)
	}
	return out
}

// RoleSet is a set of role categories.
type RoleSet uint8

func NewRoleSet(categories ...RoleCategory) RoleSet {
	var s RoleSet
	for _, c := range categories {
		s = s.With(c)
	}
	return s
}

func (s RoleSet) With(c RoleCategory) RoleSet {
	if !c.Valid() {
		return s
	}
	return s | 1<<c
}

func (s RoleSet) Has(c RoleCategory) bool {
	return c.Valid() && s&(1<<c) != 0
}

func (s RoleSet) Intersect(o RoleSet) RoleSet {
	return s & o
}

func (s RoleSet) IsEmpty() bool {
	return s == 0
}

func (s RoleSet) Categories() []RoleCategory {
	var out []RoleCategory
	for _, c := range AllRoleCategories() {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// String renders the set as a comma separated list of canonical names.
func (s RoleSet) String() string {
	names := make([]string, 0, roleCategoryCount)
	for _, c := range s.Categories() {
		names = append(names, c.String())
	}
	return strings.Join(names, ",")
}

// RoleRegistry maps role names as stored by the workflow system onto
// categories. Lookups are case-insensitive.
type RoleRegistry struct {
	byName map[string]RoleCategory
}

// DefaultRoleRegistry knows the canonical category names only.
func DefaultRoleRegistry() *RoleRegistry {
	r := &RoleRegistry{byName: make(map[string]RoleCategory, roleCategoryCount)}
	for _, c := range AllRoleCategories() {
		r.byName[normalizeRoleName(c.String())] = c
	}
	return r
}

// WithAlias returns a copy of the registry that also resolves alias to c.
func (r *RoleRegistry) WithAlias(alias string, c RoleCategory) (*RoleRegistry, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(c))
	}
	key := normalizeRoleName(alias)
	if key == "" {
		return nil, fmt.Errorf("empty alias for role %s", c)
	}
	out := &RoleRegistry{byName: make(map[string]RoleCategory, len(r.byName)+1)}
	for k, v := range r.byName {
		out.byName[k] = v
	}
	if existing, ok := out.byName[key]; ok && existing != c {
		return nil, fmt.Errorf("alias %q already maps to %s", alias, existing)
	}
	out.byName[key] = c
	return out, nil
}

func (r *RoleRegistry) Lookup(name string) (RoleCategory, bool) {
	c, ok := r.byName[normalizeRoleName(name)]
	return c, ok
}

// ParseRoleSet parses a comma separated role list. Unrecognized names are
// returned separately so callers can log them.
func (r *RoleRegistry) ParseRoleSet(list string) (RoleSet, []string) {
	var set RoleSet
	var unknown []string
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, ok := r.Lookup(part)
		if !ok {
			unknown = append(unknown, part)
			continue
		}
		set = set.With(c)
	}
	return set, unknown
}

// ParseRoleCategory resolves a canonical category name.
func ParseRoleCategory(name string) (RoleCategory, error) {
	c, ok := DefaultRoleRegistry().Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
	return c, nil
}

func normalizeRoleName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
