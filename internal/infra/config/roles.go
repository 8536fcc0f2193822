package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"workflow_digest/internal/domain/notification"
)

// rolesFile maps canonical category names to the role names the workflow
// system stores for them, e.g.
//
//	aliases:
//	  Task Assignees: [Assignee, Task Owner]
type rolesFile struct {
	Aliases map[string][]string `yaml:"aliases"`
}

// LoadRoleRegistry builds the role registry, extended with the aliases from
// path when it is set.
func LoadRoleRegistry(path string) (*notification.RoleRegistry, error) {
	if path == "" {
		return notification.DefaultRoleRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}
	return ParseRoleRegistry(data)
}

func ParseRoleRegistry(data []byte) (*notification.RoleRegistry, error) {
	var f rolesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse roles file: %w", err)
	}

	reg := notification.DefaultRoleRegistry()
	for _, category := range notification.AllRoleCategories() {
		for _, alias := range f.Aliases[category.String()] {
			next, err := reg.WithAlias(alias, category)
			if err != nil {
				return nil, err
			}
			reg = next
		}
	}
	for name := range f.Aliases {
		if _, err := notification.ParseRoleCategory(name); err != nil {
			return nil, fmt.Errorf("roles file: %w", err)
		}
	}
	return reg, nil
}
