// internal/domain/notification/recipients.go
package notification

import (
	"slices"
	"strings"
)

// RecipientConfig is the per-object recipient setting. Recipients are the
// roles that may receive notifications about the object at all; DigestRoles
// are the roles that receive them in the daily digest by default.
type RecipientConfig struct {
	Recipients  RoleSet
	DigestRoles RoleSet
}

// Recipients maps each role category to the addresses holding it on one object.
type Recipients map[RoleCategory][]string

// Normalize lowercases, trims and sorts addresses, dropping blanks and
// duplicates within a category.
func (r Recipients) Normalize() Recipients {
	out := make(Recipients, len(r))
	for c, addrs := range r {
		if !c.Valid() {
			continue
		}
		var clean []string
		for _, a := range addrs {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || slices.Contains(clean, a) {
				continue
			}
			clean = append(clean, a)
		}
		if len(clean) > 0 {
			slices.Sort(clean)
			out[c] = clean
		}
	}
	return out
}

// AddressesFor returns the addresses that should receive an event of the
// given type: every address holding a role in cfg.Recipients that is either
// opted into the default digest or addressed explicitly.
// An address holding several qualifying roles is listed once.
func (r Recipients) AddressesFor(cfg RecipientConfig, explicit bool) []string {
	allowed := cfg.Recipients
	if !explicit {
		allowed = allowed.Intersect(cfg.DigestRoles)
	}
	var out []string
	for _, c := range allowed.Categories() {
		for _, a := range r[c] {
			if !slices.Contains(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}
