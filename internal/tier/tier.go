// Package tier ranks subscription levels and maps features to the lowest
// level that unlocks them.
package tier

import "strings"

type Tier string

const (
	Starter  Tier = "Starter Sync"
	Operator Tier = "Operator Sync"
	Growth   Tier = "Growth Sync"
	Empire   Tier = "Empire Sync"
)

// Order lists every tier from lowest to highest.
var Order = []Tier{Starter, Operator, Growth, Empire}

// Lowest is the tier every unknown name ranks as.
const Lowest = Starter

// Rank is the zero-based position of t in Order. Unknown tiers rank 0.
func Rank(t Tier) int {
	for i, o := range Order {
		if o == t {
			return i
		}
	}
	return 0
}

// HasAccess reports whether user satisfies a requirement of required.
func HasAccess(user, required Tier) bool {
	return Rank(user) >= Rank(required)
}

// Parse matches s against the known tier names, ignoring case and
// surrounding space. A bare prefix such as "operator" also matches.
func Parse(s string) (Tier, bool) {
	s = strings.TrimSpace(s)
	for _, t := range Order {
		name := string(t)
		if strings.EqualFold(s, name) || strings.EqualFold(s+" Sync", name) {
			return t, true
		}
	}
	return "", false
}

func (t Tier) Rank() int { return Rank(t) }

func (t Tier) String() string { return string(t) }
