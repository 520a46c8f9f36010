// Package region matches shipping addresses against configured region selectors.
package region

import "strings"

// Address is the part of a shipping address that pricing depends on.
type Address struct {
	Country    string
	Province   string
	City       string
	PostalCode string
}

// Selector describes a region. Empty fields match any value; a selector with
// no fields set matches nothing.
type Selector struct {
	Country      string `yaml:"country"`
	Province     string `yaml:"province"`
	City         string `yaml:"city"`
	PostalPrefix string `yaml:"postal_prefix"`
}

// Specificity tiers, most specific last.
const (
	rankCountry  = 100
	rankProvince = 200
	rankCity     = 300
	rankPostal   = 400
)

// Rank reports whether s matches addr and how specific the match is.
// Postal prefixes outrank cities, which outrank provinces, which outrank
// countries; longer postal prefixes outrank shorter ones.
func (s Selector) Rank(addr Address) (int, bool) {
	rank := 0
	if s.Country != "" {
		if !equalFold(s.Country, addr.Country) {
			return 0, false
		}
		rank = rankCountry
	}
	if s.Province != "" {
		if !equalFold(s.Province, addr.Province) {
			return 0, false
		}
		rank = rankProvince
	}
	if s.City != "" {
		if !equalFold(s.City, addr.City) {
			return 0, false
		}
		rank = rankCity
	}
	if p := strings.TrimSpace(s.PostalPrefix); p != "" {
		if !strings.HasPrefix(compact(addr.PostalCode), compact(p)) {
			return 0, false
		}
		rank = rankPostal + len(compact(p))
	}
	return rank, rank > 0
}

// Best returns the index of the most specific entry matching addr, or -1.
// A nil address matches nothing. Ties keep the first declared entry.
func Best[T any](addr *Address, entries []T, selector func(T) Selector) int {
	if addr == nil {
		return -1
	}
	best, bestRank := -1, 0
	for i, e := range entries {
		rank, ok := selector(e).Rank(*addr)
		if ok && rank > bestRank {
			best, bestRank = i, rank
		}
	}
	return best
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func compact(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}
