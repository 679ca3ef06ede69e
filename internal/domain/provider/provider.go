// Package provider models execution candidates, the routing policy that orders them,
// and the failure taxonomy of a route traversal.
package provider

import (
	"fmt"
	"slices"
)

// Kind is the closed set of execution target kinds.
type Kind string

const (
	KindOnDevice     Kind = "on_device"     // runs on the local machine without a server
	KindLocalServer  Kind = "local_server"  // self-hosted endpoint on localhost or LAN
	KindPrivateCloud Kind = "private_cloud" // tenant-isolated cloud endpoint
	KindExternal     Kind = "external"      // third-party hosted API, opt-in only
)

// Kinds lists every valid Kind in privacy order, most private first.
var Kinds = []Kind{KindOnDevice, KindLocalServer, KindPrivateCloud, KindExternal}

// Traits are the routing-relevant properties of a Kind.
type Traits struct {
	Local    bool
	External bool
	Privacy  int // higher is more private
}

// TraitsOf is the single dispatch point from Kind to its traits.
func TraitsOf(k Kind) (Traits, error) {
	switch k {
	case KindOnDevice:
		return Traits{Local: true, Privacy: 3}, nil
	case KindLocalServer:
		return Traits{Local: true, Privacy: 3}, nil
	case KindPrivateCloud:
		return Traits{Privacy: 2}, nil
	case KindExternal:
		return Traits{External: true, Privacy: 0}, nil
	}
	return Traits{}, fmt.Errorf("unknown provider kind %q", k)
}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, err := TraitsOf(k); err != nil {
		return "", err
	}
	return k, nil
}

// Candidate is one configured execution target.
type Candidate struct {
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	Model        string `json:"model"`
	SupportsJSON bool   `json:"supports_json"`
}

// Policy controls how candidates are ordered into a route.
type Policy struct {
	AllowExternal    bool `json:"allow_external" yaml:"allow_external"`
	PreferPrivacy    bool `json:"prefer_privacy" yaml:"prefer_privacy"`
	PreferLocalFirst bool `json:"prefer_local_first" yaml:"prefer_local_first"`
}

// Route is the ordered list of candidates considered for one call.
type Route []Candidate

// Names returns the candidate names in route order.
func (r Route) Names() []string {
	names := make([]string, len(r))
	for i := range r {
		names[i] = r[i].Name
	}
	return names
}

// Rank orders candidates by policy. Candidates with unknown kinds, duplicates by name,
// external candidates when external use is not allowed, and candidates without
// structured output support when needsJSON is set are dropped. External candidates
// always come last. Ties keep the configured order.
func Rank(candidates []Candidate, p Policy, needsJSON bool) Route {
	type ranked struct {
		c      Candidate
		traits Traits
		order  int
	}

	seen := make(map[string]bool, len(candidates))
	pool := make([]ranked, 0, len(candidates))
	for i, c := range candidates {
		tr, err := TraitsOf(c.Kind)
		if err != nil || seen[c.Name] {
			continue
		}
		if tr.External && !p.AllowExternal {
			continue
		}
		if needsJSON && !c.SupportsJSON {
			continue
		}
		seen[c.Name] = true
		pool = append(pool, ranked{c: c, traits: tr, order: i})
	}

	slices.SortStableFunc(pool, func(a, b ranked) int {
		if a.traits.External != b.traits.External {
			if a.traits.External {
				return 1
			}
			return -1
		}
		if p.PreferLocalFirst && a.traits.Local != b.traits.Local {
			if a.traits.Local {
				return -1
			}
			return 1
		}
		if p.PreferPrivacy && a.traits.Privacy != b.traits.Privacy {
			return b.traits.Privacy - a.traits.Privacy
		}
		return a.order - b.order
	})

	route := make(Route, len(pool))
	for i := range pool {
		route[i] = pool[i].c
	}
	return route
}
