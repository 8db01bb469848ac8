package agents

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/ciro-tutor/internal/config"
)

// Profile is the static description of a handler the router reasons about.
type Profile struct {
	Name        string
	Label       string
	Rank        int
	Description string
	Scope       []string
	Deadline    time.Duration
	Urgent      bool
	CatchAll    bool
	Retrieval   bool
	Prompt      string
	Kind        string
	DirectOnly  bool
}

// ProfilesFromConfig converts the routing table's handler entries.
func ProfilesFromConfig(r *config.Routing) []Profile {
	out := make([]Profile, 0, len(r.Handlers))
	for _, h := range r.Handlers {
		out = append(out, Profile{
			Name:        h.Name,
			Label:       h.Label,
			Rank:        h.Rank,
			Description: h.Description,
			Scope:       append([]string(nil), h.Scope...),
			Deadline:    h.Deadline,
			Urgent:      h.Urgent,
			CatchAll:    h.CatchAll,
			Retrieval:   h.Retrieval,
			Prompt:      h.Prompt,
			Kind:        h.Kind,
			DirectOnly:  h.DirectOnly,
		})
	}
	return out
}

// Registry is the closed set of handlers, ordered by rank.
type Registry struct {
	profiles []Profile
	index    map[string]int
	handlers map[string]Handler
	urgent   string
	catchAll string
}

// NewRegistry pairs every profile with its handler. Profiles are kept in
// rank order; a handler missing for any profile is an error.
func NewRegistry(profiles []Profile, handlers map[string]Handler) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("agents: registry needs at least one profile")
	}
	sorted := append([]Profile(nil), profiles...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].Name < sorted[j].Name
	})

	reg := &Registry{
		profiles: sorted,
		index:    make(map[string]int, len(sorted)),
		handlers: make(map[string]Handler, len(sorted)),
	}
	for i, p := range sorted {
		if _, dup := reg.index[p.Name]; dup {
			return nil, fmt.Errorf("agents: duplicate handler %q", p.Name)
		}
		h, ok := handlers[p.Name]
		if !ok || h == nil {
			return nil, fmt.Errorf("agents: no handler registered for %q", p.Name)
		}
		reg.index[p.Name] = i
		reg.handlers[p.Name] = h
		if p.Urgent && reg.urgent == "" {
			reg.urgent = p.Name
		}
		if p.CatchAll && reg.catchAll == "" {
			reg.catchAll = p.Name
		}
	}
	if reg.catchAll == "" {
		return nil, fmt.Errorf("agents: registry needs a catch-all handler")
	}
	return reg, nil
}

// Profiles returns the profiles in rank order.
func (r *Registry) Profiles() []Profile {
	return append([]Profile(nil), r.profiles...)
}

// Routable returns the profiles classification may choose from, in rank
// order.
func (r *Registry) Routable() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		if !p.DirectOnly {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Profile(name string) (Profile, bool) {
	i, ok := r.index[name]
	if !ok {
		return Profile{}, false
	}
	return r.profiles[i], true
}

func (r *Registry) Handler(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Rank returns the registry rank; unknown names sort last.
func (r *Registry) Rank(name string) int {
	if i, ok := r.index[name]; ok {
		return r.profiles[i].Rank
	}
	return int(^uint(0) >> 1)
}

func (r *Registry) Label(name string) string {
	if p, ok := r.Profile(name); ok && strings.TrimSpace(p.Label) != "" {
		return p.Label
	}
	return strings.ReplaceAll(name, "_", " ")
}

// Urgent names the handler that takes over on distress signals. Empty when
// no profile is urgent-capable.
func (r *Registry) Urgent() string { return r.urgent }

// CatchAll names the general-conversation handler.
func (r *Registry) CatchAll() string { return r.catchAll }

func (r *Registry) Names() []string {
	out := make([]string, len(r.profiles))
	for i, p := range r.profiles {
		out[i] = p.Name
	}
	return out
}
