package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/vigil/model"
)

// snapshot is an immutable collection of all definitions indexed by ID.
type snapshot struct {
	domains  map[string]model.DomainDefinition
	pages    map[string]model.PageDefinition
	commands map[string]model.CommandDefinition
	checksum string
}

// Registry is a read-optimized, thread-safe store of all loaded definitions.
// It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.DomainDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions.
func (r *Registry) Replace(defs []model.DomainDefinition) {
	s := &snapshot{
		domains:  make(map[string]model.DomainDefinition, len(defs)),
		pages:    make(map[string]model.PageDefinition),
		commands: make(map[string]model.CommandDefinition),
	}

	var checksumParts []string

	for _, def := range defs {
		s.domains[def.Domain] = def
		checksumParts = append(checksumParts, def.Checksum)

		for _, p := range def.Pages {
			s.pages[p.ID] = p
		}
		for _, c := range def.Commands {
			s.commands[c.Name] = c
		}
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Page returns the page definition with the given ID.
func (r *Registry) Page(pageID string) (model.PageDefinition, bool) {
	p, ok := r.current().pages[pageID]
	return p, ok
}

// Command returns the declared command with the given name.
func (r *Registry) Command(name string) (model.CommandDefinition, bool) {
	c, ok := r.current().commands[name]
	return c, ok
}

// Pages returns all page definitions ordered by ID.
func (r *Registry) Pages() []model.PageDefinition {
	s := r.current()
	pages := make([]model.PageDefinition, 0, len(s.pages))
	for _, p := range s.pages {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	return pages
}

// Domains returns all domain definitions ordered by name.
func (r *Registry) Domains() []model.DomainDefinition {
	s := r.current()
	defs := make([]model.DomainDefinition, 0, len(s.domains))
	for _, d := range s.domains {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Domain < defs[j].Domain })
	return defs
}

// Len returns the number of loaded domain definitions.
func (r *Registry) Len() int {
	return len(r.current().domains)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
