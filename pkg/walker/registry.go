package walker

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// maxSuggestions bounds the "did you mean" list on unknown stages.
const maxSuggestions = 3

// Registry maps stage names to descriptors. It is filled once at startup
// and read-only afterwards; it is not safe for concurrent registration.
type Registry struct {
	byName map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds a descriptor. A duplicate name returns ErrDuplicateStage;
// a descriptor without a usable name or factory returns ErrProtocolViolation.
// A rejected descriptor is never added.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("%w: descriptor has no name", ErrProtocolViolation)
	}
	if strings.ContainsAny(d.Name, " \t\n|") {
		return fmt.Errorf("%w: stage name %q contains whitespace or '|'", ErrProtocolViolation, d.Name)
	}
	if d.Create == nil {
		return fmt.Errorf("%w: stage %q has no factory", ErrProtocolViolation, d.Name)
	}
	if _, exists := r.byName[d.Name]; exists {
		return fmt.Errorf("%w %q", ErrDuplicateStage, d.Name)
	}
	d.Tags = append([]string(nil), d.Tags...)
	r.byName[d.Name] = d
	return nil
}

// MustRegister registers every descriptor and panics on the first failure.
// It is meant for static tables installed at process start.
func (r *Registry) MustRegister(ds ...Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.byName))
	for _, name := range r.Names() {
		out = append(out, r.byName[name])
	}
	return out
}

// Tags returns every tag used by any descriptor, sorted and deduplicated.
func (r *Registry) Tags() []string {
	seen := make(map[string]bool)
	for _, d := range r.byName {
		for _, t := range d.Tags {
			seen[t] = true
		}
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// WithTag returns the descriptors carrying tag, sorted by name.
func (r *Registry) WithTag(tag string) []Descriptor {
	var out []Descriptor
	for _, d := range r.List() {
		if d.HasTag(tag) {
			out = append(out, d)
		}
	}
	return out
}

// Apropos returns descriptors whose name, tags or documentation match the
// case-insensitive regular expression pattern.
func (r *Registry) Apropos(pattern string) ([]Descriptor, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("apropos pattern: %w", err)
	}
	var out []Descriptor
	for _, d := range r.List() {
		if re.MatchString(d.Name) || re.MatchString(d.Doc) {
			out = append(out, d)
			continue
		}
		for _, t := range d.Tags {
			if re.MatchString(t) {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

// Complete returns the registered names starting with prefix.
func (r *Registry) Complete(prefix string) []string {
	var out []string
	for _, name := range r.Names() {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}

// Suggest returns up to three registered names close to name.
func (r *Registry) Suggest(name string) []string {
	names := r.Names()
	ranks := fuzzy.RankFindFold(name, names)
	sort.Sort(ranks)
	var out []string
	for _, rank := range ranks {
		out = append(out, rank.Target)
		if len(out) == maxSuggestions {
			return out
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, candidate := range names {
		if fuzzy.LevenshteinDistance(strings.ToLower(name), candidate) <= 2 {
			out = append(out, candidate)
			if len(out) == maxSuggestions {
				break
			}
		}
	}
	return out
}
