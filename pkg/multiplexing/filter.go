package multiplexing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/relay/pkg/events"
)

// Filter is a set of accepted event types. Whole categories can be
// accepted at once. A nil *Filter accepts everything.
type Filter struct {
	all        bool
	categories map[uint16]struct{}
	types      map[events.Type]struct{}
}

// All returns a filter accepting every event
func All() *Filter {
	return &Filter{all: true}
}

// NewFilter returns a filter accepting exactly the given types
func NewFilter(types ...events.Type) *Filter {
	f := &Filter{types: make(map[events.Type]struct{}, len(types))}
	for _, t := range types {
		f.types[t] = struct{}{}
	}
	return f
}

// CategoryFilter returns a filter accepting every element of the given categories
func CategoryFilter(categories ...uint16) *Filter {
	f := &Filter{categories: make(map[uint16]struct{}, len(categories))}
	for _, c := range categories {
		f.categories[c] = struct{}{}
	}
	return f
}

// ParseFilter builds a filter from configuration entries. Each entry is
// "all", a category name ("neb"), or a single type written as
// "category:element" with a category name or number ("neb:14", "6:3").
// No entries means all.
func ParseFilter(entries []string) (*Filter, error) {
	if len(entries) == 0 {
		return All(), nil
	}

	f := &Filter{
		categories: make(map[uint16]struct{}),
		types:      make(map[events.Type]struct{}),
	}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "all" {
			return All(), nil
		}

		catName, elemName, isType := strings.Cut(entry, ":")
		cat, err := parseCategory(catName)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", entry, err)
		}
		if !isType {
			f.categories[cat] = struct{}{}
			continue
		}

		elem, err := strconv.ParseUint(elemName, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: bad element: %w", entry, err)
		}
		f.types[events.NewType(cat, uint16(elem))] = struct{}{}
	}
	return f, nil
}

func parseCategory(s string) (uint16, error) {
	if cat, ok := events.CategoryByName(s); ok {
		return cat, nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown category %q", s)
	}
	return uint16(n), nil
}

// Accepts reports whether events of type t pass the filter
func (f *Filter) Accepts(t events.Type) bool {
	if f == nil || f.all {
		return true
	}
	if _, ok := f.types[t]; ok {
		return true
	}
	_, ok := f.categories[t.Category()]
	return ok
}

func (f *Filter) String() string {
	if f == nil || f.all {
		return "all"
	}

	parts := make([]string, 0, len(f.categories)+len(f.types))
	for c := range f.categories {
		parts = append(parts, events.CategoryName(c))
	}
	for t := range f.types {
		parts = append(parts, t.String())
	}
	if len(parts) == 0 {
		return "none"
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
