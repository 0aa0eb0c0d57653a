package events

import "fmt"

// Type identifies an event kind on the wire: the category in the upper
// 16 bits and the element within that category in the lower 16 bits.
type Type uint32

// Event categories
const (
	CategoryNeb         uint16 = 1
	CategoryBBDO        uint16 = 2
	CategoryStorage     uint16 = 3
	CategoryCorrelation uint16 = 4
	CategoryDumper      uint16 = 5
	CategoryBAM         uint16 = 6
	CategoryInternal    uint16 = 0xFFFF
)

// Elements of the internal category
const (
	ElementRaw               uint16 = 1
	ElementInstanceBroadcast uint16 = 2
)

var categoryNames = map[uint16]string{
	CategoryNeb:         "neb",
	CategoryBBDO:        "bbdo",
	CategoryStorage:     "storage",
	CategoryCorrelation: "correlation",
	CategoryDumper:      "dumper",
	CategoryBAM:         "bam",
	CategoryInternal:    "internal",
}

// NewType builds a type code from its category and element
func NewType(category, element uint16) Type {
	return Type(uint32(category)<<16 | uint32(element))
}

// Category returns the upper half of the type code
func (t Type) Category() uint16 {
	return uint16(t >> 16)
}

// Element returns the lower half of the type code
func (t Type) Element() uint16 {
	return uint16(t)
}

func (t Type) String() string {
	if name, ok := categoryNames[t.Category()]; ok {
		return fmt.Sprintf("%s:%d", name, t.Element())
	}
	return fmt.Sprintf("%d:%d", t.Category(), t.Element())
}

// CategoryByName resolves a category name such as "neb" or "storage"
func CategoryByName(name string) (uint16, bool) {
	for id, n := range categoryNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// CategoryName returns the configured name of a category, or its number
func CategoryName(category uint16) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return fmt.Sprintf("%d", category)
}
