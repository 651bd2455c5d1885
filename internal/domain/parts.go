package domain

import (
	"fmt"
	"strings"
)

// Parts is a bit set describing which artifacts of a region are meant:
// the base map and the optional auxiliary routing data. Auxiliary data
// has no independent existence; it requires the base part to be present
// or being acquired.
type Parts uint8

const (
	PartsNone      Parts = 0
	PartsBase      Parts = 1 << 0
	PartsAuxiliary Parts = 1 << 1
	PartsAll             = PartsBase | PartsAuxiliary
)

// Has reports whether every part of p is included in s.
func (s Parts) Has(p Parts) bool {
	return p != PartsNone && s&p == p
}

// Add returns s with all parts of p included.
func (s Parts) Add(p Parts) Parts {
	return s | p
}

// Remove returns s without the parts of p.
func (s Parts) Remove(p Parts) Parts {
	return s &^ p
}

// Intersect returns the parts present in both sets.
func (s Parts) Intersect(p Parts) Parts {
	return s & p
}

// Cascade expands a part set named for deletion: removing the base part
// forces removal of the auxiliary part, because auxiliary data cannot
// outlive the base artifact it annotates.
func (s Parts) Cascade() Parts {
	if s.Has(PartsBase) {
		return s.Add(PartsAuxiliary)
	}
	return s
}

// ValidOnDisk reports whether the set can legally exist on disk: an
// auxiliary part without its base is invalid.
func (s Parts) ValidOnDisk() bool {
	return !s.Has(PartsAuxiliary) || s.Has(PartsBase)
}

// Split returns the individual parts of the set, base first. Downloads
// follow this order so auxiliary data never lands before its base.
func (s Parts) Split() []Parts {
	out := make([]Parts, 0, 2)
	if s.Has(PartsBase) {
		out = append(out, PartsBase)
	}
	if s.Has(PartsAuxiliary) {
		out = append(out, PartsAuxiliary)
	}
	return out
}

func (s Parts) String() string {
	switch s {
	case PartsNone:
		return "none"
	case PartsBase:
		return "base"
	case PartsAuxiliary:
		return "auxiliary"
	case PartsAll:
		return "base+auxiliary"
	}
	return fmt.Sprintf("parts(%d)", uint8(s))
}

// ParseParts parses a part set from its string form, e.g. "base",
// "auxiliary" or "base+auxiliary". Components may be joined with '+' or
// ','; an empty or unrecognized set is an error.
func ParseParts(s string) (Parts, error) {
	parts := PartsNone
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' })
	for _, field := range fields {
		switch strings.ToLower(strings.TrimSpace(field)) {
		case "base":
			parts = parts.Add(PartsBase)
		case "auxiliary", "aux":
			parts = parts.Add(PartsAuxiliary)
		case "all":
			parts = PartsAll
		default:
			return PartsNone, fmt.Errorf("%w: %q", ErrInvalidParts, field)
		}
	}
	if parts == PartsNone {
		return PartsNone, fmt.Errorf("%w: empty part set", ErrInvalidParts)
	}
	return parts, nil
}
