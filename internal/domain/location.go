package domain

import (
	"fmt"
	"strings"
)

// StockLocation is a tier in the location chain. Tiers are ordered
// SHELF < MAIN_STORE < WEB and a shelf deficit is always covered by
// escalating upward, never the reverse.
type StockLocation string

const (
	LocationShelf     StockLocation = "SHELF"
	LocationMainStore StockLocation = "MAIN_STORE"
	LocationWeb       StockLocation = "WEB"
)

// Locations lists every tier in escalation order.
var Locations = []StockLocation{LocationShelf, LocationMainStore, LocationWeb}

// IsValid checks if the location is one of the known tiers
func (l StockLocation) IsValid() bool {
	return l.Rank() > 0
}

// Rank is the tier's position in the chain, starting at 1. Unknown tiers rank 0.
func (l StockLocation) Rank() int {
	switch l {
	case LocationShelf:
		return 1
	case LocationMainStore:
		return 2
	case LocationWeb:
		return 3
	default:
		return 0
	}
}

// Next returns the tier escalated to when l runs short, and false for WEB.
func (l StockLocation) Next() (StockLocation, bool) {
	switch l {
	case LocationShelf:
		return LocationMainStore, true
	case LocationMainStore:
		return LocationWeb, true
	default:
		return "", false
	}
}

func (l StockLocation) String() string {
	return string(l)
}

// ParseLocation accepts the tier names case-insensitively.
func ParseLocation(s string) (StockLocation, error) {
	loc := StockLocation(strings.ToUpper(strings.TrimSpace(s)))
	if !loc.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocation, s)
	}
	return loc, nil
}
