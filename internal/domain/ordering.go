package domain

import (
	"fmt"
	"sort"
	"strings"
)

// OrderingPolicy decides which batch is consumed first.
type OrderingPolicy struct {
	Name string
	Less func(a, b Batch) bool
}

// FEFO consumes the earliest expiry first. Batches without an expiry go last
// and ties are broken by the oldest received time.
var FEFO = OrderingPolicy{
	Name: "fefo",
	Less: func(a, b Batch) bool {
		switch {
		case a.Expiry == nil && b.Expiry == nil:
			return a.ReceivedAt.Before(b.ReceivedAt)
		case a.Expiry == nil:
			return false
		case b.Expiry == nil:
			return true
		case !a.Expiry.Equal(*b.Expiry):
			return a.Expiry.Before(*b.Expiry)
		default:
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
	},
}

// FIFO consumes the oldest received batch first and ignores expiry.
var FIFO = OrderingPolicy{
	Name: "fifo",
	Less: func(a, b Batch) bool {
		return a.ReceivedAt.Before(b.ReceivedAt)
	},
}

// Apply returns a sorted copy of batches. Equal batches keep their input order.
func (p OrderingPolicy) Apply(batches []Batch) []Batch {
	out := make([]Batch, len(batches))
	copy(out, batches)
	sort.SliceStable(out, func(i, j int) bool {
		return p.Less(out[i], out[j])
	})
	return out
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (OrderingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FEFO.Name:
		return FEFO, nil
	case FIFO.Name:
		return FIFO, nil
	}
	return OrderingPolicy{}, fmt.Errorf("%w: %q", ErrUnknownOrderingPolicy, name)
}
