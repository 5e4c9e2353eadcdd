// Package request builds feed query URLs.
package request

import "fmt"

// OrderBy is the sort order requested from the feed.
type OrderBy string

const (
	OrderTime         OrderBy = "time"          // newest first
	OrderTimeAsc      OrderBy = "time-asc"      // oldest first
	OrderMagnitude    OrderBy = "magnitude"     // largest first
	OrderMagnitudeAsc OrderBy = "magnitude-asc" // smallest first
)

// ParseOrderBy validates a raw preference value.
func ParseOrderBy(s string) (OrderBy, error) {
	switch o := OrderBy(s); o {
	case OrderTime, OrderTimeAsc, OrderMagnitude, OrderMagnitudeAsc:
		return o, nil
	default:
		return "", fmt.Errorf("invalid orderby %q (must be time/time-asc/magnitude/magnitude-asc)", s)
	}
}

// String returns string representation.
func (o OrderBy) String() string {
	return string(o)
}
