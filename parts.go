package shelfarm

import (
	"context"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PartLocation is where a part sits in its shelf bin, in millimeters.
type PartLocation struct {
	ID       string
	Position r3.Vector
}

// PartLocator resolves a part id to its shelf location.
type PartLocator interface {
	Locate(ctx context.Context, partID string) (PartLocation, error)
}

// PartTable is a PartLocator backed by configuration.
type PartTable map[string]Point

// Locate implements PartLocator.
func (t PartTable) Locate(ctx context.Context, partID string) (PartLocation, error) {
	if err := ctx.Err(); err != nil {
		return PartLocation{}, err
	}
	p, ok := t[partID]
	if !ok {
		return PartLocation{}, errors.Wrapf(ErrUnknownPart, "%q", partID)
	}
	return PartLocation{ID: partID, Position: p.Vector()}, nil
}

// IDs returns the known part ids in sorted order.
func (t PartTable) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
