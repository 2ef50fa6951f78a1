package shelfarm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartTableLocate(t *testing.T) {
	table := PartTable{
		"nut":  {X: -200, Y: 50, Z: 150},
		"bolt": {X: 300, Y: 40, Z: 150},
	}

	loc, err := table.Locate(context.Background(), "bolt")
	require.NoError(t, err)
	assert.Equal(t, "bolt", loc.ID)
	assert.InDelta(t, 300, loc.Position.X, 1e-9)
	assert.InDelta(t, 40, loc.Position.Y, 1e-9)

	_, err = table.Locate(context.Background(), "washer")
	assert.ErrorIs(t, err, ErrUnknownPart)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = table.Locate(ctx, "bolt")
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"bolt", "nut"}, table.IDs())
}
