package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDistribution() *Distribution {
	return &Distribution{
		RunID: "run1",
		Rows: []DistributionRow{
			{UserID: "u1", ProductID: "p1", Quantity: 600, UnitCents: 250, Subtotal: 1500},
			{UserID: "u1", ProductID: "p2", Quantity: 100, UnitCents: 100, Subtotal: 100},
			{UserID: "u2", ProductID: "p1", Quantity: 300, UnitCents: 250, Subtotal: 750},
		},
	}
}

func TestDistribution_Row(t *testing.T) {
	d := testDistribution()

	r, ok := d.Row("u2", "p1")
	require.True(t, ok)
	assert.Equal(t, Quantity(300), r.Quantity)

	_, ok = d.Row("u2", "p2")
	assert.False(t, ok)
}

func TestDistribution_SetPicked(t *testing.T) {
	d := testDistribution()

	require.True(t, d.SetPicked("u1", "p1", true))
	r, _ := d.Row("u1", "p1")
	assert.True(t, r.Picked)

	assert.False(t, d.SetPicked("u9", "p1", true), "unknown line reports false")
}

func TestDistribution_UserTotal(t *testing.T) {
	d := testDistribution()

	assert.Equal(t, Cents(1600), d.UserTotal("u1"))
	assert.Equal(t, Cents(750), d.UserTotal("u2"))
	assert.Equal(t, Cents(0), d.UserTotal("u9"))
}

func TestDistribution_AllPicked(t *testing.T) {
	d := testDistribution()
	active := []string{"u1", "u2"}

	assert.False(t, d.AllPicked(active))

	d.SetPicked("u1", "p1", true)
	d.SetPicked("u1", "p2", true)
	d.SetPicked("u2", "p1", true)
	assert.True(t, d.AllPicked(active))
}

func TestDistribution_AllPicked_IgnoresRemovedUsers(t *testing.T) {
	d := testDistribution()

	// u2 was removed from the run; their unpicked line must not block.
	d.SetPicked("u1", "p1", true)
	d.SetPicked("u1", "p2", true)

	assert.True(t, d.AllPicked([]string{"u1"}))
	assert.False(t, d.AllPicked([]string{"u1", "u2"}))
}

func TestDistribution_Clone_Deep(t *testing.T) {
	d := testDistribution()

	c := d.Clone()
	c.Rows[0].Picked = true

	assert.False(t, d.Rows[0].Picked)
}
