package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDepot_ModQuantity_CapsDebitsAtCommittedQuantity(t *testing.T) {
	// GIVEN a depot holding 10
	d := newDepot(1, "c", DepotConfig{Name: "d", Quantity: 10})

	// WHEN two debits are staged in the same phase
	first := d.ModQuantity(-4)
	second := d.ModQuantity(-8)

	// THEN the second is capped to what remains of the committed quantity
	assert.Equal(t, -4.0, first)
	assert.Equal(t, -6.0, second)
	assert.Equal(t, 0.0, d.Staged())
	assert.Equal(t, 10.0, d.Quantity(), "committed state is unchanged until commit")

	d.publish()
	assert.Equal(t, 0.0, d.Quantity())
}

func TestDepot_ModQuantity_CreditsAreNotAvailableUntilCommit(t *testing.T) {
	d := newDepot(1, "c", DepotConfig{Name: "d"})

	assert.Equal(t, 5.0, d.ModQuantity(5))
	assert.Equal(t, 0.0, d.ModQuantity(-3), "a staged credit cannot fund a debit")

	d.publish()
	assert.Equal(t, -3.0, d.ModQuantity(-3))
}

func TestDepot_AllowNegative_NeverCapsDebits(t *testing.T) {
	d := newDepot(1, "boundary", DepotConfig{Name: "source", AllowNegative: true})
	assert.Equal(t, -25.0, d.ModQuantity(-25))
	d.publish()
	assert.Equal(t, -25.0, d.Quantity())
}

func TestDepot_Capacity_CapsCredits(t *testing.T) {
	// GIVEN a depot at 8 of a capacity of 10
	d := newDepot(1, "c", DepotConfig{Name: "d", Quantity: 8, Capacity: 10})

	// THEN credits beyond the room left are refused
	assert.Equal(t, 1.5, d.ModQuantity(1.5))
	assert.Equal(t, 0.5, d.ModQuantity(5))
	assert.Equal(t, 0.0, d.ModQuantity(1))

	// AND a refund is accepted unconditionally
	d.ReturnQuantity(1)
	assert.Equal(t, 11.0, d.Staged())
}

func TestDepot_NewDepot_ClampsNegativeInitialQuantity(t *testing.T) {
	assert.Equal(t, 0.0, newDepot(1, "c", DepotConfig{Quantity: -2}).Quantity())
	assert.Equal(t, -2.0, newDepot(2, "c", DepotConfig{Quantity: -2, AllowNegative: true}).Quantity())
}

func TestDepot_Concentration(t *testing.T) {
	assert.Equal(t, 5.0, newDepot(1, "c", DepotConfig{Quantity: 60, Volume: 12}).Concentration())
	assert.Equal(t, 0.0, newDepot(2, "c", DepotConfig{Quantity: 60}).Concentration(), "volumeless depot")
}

func TestDepot_Prunable(t *testing.T) {
	assert.True(t, newDepot(1, "c", DepotConfig{}).prunable())
	assert.True(t, newDepot(1, "c", DepotConfig{Quantity: Epsilon / 2}).prunable(), "residual within epsilon")
	assert.False(t, newDepot(2, "c", DepotConfig{Quantity: 1}).prunable())
	assert.False(t, newDepot(3, "c", DepotConfig{Persistent: true}).prunable())
}
