package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-engine/generic"
)

func TestNewPeriod_RejectsInvertedRange(t *testing.T) {
	_, err := generic.NewPeriod(generic.NewDate(2025, 5, 2), generic.NewDate(2025, 5, 1))
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	p, err := generic.NewPeriod(generic.NewDate(2025, 5, 1), generic.NewDate(2025, 5, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Days())
}

func TestPeriod_ContainsBothEnds(t *testing.T) {
	// GIVEN: A three-day lookahead from May 10
	p := generic.Lookahead(generic.NewDate(2025, time.May, 10), 3)

	// THEN: Both boundaries are inside
	assert.True(t, p.Contains(generic.NewDate(2025, time.May, 10)))
	assert.True(t, p.Contains(generic.NewDate(2025, time.May, 13)))
	assert.False(t, p.Contains(generic.NewDate(2025, time.May, 9)))
	assert.False(t, p.Contains(generic.NewDate(2025, time.May, 14)))
	assert.Equal(t, 4, p.Days())
}

func TestPeriod_Months(t *testing.T) {
	// GIVEN: A term starting mid-January, ending early April
	p := generic.Period{
		Start: generic.NewDate(2025, time.January, 15),
		End:   generic.NewDate(2025, time.April, 2),
	}

	// WHEN: Listing touched months
	months := p.Months()

	// THEN: One entry per calendar month, each the first day
	require.Len(t, months, 4)
	assert.Equal(t, "2025-01-01", months[0].String())
	assert.Equal(t, "2025-04-01", months[3].String())
	assert.Equal(t, "[2025-01-15, 2025-04-02]", p.String())
}
