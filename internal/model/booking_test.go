package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusNoShow, StatusCancelled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.True(t, StatusPending.Live())
	assert.True(t, StatusConfirmed.Live())
	assert.False(t, StatusCancelled.Live())
	assert.True(t, StatusNoShow.Terminal())
	assert.False(t, StatusPending.Terminal())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("no_show")
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, st)

	_, err = ParseStatus("archived")
	assert.Error(t, err)
}

func TestMetadataScanValue(t *testing.T) {
	m := Metadata{MetaReminded24h: "true"}
	v, err := m.Value()
	require.NoError(t, err)

	var back Metadata
	require.NoError(t, back.Scan([]byte(v.(string))))
	assert.True(t, back.Flag(MetaReminded24h))
	assert.False(t, back.Flag(MetaReminded1h))

	require.NoError(t, back.Scan(nil))
	assert.Empty(t, back)
}

func TestBookingCloneIsDeep(t *testing.T) {
	b := &Booking{ID: "0123456789abcdef", Metadata: Metadata{"a": "1"}}
	c := b.Clone()
	c.Metadata["a"] = "2"
	assert.Equal(t, "1", b.Metadata["a"])
	assert.Equal(t, "01234567", b.ShortID())
}
