package transport

import (
	"errors"
	"testing"

	"github.com/golang-module/carbon"
	"github.com/source-build/ojp/internal/ojperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampRoundTrip(t *testing.T) {
	loc, err := resolveLocation("Europe/Rome")
	require.NoError(t, err)

	original := carbon.Parse("2024-11-02 14:30:45.123456789").SetTimezone(loc.String())
	wire := EncodeTimestamp(original)

	decoded, ok, err := DecodeTimestamp(wire)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, original.Carbon2Time().UnixNano(), decoded.Carbon2Time().UnixNano())
	assert.Equal(t, "Europe/Rome", decoded.Carbon2Time().Location().String())
}

func TestTimestampAbsentRoundTrip(t *testing.T) {
	decoded, ok, err := DecodeTimestamp(nil)
	require.NoError(t, err)
	require.False(t, ok)
	assert.True(t, decoded.Carbon2Time().IsZero())
}

func TestTimestampEmptyZoneInvalid(t *testing.T) {
	_, _, err := DecodeTimestamp(&TimestampWithZone{Zone: ""})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ojperr.InvalidArgument))
}

func TestUUIDNullEmptyDistinction(t *testing.T) {
	_, ok, err := DecodeUUID(nil)
	require.NoError(t, err)
	require.False(t, ok)

	empty := ""
	_, _, err = DecodeUUID(&empty)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ojperr.InvalidArgument))

	malformed := "not-a-uuid"
	_, _, err = DecodeUUID(&malformed)
	require.Error(t, err)
}

func TestRowIdEmptyBytesDistinctFromAbsent(t *testing.T) {
	absent, err := DecodeRowId(nil)
	require.NoError(t, err)
	assert.False(t, absent.Present)

	empty := ""
	present, err := DecodeRowId(&empty)
	require.NoError(t, err)
	assert.True(t, present.Present)
	assert.Empty(t, present.Bytes)
}

func TestPropertiesEmptyNonNil(t *testing.T) {
	p := EncodeProperties(map[string]string{})
	require.NotNil(t, p)
	assert.Empty(t, DecodeProperties(p))

	assert.Nil(t, EncodeProperties(nil))
}
