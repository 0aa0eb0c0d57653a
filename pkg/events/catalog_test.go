package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeComposition(t *testing.T) {
	typ := NewType(CategoryBBDO, 2)

	assert.Equal(t, CategoryBBDO, typ.Category())
	assert.Equal(t, uint16(2), typ.Element())
	assert.Equal(t, Type(0x00020002), typ)
	assert.Equal(t, "bbdo:2", typ.String())
	assert.Equal(t, "42:7", NewType(42, 7).String())
}

func TestCategoryByName(t *testing.T) {
	id, ok := CategoryByName("storage")
	assert.True(t, ok)
	assert.Equal(t, CategoryStorage, id)

	_, ok = CategoryByName("nope")
	assert.False(t, ok)
}

func TestNewCatalogRegistersInternalEvents(t *testing.T) {
	cat := NewCatalog()

	assert.Equal(t, "raw", cat.Name(NewType(CategoryInternal, ElementRaw)))
	assert.Equal(t, "instance_broadcast", cat.Name(NewType(CategoryInternal, ElementInstanceBroadcast)))
	assert.Len(t, cat.Types(), 2)
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	cat := NewCatalog()

	err := cat.Register(NewType(CategoryInternal, ElementRaw), CBORInfo[InstanceBroadcast]("dup"))
	assert.Error(t, err)
}

func TestCatalogRejectsIncompleteInfo(t *testing.T) {
	cat := NewCatalog()

	err := cat.Register(NewType(7, 7), Info{Name: "broken"})
	assert.Error(t, err)
}

func TestCatalogUnknownType(t *testing.T) {
	cat := NewCatalog()

	_, err := cat.Decode(NewType(9, 9), []byte{1, 2, 3})
	assert.True(t, errors.Is(err, ErrUnknownEventType))

	_, err = cat.New(NewType(9, 9))
	assert.True(t, errors.Is(err, ErrUnknownEventType))
}

func TestRawRoundTrip(t *testing.T) {
	cat := NewCatalog()
	raw := NewRaw([]byte("0123456789abcdef"))

	body, err := cat.Encode(raw)
	require.NoError(t, err)

	decoded, err := cat.Decode(raw.Type(), body)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestInstanceBroadcastRoundTrip(t *testing.T) {
	cat := NewCatalog()
	ib := &InstanceBroadcast{
		BrokerID:   3,
		BrokerName: "central-broker",
		Enabled:    true,
		PollerID:   1,
		PollerName: "central",
	}
	ib.SourceID = 12

	body, err := cat.Encode(ib)
	require.NoError(t, err)

	decoded, err := cat.Decode(ib.Type(), body)
	require.NoError(t, err)

	got, ok := decoded.(*InstanceBroadcast)
	require.True(t, ok)
	assert.Equal(t, ib.BrokerName, got.BrokerName)
	assert.Equal(t, ib.PollerID, got.PollerID)
	assert.Zero(t, got.SourceID, "routing ids must not be part of the body")
}
