package broker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-bouts/geo-anchor/latlon"
	"github.com/a-bouts/geo-anchor/tracking"
)

func newBroker() (*Broker, *tracking.Store) {
	store := tracking.NewStore(tracking.Options{
		Reference: tracking.GeoReference{Position: latlon.LatLon{Lat: 38.92356, Lon: -77.2060544}, Heading: 322.309},
	})
	return New(Config{Broker: "tcp://localhost:1883", Prefix: "ar"}, store), store
}

func TestParseTopic(t *testing.T) {
	b, _ := newBroker()

	id, kind, ok := b.parseTopic("ar/phone-1/device")
	assert.True(t, ok)
	assert.Equal(t, "phone-1", id)
	assert.Equal(t, "device", kind)

	for _, topic := range []string{"ar", "ar/phone-1", "other/phone-1/device", "ar//device", "ar/a/b/c"} {
		_, _, ok := b.parseTopic(topic)
		assert.False(t, ok, topic)
	}
}

func TestDefaults(t *testing.T) {
	b := New(Config{}, nil)
	assert.Equal(t, "geo", b.cfg.Prefix)
	assert.Equal(t, "geo-anchor", b.cfg.ClientID)
	assert.ErrorIs(t, b.Connect(), ErrNotConfigured)
}

func TestHandle(t *testing.T) {
	b, store := newBroker()

	_, _, ok := b.handle("ar/phone-1/device", []byte(`{"translation":{"x":10,"y":0,"z":0}}`))
	assert.False(t, ok)
	assert.Equal(t, []string{"phone-1"}, store.IDs())

	_, _, ok = b.handle("ar/phone-1/anchor", []byte(`{"translation":{"x":0,"y":0,"z":0}}`))
	assert.False(t, ok)

	topic, payload, ok := b.handle("ar/phone-1/device", []byte(`{"translation":{"x":10,"y":0,"z":0}}`))
	require.True(t, ok)
	assert.Equal(t, "ar/phone-1/fix", topic)

	var fix tracking.Fix
	require.NoError(t, json.Unmarshal(payload, &fix))
	assert.Equal(t, 10.0, fix.Distance)
	assert.InDelta(t, 38.92350507640248, fix.Position.Lat, 1e-12)
	assert.InDelta(t, -77.20614577170664, fix.Position.Lon, 1e-12)
}

func TestHandleRejects(t *testing.T) {
	b, store := newBroker()

	_, _, ok := b.handle("ar/phone-1/device", []byte(`{`))
	assert.False(t, ok)
	_, _, ok = b.handle("ar/phone-1/device", []byte(`{"rotation":{"w":1}}`))
	assert.False(t, ok)
	_, _, ok = b.handle("elsewhere/phone-1/device", []byte(`{}`))
	assert.False(t, ok)

	assert.Equal(t, []string{"phone-1"}, store.IDs())
}

func TestHandleUnlocatable(t *testing.T) {
	b, _ := newBroker()

	_, _, ok := b.handle("ar/phone-1/anchor", []byte(`{"translation":{"x":-1e308,"y":0,"z":0}}`))
	assert.False(t, ok)

	_, _, ok = b.handle("ar/phone-1/device", []byte(`{"translation":{"x":1e308,"y":0,"z":0}}`))
	assert.False(t, ok)

	_, _, ok = b.handle("ar/phone-1/anchor", []byte(`{"transform":[0,0,0,0, 0,0,0,0, 0,0,0,0, 1,2,3,1]}`))
	assert.False(t, ok)
}
