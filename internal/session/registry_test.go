package session

import (
	"context"
	"errors"
	"testing"

	"github.com/devshojol/HC-06-Controller/internal/bt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPairedRequiresAuthorization(t *testing.T) {
	b := &fakeBinding{devices: []bt.Device{hc06}}
	reg := NewRegistry(b)

	_, err := reg.ListPaired(context.Background())
	require.ErrorIs(t, err, ErrEnumeration)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Empty(t, b.Ops())
	assert.False(t, reg.Authorized())
}

func TestAuthorizeFailureIsSticky(t *testing.T) {
	b := &fakeBinding{devices: []bt.Device{hc06}}
	reg := NewRegistry(b)
	denied := errors.New("adapter powered off")

	err := reg.Authorize(context.Background(), func(context.Context) error { return denied })
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.Contains(t, err.Error(), "adapter powered off")

	_, err = reg.ListPaired(context.Background())
	assert.ErrorIs(t, err, ErrEnumeration)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, "Bluetooth unavailable", Describe(err).Title)
}

func TestListPairedReplacesCache(t *testing.T) {
	b := &fakeBinding{devices: []bt.Device{hc06, {Address: "CC:DD"}}}
	reg := NewRegistry(b)
	require.NoError(t, reg.Authorize(context.Background(), AllowAll))

	got, err := reg.ListPaired(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	b.devices = []bt.Device{{Address: "EE:FF", Name: "Rover"}}
	got, err = reg.ListPaired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bt.Device{{Address: "EE:FF", Name: "Rover"}}, got)
	assert.Equal(t, got, reg.Devices())

	_, ok := reg.Lookup("aa:bb")
	assert.False(t, ok)
	dev, ok := reg.Lookup("ee:ff")
	require.True(t, ok)
	assert.Equal(t, "Rover", dev.Name)
}

func TestListPairedFailureKeepsCache(t *testing.T) {
	b := &fakeBinding{devices: []bt.Device{hc06}}
	reg := NewRegistry(b)
	require.NoError(t, reg.Authorize(context.Background(), AllowAll))
	_, err := reg.ListPaired(context.Background())
	require.NoError(t, err)

	cause := errors.New("org.bluez.Error.NotReady")
	b.listErr = cause
	_, err = reg.ListPaired(context.Background())
	require.ErrorIs(t, err, ErrEnumeration)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []bt.Device{hc06}, reg.Devices())
}

func TestListPairedEmpty(t *testing.T) {
	reg := NewRegistry(&fakeBinding{})
	require.NoError(t, reg.Authorize(context.Background(), AllowAll))

	got, err := reg.ListPaired(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
