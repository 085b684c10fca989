package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithEndpointIDRoundTrips(t *testing.T) {
	ctx := WithEndpointID(context.Background(), "abc123")

	got, ok := GetEndpointID(ctx)
	require.True(t, ok)
	require.Equal(t, "abc123", got)
}

func TestWithDeviceIDRoundTrips(t *testing.T) {
	ctx := WithDeviceID(context.Background(), "device-7")

	got, ok := GetDeviceID(ctx)
	require.True(t, ok)
	require.Equal(t, "device-7", got)
}

func TestGetEndpointIDMissingReturnsFalse(t *testing.T) {
	_, ok := GetEndpointID(context.Background())
	require.False(t, ok)
}
