package common

import (
	"context"
)

// contextKey is a private type for context keys used in this package
type contextKey string

// Keys for context values
const (
	endpointIDKey contextKey = "endpoint_id"
	deviceIDKey   contextKey = "device_id"
)

// WithEndpointID returns a new context carrying the remote endpoint id a
// sync or pairing operation is currently talking to.
func WithEndpointID(ctx context.Context, endpointID string) context.Context {
	return context.WithValue(ctx, endpointIDKey, endpointID)
}

// GetEndpointID retrieves the endpoint id from the context.
// Returns the endpoint id and a boolean indicating if it was found.
func GetEndpointID(ctx context.Context) (string, bool) {
	endpointID, ok := ctx.Value(endpointIDKey).(string)
	return endpointID, ok
}

// WithDeviceID returns a new context carrying the local device id performing
// the current operation.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID retrieves the device id from the context.
// Returns the device id and a boolean indicating if it was found.
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}
