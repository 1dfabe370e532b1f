//go:build !linux

package media

import "context"

// DeviceSource is unavailable off Linux; pion/mediadevices drivers are
// platform specific.
type DeviceSource struct{}

func NewDeviceSource() (*DeviceSource, error) { return &DeviceSource{}, nil }

func (*DeviceSource) Acquire(context.Context) (*Stream, error) {
	return nil, ErrCaptureUnavailable
}

func (*DeviceSource) AcquireScreen(context.Context) (*Stream, error) {
	return nil, ErrCaptureUnavailable
}
