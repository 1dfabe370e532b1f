//go:build linux

package media

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

const rtpMTU = 1200

// DeviceSource captures camera, microphone and display through
// pion/mediadevices (V4L2 + malgo on Linux).
type DeviceSource struct {
	selector *mediadevices.CodecSelector
}

// NewDeviceSource prepares the VP8/Opus encoders.
func NewDeviceSource() (*DeviceSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &DeviceSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Acquire opens camera and microphone. Either failing fails the whole call
// setup; the caller surfaces it as a capture error.
func (d *DeviceSource) Acquire(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG nodes on some cameras poison the encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		},
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	return d.wrap(ms)
}

// AcquireScreen opens the primary display.
func (d *DeviceSource) AcquireScreen(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	return d.wrap(ms)
}

// wrap turns each device track into a LocalTrack fed by an RTP reader
// goroutine. Stopping the LocalTrack closes the reader and the device.
func (d *DeviceSource) wrap(ms mediadevices.MediaStream) (*Stream, error) {
	devTracks := ms.GetTracks()
	closeAll := func() {
		for _, t := range devTracks {
			t.Close()
		}
	}

	streamID := uuid.NewString()
	stream := NewStream(streamID)
	for _, dt := range devTracks {
		codec := CodecOpus
		if dt.Kind() == webrtc.RTPCodecTypeVideo {
			codec = CodecVP8
		}

		reader, err := dt.NewRTPReader(codec.MimeType, rand.Uint32(), rtpMTU)
		if err != nil {
			stream.Stop()
			closeAll()
			return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		}

		lt, err := NewLocalTrack(codec, dt.ID(), streamID)
		if err != nil {
			reader.Close()
			stream.Stop()
			closeAll()
			return nil, err
		}

		dev := dt
		lt.OnStop(func() {
			reader.Close()
			dev.Close()
		})
		dt.OnEnded(func(err error) {
			if err != nil {
				util.LogWarning("capture track %s ended: %v", dev.ID(), err)
			}
		})

		go func() {
			for {
				pkts, release, err := reader.Read()
				if err != nil {
					return
				}
				for _, p := range pkts {
					_ = lt.WriteRTP(p)
				}
				release()
			}
		}()

		stream.Add(lt)
	}

	return stream, nil
}
