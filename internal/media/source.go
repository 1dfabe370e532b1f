package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Source grants access to capture devices. Acquisition may block (permission
// prompts, device warm-up) and must honour ctx.
type Source interface {
	// Acquire opens the microphone and camera.
	Acquire(ctx context.Context) (*Stream, error)
	// AcquireScreen opens a display capture track.
	AcquireScreen(ctx context.Context) (*Stream, error)
}

// Codecs produced by the built-in sources.
var (
	CodecOpus = webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
	CodecVP8 = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
)
