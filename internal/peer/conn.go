// Package peer wraps one WebRTC PeerConnection per call and translates its
// low-level callbacks into the three signals the call state machine needs:
// local candidate gathered, remote track received, connectivity changed.
package peer

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

// Conn is the subset of *webrtc.PeerConnection used by Connection. OnTrack
// is lifted to media.Track so that tests can inject remote media.
type Conn interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(*webrtc.ICECandidate))
	OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState))
	OnTrack(fn func(media.Track))
	SignalingState() webrtc.SignalingState
	Close() error
}

// NewConnFunc opens a Conn for the given configuration.
type NewConnFunc func(config webrtc.Configuration) (Conn, error)

// ICETimeouts mirrors webrtc.SettingEngine.SetICETimeouts.
type ICETimeouts struct {
	Disconnected time.Duration
	Failed       time.Duration
	KeepAlive    time.Duration
}

// DefaultICETimeouts leaves ICE enough slack to ride out a short relay or NAT
// hiccup before reporting "disconnected".
var DefaultICETimeouts = ICETimeouts{
	Disconnected: 5 * time.Second,
	Failed:       25 * time.Second,
	KeepAlive:    2 * time.Second,
}

// NewAPI builds a pion API with the default codecs (Opus, VP8, ...), the
// default interceptor chain (NACK, RTCP reports, TWCC) and the given ICE
// timeouts.
func NewAPI(timeouts ICETimeouts) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(timeouts.Disconnected, timeouts.Failed, timeouts.KeepAlive)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

// PionConns returns a NewConnFunc backed by api.
func PionConns(api *webrtc.API) NewConnFunc {
	return func(config webrtc.Configuration) (Conn, error) {
		pc, err := api.NewPeerConnection(config)
		if err != nil {
			return nil, err
		}
		return &pionConn{PeerConnection: pc}, nil
	}
}

// pionConn adapts *webrtc.PeerConnection to Conn.
type pionConn struct {
	*webrtc.PeerConnection
}

func (c *pionConn) OnTrack(fn func(media.Track)) {
	c.PeerConnection.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		// Ask for a keyframe so viewers and the recorder start on a decodable frame.
		if tr.Kind() == webrtc.RTPCodecTypeVideo {
			pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(tr.SSRC())}}
			if err := c.WriteRTCP(pli); err != nil {
				util.LogDebug("keyframe request for %s failed: %v", tr.ID(), err)
			}
		}
		fn(media.RemoteFromPion(tr))
	})
}
