package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/call"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/config"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/media"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/peer"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/recording"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/signaling"
	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

const statsInterval = 30 * time.Second

// openIndex connects and migrates the recording index.
var openIndex = recording.OpenPostgresIndex

// Client is a wired call endpoint: signaling connection, media source,
// peer connection factory, recording gate and the orchestrator driving them.
type Client struct {
	*call.Orchestrator

	cfg  *config.Live
	sig  *signaling.Client
	gate *recording.Gate
	pool *pgxpool.Pool
}

// NewClient builds every collaborator from cfg and connects to the hub.
// source overrides the configured media source when non-nil.
func NewClient(ctx context.Context, cfg *config.Live, source media.Source) (*Client, error) {
	c := cfg.Get()
	if c.Identity.ID == "" {
		return nil, errors.New("identity.id is required")
	}

	if source == nil {
		var err error
		if source, err = buildSource(c.Media); err != nil {
			return nil, err
		}
	}

	api, err := peer.NewAPI(peer.ICETimeouts{
		Disconnected: c.WebRTC.DisconnectedTimeout,
		Failed:       c.WebRTC.FailedTimeout,
		KeepAlive:    c.WebRTC.KeepAliveInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("build webrtc api: %w", err)
	}

	store, pool, err := buildStore(ctx, c.Recording)
	if err != nil {
		return nil, err
	}
	gate := recording.NewGate(store, nil)

	sig, err := signaling.Dial(ctx, c.Signaling.URL, c.Identity.ID)
	if err != nil {
		closePool(pool)
		return nil, err
	}

	o, err := call.New(call.Options{
		Self:     call.Participant{ID: c.Identity.ID, Name: c.Identity.Name, Role: c.Identity.Role},
		Signaler: sig,
		Source:   source,
		Peers:    peer.NewFactory(peer.PionConns(api), cfg.ICEServers),
		Gate:     gate,
	})
	if err != nil {
		_ = sig.Close()
		closePool(pool)
		return nil, err
	}
	sig.Listen(o.Deliver)

	return &Client{Orchestrator: o, cfg: cfg, sig: sig, gate: gate, pool: pool}, nil
}

// Run drives the endpoint until ctx is done or the hub connection drops.
// When configPath is set, ICE server changes are picked up between calls.
func (c *Client) Run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if configPath != "" {
		go func() {
			if err := c.cfg.Watch(ctx, configPath, nil); err != nil {
				util.LogWarning("config watch disabled: %v", err)
			}
		}()
	}
	util.StartStatsReporter(ctx, statsInterval)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Orchestrator.Run(ctx) }()

	select {
	case <-ctx.Done():
	case <-c.sig.Done():
		cancel()
	}
	err := <-errCh

	if sigErr := c.sig.Err(); sigErr != nil && err == nil {
		err = fmt.Errorf("signaling connection lost: %w", sigErr)
	}
	return err
}

// Close waits for pending recording uploads and releases connections.
func (c *Client) Close() error {
	c.gate.Stop()
	c.gate.Wait()
	closePool(c.pool)
	return c.sig.Close()
}

func buildSource(mc config.MediaConfig) (media.Source, error) {
	switch mc.Source {
	case config.SourceSilence:
		return media.NewSilenceSource(), nil
	default:
		src, err := media.NewDeviceSource()
		if err != nil {
			return nil, fmt.Errorf("media source: %w", err)
		}
		return src, nil
	}
}

// buildStore assembles every configured artifact store into one.
func buildStore(ctx context.Context, rc config.RecordingConfig) (recording.Store, *pgxpool.Pool, error) {
	var stores recording.MultiStore

	if rc.Dir != "" {
		stores = append(stores, recording.DirStore{Root: rc.Dir})
	}

	if m := rc.Minio; m.Endpoint != "" {
		s, err := recording.NewMinioStore(ctx, m.Endpoint, m.AccessKey, m.SecretKey, m.Bucket, m.Secure)
		if err != nil {
			return nil, nil, fmt.Errorf("minio store: %w", err)
		}
		stores = append(stores, s)
	}

	var pool *pgxpool.Pool
	if rc.Postgres.DSN != "" {
		idx, p, err := openIndex(ctx, rc.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("recording index: %w", err)
		}
		stores = append(stores, idx)
		pool = p
	}

	switch len(stores) {
	case 0:
		util.LogWarning("no recording store configured, artifacts will be discarded")
		return recording.Discard, nil, nil
	case 1:
		return stores[0], pool, nil
	}
	return stores, pool, nil
}

func closePool(p *pgxpool.Pool) {
	if p != nil {
		p.Close()
	}
}
