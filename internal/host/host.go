// Package host is the acquisition side: it publishes samples, events and
// spikes and keeps the registry of connected client applications.
package host

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hongjun500/neurostream/internal/config"
	"github.com/hongjun500/neurostream/internal/protocol"
	"github.com/hongjun500/neurostream/internal/publisher"
	"github.com/hongjun500/neurostream/internal/registry"
	"github.com/hongjun500/neurostream/internal/transport"
	"github.com/hongjun500/neurostream/pkg/logger"
)

type Host struct {
	cfg       *config.Config
	codec     *protocol.Codec
	pub       transport.FrameConn
	publisher *publisher.Publisher
	registry  *registry.Registry
	poller    *registry.Poller

	dataPort      int
	heartbeatPort int

	acquiring atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New binds the publish and reply sockets. When either port is taken both
// move up by cfg.PortStep, for at most cfg.PortRetries attempts.
func New(cfg *config.Config, opts ...publisher.Option) (*Host, error) {
	pub, rep, dataPort, hbPort, err := bindPair(cfg)
	if err != nil {
		return nil, err
	}
	h, err := NewWithConns(cfg, pub, rep, opts...)
	if err != nil {
		_ = pub.Close()
		_ = rep.Close()
		return nil, err
	}
	h.dataPort, h.heartbeatPort = dataPort, hbPort
	return h, nil
}

func bindPair(cfg *config.Config) (pub, rep *transport.Socket, dataPort, hbPort int, err error) {
	attempts := cfg.PortRetries
	if attempts <= 0 {
		attempts = 1
	}
	dataPort = cfg.DataPort
	hbPort = cfg.HeartbeatPortOrDefault()
	for i := 0; i < attempts; i++ {
		pub, err = transport.Connect(transport.Pub, cfg.BindAddress, dataPort)
		if err == nil {
			rep, err = transport.Connect(transport.Rep, cfg.BindAddress, hbPort, transport.WithPollTimeout(cfg.PollTimeout))
			if err == nil {
				if i > 0 {
					logger.L().Sugar().Warnw("host_port_moved", "wanted", cfg.DataPort, "data_port", dataPort, "heartbeat_port", hbPort)
				}
				return pub, rep, dataPort, hbPort, nil
			}
			_ = pub.Close()
		}
		dataPort += cfg.PortStep
		hbPort += cfg.PortStep
	}
	return nil, nil, 0, 0, fmt.Errorf("host: bind after %d attempts: %w", attempts, err)
}

// NewWithConns builds a host on connections the caller already opened.
func NewWithConns(cfg *config.Config, pub, rep transport.FrameConn, opts ...publisher.Option) (*Host, error) {
	rev, err := protocol.ParseRevision(cfg.Revision)
	if err != nil {
		return nil, err
	}
	codec := protocol.NewCodec(rev)
	box := registry.NewMailbox[registry.Record](cfg.MailboxSize)
	reg := registry.New(box, registry.Options{
		AliveTimeout:  cfg.AliveTimeout,
		RemoveTimeout: cfg.RemoveTimeout,
		EvictDead:     cfg.EvictDead,
	})
	reg.OnEvent = func(rec registry.Record) {
		logger.L().Sugar().Debugw("client_event", "uuid", rec.UUID, "application", rec.Application,
			"event_type", rec.Event.Type, "sample_num", rec.Event.SampleNum)
	}
	return &Host{
		cfg:           cfg,
		codec:         codec,
		pub:           pub,
		publisher:     publisher.New(pub, codec, opts...),
		registry:      reg,
		poller:        registry.NewPoller(rep, box),
		dataPort:      cfg.DataPort,
		heartbeatPort: cfg.HeartbeatPortOrDefault(),
	}, nil
}

func (h *Host) Publisher() *publisher.Publisher { return h.publisher }
func (h *Host) Registry() *registry.Registry    { return h.registry }
func (h *Host) Revision() protocol.Revision     { return h.codec.Revision }

// Ports returns the ports actually bound.
func (h *Host) Ports() (data, heartbeat int) { return h.dataPort, h.heartbeatPort }

// Start launches the heartbeat poller and the registry ticker.
func (h *Host) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.poller.Start(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.registry.Run(ctx, h.cfg.TickInterval)
	}()
	logger.L().Sugar().Infow("host_started", "data_port", h.dataPort, "heartbeat_port", h.heartbeatPort, "revision", h.codec.Revision)
}

// StartAcquisition restarts message numbering and enables Process.
func (h *Host) StartAcquisition() {
	h.publisher.Reset()
	h.acquiring.Store(true)
	logger.L().Sugar().Infow("acquisition_started")
}

// StopAcquisition disables Process and logs how many messages were sent.
func (h *Host) StopAcquisition() uint64 {
	h.acquiring.Store(false)
	total := h.publisher.Sent()
	logger.L().Sugar().Infow("acquisition_stopped", "messages_sent", total)
	return total
}

func (h *Host) Acquiring() bool { return h.acquiring.Load() }

// SampleBlock is one buffer of the selected channels.
type SampleBlock struct {
	Channels   []uint32
	Samples    [][]float32
	SampleNum  int64
	SampleRate float64
}

// Process publishes one buffer while acquisition runs: one message per
// channel for the stream revision, one block for the legacy revision.
func (h *Host) Process(b SampleBlock) error {
	if !h.acquiring.Load() {
		return nil
	}
	if len(b.Channels) != len(b.Samples) {
		return fmt.Errorf("host: %d channel ids for %d sample slices", len(b.Channels), len(b.Samples))
	}
	if h.codec.Revision == protocol.RevisionLegacy {
		var ts uint64
		if b.SampleNum > 0 {
			ts = uint64(b.SampleNum)
		}
		return h.publisher.SendBlock(publisher.Block{Channels: b.Samples, SampleRate: b.SampleRate, Timestamp: ts})
	}
	for i, ch := range b.Channels {
		if err := h.publisher.SendData(ch, b.SampleNum, b.SampleRate, b.Samples[i]); err != nil {
			return err
		}
	}
	return nil
}

// Stop halts the poller and ticker, then closes the publish socket.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		h.poller.Stop()
		h.wg.Wait()
		_ = h.pub.Close()
		logger.L().Sugar().Infow("host_stopped")
	})
}
