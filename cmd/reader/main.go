package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hongjun500/neurostream/internal/bus/redisstream"
	"github.com/hongjun500/neurostream/internal/config"
	"github.com/hongjun500/neurostream/internal/discovery"
	"github.com/hongjun500/neurostream/internal/protocol"
	"github.com/hongjun500/neurostream/internal/registry"
	"github.com/hongjun500/neurostream/internal/stream"
	"github.com/hongjun500/neurostream/internal/transport"
	"github.com/hongjun500/neurostream/pkg/logger"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "TOML config file (overrides NEURO_CONFIG)")
		discover = flag.Bool("discover", false, "find the host over mDNS instead of using the configured address")
		duration = flag.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
		every    = flag.Duration("stats-every", 5*time.Second, "print statistics this often")
		logLevel = flag.String("log-level", "", "debug|info|warn|error (default from NEURO_LOG_LEVEL)")
		logFmt   = flag.String("log-format", "", "json|console (default from NEURO_LOG_FORMAT)")
	)
	flag.Parse()
	logger.Setup(*logLevel, *logFmt)
	defer logger.Sync()
	log := logger.Named("reader")

	if *cfgPath != "" {
		_ = os.Setenv("NEURO_CONFIG", *cfgPath)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	address, dataPort, hbPort := cfg.Address, cfg.DataPort, cfg.HeartbeatPortOrDefault()
	if *discover {
		svc, err := discovery.First(ctx, cfg.MDNSService, 3*time.Second)
		if err != nil {
			log.Fatalw("discovery_failed", "service", cfg.MDNSService, "err", err)
		}
		address, dataPort, hbPort = svc.Address, svc.DataPort, svc.HeartbeatPort
		cfg.Revision = svc.Revision
	}

	rev, err := protocol.ParseRevision(cfg.Revision)
	if err != nil {
		log.Fatalw("bad_revision", "err", err)
	}
	sub, err := transport.Connect(transport.Sub, address, dataPort, transport.WithPollTimeout(cfg.PollTimeout))
	if err != nil {
		log.Fatalw("subscribe_failed", "err", err)
	}

	reader := stream.NewReader(sub, protocol.NewCodec(rev), stream.NewChannelBufferStore(cfg.Channels...), nil)
	defer reader.Close()

	hb := registry.NewHeartbeat(func() (transport.FrameConn, error) {
		return transport.Connect(transport.Req, address, hbPort, transport.WithPollTimeout(cfg.PollTimeout))
	}, registry.HeartbeatOptions{
		Application:    cfg.Application,
		Interval:       cfg.HeartbeatInterval,
		ReconnectAfter: cfg.ReconnectAfter,
	})
	log.Infow("reader_started", "address", address, "data_port", dataPort, "heartbeat_port", hbPort, "uuid", hb.UUID())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reader.Run(ctx) })
	g.Go(func() error {
		hb.Run(ctx)
		return nil
	})
	g.Go(func() error {
		report(ctx, reader, *every)
		return nil
	})
	if cfg.RedisAddr != "" {
		g.Go(func() error { return followRegistry(ctx, cfg, hb.UUID()) })
	}
	if err := g.Wait(); err != nil {
		log.Errorw("reader_exit", "err", err)
		os.Exit(1)
	}
}

// followRegistry prints the host's client changes from the redis feed.
func followRegistry(ctx context.Context, cfg *config.Config, consumer string) error {
	bus := redisstream.New(cfg.RedisAddr, 0, cfg.RedisStream, "neurostream-reader-"+consumer)
	defer bus.Close()
	if err := bus.EnsureGroup(ctx); err != nil {
		logger.Named("reader").Warnw("redis_group_failed", "stream", cfg.RedisStream, "err", err)
		return nil
	}
	err := bus.Consume(ctx, consumer, func(_ context.Context, m *redisstream.Message) error {
		fmt.Printf("client %s uuid=%s application=%s host=%s\n", m.Kind, m.UUID, m.Application, m.Host)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// report prints statistics and drains the stores so they stay bounded.
func report(ctx context.Context, r *stream.Reader, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st := r.Stats()
		fmt.Printf("valid=%d missed=%d last=%d discarded=%d\n", st.Valid, st.Missed, st.LastMessageNo, st.Discarded)
		buffers := r.Buffers()
		for _, ch := range buffers.Channels() {
			n := buffers.Len(ch)
			if n == 0 {
				continue
			}
			s, err := buffers.Drain(ch, n)
			if err != nil {
				continue
			}
			fmt.Printf("  ch%-3d samples=%d first_ts=%d\n", ch, n, s.Timestamps[0])
		}
		events, spikes := r.Events().Len()
		if events > 0 {
			evs, _ := r.Events().DrainEvents(events)
			for _, ev := range evs {
				switch ev.Type {
				case protocol.EventTTL:
					if word, err := ev.TTL(); err == nil {
						fmt.Printf("  ttl line=%d state=%v sample=%d\n", word.Line, word.State, ev.SampleNum)
					}
				case protocol.EventTimestamp:
					if ts, err := protocol.DecodeTimestampEvent(ev.Data); err == nil {
						fmt.Printf("  timestamp=%d sample=%d\n", ts, ev.SampleNum)
					}
				}
			}
		}
		if spikes > 0 {
			_, _ = r.Events().DrainSpikes(spikes)
			fmt.Printf("  spikes=%d\n", spikes)
		}
	}
}
