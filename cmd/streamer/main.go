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
	"github.com/hongjun500/neurostream/internal/host"
	"github.com/hongjun500/neurostream/internal/monitor"
	"github.com/hongjun500/neurostream/internal/observe"
	"github.com/hongjun500/neurostream/internal/protocol"
	"github.com/hongjun500/neurostream/internal/publisher"
	"github.com/hongjun500/neurostream/pkg/logger"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "TOML config file (overrides NEURO_CONFIG)")
		duration = flag.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
		stream   = flag.String("stream", "synthetic", "stream name sent with stream-revision messages")
		node     = flag.Int("node", 100, "source node id")
		ttlEvery = flag.Duration("ttl-every", time.Second, "toggle TTL line 0 this often; 0 disables")
		logLevel = flag.String("log-level", "", "debug|info|warn|error (default from NEURO_LOG_LEVEL)")
		logFmt   = flag.String("log-format", "", "json|console (default from NEURO_LOG_FORMAT)")
	)
	flag.Parse()
	logger.Setup(*logLevel, *logFmt)
	defer logger.Sync()
	log := logger.Named("streamer")

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

	h, err := host.New(cfg, publisher.WithStream(*stream, int32(*node)))
	if err != nil {
		log.Fatalw("host_open_failed", "err", err)
	}
	defer h.Stop()

	hub := monitor.NewHub(cfg.MailboxSize)
	defer hub.WatchRegistry(h.Registry())()

	g, ctx := errgroup.WithContext(ctx)
	h.Start(ctx)

	stats := func() any {
		alive := 0
		for _, c := range h.Registry().Clients() {
			if c.Alive {
				alive++
			}
		}
		return map[string]any{
			"sent":      h.Publisher().Sent(),
			"acquiring": h.Acquiring(),
			"revision":  h.Revision().String(),
			"clients":   alive,
		}
	}
	g.Go(func() error {
		hub.Sample(ctx, "stats", time.Second, stats)
		return nil
	})

	if cfg.MetricsAddr != "" {
		router := observe.NewRouter(observe.Routes{
			Clients: func() any { return h.Registry().Clients() },
			Stats:   stats,
			Monitor: hub,
		})
		g.Go(func() error { return observe.StartHTTP(ctx, cfg.MetricsAddr, router) })
	}

	if cfg.RedisAddr != "" {
		bus := redisstream.New(cfg.RedisAddr, 0, cfg.RedisStream, "neurostream")
		defer bus.Close()
		hostname, _ := os.Hostname()
		feed := redisstream.NewFeed(h.Registry(), bus, hostname)
		g.Go(func() error {
			feed.Run(ctx)
			return nil
		})
	}

	if cfg.MDNS {
		data, hb := h.Ports()
		adv, err := discovery.Advertise("", cfg.MDNSService, data, hb, h.Revision().String())
		if err != nil {
			log.Warnw("mdns_advertise_failed", "err", err)
		} else {
			defer adv.Shutdown()
		}
	}

	src := host.NewSineSource(cfg.NumChannels, cfg.BlockSize, cfg.SampleRate)
	g.Go(func() error { return acquire(ctx, h, src, *ttlEvery) })

	if err := g.Wait(); err != nil {
		log.Errorw("streamer_exit", "err", err)
		os.Exit(1)
	}
}

// acquire paces the source at its sample rate and publishes until ctx ends.
func acquire(ctx context.Context, h *host.Host, src *host.SineSource, ttlEvery time.Duration) error {
	period := time.Duration(float64(src.BlockSize) / src.SampleRate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	h.StartAcquisition()
	defer h.StopAcquisition()
	if err := h.Publisher().SendParam(map[string]any{
		"sample_rate":  src.SampleRate,
		"num_channels": len(src.Channels),
	}); err != nil {
		logger.L().Sugar().Warnw("param_send_failed", "err", err)
	}

	var (
		ttlState bool
		nextTTL  = time.Now().Add(ttlEvery)
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := h.Process(src.Next()); err != nil {
				logger.L().Sugar().Warnw("block_send_failed", "err", err)
			}
			if ttlEvery > 0 && now.After(nextTTL) {
				ttlState = !ttlState
				word := protocol.TTLWord{Line: 0, State: ttlState}
				if ttlState {
					word.Word = 1
				}
				if err := h.Publisher().SendTTL(src.Position(), word); err != nil {
					logger.L().Sugar().Warnw("ttl_send_failed", "err", err)
				}
				nextTTL = now.Add(ttlEvery)
			}
		}
	}
}
