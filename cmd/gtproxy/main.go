// Command gtproxy is the proxy half of the core: it fronts the GetFile
// protocol, acquires a shared-memory segment per request, hands a request
// record to the cache daemon, and streams the reply back to the client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nabbar/gtfileserver/internal/getfile"
	"github.com/nabbar/gtfileserver/internal/logging"
	"github.com/nabbar/gtfileserver/internal/metrics"
	"github.com/nabbar/gtfileserver/internal/proxyworker"
	"github.com/nabbar/gtfileserver/internal/reqchan"
	"github.com/nabbar/gtfileserver/internal/shmipc"

	liberr "github.com/nabbar/golib/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type config struct {
	workers     int
	segments    int
	segsize     int
	cachePath   string
	listenAddr  string
	metricsAddr string
	logLevel    string
	cfgFile     string
}

func main() {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "gtproxy",
		Short: "Proxy: serves GetFile requests out of a shared-memory-backed cache daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.Flags(), cfg)
		},
	}
	bindFlags(root.Flags(), cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bindFlags(f *pflag.FlagSet, cfg *config) {
	f.IntVarP(&cfg.workers, "workers", "t", 4, "maximum concurrent GetFile requests (the N proxy worker threads)")
	f.IntVarP(&cfg.segments, "segments", "n", 4, "shared-memory segment pool size")
	f.IntVar(&cfg.segsize, "segsize", 65536, "payload capacity per segment, in bytes")
	f.StringVar(&cfg.cachePath, "cache", "/tmp/gtfileserver_cache_command_q.sock", "cache daemon's request channel socket path")
	f.StringVarP(&cfg.listenAddr, "listen", "L", ":8080", "GetFile TCP listen address")
	f.StringVar(&cfg.metricsAddr, "metrics", "", "address to serve /metrics on (empty disables)")
	f.StringVarP(&cfg.logLevel, "log-level", "l", "info", "log level: panic|fatal|error|warn|info|debug")
	f.StringVar(&cfg.cfgFile, "config", "", "optional YAML/env config file overriding defaults (flags still win)")
}

func loadConfigFile(f *pflag.FlagSet, cfg *config) error {
	if cfg.cfgFile == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(cfg.cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("gtproxy: read config %s: %w", cfg.cfgFile, err)
	}
	if err := v.BindPFlags(f); err != nil {
		return fmt.Errorf("gtproxy: bind config flags: %w", err)
	}

	cfg.workers = v.GetInt("workers")
	cfg.segments = v.GetInt("segments")
	cfg.segsize = v.GetInt("segsize")
	cfg.cachePath = v.GetString("cache")
	cfg.listenAddr = v.GetString("listen")
	cfg.metricsAddr = v.GetString("metrics")
	cfg.logLevel = v.GetString("log-level")
	return nil
}

// gatedHandler bounds GetFile's own per-connection concurrency to
// cfg.workers, realizing the "N proxy worker threads" of spec.md §5 at
// the command layer rather than inside internal/proxyworker.
type gatedHandler struct {
	inner getfile.Handler
	gate  chan struct{}
}

func newGatedHandler(n int, inner getfile.Handler) *gatedHandler {
	return &gatedHandler{inner: inner, gate: make(chan struct{}, n)}
}

func (g *gatedHandler) Serve(ctx getfile.Context, path string) {
	g.gate <- struct{}{}
	defer func() { <-g.gate }()
	g.inner(ctx, path)
}

func run(ctx context.Context, flags *pflag.FlagSet, cfg *config) error {
	if err := loadConfigFile(flags, cfg); err != nil {
		return err
	}
	if cfg.workers < 1 {
		return liberr.New(400, "gtproxy: --workers must be >= 1")
	}
	if cfg.segments < 1 {
		return liberr.New(400, "gtproxy: --segments must be >= 1")
	}

	log := logging.New(ctx, logging.ParseLevel(cfg.logLevel))

	pool, err := shmipc.CreatePool(ctx, cfg.segments, cfg.segsize)
	if err != nil {
		logging.Fatal(log, "create segment pool", err)
	}

	sender, err := reqchan.NewSender(ctx, cfg.cachePath)
	if err != nil {
		logging.Fatal(log, "connect to cache daemon's request channel", err)
	}

	met := metrics.New("proxy")

	handler := proxyworker.New(pool, sender, logging.Component(ctx, log, "proxyworker"), met)
	gated := newGatedHandler(cfg.workers, handler.Serve)

	server := getfile.NewServer(cfg.listenAddr, gated.Serve)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErrs := make(chan error, 2)
	go func() { serveErrs <- server.Serve(runCtx) }()

	var metSrv *metrics.Server
	if cfg.metricsAddr != "" {
		metSrv = metrics.NewServer(cfg.metricsAddr, met)
		go func() { serveErrs <- metSrv.Serve(runCtx) }()
	}

	met.SegmentsTotal.Set(float64(cfg.segments))
	met.SegmentsIdle.Set(float64(pool.Idle()))
	log.Info(fmt.Sprintf("gtproxy listening on %s, %d segment(s), %d worker(s)", cfg.listenAddr, cfg.segments, cfg.workers), nil)

	select {
	case <-ctx.Done():
	case err := <-serveErrs:
		if err != nil {
			log.Error("proxy loop failed", nil, err)
		}
	}

	cancel()
	_ = server.Shutdown(context.Background())
	_ = sender.Close()
	_ = pool.DestroyPool()
	return nil
}
