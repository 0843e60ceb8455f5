// Command simplecached is the cache daemon half of the core: it serves
// request records off the bounded request channel and publishes replies
// into whichever shared-memory segment each record names.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nabbar/gtfileserver/internal/cacheworker"
	"github.com/nabbar/gtfileserver/internal/logging"
	"github.com/nabbar/gtfileserver/internal/metrics"
	"github.com/nabbar/gtfileserver/internal/reqchan"
	"github.com/nabbar/gtfileserver/internal/simplecache"

	liberr "github.com/nabbar/golib/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type config struct {
	cacheDir    string
	threads     int
	delayUsec   int64
	queuePath   string
	queueDepth  int
	metricsAddr string
	logLevel    string
	cfgFile     string
}

func main() {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "simplecached",
		Short: "Cache daemon: serves files over the request channel into shared-memory segments",
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
	f.StringVarP(&cfg.cacheDir, "cache", "c", "", "cache root directory to serve files from (required)")
	f.IntVarP(&cfg.threads, "threads", "t", 4, "number of cache worker threads (1..100)")
	f.Int64VarP(&cfg.delayUsec, "delay", "d", 0, "artificial per-request delay in microseconds (0..2500000)")
	f.StringVarP(&cfg.queuePath, "queue", "q", "/tmp/gtfileserver_cache_command_q.sock", "request channel socket path")
	f.IntVar(&cfg.queueDepth, "depth", reqchan.DefaultDepth, "request channel backlog depth")
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
		return fmt.Errorf("simplecached: read config %s: %w", cfg.cfgFile, err)
	}
	if err := v.BindPFlags(f); err != nil {
		return fmt.Errorf("simplecached: bind config flags: %w", err)
	}

	cfg.cacheDir = v.GetString("cache")
	cfg.threads = v.GetInt("threads")
	cfg.delayUsec = v.GetInt64("delay")
	cfg.queuePath = v.GetString("queue")
	cfg.queueDepth = v.GetInt("depth")
	cfg.metricsAddr = v.GetString("metrics")
	cfg.logLevel = v.GetString("log-level")
	return nil
}

func run(ctx context.Context, flags *pflag.FlagSet, cfg *config) error {
	if err := loadConfigFile(flags, cfg); err != nil {
		return err
	}
	if cfg.cacheDir == "" {
		return liberr.New(400, "simplecached: --cache is required")
	}
	if cfg.threads < 1 || cfg.threads > 100 {
		return liberr.New(400, fmt.Sprintf("simplecached: --threads must be 1..100, got %d", cfg.threads))
	}
	if cfg.delayUsec < 0 || cfg.delayUsec > 2500000 {
		return liberr.New(400, fmt.Sprintf("simplecached: --delay must be 0..2500000, got %d", cfg.delayUsec))
	}

	log := logging.New(ctx, logging.ParseLevel(cfg.logLevel))

	cache, err := simplecache.Init(cfg.cacheDir)
	if err != nil {
		logging.Fatal(log, "init cache directory", err)
	}

	listener, err := reqchan.NewListener(cfg.queuePath, cfg.queueDepth)
	if err != nil {
		logging.Fatal(log, "create request channel listener", err)
	}

	met := metrics.New("cache")

	worker := cacheworker.New(listener, cache, logging.Component(ctx, log, "cacheworker"), met, cfg.threads)
	worker.ArtificialDelay = time.Duration(cfg.delayUsec) * time.Microsecond

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErrs := make(chan error, 2)
	go func() { serveErrs <- listener.Serve(runCtx) }()
	if err := worker.Start(runCtx); err != nil {
		logging.Fatal(log, "start cache workers", err)
	}

	var metSrv *metrics.Server
	if cfg.metricsAddr != "" {
		metSrv = metrics.NewServer(cfg.metricsAddr, met)
		go func() { serveErrs <- metSrv.Serve(runCtx) }()
	}

	log.Info(fmt.Sprintf("simplecached listening on %s, %d worker(s), cache root %s", cfg.queuePath, cfg.threads, cfg.cacheDir), nil)

	select {
	case <-ctx.Done():
	case err := <-serveErrs:
		if err != nil {
			log.Error("daemon loop failed", nil, err)
		}
	}

	cancel()
	_ = worker.Stop(context.Background())
	_ = listener.Shutdown(context.Background())
	return nil
}
