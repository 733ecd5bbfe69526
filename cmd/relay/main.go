// Command relay runs the ActivityPub relay: a single binary that can serve
// the HTTP federation surface, run the background job workers, or both,
// against one shared PostgreSQL database. Multiple replicas of this binary
// can run concurrently; NotifyBus keeps their in-memory state coherent.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/conduitio/bwlimit"

	"github.com/hutchisr/relay/internal/actorcache"
	"github.com/hutchisr/relay/internal/config"
	"github.com/hutchisr/relay/internal/db"
	"github.com/hutchisr/relay/internal/inbox"
	"github.com/hutchisr/relay/internal/jobs"
	"github.com/hutchisr/relay/internal/logging"
	"github.com/hutchisr/relay/internal/nodecache"
	"github.com/hutchisr/relay/internal/notifybus"
	"github.com/hutchisr/relay/internal/requests"
	"github.com/hutchisr/relay/internal/sigverify"
	"github.com/hutchisr/relay/internal/state"
	"github.com/hutchisr/relay/internal/webfed"
)

// shutdownDrain is the budget graceful shutdown gives in-flight HTTP
// handlers to finish, per spec.md §5.
const shutdownDrain = 30 * time.Second

// domainList implements flag.Value so --block/--whitelist can be repeated
// on one command line.
type domainList []string

func (d *domainList) String() string { return strings.Join(*d, ",") }
func (d *domainList) Set(v string) error {
	*d = append(*d, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.CommandLine
	fp := config.RegisterFlags(fs)

	var blocks, whitelists domainList
	fs.Var(&blocks, "block", "Add a domain to the blocklist (repeatable)")
	fs.Var(&whitelists, "whitelist", "Add a domain to the whitelist (repeatable)")
	undo := fs.Bool("undo", false, "Remove instead of add for --block/--whitelist")
	jobsOnly := fs.Bool("jobs-only", false, "Run only the worker pool, no HTTP server")
	noJobs := fs.Bool("no-jobs", false, "Run only the HTTP server, no workers")
	redisAddr := fs.String("redis-addr", "", "Redis address for cross-replica delivery backoff state")
	redisPassword := fs.String("redis-password", "", "Redis password")
	redisDB := fs.Int("redis-db", 0, "Redis database number")
	writeBPS := fs.Int64("write-bytes-per-sec", 0, "Aggregate outbound write byte-rate limit (0 disables)")
	readBPS := fs.Int64("read-bytes-per-sec", 0, "Aggregate outbound read byte-rate limit (0 disables)")

	fs.Parse(os.Args[1:])

	if *jobsOnly && *noJobs {
		fmt.Fprintln(os.Stderr, "relay: --jobs-only and --no-jobs are mutually exclusive")
		return 2
	}

	cfg, err := config.Load(fp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "relay: loading config:", err)
		return 1
	}

	logger := newLogger(cfg)

	d, err := db.New(context.Background(), db.Config{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        32,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		return 1
	}
	defer d.Close()

	if len(blocks) > 0 || len(whitelists) > 0 {
		return runAdmin(context.Background(), d, logger, blocks, whitelists, *undo)
	}

	st := state.New(cfg.RestrictedMode, cfg.Hostname)
	if err := st.Hydrate(context.Background(), d); err != nil {
		logger.Error("failed to hydrate state", slog.String("error", err.Error()))
		return 1
	}

	actors := actorcache.New(d, 4096)
	nodes := nodecache.New(d, 4096)

	reqClient := requests.New(requests.Config{
		WriteBytesPerSec:   bwlimit.Byte(*writeBPS),
		ReadBytesPerSec:    bwlimit.Byte(*readBPS),
		PerHostConcurrency: cfg.RequestConcurrency,
		RedisAddr:          *redisAddr,
		RedisPassword:      *redisPassword,
		RedisDB:            *redisDB,
	}, st.PrivateKey(), cfg.GenerateURL(config.UrlKindMainKey), logger)
	defer reqClient.Close()

	bus := notifybus.New(cfg.DatabaseURL, logger)
	notifybus.RegisterDefaults(bus, d, st, actors, nodes, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Start(ctx)

	jobServer := jobs.New(d, reqClient, nodes, st, 0, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var httpServer *http.Server
	if !*jobsOnly {
		handler := buildRoutes(cfg, d, st, actors, reqClient, logger)
		httpServer = &http.Server{Addr: cfg.BindAddress(), Handler: handler}
		go func() {
			logger.Info("relay listening", slog.String("addr", cfg.BindAddress()))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server failed", slog.String("error", err.Error()))
			}
		}()
	}
	if !*noJobs {
		jobServer.Start(ctx)
		logger.Info("job workers started")
	}

	<-sigCh
	logger.Info("shutting down")
	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownDrain)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", slog.String("error", err.Error()))
		}
	}

	return 0
}

// runAdmin implements the --block/--whitelist/--undo CLI surface: it
// mutates Db directly and exits without starting the server, per
// spec.md §6's CLI admin commands.
func runAdmin(ctx context.Context, d *db.Db, logger *slog.Logger, blocks, whitelists domainList, undo bool) int {
	for _, host := range blocks {
		var err error
		if undo {
			err = d.RemoveBlock(ctx, host)
		} else {
			err = d.AddBlock(ctx, host)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "relay: block %s: %v\n", host, err)
			return 1
		}
	}
	for _, host := range whitelists {
		var err error
		if undo {
			err = d.RemoveWhitelist(ctx, host)
		} else {
			err = d.AddWhitelist(ctx, host)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "relay: whitelist %s: %v\n", host, err)
			return 1
		}
	}
	return 0
}

func buildRoutes(cfg config.Config, d *db.Db, st *state.State, actors *actorcache.Cache, reqClient *requests.Client, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	wf := webfed.New(cfg, st)
	mux.HandleFunc("GET /actor", wf.Actor)
	mux.HandleFunc("GET /.well-known/webfinger", wf.WebFinger)
	mux.HandleFunc("GET /.well-known/nodeinfo", wf.NodeInfoMeta)
	mux.HandleFunc("GET /nodeinfo/2.0.json", wf.NodeInfo)
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("relay\n"))
	})

	verifier := sigverify.New(actors, reqClient, st, cfg.ValidateSignatures, logger)
	inboxHandler := inbox.New(d, st, cfg, logger)
	mux.Handle("POST /inbox", verifier.Middleware(inboxHandler))

	return mux
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	return logging.New("relay", logging.Config{Level: level, Pretty: cfg.PrettyLog})
}
