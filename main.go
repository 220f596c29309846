package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/sawmill-video/sawmill/api"
	"github.com/sawmill-video/sawmill/clients"
	"github.com/sawmill-video/sawmill/config"
	"github.com/sawmill-video/sawmill/jobs"
	"github.com/sawmill-video/sawmill/log"
	"github.com/sawmill-video/sawmill/manifest"
	"github.com/sawmill-video/sawmill/metrics"
	"github.com/sawmill-video/sawmill/pipeline"
	"github.com/sawmill-video/sawmill/pprof"
	"github.com/sawmill-video/sawmill/queue"
	"github.com/sawmill-video/sawmill/video"
)

func main() {
	fs := flag.NewFlagSet("sawmill", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind the transcoding API to")
	fs.IntVar(&cli.PromPort, "prom-port", 2112, "Prometheus metrics port")
	fs.StringVar(&cli.APIToken, "api-token", "IAmAuthorized", "Auth header value for API access")
	fs.StringVar(&cli.TranscodedRoot, "transcoded-root", config.TranscodedRoot, "Local staging directory for transcoded renditions before upload")
	fs.StringVar(&cli.DBConnectionString, "db-connection-string", "", "Connection string for the jobs Postgres DB. Takes the form: host=X port=X user=X password=X dbname=X. Empty runs the in-memory store.")
	fs.StringVar(&cli.FFmpegBin, "ffmpeg-bin", config.FFmpegBin, "ffmpeg binary to shell out to")
	fs.StringVar(&cli.PackagerBin, "packager-bin", config.PackagerBin, "Shaka packager binary to shell out to")
	fs.IntVar(&cli.QueueConcurrency, "queue-concurrency", config.QueueConcurrency, "Number of rendition tasks this worker runs concurrently per queue")
	fs.IntVar(&cli.SoftTimeLimitSec, "soft-time-limit", 0, "Soft time limit in seconds for a single rendition task. 0 disables it.")
	pprofPort := fs.Int("pprof-port", 6061, "Pprof listen port")
	_ = fs.String("config", "", "config file (optional)")

	err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("SAWMILL"),
	)
	if err != nil {
		fatal("error parsing cli", err)
	}
	if len(fs.Args()) > 0 {
		fatal("unexpected extra arguments on command line", fmt.Errorf("%v", fs.Args()))
	}

	if *version {
		fmt.Printf("sawmill version: %s\n", config.Version)
		return
	}

	go func() {
		log.LogNoJobID("pprof listener stopped", "err", pprof.ListenAndServe(*pprofPort))
	}()

	config.TranscodedRoot = cli.TranscodedRoot
	config.FFmpegBin = cli.FFmpegBin
	config.PackagerBin = cli.PackagerBin
	config.QueueConcurrency = cli.QueueConcurrency

	var store jobs.Store
	if cli.DBConnectionString != "" {
		db, err := sql.Open("postgres", cli.DBConnectionString)
		if err != nil {
			fatal("error creating postgres connection", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(time.Hour)

		pg := jobs.NewPostgresStore(db)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			fatal("error ensuring postgres schema", err)
		}
		store = pg
	} else {
		log.LogNoJobID("db-connection-string was not set, running with the in-memory job store")
		store = jobs.NewMemoryStore()
	}

	taskQueue := queue.NewInProcessQueue(cli.QueueConcurrency, time.Duration(cli.SoftTimeLimitSec)*time.Second)
	manager := &pipeline.JobManager{
		Store:    store,
		Queue:    taskQueue,
		Webhooks: clients.NewWebhookClient(),
		Merger:   manifest.NewMerger(),
		Probe:    video.Probe{},
	}

	// Cancelling the root context prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli.HTTPAddress, cli.APIToken, store, manager)
	})

	group.Go(func() error {
		return metrics.ListenAndServe(cli.PromPort)
	})

	err = group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if qErr := taskQueue.Shutdown(shutdownCtx); qErr != nil {
		log.LogNoJobID("error draining the task queue", "err", qErr)
	}
	log.LogNoJobID("Shutdown complete", "reason", err)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-c:
		return fmt.Errorf("caught signal=%v, attempting clean shutdown", s)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fatal(msg string, err error) {
	log.LogNoJobID(msg, "err", err)
	os.Exit(1)
}
