package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fdbk/fdbk"
	"github.com/fdbk/fdbk/metrics"
	"github.com/fdbk/fdbk/server"
	"github.com/fdbk/fdbk/storage"
	"github.com/joho/godotenv"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
)

const usage = `
Usage: fdbk-server [flags] [key=value ...]

Positional arguments are passed to the storage plugin, for example
"topics_db_backup=~/topics.json" or "path=/var/lib/fdbk".
`

func signalListenner(ctx context.Context, trigger context.CancelFunc) {
	defer recovery.LogStackTraceAndContinue("graceful shutdown")
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)

	select {
	case <-sigChan:
		grip.Debug("received signal")
	case <-ctx.Done():
		grip.Debug("context canceled")
	}

	trigger()
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && b
}

func main() {
	if err := godotenv.Load(getenv("FDBK_ENV_FILE", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		grip.EmergencyFatal(errors.Wrap(err, "problem reading env file"))
	}

	var (
		addr          string
		plugin        string
		seedFile      string
		logLevel      string
		workers       int
		statsInterval time.Duration
		debug         bool
	)

	flag.Usage = func() {
		_, _ = os.Stderr.WriteString(usage)
		flag.PrintDefaults()
	}
	flag.StringVar(&addr, "addr", getenv("FDBK_ADDR", ":8080"), "address to listen on")
	flag.StringVar(&plugin, "db-connection", getenv("FDBK_DB_CONNECTION", storage.Dict), "storage plugin")
	flag.StringVar(&seedFile, "topics", getenv("FDBK_TOPICS_FILE", ""), "YAML file of topics and templates to add on startup")
	flag.StringVar(&logLevel, "level", getenv("FDBK_LOG_LEVEL", "info"), "minimum log level")
	flag.IntVar(&workers, "workers", 0, "topics processed concurrently by overview requests")
	flag.DurationVar(&statsInterval, "runtime-stats", 0, "interval for logging runtime stats, disabled when zero")
	flag.BoolVar(&debug, "debug", getenvBool("FDBK_DEBUG"), "run the router in debug mode")
	flag.Parse()

	grip.EmergencyFatal(grip.GetSender().SetLevel(send.LevelInfo{
		Default:   level.Info,
		Threshold: level.FromString(logLevel),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go signalListenner(ctx, cancel)

	backend, err := storage.Open(ctx, plugin, flag.Args())
	grip.EmergencyFatal(errors.Wrapf(err, "problem opening '%s' storage", plugin))

	db := fdbk.New(backend)
	defer func() {
		grip.Error(message.WrapError(db.Close(context.Background()), "problem closing storage"))
	}()

	if seedFile != "" {
		_, err = fdbk.SeedTopicsFile(ctx, db, seedFile, fdbk.AddTopicOptions{Overwrite: true})
		grip.EmergencyFatal(err)
	}

	m := metrics.New()
	if statsInterval > 0 {
		go func() {
			defer recovery.LogStackTraceAndContinue("runtime stats")
			opts := metrics.NewCollectOptions()
			opts.CollectionInterval = statsInterval
			opts.IncludeProcess = true
			grip.Error(message.WrapError(metrics.CollectRuntime(ctx, opts), "problem collecting runtime stats"))
		}()
	}

	svc, err := server.New(db, m, server.Options{
		Address: addr,
		Workers: workers,
		Debug:   debug,
	})
	grip.EmergencyFatal(err)

	grip.Info(message.Fields{
		"message": "starting fdbk",
		"storage": plugin,
		"address": addr,
	})

	if err = svc.Run(ctx); err != nil {
		grip.Error(err)
		cancel()
	}
}
