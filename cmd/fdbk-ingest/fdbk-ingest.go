package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/fdbk/fdbk"
	"github.com/fdbk/fdbk/storage"
	"github.com/joho/godotenv"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		grip.EmergencyFatal(errors.Wrap(err, "problem reading env file"))
	}

	var (
		plugin      string
		topic       string
		path        string
		follow      bool
		overwrite   bool
		skipInvalid bool
	)

	defaultPlugin := os.Getenv("FDBK_DB_CONNECTION")
	if defaultPlugin == "" {
		defaultPlugin = storage.BSONFile
	}

	flag.StringVar(&plugin, "db-connection", defaultPlugin, "storage plugin; storage parameters are positional key=value arguments")
	flag.StringVar(&topic, "topic", "", "topic receiving the data, when lines do not carry a topic_id")
	flag.StringVar(&path, "path", "", "JSON-lines file to read, standard input when empty")
	flag.BoolVar(&follow, "follow", false, "keep reading the file as it grows")
	flag.BoolVar(&overwrite, "overwrite", false, "replace data points with the same timestamp")
	flag.BoolVar(&skipInvalid, "skip-invalid", false, "log and skip lines that cannot be stored")
	flag.Parse()

	grip.EmergencyFatal(grip.GetSender().SetLevel(send.LevelInfo{Default: level.Info, Threshold: level.Info}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer cancel()

	backend, err := storage.Open(ctx, plugin, flag.Args())
	grip.EmergencyFatal(errors.Wrapf(err, "problem opening '%s' storage", plugin))
	db := fdbk.New(backend)

	opts := fdbk.CollectJSONOptions{
		TopicID:     topic,
		FileName:    path,
		Follow:      follow,
		Overwrite:   overwrite,
		SkipInvalid: skipInvalid,
	}
	if path == "" {
		opts.InputSource = os.Stdin
	}

	count, err := fdbk.CollectJSONStream(ctx, db, opts)
	grip.Info(message.Fields{
		"message": "ingestion complete",
		"points":  count,
		"source":  path,
	})

	catcher := grip.NewBasicCatcher()
	catcher.Add(err)
	catcher.Add(db.Close(context.Background()))
	grip.EmergencyFatal(catcher.Resolve())
}
