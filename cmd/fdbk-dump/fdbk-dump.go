package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/fdbk/fdbk"
	"github.com/fdbk/fdbk/storage"
	"github.com/joho/godotenv"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		grip.EmergencyFatal(errors.Wrap(err, "problem reading env file"))
	}

	var (
		plugin string
		topics string
		prefix string
		since  string
		until  string
		limit  int
	)

	defaultPlugin := os.Getenv("FDBK_DB_CONNECTION")
	if defaultPlugin == "" {
		defaultPlugin = storage.BSONFile
	}

	flag.StringVar(&plugin, "db-connection", defaultPlugin, "storage plugin; storage parameters are positional key=value arguments")
	flag.StringVar(&topics, "topics", "", "comma separated topic ids, every topic when empty")
	flag.StringVar(&prefix, "prefix", "fdbk", "prefix of the written file names")
	flag.StringVar(&since, "since", "", "only dump data at or after this timestamp")
	flag.StringVar(&until, "until", "", "only dump data at or before this timestamp")
	flag.IntVar(&limit, "limit", 0, "dump at most this many latest points per topic")
	flag.Parse()

	query := fdbk.DataQuery{Limit: limit}
	var err error
	if since != "" {
		query.Since, err = fdbk.ParseTimestamp(since)
		grip.EmergencyFatal(errors.Wrap(err, "invalid since"))
	}
	if until != "" {
		query.Until, err = fdbk.ParseTimestamp(until)
		grip.EmergencyFatal(errors.Wrap(err, "invalid until"))
	}
	grip.EmergencyFatal(query.Validate())

	var ids []string
	for _, id := range strings.Split(topics, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	ctx := context.Background()
	backend, err := storage.Open(ctx, plugin, flag.Args())
	grip.EmergencyFatal(errors.Wrapf(err, "problem opening '%s' storage", plugin))
	db := fdbk.New(backend)

	files, err := fdbk.DumpCSV(ctx, db, ids, query, prefix)
	for _, fn := range files {
		fmt.Println(fn)
	}

	catcher := grip.NewBasicCatcher()
	catcher.Add(err)
	catcher.Add(db.Close(ctx))
	grip.EmergencyFatal(catcher.Resolve())
	grip.Infof("wrote %d files", len(files))
}
