package fdbk

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/papertrail/go-tail/follower"
	"github.com/pkg/errors"
)

// CollectJSONOptions specifies options for a JSON-lines ingestion. You
// must specify EITHER an input Source as a reader or a file name.
//
// Every line holds one data point in the same flat representation that
// DataPoint marshals to: the field values plus an optional "timestamp"
// and "topic_id".
type CollectJSONOptions struct {
	// TopicID receives the data. When empty every line must carry its
	// own topic_id.
	TopicID     string
	InputSource io.Reader `json:"-"`
	FileName    string
	Follow      bool
	Overwrite   bool
	// SkipInvalid logs and drops lines that cannot be stored instead of
	// aborting the collection.
	SkipInvalid bool
}

// Validate checks that exactly one source is configured.
func (opts CollectJSONOptions) Validate() error {
	neitherSpecified := (opts.InputSource == nil && opts.FileName == "")
	bothSpecified := (opts.InputSource != nil && opts.FileName != "")

	if bothSpecified || neitherSpecified {
		return errors.New("must specify exactly one of input source and filename")
	}

	if opts.Follow && opts.FileName == "" {
		return errors.New("follow option must not be specified with a file reader")
	}

	return nil
}

func scanLines(ctx context.Context, reader io.Reader, out chan<- string) error {
	stream := bufio.NewScanner(reader)
	for stream.Scan() {
		select {
		case out <- stream.Text():
		case <-ctx.Done():
			return nil
		}
	}
	return errors.Wrap(stream.Err(), "problem reading input")
}

func (opts CollectJSONOptions) getSource(ctx context.Context) (<-chan string, <-chan error) {
	out := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer recovery.LogStackTraceAndContinue("json data source")
		defer close(out)

		switch {
		case opts.InputSource != nil:
			errs <- scanLines(ctx, opts.InputSource, out)
		case opts.FileName != "" && !opts.Follow:
			f, err := os.Open(opts.FileName)
			if err != nil {
				errs <- errors.Wrapf(err, "problem opening data file %s", opts.FileName)
				return
			}
			defer f.Close()

			errs <- scanLines(ctx, f, out)
		case opts.FileName != "" && opts.Follow:
			tail, err := follower.New(opts.FileName, follower.Config{
				Reopen: true,
			})
			if err != nil {
				errs <- errors.Wrapf(err, "problem setting up file follower of '%s'", opts.FileName)
				return
			}
			defer tail.Close()

			for {
				select {
				case <-ctx.Done():
					errs <- nil
					return
				case line, ok := <-tail.Lines():
					if !ok {
						errs <- errors.Wrapf(tail.Err(), "problem following '%s'", opts.FileName)
						return
					}
					select {
					case out <- line.String():
					case <-ctx.Done():
						errs <- nil
						return
					}
				}
			}
		default:
			errs <- errors.New("invalid collect options")
		}
	}()

	return out, errs
}

func (opts CollectJSONOptions) topicOf(point *DataPoint) (string, error) {
	switch {
	case opts.TopicID == "" && point.TopicID == "":
		return "", errors.Wrap(ErrValidation, "data point does not specify a topic")
	case opts.TopicID != "" && point.TopicID != "" && point.TopicID != opts.TopicID:
		return "", errors.Wrapf(ErrValidation, "data point for topic '%s' in stream of topic '%s'", point.TopicID, opts.TopicID)
	case opts.TopicID != "":
		return opts.TopicID, nil
	default:
		return point.TopicID, nil
	}
}

func (opts CollectJSONOptions) store(ctx context.Context, db *DB, line string) error {
	point := DataPoint{}
	if err := json.Unmarshal([]byte(line), &point); err != nil {
		return errors.Wrap(ErrValidation, err.Error())
	}

	id, err := opts.topicOf(&point)
	if err != nil {
		return errors.WithStack(err)
	}

	_, err = db.AddData(ctx, id, point.Values, AddDataOptions{
		Timestamp: point.Timestamp,
		Overwrite: opts.Overwrite,
	})
	return errors.WithStack(err)
}

// CollectJSONStream provides a blocking process that reads new-line
// separated JSON documents from a file or reader and stores them as
// data points. It returns the number of stored points.
//
// The "follow" option allows you to watch the end of a file for new
// JSON documents, a la "tail -f"; in that case the collection only ends
// when the context is canceled.
func CollectJSONStream(ctx context.Context, db *DB, opts CollectJSONOptions) (int, error) {
	if err := opts.Validate(); err != nil {
		return 0, errors.WithStack(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startAt := time.Now()
	count := 0
	skipped := 0
	lines, errs := opts.getSource(ctx)

	for {
		select {
		case <-ctx.Done():
			return count, errors.New("operation aborted")
		case line, ok := <-lines:
			if !ok {
				grip.Debug(message.Fields{
					"op":       "collecting json data",
					"stored":   count,
					"skipped":  skipped,
					"file":     opts.FileName,
					"duration": time.Since(startAt).Round(time.Millisecond),
				})
				select {
				case err := <-errs:
					return count, errors.WithStack(err)
				default:
					return count, nil
				}
			}
			if strings.TrimSpace(line) == "" {
				continue
			}

			if err := opts.store(ctx, db, line); err != nil {
				if !opts.SkipInvalid {
					return count, errors.Wrapf(err, "problem storing line %d", count+skipped+1)
				}
				grip.Warning(message.WrapError(err, message.Fields{
					"op":   "collecting json data",
					"file": opts.FileName,
					"line": line,
				}))
				skipped++
				continue
			}
			count++
		}
	}
}
