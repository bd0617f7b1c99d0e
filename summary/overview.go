package summary

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/fdbk/fdbk"
	"github.com/fdbk/fdbk/datatools"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// OverviewOptions select the topics of an overview. Explicit TopicIDs
// take precedence over the Type and Template filters.
type OverviewOptions struct {
	TopicIDs []string
	Type     string
	Template string
	Query    Query
	// Workers bounds the number of topics processed concurrently.
	// Defaults to the number of CPUs.
	Workers int
}

// Validate checks the options.
func (opts OverviewOptions) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(opts.Workers < 0, "workers must not be negative")
	catcher.Add(opts.Query.Validate())
	if catcher.HasErrors() {
		return errors.Wrap(fdbk.ErrValidation, catcher.Resolve().Error())
	}
	return nil
}

func (opts OverviewOptions) workers() int {
	if opts.Workers > 0 {
		return opts.Workers
	}
	return runtime.NumCPU()
}

// Combined holds the merged statistics of several topics.
type Combined struct {
	TopicNames []string               `json:"topic_names"`
	TopicIDs   []string               `json:"topic_ids"`
	Fields     []string               `json:"fields"`
	Statistics []*datatools.Statistic `json:"statistics"`
	Warnings   []string               `json:"warnings"`
}

func (opts OverviewOptions) topics(ctx context.Context, store Store) ([]fdbk.Topic, []string, error) {
	warnings := []string{}

	if len(opts.TopicIDs) == 0 {
		topics, err := store.GetTopics(ctx, fdbk.TopicFilter{Type: opts.Type, Template: opts.Template})
		if err != nil {
			return nil, nil, errors.Wrap(err, "problem finding topics")
		}
		return topics, warnings, nil
	}

	topics := make([]fdbk.Topic, 0, len(opts.TopicIDs))
	requested := make(map[string]struct{}, len(opts.TopicIDs))
	for _, id := range opts.TopicIDs {
		if _, ok := requested[id]; ok {
			continue
		}
		requested[id] = struct{}{}

		t, err := store.GetTopic(ctx, id)
		switch {
		case errors.Is(err, fdbk.ErrNotFound):
			warnings = append(warnings, fdbk.TopicNotFound(id))
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("Problem finding topic \"%s\": %s", id, err.Error()))
		default:
			topics = append(topics, t)
		}
	}
	return topics, warnings, nil
}

func runTopic(ctx context.Context, store Store, t fdbk.Topic, q Query) (out datatools.Output) {
	defer func() {
		if err := recovery.HandlePanicWithError(recover(), nil, "running data tools"); err != nil {
			out = datatools.Output{
				Statistics: []*datatools.Statistic{},
				Warnings:   []string{fmt.Sprintf("Problem running data tools for topic %s (%s).", t.Name, t.ID)},
			}
		}
	}()

	data, err := store.GetData(ctx, t.ID, q.DataQuery())
	if err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "problem finding topic data",
			"topic":   t.ID,
		}))
		return datatools.Output{
			Statistics: []*datatools.Statistic{},
			Warnings:   []string{fmt.Sprintf("Problem finding data for topic %s (%s).", t.Name, t.ID)},
		}
	}

	return datatools.Run(t, data, q.Options())
}

// Overview runs the data tools of many topics concurrently and merges
// their statistics. Template topics are never run. Missing topics and
// failing topic runs are reported as warnings.
func Overview(ctx context.Context, store Store, opts OverviewOptions) (*Combined, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}

	startAt := time.Now()
	topics, warnings, err := opts.topics(ctx, store)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	out := &Combined{
		TopicNames: []string{},
		TopicIDs:   []string{},
		Fields:     []string{},
	}

	runnable := make([]fdbk.Topic, 0, len(topics))
	seen := map[string]struct{}{}
	for _, t := range topics {
		if t.IsTemplate() {
			continue
		}
		runnable = append(runnable, t)
		out.TopicNames = append(out.TopicNames, t.Name)
		out.TopicIDs = append(out.TopicIDs, t.ID)
		for _, f := range t.Fields {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				out.Fields = append(out.Fields, f)
			}
		}
	}

	outputs := make([]datatools.Output, len(runnable)+1)
	outputs[0] = datatools.Output{Warnings: warnings}

	var group errgroup.Group
	group.SetLimit(opts.workers())
	for idx := range runnable {
		idx := idx
		group.Go(func() error {
			outputs[idx+1] = runTopic(ctx, store, runnable[idx], opts.Query)
			return nil
		})
	}
	if err = group.Wait(); err != nil {
		return nil, errors.Wrap(err, "problem running data tools")
	}

	combined := datatools.Combine(outputs...)
	out.Statistics = combined.Statistics
	out.Warnings = combined.Warnings

	grip.Debug(message.Fields{
		"op":         "overview",
		"topics":     len(runnable),
		"statistics": len(out.Statistics),
		"warnings":   len(out.Warnings),
		"duration":   time.Since(startAt).Round(time.Millisecond),
	})

	return out, nil
}

// Comparison is the overview of an explicit list of topics.
func Comparison(ctx context.Context, store Store, ids []string, q Query) (*Combined, error) {
	return Overview(ctx, store, OverviewOptions{TopicIDs: ids, Query: q})
}
