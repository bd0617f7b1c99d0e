// Package summary computes the statistics of one topic, or of many
// topics combined, by running their data tools against stored data.
package summary

import (
	"context"
	"time"

	"github.com/fdbk/fdbk"
	"github.com/fdbk/fdbk/datatools"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// Store is the read side of the storage collaborator. Topics returned by
// the store have their templates resolved; *fdbk.DB implements it.
type Store interface {
	GetTopic(ctx context.Context, id string) (fdbk.Topic, error)
	GetTopics(ctx context.Context, filter fdbk.TopicFilter) ([]fdbk.Topic, error)
	GetData(ctx context.Context, id string, query fdbk.DataQuery) ([]fdbk.DataPoint, error)
}

// Query selects the data to summarize and configures the aggregation
// of chart data.
type Query struct {
	Since           time.Time `json:"since,omitempty"`
	Until           time.Time `json:"until,omitempty"`
	Limit           int       `json:"limit,omitempty"`
	AggregateTo     int       `json:"aggregate_to,omitempty"`
	AggregateWith   string    `json:"aggregate_with,omitempty"`
	AggregateAlways bool      `json:"aggregate_always,omitempty"`
}

// DataQuery returns the data selection part of the query.
func (q Query) DataQuery() fdbk.DataQuery {
	return fdbk.DataQuery{Since: q.Since, Until: q.Until, Limit: q.Limit}
}

// Options returns the data tools options of the query.
func (q Query) Options() datatools.Options {
	return datatools.Options{
		AggregateTo:     q.AggregateTo,
		AggregateWith:   q.AggregateWith,
		AggregateAlways: q.AggregateAlways,
	}
}

// Validate checks both parts of the query.
func (q Query) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.Add(q.DataQuery().Validate())
	catcher.Add(q.Options().Validate())
	if catcher.HasErrors() {
		return errors.Wrap(fdbk.ErrValidation, catcher.Resolve().Error())
	}
	return nil
}

// Summary holds the statistics of a single topic.
type Summary struct {
	Topic       string                 `json:"topic"`
	Description string                 `json:"description"`
	Units       []fdbk.Unit            `json:"units"`
	NumEntries  int                    `json:"num_entries"`
	Statistics  []*datatools.Statistic `json:"statistics"`
	Warnings    []string               `json:"warnings"`
}

// Get summarizes the data of a topic. Unknown topics are errors; problems
// with individual data tools are reported as warnings.
func Get(ctx context.Context, store Store, id string, q Query) (*Summary, error) {
	if err := q.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}

	t, err := store.GetTopic(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "problem finding topic '%s'", id)
	}

	data, err := store.GetData(ctx, id, q.DataQuery())
	if err != nil {
		return nil, errors.Wrapf(err, "problem finding data of topic '%s'", id)
	}

	out := datatools.Combine(datatools.Run(t, data, q.Options()))

	units := t.Units
	if units == nil {
		units = []fdbk.Unit{}
	}

	return &Summary{
		Topic:       t.Name,
		Description: t.Description,
		Units:       units,
		NumEntries:  len(data),
		Statistics:  out.Statistics,
		Warnings:    out.Warnings,
	}, nil
}
