package datatools

import (
	"time"

	"github.com/fdbk/fdbk"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// DefaultAggregator reduces the points of an aggregation window when
// Options.AggregateWith is empty.
const DefaultAggregator = "average"

// MaxAggregateTo bounds the number of aggregation windows.
const MaxAggregateTo = 10000

// Options control the data tools run.
type Options struct {
	// AggregateTo down-samples the data consumed by chart methods into
	// this many time windows. Zero disables aggregation.
	AggregateTo int `json:"aggregate_to,omitempty"`
	// AggregateWith names the value method reducing each window.
	AggregateWith string `json:"aggregate_with,omitempty"`
	// AggregateAlways aggregates even data sets with no more than
	// AggregateTo points.
	AggregateAlways bool `json:"aggregate_always,omitempty"`
}

// Validate checks the options. Unknown reducers are reported as
// warnings when aggregating.
func (o Options) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(o.AggregateTo < 0, "aggregate_to must not be negative")
	catcher.ErrorfWhen(o.AggregateTo > MaxAggregateTo, "aggregate_to must not exceed %d", MaxAggregateTo)
	if catcher.HasErrors() {
		return errors.Wrap(fdbk.ErrValidation, catcher.Resolve().Error())
	}
	return nil
}

func (o Options) reducer() string {
	if o.AggregateWith == "" {
		return DefaultAggregator
	}
	return o.AggregateWith
}

// Aggregate down-samples time-ordered data into at most AggregateTo
// points. Window k of width (last-first)/AggregateTo takes the
// consecutive points up to and including its end boundary, the final
// window takes every remaining point and empty windows are skipped. Each
// aggregated point is stamped with the start of its window and holds
// the reduced value of every field, or nil where the reducer has no
// result.
//
// Data sets no larger than AggregateTo are returned unchanged unless
// AggregateAlways is set.
func Aggregate(data []fdbk.DataPoint, opts Options) ([]fdbk.DataPoint, []string) {
	if len(data) == 0 {
		return []fdbk.DataPoint{}, []string{fdbk.NoData(nil)}
	}

	n := opts.AggregateTo
	if n <= 0 || (len(data) <= n && !opts.AggregateAlways) {
		return data, []string{}
	}

	method := opts.reducer()
	reducer, ok := Lookup(method)
	if !ok || reducer.Family != FamilyValue {
		return []fdbk.DataPoint{}, []string{fdbk.MethodNotSupported(method)}
	}

	start := data[0].Timestamp
	window := data[len(data)-1].Timestamp.Sub(start) / time.Duration(n)

	// at most one point per window and never more than the input
	out := make([]fdbk.DataPoint, 0, min(n, len(data)))
	remaining := data
	for k := 0; k < n && len(remaining) > 0; k++ {
		var current []fdbk.DataPoint
		if k == n-1 {
			current = remaining
		} else {
			boundary := start.Add(time.Duration(k+1) * window)
			end := 0
			for end < len(remaining) && !remaining[end].Timestamp.After(boundary) {
				end++
			}
			switch end {
			case len(remaining):
				// every remaining point belongs to the final window
				k = n - 2
				continue
			case 0:
				k = windowOf(remaining[0].Timestamp.Sub(start), window, k+1, n) - 1
				continue
			}
			current, remaining = remaining[:end], remaining[end:]
		}

		out = append(out, reduceWindow(reducer, current, data[0], start.Add(time.Duration(k)*window)))
	}

	return out, []string{}
}

// windowOf returns the first window, no earlier than from, whose
// boundary is at or after the offset.
func windowOf(offset, window time.Duration, from, n int) int {
	if window <= 0 {
		return n - 1
	}
	k := int((offset+window-1)/window) - 1
	switch {
	case k >= n-1:
		return n - 1
	case k < from:
		return from
	}
	return k
}

func reduceWindow(reducer Method, window []fdbk.DataPoint, first fdbk.DataPoint, ts time.Time) fdbk.DataPoint {
	point := fdbk.DataPoint{
		TopicID:   first.TopicID,
		Timestamp: ts,
		Values:    make(map[string]interface{}, len(first.Values)),
	}

	for field := range first.Values {
		point.Values[field] = nil

		result, err := reducer.Func(window, field, nil)
		if err != nil || result == nil {
			continue
		}
		if v, ok := result.Payload.(*Value); ok {
			point.Values[field] = v.Value
		}
	}

	return point
}
