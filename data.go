package fdbk

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// TimestampFormat renders timestamps as ISO 8601 UTC strings with
// microsecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders the timestamp in UTC using TimestampFormat.
func FormatTimestamp(ts time.Time) string { return ts.UTC().Format(TimestampFormat) }

// ParseTimestamp parses ISO 8601 timestamps. Timestamps without a zone
// are taken as UTC.
func ParseTimestamp(in string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if ts, err := time.Parse(layout, in); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, errors.Wrapf(ErrValidation, "'%s' is not an ISO 8601 timestamp", in)
}

// DataPoint is a single entry of a topic: one value per topic field.
type DataPoint struct {
	TopicID   string
	Timestamp time.Time
	Values    map[string]interface{}
}

// Value returns the value of the field, or nil.
func (d DataPoint) Value(field string) interface{} { return d.Values[field] }

// MarshalJSON renders the point as a flat object with the topic id, the
// formatted timestamp and one key per field.
func (d DataPoint) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Values)+2)
	for k, v := range d.Values {
		out[k] = v
	}
	out["topic_id"] = d.TopicID
	out["timestamp"] = FormatTimestamp(d.Timestamp)
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat representation written by MarshalJSON.
func (d *DataPoint) UnmarshalJSON(in []byte) error {
	raw := map[string]interface{}{}
	if err := json.Unmarshal(in, &raw); err != nil {
		return errors.Wrap(err, "problem parsing data point")
	}

	if id, ok := raw["topic_id"].(string); ok {
		d.TopicID = id
	}
	delete(raw, "topic_id")

	if ts, ok := raw["timestamp"].(string); ok {
		parsed, err := ParseTimestamp(ts)
		if err != nil {
			return errors.WithStack(err)
		}
		d.Timestamp = parsed
	}
	delete(raw, "timestamp")

	d.Values = raw
	return nil
}

// NewDataPoint validates the values against the fields of the topic and
// builds a data point. Values must match the fields exactly.
func NewDataPoint(t *Topic, values map[string]interface{}, ts time.Time) (DataPoint, error) {
	if t.IsTemplate() {
		return DataPoint{}, errors.Wrapf(ErrValidation, "cannot add data to template topic %s", topicString(t))
	}
	if len(values) != len(t.Fields) {
		return DataPoint{}, errors.Wrapf(ErrValidation,
			"the number of given values (%d) does not match with the number of fields defined for topic (%d)",
			len(values), len(t.Fields))
	}

	point := DataPoint{
		TopicID:   t.ID,
		Timestamp: ts.UTC(),
		Values:    make(map[string]interface{}, len(values)),
	}
	for _, field := range t.Fields {
		v, ok := values[field]
		if !ok {
			return DataPoint{}, errors.Wrapf(ErrValidation, "value for field '%s' not present in input data", field)
		}
		point.Values[field] = v
	}

	return point, nil
}

// DataQuery filters data points. Since and Until are inclusive bounds
// and are ignored when zero; Limit keeps the most recent points.
type DataQuery struct {
	Since time.Time
	Until time.Time
	Limit int
}

// Validate checks the query bounds.
func (q DataQuery) Validate() error {
	if q.Limit < 0 {
		return errors.Wrap(ErrValidation, "limit must not be negative")
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return errors.Wrap(ErrValidation, "until must not be before since")
	}
	return nil
}

// Match reports whether the timestamp is within the bounds.
func (q DataQuery) Match(ts time.Time) bool {
	if !q.Since.IsZero() && ts.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && ts.After(q.Until) {
		return false
	}
	return true
}

// Apply filters points that are sorted by timestamp and returns a new
// slice.
func (q DataQuery) Apply(points []DataPoint) []DataPoint {
	out := make([]DataPoint, 0, len(points))
	for _, p := range points {
		if q.Match(p.Timestamp) {
			out = append(out, p)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// SortData orders points by ascending timestamp.
func SortData(points []DataPoint) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
}

// clock hands out strictly increasing timestamps at microsecond
// resolution, the precision of TimestampFormat.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UTC().Truncate(time.Microsecond)
	if !ts.After(c.last) {
		ts = c.last.Add(time.Microsecond)
	}
	c.last = ts
	return ts
}

// Clone returns a copy of the point with its own values map.
func (d DataPoint) Clone() DataPoint {
	out := d
	out.Values = make(map[string]interface{}, len(d.Values))
	for k, v := range d.Values {
		out.Values[k] = v
	}
	return out
}
