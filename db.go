package fdbk

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// TopicFilter selects topics by type and template reference. Empty
// values match every topic.
type TopicFilter struct {
	Type     string
	Template string
}

// Match reports whether the raw topic passes the filter.
func (f TopicFilter) Match(t *Topic) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Template != "" && t.Template != f.Template {
		return false
	}
	return true
}

// Backend is the storage collaborator. Backends store and return raw
// topics (without template values) and data points sorted by timestamp.
// Lookups of unknown topics return an error wrapping ErrNotFound and
// rejected duplicates wrap ErrDuplicate.
type Backend interface {
	InsertTopic(ctx context.Context, t Topic, overwrite bool) error
	InsertData(ctx context.Context, point DataPoint, overwrite bool) error
	FindTopic(ctx context.Context, id string) (Topic, error)
	FindTopics(ctx context.Context, filter TopicFilter) ([]Topic, error)
	FindData(ctx context.Context, id string, query DataQuery) ([]DataPoint, error)
	Close(ctx context.Context) error
}

// AddTopicOptions configure DB.AddTopic.
type AddTopicOptions struct {
	// Overwrite replaces a stored topic with the same id. Topics without
	// an id always get a new one.
	Overwrite bool
}

// AddDataOptions configure DB.AddData.
type AddDataOptions struct {
	// Timestamp of the data point. The DB assigns one when zero.
	Timestamp time.Time
	// Overwrite replaces a data point stored with the same timestamp.
	Overwrite bool
}

// DB validates writes and resolves templates on top of a storage
// Backend. It is safe for concurrent use when the backend is.
type DB struct {
	backend Backend
	clock   *clock
}

// New wraps the backend.
func New(b Backend) *DB {
	return &DB{
		backend: b,
		clock:   &clock{now: time.Now},
	}
}

// Backend returns the wrapped storage backend.
func (db *DB) Backend() Backend { return db.backend }

// AddTopic validates and stores the topic and returns its id. A
// referenced template must exist and be of type template.
func (db *DB) AddTopic(ctx context.Context, t Topic, opts AddTopicOptions) (string, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.Normalize()

	if err := t.Validate(); err != nil {
		return "", errors.WithStack(err)
	}

	if t.Template != "" {
		template, err := db.backend.FindTopic(ctx, t.Template)
		if err != nil {
			return "", errors.Wrapf(err, "problem finding template '%s'", t.Template)
		}
		if !template.IsTemplate() {
			return "", errors.Wrapf(ErrValidation, "topic '%s' is not a template", t.Template)
		}
	}

	if err := db.backend.InsertTopic(ctx, t, opts.Overwrite); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return "", errors.Wrap(err, DuplicateTopicID(t.ID))
		}
		return "", errors.Wrapf(err, "problem inserting topic '%s'", t.ID)
	}

	grip.Debug(message.Fields{
		"message":  "added topic",
		"id":       t.ID,
		"name":     t.Name,
		"type":     t.Type,
		"template": t.Template,
	})

	return t.ID, nil
}

// AddData stores a data point for the topic and returns its timestamp.
// The values must match the fields of the resolved topic.
func (db *DB) AddData(ctx context.Context, id string, values map[string]interface{}, opts AddDataOptions) (time.Time, error) {
	t, err := db.GetTopic(ctx, id)
	if err != nil {
		return time.Time{}, errors.WithStack(err)
	}

	ts := opts.Timestamp
	if ts.IsZero() {
		ts = db.clock.next()
	}

	point, err := NewDataPoint(&t, values, ts.Truncate(time.Microsecond))
	if err != nil {
		return time.Time{}, errors.WithStack(err)
	}

	if err = db.backend.InsertData(ctx, point, opts.Overwrite); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return time.Time{}, errors.Wrap(err, DuplicateTimestamp(&t, point.Timestamp))
		}
		return time.Time{}, errors.Wrapf(err, "problem inserting data for topic '%s'", id)
	}

	return point.Timestamp, nil
}

// GetTopic returns the topic with its template values resolved.
func (db *DB) GetTopic(ctx context.Context, id string) (Topic, error) {
	t, err := db.backend.FindTopic(ctx, id)
	if err != nil {
		return Topic{}, errors.WithStack(err)
	}

	return ResolveTemplate(t, func(ref string) (Topic, error) {
		return db.backend.FindTopic(ctx, ref)
	})
}

// GetTopics returns the topics matching the filter with their template
// values resolved.
func (db *DB) GetTopics(ctx context.Context, filter TopicFilter) ([]Topic, error) {
	topics, err := db.backend.FindTopics(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "problem finding topics")
	}

	cache := map[string]Topic{}
	lookup := func(ref string) (Topic, error) {
		if t, ok := cache[ref]; ok {
			return t, nil
		}
		t, err := db.backend.FindTopic(ctx, ref)
		if err != nil {
			return Topic{}, err
		}
		cache[ref] = t
		return t, nil
	}

	out := make([]Topic, 0, len(topics))
	for _, t := range topics {
		resolved, err := ResolveTemplate(t, lookup)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, resolved)
	}
	return out, nil
}

// GetData returns the data points of the topic matching the query in
// ascending timestamp order.
func (db *DB) GetData(ctx context.Context, id string, query DataQuery) ([]DataPoint, error) {
	if err := query.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}

	data, err := db.backend.FindData(ctx, id, query)
	if err != nil {
		return nil, errors.Wrapf(err, "problem finding data for topic '%s'", id)
	}
	return data, nil
}

// GetLatest returns the most recent data point of the topic.
func (db *DB) GetLatest(ctx context.Context, id string) (DataPoint, error) {
	data, err := db.GetData(ctx, id, DataQuery{Limit: 1})
	if err != nil {
		return DataPoint{}, errors.WithStack(err)
	}
	if len(data) == 0 {
		return DataPoint{}, errors.Wrapf(ErrNotFound, "topic '%s' has no data", id)
	}
	return data[len(data)-1], nil
}

// Close releases the backend.
func (db *DB) Close(ctx context.Context) error {
	return errors.Wrap(db.backend.Close(ctx), "problem closing storage backend")
}
