package fdbk

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// mapBackend is a minimal Backend for tests of the root package, which
// cannot import the storage packages.
type mapBackend struct {
	mu     sync.Mutex
	topics map[string]Topic
	data   map[string][]DataPoint
	closed bool
}

func newMapBackend() *mapBackend {
	return &mapBackend{
		topics: map[string]Topic{},
		data:   map[string][]DataPoint{},
	}
}

func (b *mapBackend) InsertTopic(_ context.Context, t Topic, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[t.ID]; ok && !overwrite {
		return errors.WithStack(ErrDuplicate)
	}
	b.topics[t.ID] = t.Clone()
	return nil
}

func (b *mapBackend) InsertData(_ context.Context, point DataPoint, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[point.TopicID]; !ok {
		return errors.Wrapf(ErrNotFound, "topic '%s'", point.TopicID)
	}
	points := b.data[point.TopicID]
	for idx := range points {
		if points[idx].Timestamp.Equal(point.Timestamp) {
			if !overwrite {
				return errors.WithStack(ErrDuplicate)
			}
			points[idx] = point.Clone()
			return nil
		}
	}
	points = append(points, point.Clone())
	SortData(points)
	b.data[point.TopicID] = points
	return nil
}

func (b *mapBackend) FindTopic(_ context.Context, id string) (Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		return Topic{}, errors.Wrapf(ErrNotFound, "topic '%s'", id)
	}
	return t.Clone(), nil
}

func (b *mapBackend) FindTopics(_ context.Context, filter TopicFilter) ([]Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := []Topic{}
	for _, t := range b.topics {
		if filter.Match(&t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (b *mapBackend) FindData(_ context.Context, id string, query DataQuery) ([]DataPoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[id]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "topic '%s'", id)
	}
	return query.Apply(b.data[id]), nil
}

func (b *mapBackend) Close(_ context.Context) error {
	b.closed = true
	return nil
}

var testEpoch = time.Date(2020, 8, 23, 12, 0, 0, 0, time.UTC)

func newTestDB() (*DB, *mapBackend) {
	b := newMapBackend()
	return New(b), b
}

// fixedClock returns a clock function that always reports the same
// instant.
func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}
