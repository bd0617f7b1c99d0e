// Package dict provides an in-memory storage backend. Topics may be
// backed up to a JSON file so that they survive restarts; data points
// are never persisted.
package dict

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fdbk/fdbk"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Options configure the backend.
type Options struct {
	// TopicsBackup is the path of the JSON file topics are loaded from
	// and written to. A leading "~" is expanded to the home directory.
	TopicsBackup string
}

type backupFile struct {
	Topics []fdbk.Topic `json:"topics"`
}

// Backend keeps topics and data in memory.
type Backend struct {
	mu     sync.RWMutex
	topics []fdbk.Topic
	index  map[string]int
	data   map[string][]fdbk.DataPoint
	backup string
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "problem finding home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// New creates a backend, loading topics from the backup file when it
// exists.
func New(opts Options) (*Backend, error) {
	b := &Backend{
		index: map[string]int{},
		data:  map[string][]fdbk.DataPoint{},
	}

	if opts.TopicsBackup == "" {
		return b, nil
	}

	path, err := expandHome(opts.TopicsBackup)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	b.backup = path

	payload, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "problem reading topics backup '%s'", path)
	}

	file := backupFile{}
	if err = json.Unmarshal(payload, &file); err != nil {
		return nil, errors.Wrapf(err, "problem parsing topics backup '%s'", path)
	}
	for _, t := range file.Topics {
		b.index[t.ID] = len(b.topics)
		b.topics = append(b.topics, t.Clone())
		b.data[t.ID] = []fdbk.DataPoint{}
	}

	grip.Debug(message.Fields{
		"message": "loaded topics backup",
		"file":    path,
		"topics":  len(b.topics),
	})

	return b, nil
}

// writeBackup must be called with the lock held.
func (b *Backend) writeBackup() error {
	if b.backup == "" {
		return nil
	}

	payload, err := json.MarshalIndent(backupFile{Topics: b.topics}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "problem rendering topics backup")
	}
	if err = os.WriteFile(b.backup, payload, 0600); err != nil {
		return errors.Wrapf(err, "problem writing topics backup '%s'", b.backup)
	}
	return nil
}

func (b *Backend) InsertTopic(_ context.Context, t fdbk.Topic, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t = t.Clone()
	if idx, ok := b.index[t.ID]; ok {
		if !overwrite {
			return errors.Wrapf(fdbk.ErrDuplicate, "topic '%s' exists", t.ID)
		}
		b.topics[idx] = t
	} else {
		b.index[t.ID] = len(b.topics)
		b.topics = append(b.topics, t)
		b.data[t.ID] = []fdbk.DataPoint{}
	}

	return errors.WithStack(b.writeBackup())
}

func (b *Backend) InsertData(_ context.Context, point fdbk.DataPoint, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.data[point.TopicID]
	if !ok {
		return errors.Wrap(fdbk.ErrNotFound, fdbk.TopicNotFound(point.TopicID))
	}

	point = point.Clone()
	idx := sort.Search(len(data), func(i int) bool { return !data[i].Timestamp.Before(point.Timestamp) })
	if idx < len(data) && data[idx].Timestamp.Equal(point.Timestamp) {
		if !overwrite {
			return errors.Wrapf(fdbk.ErrDuplicate, "timestamp %s of topic '%s'", fdbk.FormatTimestamp(point.Timestamp), point.TopicID)
		}
		data[idx] = point
		return nil
	}

	data = append(data, fdbk.DataPoint{})
	copy(data[idx+1:], data[idx:])
	data[idx] = point
	b.data[point.TopicID] = data
	return nil
}

func (b *Backend) FindTopic(_ context.Context, id string) (fdbk.Topic, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	idx, ok := b.index[id]
	if !ok {
		return fdbk.Topic{}, errors.Wrap(fdbk.ErrNotFound, fdbk.TopicNotFound(id))
	}
	return b.topics[idx].Clone(), nil
}

func (b *Backend) FindTopics(_ context.Context, filter fdbk.TopicFilter) ([]fdbk.Topic, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []fdbk.Topic{}
	for idx := range b.topics {
		if filter.Match(&b.topics[idx]) {
			out = append(out, b.topics[idx].Clone())
		}
	}
	return out, nil
}

func (b *Backend) FindData(_ context.Context, id string, query fdbk.DataQuery) ([]fdbk.DataPoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.data[id]
	if !ok {
		return nil, errors.Wrap(fdbk.ErrNotFound, fdbk.TopicNotFound(id))
	}

	out := query.Apply(data)
	for idx := range out {
		out[idx] = out[idx].Clone()
	}
	return out, nil
}

func (b *Backend) Close(_ context.Context) error { return nil }
