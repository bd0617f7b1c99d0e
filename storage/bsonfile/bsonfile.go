// Package bsonfile stores topics and data points as streams of BSON
// documents in a directory. Topics live in a single file that is
// rewritten on every change, and every topic has its own data file that
// new points are appended to.
package bsonfile

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/evergreen-ci/birch"
	"github.com/fdbk/fdbk"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	topicsFileName = "topics.bson"
	dataDirName    = "data"
)

// Options configure the backend.
type Options struct {
	// Path of the storage directory. It is created when missing.
	Path string
}

// Validate checks the options.
func (opts Options) Validate() error {
	if opts.Path == "" {
		return errors.Wrap(fdbk.ErrValidation, "bsonfile storage requires a path")
	}
	return nil
}

// Backend is a file backed storage backend. It keeps the topics and an
// index of the stored timestamps in memory and reads data points from
// disk on every query.
type Backend struct {
	mu     sync.RWMutex
	dir    string
	topics []fdbk.Topic
	index  map[string]int
	stamps map[string]map[int64]struct{}
}

// New opens the storage directory, loading existing topics and indexing
// their data files.
func New(opts Options) (*Backend, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}

	b := &Backend{
		dir:    opts.Path,
		index:  map[string]int{},
		stamps: map[string]map[int64]struct{}{},
	}

	if err := os.MkdirAll(filepath.Join(b.dir, dataDirName), 0700); err != nil {
		return nil, errors.Wrapf(err, "problem creating storage directory '%s'", b.dir)
	}

	topics, err := readTopics(filepath.Join(b.dir, topicsFileName))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	for _, t := range topics {
		b.index[t.ID] = len(b.topics)
		b.topics = append(b.topics, t)

		points, err := b.readData(t.ID)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		stamps := make(map[int64]struct{}, len(points))
		for _, p := range points {
			stamps[p.Timestamp.UnixMicro()] = struct{}{}
		}
		b.stamps[t.ID] = stamps
	}

	grip.Debug(message.Fields{
		"message": "opened bson file storage",
		"path":    b.dir,
		"topics":  len(b.topics),
	})

	return b, nil
}

func readBufBSON(buf *bufio.Reader) (*birch.Document, error) {
	doc := birch.NewDocument()

	if _, err := doc.ReadFrom(buf); err != nil {
		return nil, err
	}

	return doc, nil
}

// readDocuments calls fn for every document of the file. Missing files
// have no documents.
func readDocuments(path string, fn func(*birch.Document) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "problem opening '%s'", path)
	}
	defer f.Close()

	buf := bufio.NewReader(f)
	for {
		doc, err := readBufBSON(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "problem reading document from '%s'", path)
		}
		if err = fn(doc); err != nil {
			return errors.WithStack(err)
		}
	}
}

// writeFile replaces the file through a temporary file in the same
// directory.
func writeFile(path string, fn func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return errors.Wrapf(err, "problem creating '%s'", tmp)
	}

	buf := bufio.NewWriter(f)
	catcher := grip.NewBasicCatcher()
	catcher.Add(fn(buf))
	catcher.Add(buf.Flush())
	catcher.Add(f.Close())
	if catcher.HasErrors() {
		catcher.Add(os.Remove(tmp))
		return errors.Wrapf(catcher.Resolve(), "problem writing '%s'", path)
	}

	return errors.Wrapf(os.Rename(tmp, path), "problem replacing '%s'", path)
}

func decodeTopic(doc *birch.Document) (fdbk.Topic, error) {
	raw, err := doc.MarshalBSON()
	if err != nil {
		return fdbk.Topic{}, errors.Wrap(err, "problem rendering topic document")
	}

	dec := bson.NewDecoder(bson.NewDocumentReader(bytes.NewReader(raw)))
	dec.DefaultDocumentM()

	t := fdbk.Topic{}
	if err = dec.Decode(&t); err != nil {
		return fdbk.Topic{}, errors.Wrap(err, "problem decoding topic document")
	}
	t.Normalize()
	return t, nil
}

func readTopics(path string) ([]fdbk.Topic, error) {
	topics := []fdbk.Topic{}
	err := readDocuments(path, func(doc *birch.Document) error {
		t, err := decodeTopic(doc)
		if err != nil {
			return errors.WithStack(err)
		}
		topics = append(topics, t)
		return nil
	})
	return topics, errors.WithStack(err)
}

// writeTopics must be called with the lock held.
func (b *Backend) writeTopics() error {
	return writeFile(filepath.Join(b.dir, topicsFileName), func(w io.Writer) error {
		for _, t := range b.topics {
			raw, err := bson.Marshal(t)
			if err != nil {
				return errors.Wrapf(err, "problem encoding topic '%s'", t.ID)
			}
			if _, err = w.Write(raw); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

func (b *Backend) dataPath(id string) string {
	return filepath.Join(b.dir, dataDirName, url.PathEscape(id)+".bson")
}

func encodePoint(p fdbk.DataPoint) (*birch.Document, error) {
	values, err := birch.DC.MapInterfaceErr(p.Values)
	if err != nil {
		return nil, errors.Wrapf(err, "problem encoding values of topic '%s'", p.TopicID)
	}

	return birch.NewDocument(
		birch.EC.String("topic_id", p.TopicID),
		birch.EC.Int64("ts", p.Timestamp.UnixMicro()),
		birch.EC.SubDocument("values", values),
	), nil
}

func decodePoint(doc *birch.Document) (fdbk.DataPoint, error) {
	idValue := doc.Lookup("topic_id")
	tsValue := doc.Lookup("ts")
	valuesValue := doc.Lookup("values")
	if idValue == nil || tsValue == nil || valuesValue == nil {
		return fdbk.DataPoint{}, errors.New("data document is incomplete")
	}

	id, ok := idValue.StringValueOK()
	if !ok {
		return fdbk.DataPoint{}, errors.New("topic id of data document is not a string")
	}
	ts, ok := tsValue.Int64OK()
	if !ok {
		return fdbk.DataPoint{}, errors.New("timestamp of data document is not an int64")
	}
	values, ok := valuesValue.MutableDocumentOK()
	if !ok {
		return fdbk.DataPoint{}, errors.New("values of data document are not a document")
	}

	return fdbk.DataPoint{
		TopicID:   id,
		Timestamp: time.UnixMicro(ts).UTC(),
		Values:    values.ExportMap(),
	}, nil
}

func (b *Backend) readData(id string) ([]fdbk.DataPoint, error) {
	points := []fdbk.DataPoint{}
	err := readDocuments(b.dataPath(id), func(doc *birch.Document) error {
		p, err := decodePoint(doc)
		if err != nil {
			return errors.WithStack(err)
		}
		points = append(points, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "problem reading data of topic '%s'", id)
	}
	fdbk.SortData(points)
	return points, nil
}

func (b *Backend) writeData(id string, points []fdbk.DataPoint) error {
	return writeFile(b.dataPath(id), func(w io.Writer) error {
		for _, p := range points {
			doc, err := encodePoint(p)
			if err != nil {
				return errors.WithStack(err)
			}
			if _, err = doc.WriteTo(w); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

func (b *Backend) appendData(p fdbk.DataPoint) error {
	doc, err := encodePoint(p)
	if err != nil {
		return errors.WithStack(err)
	}

	return appendFile(b.dataPath(p.TopicID), func(w io.Writer) error {
		_, err := doc.WriteTo(w)
		return errors.WithStack(err)
	})
}

// appendFile writes to the end of the file. A failed write is truncated
// away so the file keeps ending on a complete document.
func appendFile(path string, fn func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return errors.Wrapf(err, "problem opening '%s'", path)
	}

	info, err := f.Stat()
	if err != nil {
		catcher := grip.NewBasicCatcher()
		catcher.Add(err)
		catcher.Add(f.Close())
		return errors.Wrapf(catcher.Resolve(), "problem inspecting '%s'", path)
	}

	catcher := grip.NewBasicCatcher()
	if err = fn(f); err != nil {
		catcher.Add(err)
		catcher.Wrapf(f.Truncate(info.Size()), "problem restoring '%s'", path)
	}
	catcher.Add(f.Close())
	return errors.Wrapf(catcher.Resolve(), "problem appending to '%s'", path)
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
		b.stamps[t.ID] = map[int64]struct{}{}
	}

	return errors.WithStack(b.writeTopics())
}

func (b *Backend) InsertData(_ context.Context, point fdbk.DataPoint, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stamps, ok := b.stamps[point.TopicID]
	if !ok {
		return errors.Wrap(fdbk.ErrNotFound, fdbk.TopicNotFound(point.TopicID))
	}

	ts := point.Timestamp.UnixMicro()
	if _, ok = stamps[ts]; !ok {
		if err := b.appendData(point); err != nil {
			return errors.WithStack(err)
		}
		stamps[ts] = struct{}{}
		return nil
	}

	if !overwrite {
		return errors.Wrapf(fdbk.ErrDuplicate, "timestamp %s of topic '%s'", fdbk.FormatTimestamp(point.Timestamp), point.TopicID)
	}

	points, err := b.readData(point.TopicID)
	if err != nil {
		return errors.WithStack(err)
	}
	for idx := range points {
		if points[idx].Timestamp.UnixMicro() == ts {
			points[idx] = point
		}
	}
	return errors.WithStack(b.writeData(point.TopicID, points))
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

func (b *Backend) FindData(ctx context.Context, id string, query fdbk.DataQuery) ([]fdbk.DataPoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.index[id]; !ok {
		return nil, errors.Wrap(fdbk.ErrNotFound, fdbk.TopicNotFound(id))
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	points, err := b.readData(id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return query.Apply(points), nil
}

func (b *Backend) Close(_ context.Context) error { return nil }
