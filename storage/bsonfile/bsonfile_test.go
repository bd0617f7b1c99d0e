package bsonfile

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fdbk/fdbk"
	"github.com/fdbk/fdbk/storage/storagetest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) fdbk.Backend {
		b, err := New(Options{Path: t.TempDir()})
		require.NoError(t, err)
		return b
	})
}

func TestOptions(t *testing.T) {
	assert.ErrorIs(t, Options{}.Validate(), fdbk.ErrValidation)
	assert.NoError(t, Options{Path: "data"}.Validate())

	_, err := New(Options{})
	assert.Error(t, err)
}

func TestReopen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir := t.TempDir()
	b, err := New(Options{Path: dir})
	require.NoError(t, err)
	db := fdbk.New(b)

	id, err := db.AddTopic(ctx, fdbk.Topic{
		ID:       "topic/with/slashes",
		Name:     "topic",
		Fields:   []string{"number", "letter", "flag"},
		Metadata: map[string]interface{}{"owner": "ops"},
	}, fdbk.AddTopicOptions{})
	require.NoError(t, err)

	start := time.Date(2020, 1, 1, 0, 0, 0, 123456000, time.UTC)
	for i := 0; i < 5; i++ {
		_, err = db.AddData(ctx, id, map[string]interface{}{
			"number": i,
			"letter": string(rune('A' + i)),
			"flag":   i%2 == 0,
		}, fdbk.AddDataOptions{Timestamp: start.Add(time.Duration(4-i) * time.Second)})
		require.NoError(t, err)
	}
	_, err = db.AddData(ctx, id, map[string]interface{}{"number": 2.5, "letter": "Z", "flag": false},
		fdbk.AddDataOptions{Timestamp: start.Add(2 * time.Second), Overwrite: true})
	require.NoError(t, err)
	require.NoError(t, db.Close(ctx))

	_, err = os.Stat(filepath.Join(dir, topicsFileName))
	require.NoError(t, err)

	reopened, err := New(Options{Path: dir})
	require.NoError(t, err)
	db = fdbk.New(reopened)

	topic, err := db.GetTopic(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"number", "letter", "flag"}, topic.Fields)
	assert.Equal(t, "ops", topic.Metadata["owner"])

	data, err := db.GetData(ctx, id, fdbk.DataQuery{})
	require.NoError(t, err)
	require.Len(t, data, 5)
	for idx, point := range data {
		assert.True(t, start.Add(time.Duration(idx)*time.Second).Equal(point.Timestamp))
	}
	assert.EqualValues(t, 4, data[0].Values["number"])
	assert.Equal(t, "E", data[0].Values["letter"])
	assert.Equal(t, true, data[0].Values["flag"])
	assert.Equal(t, 2.5, data[2].Values["number"])
	assert.Equal(t, "Z", data[2].Values["letter"])

	_, err = db.AddData(ctx, id, map[string]interface{}{"number": 9, "letter": "Q", "flag": true},
		fdbk.AddDataOptions{Timestamp: start})
	require.Error(t, err)
	assert.ErrorIs(t, err, fdbk.ErrDuplicate)
}

func TestCorruptDataFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := New(Options{Path: dir})
	require.NoError(t, err)
	require.NoError(t, b.InsertTopic(ctx, fdbk.Topic{ID: "a", Name: "a", Fields: []string{"number"}}, false))

	require.NoError(t, os.WriteFile(b.dataPath("a"), []byte{0x20, 0x00, 0x00, 0x00, 0x01}, 0600))

	_, err = b.FindData(ctx, "a", fdbk.DataQuery{})
	assert.Error(t, err)

	_, err = New(Options{Path: dir})
	assert.Error(t, err)
}

func TestFailedAppendIsRolledBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := New(Options{Path: dir})
	require.NoError(t, err)
	require.NoError(t, b.InsertTopic(ctx, fdbk.Topic{ID: "a", Name: "a", Fields: []string{"number"}}, false))

	start := time.Date(2020, 8, 23, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		require.NoError(t, b.InsertData(ctx, fdbk.DataPoint{
			TopicID:   "a",
			Timestamp: start.Add(time.Duration(i) * time.Second),
			Values:    map[string]interface{}{"number": int64(i)},
		}, false))
	}

	path := b.dataPath("a")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	doc, err := encodePoint(fdbk.DataPoint{
		TopicID:   "a",
		Timestamp: start.Add(time.Minute),
		Values:    map[string]interface{}{"number": int64(7)},
	})
	require.NoError(t, err)
	encoded, err := doc.MarshalBSON()
	require.NoError(t, err)

	err = appendFile(path, func(w io.Writer) error {
		if _, err := w.Write(encoded[:len(encoded)/2]); err != nil {
			return err
		}
		return errors.New("disk full")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	reopened, err := New(Options{Path: dir})
	require.NoError(t, err)
	data, err := reopened.FindData(ctx, "a", fdbk.DataQuery{})
	require.NoError(t, err)
	assert.Len(t, data, 2)
}
