package fdbk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectJSONOptions(t *testing.T) {
	for _, test := range []struct {
		name  string
		valid bool
		opts  CollectJSONOptions
	}{
		{
			name:  "Nil",
			valid: false,
		},
		{
			name:  "FileWithIoReader",
			valid: false,
			opts: CollectJSONOptions{
				FileName:    "foo",
				InputSource: &bytes.Buffer{},
			},
		},
		{
			name:  "JustIoReader",
			valid: true,
			opts: CollectJSONOptions{
				InputSource: &bytes.Buffer{},
			},
		},
		{
			name:  "JustFile",
			valid: true,
			opts: CollectJSONOptions{
				FileName: "foo",
			},
		},
		{
			name:  "FileWithFollow",
			valid: true,
			opts: CollectJSONOptions{
				FileName: "foo",
				Follow:   true,
			},
		},
		{
			name:  "ReaderWithFollow",
			valid: false,
			opts: CollectJSONOptions{
				InputSource: &bytes.Buffer{},
				Follow:      true,
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if test.valid {
				assert.NoError(t, test.opts.Validate())
			} else {
				assert.Error(t, test.opts.Validate())
			}
		})
	}
}

func makeDataDocuments(num int, topicID string) ([][]byte, error) {
	out := [][]byte{}

	for i := 0; i < num; i++ {
		point := DataPoint{
			TopicID:   topicID,
			Timestamp: testEpoch.Add(time.Duration(i) * time.Second),
			Values: map[string]interface{}{
				"number": i,
				"letter": string(rune('a' + i%26)),
			},
		}
		data, err := json.Marshal(point)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, data)
	}

	return out, nil
}

func writeStream(docs [][]byte, writer io.Writer) error {
	for _, doc := range docs {
		_, err := writer.Write(doc)
		if err != nil {
			return err
		}

		_, err = writer.Write([]byte("\n"))
		if err != nil {
			return err
		}
	}
	return nil
}

func newJSONTestDB(t *testing.T) *DB {
	db, _ := newTestDB()
	for _, id := range []string{"a", "b"} {
		_, err := db.AddTopic(context.Background(), Topic{
			ID:     id,
			Name:   strings.ToUpper(id),
			Fields: []string{"number", "letter"},
		}, AddTopicOptions{})
		require.NoError(t, err)
	}
	return db
}

func countData(t *testing.T, db *DB, id string) int {
	data, err := db.GetData(context.Background(), id, DataQuery{})
	require.NoError(t, err)
	return len(data)
}

func TestCollectJSON(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	hundredDocs, err := makeDataDocuments(100, "")
	require.NoError(t, err)

	t.Run("SingleReaderIdealCase", func(t *testing.T) {
		db := newJSONTestDB(t)
		buf := &bytes.Buffer{}
		require.NoError(t, writeStream(hundredDocs, buf))

		count, err := CollectJSONStream(ctx, db, CollectJSONOptions{
			TopicID:     "a",
			InputSource: bytes.NewReader(buf.Bytes()),
		})
		assert.NoError(t, err)
		assert.Equal(t, 100, count)
		assert.Equal(t, 100, countData(t, db, "a"))

		latest, err := db.GetLatest(ctx, "a")
		require.NoError(t, err)
		assert.EqualValues(t, 99, latest.Value("number"))
		assert.True(t, testEpoch.Add(99*time.Second).Equal(latest.Timestamp))
	})
	t.Run("TopicPerLine", func(t *testing.T) {
		db := newJSONTestDB(t)
		docsA, err := makeDataDocuments(3, "a")
		require.NoError(t, err)
		docsB, err := makeDataDocuments(2, "b")
		require.NoError(t, err)

		buf := &bytes.Buffer{}
		require.NoError(t, writeStream(append(docsA, docsB...), buf))

		count, err := CollectJSONStream(ctx, db, CollectJSONOptions{InputSource: buf})
		assert.NoError(t, err)
		assert.Equal(t, 5, count)
		assert.Equal(t, 3, countData(t, db, "a"))
		assert.Equal(t, 2, countData(t, db, "b"))
	})
	t.Run("MismatchedTopic", func(t *testing.T) {
		db := newJSONTestDB(t)
		docs, err := makeDataDocuments(1, "b")
		require.NoError(t, err)
		buf := &bytes.Buffer{}
		require.NoError(t, writeStream(docs, buf))

		_, err = CollectJSONStream(ctx, db, CollectJSONOptions{TopicID: "a", InputSource: buf})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
	})
	t.Run("MissingTopic", func(t *testing.T) {
		db := newJSONTestDB(t)
		_, err := CollectJSONStream(ctx, db, CollectJSONOptions{
			InputSource: strings.NewReader(`{"number": 1, "letter": "a"}`),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
	})
	t.Run("SingleReaderBotchedDocument", func(t *testing.T) {
		db := newJSONTestDB(t)
		docs, err := makeDataDocuments(10, "")
		require.NoError(t, err)
		docs[2] = docs[len(docs)-1][1:] // break the document

		buf := &bytes.Buffer{}
		require.NoError(t, writeStream(docs, buf))

		count, err := CollectJSONStream(ctx, db, CollectJSONOptions{
			TopicID:     "a",
			InputSource: bytes.NewReader(buf.Bytes()),
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "line 3")
		assert.Equal(t, 2, count)
	})
	t.Run("SkipInvalid", func(t *testing.T) {
		db := newJSONTestDB(t)
		docs, err := makeDataDocuments(10, "")
		require.NoError(t, err)
		docs[2] = docs[len(docs)-1][1:]
		docs[5] = []byte(`{"number": 1}`)

		buf := &bytes.Buffer{}
		require.NoError(t, writeStream(docs, buf))
		buf.WriteString("\n\n")

		count, err := CollectJSONStream(ctx, db, CollectJSONOptions{
			TopicID:     "a",
			InputSource: buf,
			SkipInvalid: true,
		})
		assert.NoError(t, err)
		assert.Equal(t, 8, count)
	})
	t.Run("Overwrite", func(t *testing.T) {
		db := newJSONTestDB(t)
		docs, err := makeDataDocuments(3, "a")
		require.NoError(t, err)
		buf := &bytes.Buffer{}
		require.NoError(t, writeStream(append(docs, docs...), buf))

		_, err = CollectJSONStream(ctx, db, CollectJSONOptions{InputSource: bytes.NewReader(buf.Bytes())})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicate))

		count, err := CollectJSONStream(ctx, db, CollectJSONOptions{
			InputSource: bytes.NewReader(buf.Bytes()),
			Overwrite:   true,
		})
		assert.NoError(t, err)
		assert.Equal(t, 6, count)
		assert.Equal(t, 3, countData(t, db, "a"))
	})
	t.Run("ReadFromFile", func(t *testing.T) {
		db := newJSONTestDB(t)
		fn := filepath.Join(dir, "json-read-file-one")
		f, err := os.Create(fn)
		require.NoError(t, err)

		require.NoError(t, writeStream(hundredDocs, f))
		require.NoError(t, f.Close())

		count, err := CollectJSONStream(ctx, db, CollectJSONOptions{
			TopicID:  "b",
			FileName: fn,
		})
		assert.NoError(t, err)
		assert.Equal(t, 100, count)
	})
	t.Run("MissingFile", func(t *testing.T) {
		db := newJSONTestDB(t)
		_, err := CollectJSONStream(ctx, db, CollectJSONOptions{
			TopicID:  "b",
			FileName: filepath.Join(dir, "does-not-exist"),
		})
		assert.Error(t, err)
	})
	t.Run("FollowFile", func(t *testing.T) {
		db := newJSONTestDB(t)
		fn := filepath.Join(dir, "json-read-file-two")
		f, err := os.Create(fn)
		require.NoError(t, err)

		go func() {
			time.Sleep(10 * time.Millisecond)
			if err := writeStream(hundredDocs, f); err != nil {
				panic(fmt.Sprintf("problem writing stream: %s", err))
			}
			_ = f.Close()
		}()

		tctx, tcancel := context.WithTimeout(ctx, 250*time.Millisecond)
		defer tcancel()

		_, err = CollectJSONStream(tctx, db, CollectJSONOptions{
			TopicID:  "a",
			FileName: fn,
			Follow:   true,
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "operation aborted")
	})
}
