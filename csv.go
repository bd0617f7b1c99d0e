package fdbk

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func csvFieldNames(t *Topic) []string {
	names := make([]string, 0, len(t.Fields)+1)
	names = append(names, "timestamp")
	return append(names, t.Fields...)
}

func csvValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		out, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(out)
	}
}

func csvRecord(t *Topic, point DataPoint) []string {
	record := make([]string, 0, len(t.Fields)+1)
	record = append(record, FormatTimestamp(point.Timestamp))
	for _, f := range t.Fields {
		record = append(record, csvValue(point.Values[f]))
	}
	return record
}

// WriteCSV exports the data points of a topic as CSV with a header row
// holding "timestamp" followed by the topic fields.
func WriteCSV(t Topic, data []DataPoint, writer io.Writer) error {
	csvw := csv.NewWriter(writer)
	if err := csvw.Write(csvFieldNames(&t)); err != nil {
		return errors.Wrap(err, "problem writing field names")
	}

	for idx, point := range data {
		if err := csvw.Write(csvRecord(&t, point)); err != nil {
			return errors.Wrapf(err, "problem writing csv record %d of %d", idx, len(data))
		}
	}

	csvw.Flush()
	return errors.Wrap(csvw.Error(), "problem flushing csv data")
}

func csvFileName(prefix string, t *Topic) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, t.Name)
	return fmt.Sprintf("%s.%s.%s.csv", prefix, name, t.ID)
}

// DumpCSV writes the data of every listed topic (all non-template topics
// when ids is empty) to its own CSV file.
//
// The file names are constructed as "prefix.<name>.<id>.csv".
func DumpCSV(ctx context.Context, db *DB, ids []string, query DataQuery, prefix string) ([]string, error) {
	var topics []Topic
	if len(ids) == 0 {
		all, err := db.GetTopics(ctx, TopicFilter{})
		if err != nil {
			return nil, errors.WithStack(err)
		}
		for _, t := range all {
			if !t.IsTemplate() {
				topics = append(topics, t)
			}
		}
	} else {
		for _, id := range ids {
			t, err := db.GetTopic(ctx, id)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			topics = append(topics, t)
		}
	}

	files := make([]string, 0, len(topics))
	for idx := range topics {
		t := topics[idx]
		data, err := db.GetData(ctx, t.ID, query)
		if err != nil {
			return files, errors.WithStack(err)
		}

		fn := csvFileName(prefix, &t)
		writer, err := os.Create(fn)
		if err != nil {
			return files, errors.Wrapf(err, "problem opening file %s", fn)
		}

		if err = WriteCSV(t, data, writer); err != nil {
			_ = writer.Close()
			return files, errors.Wrapf(err, "problem writing topic '%s'", t.ID)
		}
		if err = writer.Close(); err != nil {
			return files, errors.Wrap(err, "problem writing files to disk")
		}
		files = append(files, fn)
	}

	return files, nil
}
