// Package storagetest holds the behavior every storage backend must
// share. Backend packages run the suite from their own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/fdbk/fdbk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Constructor returns an empty backend. The suite closes it.
type Constructor func(t *testing.T) fdbk.Backend

func newDB(t *testing.T, constructor Constructor) (context.Context, *fdbk.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	db := fdbk.New(constructor(t))
	t.Cleanup(func() { assert.NoError(t, db.Close(context.Background())) })
	return ctx, db
}

func addNumberTopic(ctx context.Context, t *testing.T, db *fdbk.DB) string {
	id, err := db.AddTopic(ctx, fdbk.Topic{
		Name:        "topic",
		Description: "description",
		Fields:      []string{"number"},
	}, fdbk.AddTopicOptions{})
	require.NoError(t, err)
	return id
}

// Run executes the suite against backends built by the constructor.
func Run(t *testing.T, constructor Constructor) {
	for name, test := range map[string]func(context.Context, *testing.T, *fdbk.DB){
		"AddTopicAffectsGetTopic": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			id, err := db.AddTopic(ctx, fdbk.Topic{Name: "topic"}, fdbk.AddTopicOptions{})
			require.NoError(t, err)
			assert.NotEmpty(t, id)

			topic, err := db.GetTopic(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "topic", topic.Name)
			assert.Equal(t, id, topic.ID)

			topics, err := db.GetTopics(ctx, fdbk.TopicFilter{})
			require.NoError(t, err)
			require.Len(t, topics, 1)
			assert.Equal(t, "topic", topics[0].Name)
		},
		"TopicRoundTrip": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			in := fdbk.Topic{
				ID:          "weather",
				Name:        "Weather",
				Type:        "sensor",
				Description: "outdoor readings",
				Fields:      []string{"temperature", "raining"},
				Units:       []fdbk.Unit{{Field: "temperature", Unit: "celsius"}},
				DataTools: []fdbk.DataTool{
					{Method: "line", Field: "temperature"},
					{Method: "list_item", Field: "raining", Parameters: &fdbk.Parameters{Name: "Rain", Method: "last_truthy"}},
					{Method: "status", Field: "temperature", Parameters: &fdbk.Parameters{
						Default: "OK",
						Checks:  []fdbk.Check{{Status: "HOT", Gte: "30"}},
					}},
				},
				Metadata: map[string]interface{}{"location": "roof"},
			}
			id, err := db.AddTopic(ctx, in, fdbk.AddTopicOptions{})
			require.NoError(t, err)
			assert.Equal(t, "weather", id)

			out, err := db.GetTopic(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, in.Name, out.Name)
			assert.Equal(t, in.Type, out.Type)
			assert.Equal(t, in.Description, out.Description)
			assert.Equal(t, in.Fields, out.Fields)
			assert.Equal(t, in.Units, out.Units)
			require.Len(t, out.DataTools, 3)
			assert.Equal(t, in.DataTools[1], out.DataTools[1])
			require.NotNil(t, out.DataTools[2].Parameters)
			assert.Equal(t, "OK", out.DataTools[2].Parameters.Default)
			require.Len(t, out.DataTools[2].Parameters.Checks, 1)
			assert.Equal(t, "30", out.DataTools[2].Parameters.Checks[0].Gte)
			assert.Equal(t, "roof", out.Metadata["location"])
		},
		"DuplicateTopicID": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			_, err := db.AddTopic(ctx, fdbk.Topic{ID: "a", Name: "first"}, fdbk.AddTopicOptions{})
			require.NoError(t, err)

			_, err = db.AddTopic(ctx, fdbk.Topic{ID: "a", Name: "second"}, fdbk.AddTopicOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrDuplicate)
			assert.ErrorIs(t, err, fdbk.ErrValidation)
			assert.Contains(t, err.Error(), fdbk.DuplicateTopicID("a"))

			_, err = db.AddTopic(ctx, fdbk.Topic{ID: "a", Name: "second"}, fdbk.AddTopicOptions{Overwrite: true})
			require.NoError(t, err)
			topic, err := db.GetTopic(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "second", topic.Name)

			topics, err := db.GetTopics(ctx, fdbk.TopicFilter{})
			require.NoError(t, err)
			assert.Len(t, topics, 1)
		},
		"CannotAddDataToUndefinedTopic": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			_, err := db.AddData(ctx, "topic_id", map[string]interface{}{"key": "value"}, fdbk.AddDataOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrNotFound)
		},
		"CannotAddDataWithNonMatchingNumberOfFields": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			id := addNumberTopic(ctx, t, db)
			_, err := db.AddData(ctx, id, map[string]interface{}{"key1": "value1", "key2": "value2"}, fdbk.AddDataOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrValidation)
		},
		"CannotAddDataWithNonMatchingFields": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			id := addNumberTopic(ctx, t, db)
			_, err := db.AddData(ctx, id, map[string]interface{}{"key": "value"}, fdbk.AddDataOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrValidation)
		},
		"AddDataAffectsGetData": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			id := addNumberTopic(ctx, t, db)
			ts, err := db.AddData(ctx, id, map[string]interface{}{"number": 3}, fdbk.AddDataOptions{})
			require.NoError(t, err)

			data, err := db.GetData(ctx, id, fdbk.DataQuery{})
			require.NoError(t, err)
			require.Len(t, data, 1)
			assert.EqualValues(t, 3, data[0].Values["number"])
			assert.Equal(t, id, data[0].TopicID)
			assert.True(t, ts.Equal(data[0].Timestamp), "%s != %s", ts, data[0].Timestamp)
		},
		"AssignedTimestampsIncrease": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			id := addNumberTopic(ctx, t, db)
			var last time.Time
			for i := 0; i < 20; i++ {
				ts, err := db.AddData(ctx, id, map[string]interface{}{"number": i}, fdbk.AddDataOptions{})
				require.NoError(t, err)
				assert.True(t, ts.After(last))
				last = ts
			}

			data, err := db.GetData(ctx, id, fdbk.DataQuery{})
			require.NoError(t, err)
			require.Len(t, data, 20)
			for i, point := range data {
				assert.EqualValues(t, i, point.Values["number"])
			}
		},
		"CannotGetUndefinedTopic": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			_, err := db.GetTopic(ctx, "topic_id")
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrNotFound)
		},
		"CannotGetDataOfUndefinedTopic": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			_, err := db.GetData(ctx, "topic_id", fdbk.DataQuery{})
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrNotFound)
		},
		"SinceUntilLimit": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			id := addNumberTopic(ctx, t, db)
			at := func(minute int) time.Time { return time.Date(2020, 1, 1, 1, minute, 0, 0, time.UTC) }

			// inserted out of order on purpose
			for _, i := range []int{9, 0, 5, 1, 2, 3, 4, 6, 8, 7} {
				_, err := db.AddData(ctx, id, map[string]interface{}{"number": i}, fdbk.AddDataOptions{Timestamp: at(i)})
				require.NoError(t, err)
			}

			data, err := db.GetData(ctx, id, fdbk.DataQuery{Since: at(5)})
			require.NoError(t, err)
			require.Len(t, data, 5)
			assert.Equal(t, "2020-01-01T01:05:00.000000Z", fdbk.FormatTimestamp(data[0].Timestamp))

			data, err = db.GetData(ctx, id, fdbk.DataQuery{Until: at(5)})
			require.NoError(t, err)
			require.Len(t, data, 6)
			assert.True(t, at(0).Equal(data[0].Timestamp))
			assert.True(t, at(5).Equal(data[5].Timestamp))

			data, err = db.GetData(ctx, id, fdbk.DataQuery{Limit: 5})
			require.NoError(t, err)
			require.Len(t, data, 5)
			assert.True(t, at(5).Equal(data[0].Timestamp))
			assert.True(t, at(9).Equal(data[4].Timestamp))

			data, err = db.GetData(ctx, id, fdbk.DataQuery{Since: at(2), Until: at(7), Limit: 2})
			require.NoError(t, err)
			require.Len(t, data, 2)
			assert.True(t, at(6).Equal(data[0].Timestamp))

			latest, err := db.GetLatest(ctx, id)
			require.NoError(t, err)
			assert.EqualValues(t, 9, latest.Values["number"])
		},
		"GetLatestWithoutData": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			id := addNumberTopic(ctx, t, db)
			_, err := db.GetLatest(ctx, id)
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrNotFound)
		},
		"DuplicateTimestamp": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			id := addNumberTopic(ctx, t, db)
			ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

			_, err := db.AddData(ctx, id, map[string]interface{}{"number": 1}, fdbk.AddDataOptions{Timestamp: ts})
			require.NoError(t, err)

			_, err = db.AddData(ctx, id, map[string]interface{}{"number": 2}, fdbk.AddDataOptions{Timestamp: ts})
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrValidation)
			assert.Contains(t, err.Error(), "already has data for given timestamp (2020-01-01T00:00:00.000000Z)")

			_, err = db.AddData(ctx, id, map[string]interface{}{"number": 2}, fdbk.AddDataOptions{Timestamp: ts, Overwrite: true})
			require.NoError(t, err)

			data, err := db.GetData(ctx, id, fdbk.DataQuery{})
			require.NoError(t, err)
			require.Len(t, data, 1)
			assert.EqualValues(t, 2, data[0].Values["number"])
		},
		"Templates": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			templateID, err := db.AddTopic(ctx, fdbk.Topic{
				Name:      "template",
				Type:      fdbk.TemplateType,
				Fields:    []string{"number"},
				Units:     []fdbk.Unit{{Field: "number", Unit: "kg"}},
				DataTools: []fdbk.DataTool{{Method: "average", Field: "number"}},
			}, fdbk.AddTopicOptions{})
			require.NoError(t, err)

			id, err := db.AddTopic(ctx, fdbk.Topic{
				Name:        "child",
				Description: "inherits",
				Template:    templateID,
			}, fdbk.AddTopicOptions{})
			require.NoError(t, err)

			topic, err := db.GetTopic(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "child", topic.Name)
			assert.Equal(t, "inherits", topic.Description)
			assert.Equal(t, []string{"number"}, topic.Fields)
			assert.Equal(t, "kg", topic.UnitOf("number"))
			assert.Len(t, topic.DataTools, 1)
			assert.False(t, topic.IsTemplate())

			_, err = db.AddData(ctx, id, map[string]interface{}{"number": 1}, fdbk.AddDataOptions{})
			require.NoError(t, err)

			_, err = db.AddData(ctx, templateID, map[string]interface{}{"number": 1}, fdbk.AddDataOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrValidation)

			templates, err := db.GetTopics(ctx, fdbk.TopicFilter{Type: fdbk.TemplateType})
			require.NoError(t, err)
			require.Len(t, templates, 1)
			assert.Equal(t, templateID, templates[0].ID)

			children, err := db.GetTopics(ctx, fdbk.TopicFilter{Template: templateID})
			require.NoError(t, err)
			require.Len(t, children, 1)
			assert.Equal(t, []string{"number"}, children[0].Fields)
		},
		"TemplateMustExist": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			_, err := db.AddTopic(ctx, fdbk.Topic{Name: "child", Template: "missing"}, fdbk.AddTopicOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrNotFound)
		},
		"TemplateMustBeTemplate": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			id := addNumberTopic(ctx, t, db)
			_, err := db.AddTopic(ctx, fdbk.Topic{Name: "child", Template: id}, fdbk.AddTopicOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrValidation)
		},
		"InvalidTopic": func(ctx context.Context, t *testing.T, db *fdbk.DB) {
			_, err := db.AddTopic(ctx, fdbk.Topic{Name: "bad", Fields: []string{"a", "a"}}, fdbk.AddTopicOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, fdbk.ErrValidation)

			topics, err := db.GetTopics(ctx, fdbk.TopicFilter{})
			require.NoError(t, err)
			assert.Empty(t, topics)
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctx, db := newDB(t, constructor)
			test(ctx, t, db)
		})
	}
}
