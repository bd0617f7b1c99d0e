package fdbk

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamps(t *testing.T) {
	ts := time.Date(2020, 1, 2, 3, 4, 5, 6000, time.FixedZone("EET", 2*60*60))
	assert.Equal(t, "2020-01-02T01:04:05.000006Z", FormatTimestamp(ts))

	for _, in := range []string{
		"2020-01-02T01:04:05.000006Z",
		"2020-01-02T03:04:05.000006+02:00",
		"2020-01-02T01:04:05.000006",
	} {
		parsed, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, ts.Equal(parsed), in)
		assert.Equal(t, time.UTC, parsed.Location())
	}

	day, err := ParseTimestamp("2020-01-02")
	require.NoError(t, err)
	assert.True(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC).Equal(day))

	_, err = ParseTimestamp("yesterday")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestDataPointJSON(t *testing.T) {
	point := DataPoint{
		TopicID:   "a",
		Timestamp: testEpoch,
		Values:    map[string]interface{}{"number": 3, "letter": "x"},
	}

	out, err := json.Marshal(point)
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic_id":"a","timestamp":"2020-08-23T12:00:00.000000Z","number":3,"letter":"x"}`, string(out))

	parsed := DataPoint{}
	require.NoError(t, json.Unmarshal(out, &parsed))
	assert.Equal(t, "a", parsed.TopicID)
	assert.True(t, testEpoch.Equal(parsed.Timestamp))
	assert.Equal(t, map[string]interface{}{"number": 3.0, "letter": "x"}, parsed.Values)

	assert.Error(t, json.Unmarshal([]byte(`{"timestamp":"never"}`), &parsed))
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &parsed))
}

func TestNewDataPoint(t *testing.T) {
	topic := &Topic{ID: "a", Name: "A", Fields: []string{"number", "letter"}}

	point, err := NewDataPoint(topic, map[string]interface{}{"number": 1, "letter": "x"}, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, "a", point.TopicID)
	assert.Len(t, point.Values, 2)

	_, err = NewDataPoint(topic, map[string]interface{}{"number": 1}, testEpoch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "the number of given values (1) does not match with the number of fields defined for topic (2)")

	_, err = NewDataPoint(topic, map[string]interface{}{"number": 1, "other": 2}, testEpoch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value for field 'letter' not present in input data")

	_, err = NewDataPoint(&Topic{ID: "t", Name: "T", Type: TemplateType}, map[string]interface{}{}, testEpoch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestDataQuery(t *testing.T) {
	points := make([]DataPoint, 10)
	for i := range points {
		points[i] = DataPoint{TopicID: "a", Timestamp: testEpoch.Add(time.Duration(i) * time.Minute)}
	}

	for _, test := range []struct {
		name  string
		query DataQuery
		count int
		first int
	}{
		{name: "Empty", query: DataQuery{}, count: 10, first: 0},
		{name: "Since", query: DataQuery{Since: testEpoch.Add(5 * time.Minute)}, count: 5, first: 5},
		{name: "Until", query: DataQuery{Until: testEpoch.Add(5 * time.Minute)}, count: 6, first: 0},
		{name: "Limit", query: DataQuery{Limit: 3}, count: 3, first: 7},
		{name: "LimitAboveCount", query: DataQuery{Limit: 30}, count: 10, first: 0},
		{
			name:  "Combined",
			query: DataQuery{Since: testEpoch.Add(2 * time.Minute), Until: testEpoch.Add(7 * time.Minute), Limit: 2},
			count: 2,
			first: 6,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			require.NoError(t, test.query.Validate())
			out := test.query.Apply(points)
			require.Len(t, out, test.count)
			assert.Equal(t, testEpoch.Add(time.Duration(test.first)*time.Minute), out[0].Timestamp)
		})
	}

	assert.Error(t, DataQuery{Limit: -1}.Validate())
	assert.Error(t, DataQuery{Since: testEpoch, Until: testEpoch.Add(-time.Second)}.Validate())
}

func TestSortData(t *testing.T) {
	points := []DataPoint{
		{Timestamp: testEpoch.Add(2 * time.Second)},
		{Timestamp: testEpoch},
		{Timestamp: testEpoch.Add(time.Second)},
	}
	SortData(points)
	for i := range points {
		assert.Equal(t, testEpoch.Add(time.Duration(i)*time.Second), points[i].Timestamp)
	}
}

func TestClock(t *testing.T) {
	now := testEpoch.Add(1500 * time.Nanosecond)
	c := &clock{now: func() time.Time { return now }}

	first := c.next()
	assert.Equal(t, testEpoch.Add(time.Microsecond), first)
	assert.Equal(t, first.Add(time.Microsecond), c.next())

	now = testEpoch.Add(time.Hour)
	assert.Equal(t, testEpoch.Add(time.Hour), c.next())

	now = testEpoch
	assert.Equal(t, testEpoch.Add(time.Hour+time.Microsecond), c.next())
}
