package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fdbk/fdbk"
	"github.com/fdbk/fdbk/metrics"
	"github.com/fdbk/fdbk/storage/dict"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testService struct {
	*Service
	t *testing.T
}

func newTestService(t *testing.T) testService {
	b, err := dict.New(dict.Options{})
	require.NoError(t, err)

	s, err := New(fdbk.New(b), metrics.New(), Options{Workers: 2})
	require.NoError(t, err)
	return testService{Service: s, t: t}
}

func (s testService) do(method, target string, body interface{}) (int, []byte) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func (s testService) decode(method, target string, body interface{}, out interface{}) int {
	code, payload := s.do(method, target, body)
	require.NoError(s.t, json.Unmarshal(payload, out), string(payload))
	return code
}

func (s testService) addTopic(topic map[string]interface{}) string {
	out := map[string]interface{}{}
	require.Equal(s.t, http.StatusOK, s.decode(http.MethodPost, "/topics", topic, &out))
	return out["topic_id"].(string)
}

func (s testService) addData(id string, ts string, values map[string]interface{}) {
	code, payload := s.do(http.MethodPost, "/topics/"+id+"/data?timestamp="+ts, values)
	require.Equal(s.t, http.StatusOK, code, string(payload))
}

func TestOptions(t *testing.T) {
	opts := Options{}
	require.NoError(t, opts.Validate())
	assert.Equal(t, ":8080", opts.Address)
	assert.Equal(t, time.Minute, opts.ReadTimeout)

	opts = Options{Workers: -1}
	assert.ErrorIs(t, opts.Validate(), fdbk.ErrValidation)

	_, err := New(nil, nil, Options{})
	assert.Error(t, err)
}

func TestTopics(t *testing.T) {
	s := newTestService(t)

	id := s.addTopic(map[string]interface{}{
		"name":   "Weather",
		"type":   "sensor",
		"fields": []string{"temperature"},
	})
	s.addTopic(map[string]interface{}{"id": "tmpl", "name": "template", "type": "template"})

	topics := []fdbk.Topic{}
	assert.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/topics", nil, &topics))
	assert.Len(t, topics, 2)

	assert.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/topics?type=sensor", nil, &topics))
	require.Len(t, topics, 1)
	assert.Equal(t, id, topics[0].ID)

	topic := fdbk.Topic{}
	assert.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/topics/"+id, nil, &topic))
	assert.Equal(t, "Weather", topic.Name)
	assert.Equal(t, []string{"temperature"}, topic.Fields)

	out := map[string]string{}
	assert.Equal(t, http.StatusNotFound, s.decode(http.MethodGet, "/topics/missing", nil, &out))
	assert.Contains(t, out["error"], fdbk.TopicNotFound("missing"))

	assert.Equal(t, http.StatusBadRequest, s.decode(http.MethodPost, "/topics", map[string]interface{}{"id": id, "name": "again"}, &out))
	assert.Contains(t, out["error"], fdbk.DuplicateTopicID(id))

	assert.Equal(t, http.StatusOK, s.decode(http.MethodPost, "/topics?overwrite=true", map[string]interface{}{"id": id, "name": "again"}, &out))

	assert.Equal(t, http.StatusBadRequest, s.decode(http.MethodPost, "/topics", map[string]interface{}{"fields": []string{"a"}}, &out))

	code, _ := s.do(http.MethodPost, "/topics", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.TopicsAdded))
}

func TestData(t *testing.T) {
	s := newTestService(t)
	id := s.addTopic(map[string]interface{}{"name": "Numbers", "fields": []string{"number", "letter"}})

	for idx, letter := range []string{"a", "b", "c"} {
		s.addData(id, "2020-01-01T00:0"+string(rune('0'+idx))+":00Z", map[string]interface{}{"number": idx, "letter": letter})
	}

	data := []map[string]interface{}{}
	assert.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/topics/"+id+"/data", nil, &data))
	require.Len(t, data, 3)
	assert.Equal(t, "2020-01-01T00:00:00.000000Z", data[0]["timestamp"])
	assert.Equal(t, "a", data[0]["letter"])
	assert.Equal(t, id, data[0]["topic_id"])

	assert.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/topics/"+id+"/data?since=2020-01-01T00:01:00Z&limit=1", nil, &data))
	require.Len(t, data, 1)
	assert.Equal(t, "c", data[0]["letter"])

	latest := map[string]interface{}{}
	assert.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/topics/"+id+"/data/latest", nil, &latest))
	assert.Equal(t, "c", latest["letter"])

	code, payload := s.do(http.MethodGet, "/topics/"+id+"/data?format=csv", nil)
	assert.Equal(t, http.StatusOK, code)
	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "timestamp,number,letter", lines[0])
	assert.Equal(t, "2020-01-01T00:01:00.000000Z,1,b", lines[2])

	out := map[string]string{}
	assert.Equal(t, http.StatusBadRequest, s.decode(http.MethodPost, "/topics/"+id+"/data", map[string]interface{}{"number": 1}, &out))
	assert.Equal(t, http.StatusNotFound, s.decode(http.MethodPost, "/topics/missing/data", map[string]interface{}{"number": 1}, &out))
	assert.Equal(t, http.StatusBadRequest, s.decode(http.MethodPost, "/topics/"+id+"/data?timestamp=2020-01-01T00:00:00Z",
		map[string]interface{}{"number": 5, "letter": "z"}, &out))
	assert.Contains(t, out["error"], "already has data for given timestamp")
	assert.Equal(t, http.StatusBadRequest, s.decode(http.MethodGet, "/topics/"+id+"/data?limit=many", nil, &out))
	assert.Equal(t, http.StatusBadRequest, s.decode(http.MethodGet, "/topics/"+id+"/data?since=yesterday", nil, &out))
	assert.Equal(t, http.StatusNotFound, s.decode(http.MethodGet, "/topics/missing/data", nil, &out))

	empty := s.addTopic(map[string]interface{}{"name": "Empty", "fields": []string{"number"}})
	assert.Equal(t, http.StatusNotFound, s.decode(http.MethodGet, "/topics/"+empty+"/data/latest", nil, &out))

	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.DataPointsAdded))
}

func TestStatistics(t *testing.T) {
	s := newTestService(t)
	tools := []map[string]interface{}{
		{"method": "average", "field": "number"},
		{"method": "doughnut", "field": "letter"},
	}
	a := s.addTopic(map[string]interface{}{"name": "A", "type": "sensor", "fields": []string{"number", "letter"}, "data_tools": tools})
	b := s.addTopic(map[string]interface{}{"name": "B", "fields": []string{"number", "letter"}, "data_tools": tools})
	for idx, v := range []int{3, 4, 2} {
		ts := "2020-01-01T00:0" + string(rune('0'+idx)) + ":00Z"
		s.addData(a, ts, map[string]interface{}{"number": v, "letter": "x"})
		s.addData(b, ts, map[string]interface{}{"number": v * 2, "letter": "y"})
	}

	t.Run("Summary", func(t *testing.T) {
		out := map[string]interface{}{}
		require.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/topics/"+a+"/summary", nil, &out))
		assert.Equal(t, "A", out["topic"])
		assert.EqualValues(t, 3, out["num_entries"])
		assert.Empty(t, out["warnings"])

		// merged charts come first
		stats := out["statistics"].([]interface{})
		require.Len(t, stats, 2)
		assert.Equal(t, "chart", stats[0].(map[string]interface{})["type"])
		value := stats[1].(map[string]interface{})
		assert.Equal(t, "value", value["type"])
		assert.EqualValues(t, 3.0, value["payload"].(map[string]interface{})["value"])

		require.Equal(t, http.StatusNotFound, s.decode(http.MethodGet, "/topics/missing/summary", nil, &out))
		require.Equal(t, http.StatusBadRequest, s.decode(http.MethodGet, "/topics/"+a+"/summary?aggregate_to=-1", nil, &out))
		require.Equal(t, http.StatusBadRequest, s.decode(http.MethodGet, "/topics/"+a+"/summary?aggregate_always=maybe", nil, &out))
	})
	t.Run("Comparison", func(t *testing.T) {
		out := map[string]interface{}{}
		require.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/comparison/"+b+",missing,"+a, nil, &out))
		assert.Equal(t, []interface{}{"B", "A"}, out["topic_names"])
		assert.Equal(t, []interface{}{fdbk.TopicNotFound("missing")}, out["warnings"])

		stats := out["statistics"].([]interface{})
		require.Len(t, stats, 3)
		chart := stats[0].(map[string]interface{})
		assert.Equal(t, "chart", chart["type"])
		datasets := chart["payload"].(map[string]interface{})["data"].(map[string]interface{})["datasets"].([]interface{})
		assert.Len(t, datasets, 2)

		require.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/comparison", nil, &out))
		assert.Len(t, out["topic_ids"], 2)
	})
	t.Run("Overview", func(t *testing.T) {
		out := map[string]interface{}{}
		require.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/overview", nil, &out))
		assert.Len(t, out["topic_ids"], 2)
		assert.Equal(t, []interface{}{"number", "letter"}, out["fields"])

		require.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/overview/sensor", nil, &out))
		assert.Equal(t, []interface{}{a}, out["topic_ids"])

		require.Equal(t, http.StatusOK, s.decode(http.MethodGet, "/overview?type=sensor", nil, &out))
		assert.Equal(t, []interface{}{a}, out["topic_ids"])

		require.Equal(t, http.StatusBadRequest, s.decode(http.MethodGet, "/overview?limit=-1", nil, &out))
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestService(t)
	s.do(http.MethodGet, "/topics", nil)
	s.do(http.MethodGet, "/nowhere", nil)

	code, payload := s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(payload), `fdbk_http_requests_total{method="GET",route="/topics",status="200"} 1`)
	assert.Contains(t, string(payload), `route="unmatched",status="404"`)

	code, _ = s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestRun(t *testing.T) {
	b, err := dict.New(dict.Options{})
	require.NoError(t, err)
	s, err := New(fdbk.New(b), nil, Options{Address: "127.0.0.1:0", ShutdownTimeout: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
