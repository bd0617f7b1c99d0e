package datatools

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fdbk/fdbk"
)

// labelKey identifies distinct label values. Numbers compare by value
// regardless of their Go type, so 3 and 3.0 from different backends are
// the same label.
func labelKey(v interface{}) string {
	if f, ok := toFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	switch val := v.(type) {
	case nil:
		return "nil"
	case string:
		return "s:" + val
	case bool:
		return "b:" + strconv.FormatBool(val)
	}
	if out, err := json.Marshal(v); err == nil {
		return "j:" + string(out)
	}
	return fmt.Sprintf("v:%#v", v)
}

// labelSet keeps distinct labels in first-seen order.
type labelSet struct {
	index  map[string]int
	labels []interface{}
}

func newLabelSet() *labelSet {
	return &labelSet{index: map[string]int{}, labels: []interface{}{}}
}

func (s *labelSet) add(v interface{}) int {
	key := labelKey(v)
	if idx, ok := s.index[key]; ok {
		return idx
	}
	s.index[key] = len(s.labels)
	s.labels = append(s.labels, v)
	return len(s.labels) - 1
}

func line(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	if len(data) == 0 {
		return nil, nil
	}

	points := make([]interface{}, 0, len(data))
	for _, point := range data {
		points = append(points, Point{
			X: fdbk.FormatTimestamp(point.Timestamp),
			Y: point.Value(field),
		})
	}
	return newChart("line", field, points, nil), nil
}

func countChart(method string, data []fdbk.DataPoint, field string) *Statistic {
	if len(data) == 0 {
		return nil
	}

	labels := newLabelSet()
	counts := []int{}
	for _, point := range data {
		idx := labels.add(point.Value(field))
		if idx == len(counts) {
			counts = append(counts, 0)
		}
		counts[idx]++
	}

	out := make([]interface{}, len(counts))
	for idx, c := range counts {
		out[idx] = c
	}
	return newChart(method, field, out, labels.labels)
}

func doughnut(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	return countChart("doughnut", data, field), nil
}

func pie(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	return countChart("pie", data, field), nil
}
