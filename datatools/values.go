package datatools

import (
	"reflect"

	"github.com/fdbk/fdbk"
)

// toFloat converts numeric values. Booleans are not numbers.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

type numericValue struct {
	original interface{}
	value    float64
}

func numericValues(data []fdbk.DataPoint, field string) []numericValue {
	out := make([]numericValue, 0, len(data))
	for _, point := range data {
		raw := point.Value(field)
		if f, ok := toFloat(raw); ok {
			out = append(out, numericValue{original: raw, value: f})
		}
	}
	return out
}

func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func average(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	return averageAs("average", data, field), nil
}

func mean(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	return averageAs("mean", data, field), nil
}

func averageAs(method string, data []fdbk.DataPoint, field string) *Statistic {
	values := numericValues(data, field)
	if len(values) == 0 {
		return nil
	}

	var total float64
	for _, v := range values {
		total += v.value
	}
	return newValue(method, field, total/float64(len(values)))
}

func median(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	values := numericValues(data, field)
	if len(values) == 0 {
		return nil, nil
	}

	floats := make([]float64, len(values))
	for idx, v := range values {
		floats[idx] = v.value
	}
	return newValue("median", field, computeMedian(floats)), nil
}

func extreme(method string, data []fdbk.DataPoint, field string, better func(a, b float64) bool) *Statistic {
	values := numericValues(data, field)
	if len(values) == 0 {
		return nil
	}

	best := values[0]
	for _, v := range values[1:] {
		if better(v.value, best.value) {
			best = v
		}
	}
	return newValue(method, field, best.original)
}

func minimum(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	return extreme("min", data, field, func(a, b float64) bool { return a < b }), nil
}

func maximum(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	return extreme("max", data, field, func(a, b float64) bool { return a > b }), nil
}

func sum(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	values := numericValues(data, field)
	if len(values) == 0 {
		return nil, nil
	}

	var total float64
	for _, v := range values {
		total += v.value
	}
	return newValue("sum", field, total), nil
}

func latest(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return newValue("latest", field, data[len(data)-1].Value(field)), nil
}

func lastMatching(method string, truthy bool, data []fdbk.DataPoint, field string) *Statistic {
	for idx := len(data) - 1; idx >= 0; idx-- {
		if isTruthy(data[idx].Value(field)) == truthy {
			return newValue(method, field, fdbk.FormatTimestamp(data[idx].Timestamp))
		}
	}
	return nil
}

func lastTruthy(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	return lastMatching("last_truthy", true, data, field), nil
}

func lastFalsy(data []fdbk.DataPoint, field string, _ *fdbk.Parameters) (*Statistic, error) {
	return lastMatching("last_falsy", false, data, field), nil
}
