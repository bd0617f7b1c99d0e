package datatools

import (
	"sort"

	"github.com/fdbk/fdbk"
)

// Family groups methods by the kind of statistic they produce.
type Family string

// Method families.
const (
	FamilyValue      Family = "value"
	FamilyStatus     Family = "status"
	FamilyChart      Family = "chart"
	FamilyCollection Family = "collection"
)

// Func computes a statistic over one field of a data set. A nil
// statistic means there is no result, for instance on empty data.
type Func func(data []fdbk.DataPoint, field string, params *fdbk.Parameters) (*Statistic, error)

// Method is an entry of the dispatch table.
type Method struct {
	Name   string
	Family Family
	Func   Func
}

var registry map[string]Method

// the collection and status methods look up nested methods in the
// table, so it is filled in init rather than in its declaration.
func init() {
	registry = map[string]Method{}
	for family, funcs := range map[Family]map[string]Func{
		FamilyValue: {
			"average":     average,
			"mean":        mean,
			"median":      median,
			"min":         minimum,
			"max":         maximum,
			"sum":         sum,
			"latest":      latest,
			"last_truthy": lastTruthy,
			"last_falsy":  lastFalsy,
		},
		FamilyStatus: {
			"status": status,
		},
		FamilyChart: {
			"line":     line,
			"doughnut": doughnut,
			"pie":      pie,
		},
		FamilyCollection: {
			"list_item":  listItem,
			"table_item": tableItem,
		},
	} {
		for name, fn := range funcs {
			registry[name] = Method{Name: name, Family: family, Func: fn}
		}
	}
}

// Lookup returns the method registered under the name.
func Lookup(name string) (Method, bool) {
	m, ok := registry[name]
	return m, ok
}

// Methods returns the names of every registered method, sorted.
func Methods() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MethodsOf returns the sorted names of the methods of one family.
func MethodsOf(family Family) []string {
	out := []string{}
	for name, m := range registry {
		if m.Family == family {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
