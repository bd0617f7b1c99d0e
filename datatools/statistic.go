// Package datatools runs the declarative data tools of a topic against
// its data and folds the per-tool results into charts, lists and tables.
//
// Every function in the package is pure: results depend only on the
// topic and data passed in, so the pipeline may run concurrently for any
// number of topics.
package datatools

import (
	"github.com/fdbk/fdbk"
)

// Kind tags a statistic.
type Kind string

// Statistic kinds.
const (
	KindValue     Kind = "value"
	KindStatus    Kind = "status"
	KindChart     Kind = "chart"
	KindList      Kind = "list"
	KindListItem  Kind = "list_item"
	KindTable     Kind = "table"
	KindTableRow  Kind = "table_row"
	KindTableItem Kind = "table_item"
)

// Statistic is the result of a single data tool, or of folding several
// results together.
type Statistic struct {
	Type       Kind                   `json:"type"`
	Payload    Payload                `json:"payload"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Parameters *fdbk.Parameters       `json:"parameters,omitempty"`

	// warnings raised while computing the statistic; the runner moves
	// them into its warning list.
	warnings []string
}

// Warnings returns the warnings raised while computing the statistic.
func (s *Statistic) Warnings() []string { return s.warnings }

// Payload is the content of a statistic: *Value, *Status, *Chart,
// *ChartSet, *Collection, or a nested *Statistic for list and table
// items.
type Payload interface {
	annotate(topicName, unit string)
	topic() string
	field() string
}

// Value is a single computed value.
type Value struct {
	Type      string      `json:"type"`
	Field     string      `json:"field"`
	Value     interface{} `json:"value"`
	TopicName string      `json:"topic_name,omitempty"`
	Unit      string      `json:"unit,omitempty"`
}

// Status is the outcome of a status evaluation. Reason is the check that
// matched, if any.
type Status struct {
	Type      string      `json:"type"`
	Field     string      `json:"field"`
	Status    *string     `json:"status"`
	Reason    *fdbk.Check `json:"reason"`
	TopicName string      `json:"topic_name,omitempty"`
	Unit      string      `json:"unit,omitempty"`
}

// Chart is the chart of a single topic.
type Chart struct {
	Type      string        `json:"type"`
	Field     string        `json:"field"`
	Data      []interface{} `json:"data"`
	Labels    []interface{} `json:"labels,omitempty"`
	TopicName string        `json:"topic_name,omitempty"`
	Unit      string        `json:"unit,omitempty"`
}

// Point is a single point of a line chart.
type Point struct {
	X string      `json:"x"`
	Y interface{} `json:"y"`
}

// Dataset is the contribution of one topic to a merged chart.
type Dataset struct {
	Data  []interface{} `json:"data"`
	Label string        `json:"label"`
}

// ChartData holds the datasets of a merged chart and their shared
// labels.
type ChartData struct {
	Datasets []Dataset     `json:"datasets"`
	Labels   []interface{} `json:"labels"`
}

// ChartSet is the merge of every chart with the same field and type.
type ChartSet struct {
	Type  string    `json:"type"`
	Field string    `json:"field"`
	Data  ChartData `json:"data"`
	Unit  string    `json:"unit,omitempty"`
}

// Collection is a list, a table row or a table. Lists and rows hold
// item statistics, tables hold rows.
type Collection struct {
	Name      string    `json:"name"`
	TableName string    `json:"table_name,omitempty"`
	Data      []Payload `json:"data"`
}

func (v *Value) annotate(name, unit string) { v.TopicName, v.Unit = name, unit }
func (v *Value) topic() string { return v.TopicName }
func (v *Value) field() string { return v.Field }

func (s *Status) annotate(name, unit string) { s.TopicName, s.Unit = name, unit }
func (s *Status) topic() string { return s.TopicName }
func (s *Status) field() string { return s.Field }

func (c *Chart) annotate(name, unit string) { c.TopicName, c.Unit = name, unit }
func (c *Chart) topic() string { return c.TopicName }
func (c *Chart) field() string { return c.Field }

func (c *ChartSet) annotate(_, unit string) { c.Unit = unit }
func (c *ChartSet) topic() string { return "" }
func (c *ChartSet) field() string { return c.Field }

func (c *Collection) annotate(_, _ string) {}
func (c *Collection) topic() string { return "" }
func (c *Collection) field() string { return "" }

// items annotate their inner statistic
func (s *Statistic) annotate(name, unit string) {
	if s.Payload != nil {
		s.Payload.annotate(name, unit)
	}
}

func (s *Statistic) topic() string {
	if s.Payload == nil {
		return ""
	}
	return s.Payload.topic()
}

func (s *Statistic) field() string {
	if s.Payload == nil {
		return ""
	}
	return s.Payload.field()
}

func newValue(method, field string, value interface{}) *Statistic {
	return &Statistic{
		Type:    KindValue,
		Payload: &Value{Type: method, Field: field, Value: value},
	}
}

func newChart(method, field string, data, labels []interface{}) *Statistic {
	return &Statistic{
		Type:    KindChart,
		Payload: &Chart{Type: method, Field: field, Data: data, Labels: labels},
	}
}

func mergeMetadata(into, from map[string]interface{}) map[string]interface{} {
	if len(from) == 0 {
		return into
	}
	if into == nil {
		into = make(map[string]interface{}, len(from))
	}
	for k, v := range from {
		into[k] = v
	}
	return into
}
