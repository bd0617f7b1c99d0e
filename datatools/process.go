package datatools

import (
	"github.com/fdbk/fdbk"
)

type chartContribution struct {
	label  string
	labels []interface{}
	data   []interface{}
}

type chartGroup struct {
	set      *ChartSet
	labels   *labelSet
	parts    []chartContribution
	metadata map[string]interface{}
}

func (g *chartGroup) add(c chartContribution) {
	for _, l := range c.labels {
		g.labels.add(l)
	}
	g.parts = append(g.parts, c)
}

// resolve aligns the data of every dataset that carries labels with the
// union of the labels.
func (g *chartGroup) resolve() *Statistic {
	g.set.Data.Labels = g.labels.labels
	g.set.Data.Datasets = make([]Dataset, 0, len(g.parts))

	for _, part := range g.parts {
		data := part.data
		if len(part.labels) > 0 {
			data = make([]interface{}, len(g.labels.labels))
			for idx := range data {
				data[idx] = 0
			}
			for idx, l := range part.labels {
				if idx < len(part.data) {
					data[g.labels.add(l)] = part.data[idx]
				}
			}
		}
		if data == nil {
			data = []interface{}{}
		}
		g.set.Data.Datasets = append(g.set.Data.Datasets, Dataset{Data: data, Label: part.label})
	}

	return &Statistic{Type: KindChart, Payload: g.set, Metadata: g.metadata}
}

// ProcessCharts merges every chart with the same field and type into a
// single chart holding one dataset per contributing topic. Merged charts
// come first, followed by the other statistics in their original order.
// Already merged charts are merged again, so the operation can be
// repeated.
func ProcessCharts(statistics []*Statistic) ([]*Statistic, []string) {
	var (
		order  []string
		groups = map[string]*chartGroup{}
		other  = []*Statistic{}
	)

	for _, stat := range statistics {
		if stat == nil {
			continue
		}
		if stat.Type != KindChart {
			other = append(other, stat)
			continue
		}

		var (
			chartType, field, unit string
			parts                  []chartContribution
		)
		switch p := stat.Payload.(type) {
		case *Chart:
			chartType, field, unit = p.Type, p.Field, p.Unit
			parts = []chartContribution{{label: p.TopicName, labels: p.Labels, data: p.Data}}
		case *ChartSet:
			chartType, field, unit = p.Type, p.Field, p.Unit
			for _, ds := range p.Data.Datasets {
				parts = append(parts, chartContribution{label: ds.Label, labels: p.Data.Labels, data: ds.Data})
			}
		default:
			other = append(other, stat)
			continue
		}

		key := field + "-" + chartType
		group, ok := groups[key]
		if !ok {
			group = &chartGroup{
				set:    &ChartSet{Type: chartType, Field: field},
				labels: newLabelSet(),
			}
			groups[key] = group
			order = append(order, key)
		}
		if group.set.Unit == "" {
			group.set.Unit = unit
		}
		for _, part := range parts {
			group.add(part)
		}
		group.metadata = mergeMetadata(group.metadata, stat.Metadata)
	}

	out := make([]*Statistic, 0, len(order)+len(other))
	for _, key := range order {
		out = append(out, groups[key].resolve())
	}
	return append(out, other...), []string{}
}

type collectionGroup struct {
	coll     *Collection
	metadata map[string]interface{}
	rows     map[string]*Collection
}

type collectionIndex struct {
	order  []string
	groups map[string]*collectionGroup
}

func newCollectionIndex() *collectionIndex {
	return &collectionIndex{groups: map[string]*collectionGroup{}}
}

func (idx *collectionIndex) get(name string) *collectionGroup {
	if g, ok := idx.groups[name]; ok {
		return g
	}
	g := &collectionGroup{
		coll: &Collection{Name: name, Data: []Payload{}},
		rows: map[string]*Collection{},
	}
	idx.groups[name] = g
	idx.order = append(idx.order, name)
	return g
}

// row returns the row of the table group with the given name, adding it
// when missing.
func (g *collectionGroup) row(name string) *Collection {
	if r, ok := g.rows[name]; ok {
		return r
	}
	r := &Collection{Name: name, Data: []Payload{}}
	g.rows[name] = r
	g.coll.Data = append(g.coll.Data, r)
	return r
}

func (idx *collectionIndex) statistics(kind Kind) []*Statistic {
	out := make([]*Statistic, 0, len(idx.order))
	for _, name := range idx.order {
		g := idx.groups[name]
		out = append(out, &Statistic{Type: kind, Payload: g.coll, Metadata: g.metadata})
	}
	return out
}

func itemName(stat *Statistic) string {
	if stat.Parameters == nil {
		return ""
	}
	return stat.Parameters.Name
}

// ProcessCollections folds collection statistics into named lists and
// tables. List items and lists are collected into lists by list name.
// Table items become rows named after their topic, and rows and tables
// are collected into tables by table name, merging rows with the same
// name. Lists come first, then tables, then the other statistics in
// their original order.
//
// Folded collections fold into themselves, so the operation can be
// repeated.
func ProcessCollections(statistics []*Statistic) ([]*Statistic, []string) {
	var (
		lists    = newCollectionIndex()
		tables   = newCollectionIndex()
		other    = []*Statistic{}
		warnings = []string{}
	)

	for _, stat := range statistics {
		if stat == nil {
			continue
		}

		switch stat.Type {
		case KindListItem:
			name := itemName(stat)
			if name == "" {
				warnings = append(warnings, fdbk.CollectionNameIsUndefined(string(stat.Type), stat.field()))
				continue
			}
			g := lists.get(name)
			g.coll.Data = append(g.coll.Data, stat.Payload)
			g.metadata = mergeMetadata(g.metadata, stat.Metadata)
		case KindList:
			c, ok := stat.Payload.(*Collection)
			if !ok || c.Name == "" {
				warnings = append(warnings, fdbk.CollectionNameIsUndefined(string(stat.Type), stat.field()))
				continue
			}
			g := lists.get(c.Name)
			g.coll.Data = append(g.coll.Data, c.Data...)
			g.metadata = mergeMetadata(g.metadata, stat.Metadata)
		case KindTableItem:
			name := itemName(stat)
			if name == "" {
				warnings = append(warnings, fdbk.CollectionNameIsUndefined(string(stat.Type), stat.field()))
				continue
			}
			g := tables.get(name)
			row := g.row(stat.topic())
			row.Data = append(row.Data, stat.Payload)
			g.metadata = mergeMetadata(g.metadata, stat.Metadata)
		case KindTableRow:
			c, ok := stat.Payload.(*Collection)
			if !ok || c.TableName == "" {
				warnings = append(warnings, fdbk.CollectionNameIsUndefined(string(stat.Type), stat.field()))
				continue
			}
			g := tables.get(c.TableName)
			row := g.row(c.Name)
			row.Data = append(row.Data, c.Data...)
			g.metadata = mergeMetadata(g.metadata, stat.Metadata)
		case KindTable:
			c, ok := stat.Payload.(*Collection)
			if !ok || c.Name == "" {
				warnings = append(warnings, fdbk.CollectionNameIsUndefined(string(stat.Type), stat.field()))
				continue
			}
			g := tables.get(c.Name)
			for _, entry := range c.Data {
				existing, ok := entry.(*Collection)
				if !ok {
					continue
				}
				row := g.row(existing.Name)
				row.Data = append(row.Data, existing.Data...)
			}
			g.metadata = mergeMetadata(g.metadata, stat.Metadata)
		default:
			other = append(other, stat)
		}
	}

	out := lists.statistics(KindList)
	out = append(out, tables.statistics(KindTable)...)
	return append(out, other...), warnings
}

func chain(statistics []*Statistic, funcs ...func([]*Statistic) ([]*Statistic, []string)) ([]*Statistic, []string) {
	warnings := []string{}
	for _, fn := range funcs {
		var w []string
		statistics, w = fn(statistics)
		warnings = append(warnings, w...)
	}
	if statistics == nil {
		statistics = []*Statistic{}
	}
	return statistics, warnings
}

// PreProcess folds the collections of a single topic run.
func PreProcess(statistics []*Statistic) ([]*Statistic, []string) {
	return chain(statistics, ProcessCollections)
}

// PostProcess merges charts and then folds collections across the
// results of one or more topic runs.
func PostProcess(statistics []*Statistic) ([]*Statistic, []string) {
	return chain(statistics, ProcessCharts, ProcessCollections)
}
