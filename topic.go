// Package fdbk collects named, schema-described data points ("topics")
// into pluggable storage backends and exposes the data model shared by
// the data tools pipeline, the storage implementations and the HTTP
// API.
package fdbk

import (
	"strings"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// TemplateType is the reserved topic type of template topics. Templates
// only provide fields, units, data tools and metadata to the topics that
// reference them and never receive data.
const TemplateType = "template"

// Topic describes a data stream: the fields of its data points, their
// units and the data tools that summarize the data.
type Topic struct {
	ID          string                 `json:"id" bson:"id" yaml:"id"`
	Name        string                 `json:"name" bson:"name" yaml:"name"`
	Type        string                 `json:"type,omitempty" bson:"type,omitempty" yaml:"type,omitempty"`
	Description string                 `json:"description,omitempty" bson:"description,omitempty" yaml:"description,omitempty"`
	Fields      []string               `json:"fields" bson:"fields" yaml:"fields"`
	Units       []Unit                 `json:"units" bson:"units" yaml:"units"`
	DataTools   []DataTool             `json:"data_tools" bson:"data_tools" yaml:"data_tools"`
	Metadata    map[string]interface{} `json:"metadata" bson:"metadata" yaml:"metadata"`
	Template    string                 `json:"template,omitempty" bson:"template,omitempty" yaml:"template,omitempty"`
}

// Unit assigns a unit of measurement to a field.
type Unit struct {
	Field string `json:"field" bson:"field" yaml:"field"`
	Unit  string `json:"unit" bson:"unit" yaml:"unit"`
}

// DataTool is a single analysis instruction of a topic.
type DataTool struct {
	Method     string                 `json:"method" bson:"method" yaml:"method"`
	Field      string                 `json:"field" bson:"field" yaml:"field"`
	Parameters *Parameters            `json:"parameters,omitempty" bson:"parameters,omitempty" yaml:"parameters,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsTemplate reports whether the topic is a template topic.
func (t *Topic) IsTemplate() bool { return t.Type == TemplateType }

// HasField reports whether the topic declares the field.
func (t *Topic) HasField(field string) bool {
	for _, f := range t.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// UnitOf returns the unit configured for the field, or an empty string.
func (t *Topic) UnitOf(field string) string {
	for _, u := range t.Units {
		if u.Field == field {
			return u.Unit
		}
	}
	return ""
}

// Normalize replaces nil collections with empty ones so that topics
// render the same regardless of the backend they were read from.
func (t *Topic) Normalize() {
	if t.Fields == nil {
		t.Fields = []string{}
	}
	if t.Units == nil {
		t.Units = []Unit{}
	}
	if t.DataTools == nil {
		t.DataTools = []DataTool{}
	}
	if t.Metadata == nil {
		t.Metadata = map[string]interface{}{}
	}
}

// Validate checks the structure of the topic definition. Unknown data
// tool methods and undefined fields are reported as warnings when the
// data tools run, so they are not rejected here.
func (t *Topic) Validate() error {
	catcher := grip.NewBasicCatcher()

	catcher.NewWhen(strings.TrimSpace(t.Name) == "", "topic name must be specified")
	catcher.NewWhen(t.IsTemplate() && t.Template == t.ID && t.ID != "", "template cannot reference itself")

	seen := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		if f == "" {
			catcher.New("field names must not be empty")
			continue
		}
		if _, ok := seen[f]; ok {
			catcher.Errorf("field '%s' is declared more than once", f)
		}
		seen[f] = struct{}{}
	}

	units := make(map[string]struct{}, len(t.Units))
	for _, u := range t.Units {
		catcher.NewWhen(u.Field == "", "unit must specify a field")
		if _, ok := units[u.Field]; ok {
			catcher.Errorf("field '%s' has more than one unit", u.Field)
		}
		units[u.Field] = struct{}{}
	}

	for idx, tool := range t.DataTools {
		catcher.ErrorfWhen(tool.Method == "", "data tool %d must specify a method", idx)
		catcher.ErrorfWhen(tool.Field == "", "data tool %d must specify a field", idx)
		if tool.Parameters != nil {
			if err := tool.Parameters.Validate(); err != nil {
				catcher.Add(errors.Wrapf(err, "data tool %d (%s %s)", idx, tool.Method, tool.Field))
			}
		}
	}

	if catcher.HasErrors() {
		return errors.Wrap(ErrValidation, catcher.Resolve().Error())
	}
	return nil
}

// WithTemplate returns the topic overlaid on its (already resolved)
// template: every non-empty local value wins over the template's.
func (t Topic) WithTemplate(template Topic) Topic {
	out := template
	out.ID = t.ID
	out.Template = t.Template

	if t.Name != "" {
		out.Name = t.Name
	}
	switch {
	case t.Type != "":
		out.Type = t.Type
	case out.IsTemplate():
		// the template marker is not inherited
		out.Type = ""
	}
	if t.Description != "" {
		out.Description = t.Description
	}
	if len(t.Fields) > 0 {
		out.Fields = t.Fields
	}
	if len(t.Units) > 0 {
		out.Units = t.Units
	}
	if len(t.DataTools) > 0 {
		out.DataTools = t.DataTools
	}
	if len(t.Metadata) > 0 {
		out.Metadata = t.Metadata
	}

	return out
}

// maxTemplateDepth bounds template chains so that reference cycles
// surface as errors.
const maxTemplateDepth = 16

// ResolveTemplate follows the template reference of the topic through
// lookup and returns the merged topic. The referenced topic must exist
// and be a template.
func ResolveTemplate(t Topic, lookup func(id string) (Topic, error)) (Topic, error) {
	return resolveTemplate(t, lookup, 0)
}

func resolveTemplate(t Topic, lookup func(id string) (Topic, error), depth int) (Topic, error) {
	if t.Template == "" {
		t.Normalize()
		return t, nil
	}
	if depth >= maxTemplateDepth {
		return Topic{}, errors.Wrapf(ErrValidation, "template chain of topic '%s' is too deep or cyclic", t.ID)
	}

	template, err := lookup(t.Template)
	if err != nil {
		return Topic{}, errors.Wrapf(err, "problem resolving template '%s' of topic '%s'", t.Template, t.ID)
	}
	if !template.IsTemplate() {
		return Topic{}, errors.Wrapf(ErrValidation, "topic '%s' referenced by '%s' is not a template", t.Template, t.ID)
	}

	template, err = resolveTemplate(template, lookup, depth+1)
	if err != nil {
		return Topic{}, errors.WithStack(err)
	}

	out := t.WithTemplate(template)
	out.Normalize()
	return out, nil
}

// Clone returns a copy of the topic that shares no slices or maps with
// the original. Parameters and metadata values are copied shallowly.
func (t Topic) Clone() Topic {
	out := t
	out.Fields = append([]string(nil), t.Fields...)
	out.Units = append([]Unit(nil), t.Units...)
	out.DataTools = append([]DataTool(nil), t.DataTools...)
	if t.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Normalize()
	return out
}
