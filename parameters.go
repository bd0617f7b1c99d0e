package fdbk

import (
	"strings"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// Parameters holds the optional parameters of a data tool. The set of
// fields is closed: collection methods (list_item, table_item) use Name,
// Method and the nested Parameters, the status method uses Method,
// Default, Checks and ShortCircuit, and the remaining methods take no
// parameters.
type Parameters struct {
	// Name is the target list or table of a collection item.
	Name string `json:"name,omitempty" bson:"name,omitempty" yaml:"name,omitempty"`

	// Method is the nested method of collection items and the base
	// value method of status checks. Defaults to "latest".
	Method string `json:"method,omitempty" bson:"method,omitempty" yaml:"method,omitempty"`

	// Parameters are passed to the nested method of collection items.
	Parameters *Parameters `json:"parameters,omitempty" bson:"parameters,omitempty" yaml:"parameters,omitempty"`

	Default      string  `json:"default,omitempty" bson:"default,omitempty" yaml:"default,omitempty"`
	Checks       []Check `json:"checks,omitempty" bson:"checks,omitempty" yaml:"checks,omitempty"`
	ShortCircuit bool    `json:"short_circuit,omitempty" bson:"short_circuit,omitempty" yaml:"short_circuit,omitempty"`
}

// Check is a single status check. Every assertion that is set is
// evaluated against the base value and the results are combined with
// Operator.
type Check struct {
	Status   string `json:"status" bson:"status" yaml:"status"`
	Operator string `json:"operator,omitempty" bson:"operator,omitempty" yaml:"operator,omitempty"`

	Eq  interface{} `json:"eq,omitempty" bson:"eq,omitempty" yaml:"eq,omitempty"`
	Neq interface{} `json:"neq,omitempty" bson:"neq,omitempty" yaml:"neq,omitempty"`
	Lt  interface{} `json:"lt,omitempty" bson:"lt,omitempty" yaml:"lt,omitempty"`
	Lte interface{} `json:"lte,omitempty" bson:"lte,omitempty" yaml:"lte,omitempty"`
	Gt  interface{} `json:"gt,omitempty" bson:"gt,omitempty" yaml:"gt,omitempty"`
	Gte interface{} `json:"gte,omitempty" bson:"gte,omitempty" yaml:"gte,omitempty"`
	In  interface{} `json:"in,omitempty" bson:"in,omitempty" yaml:"in,omitempty"`
}

// Assertion names, in evaluation order.
const (
	AssertEq  = "eq"
	AssertNeq = "neq"
	AssertLt  = "lt"
	AssertLte = "lte"
	AssertGt  = "gt"
	AssertGte = "gte"
	AssertIn  = "in"
)

// Operators combining assertions of a check.
const (
	OperatorAnd = "and"
	OperatorOr  = "or"
)

// Assertion is one comparison of a check.
type Assertion struct {
	Name  string
	Other interface{}
}

// Assertions returns the assertions that are set on the check, in a
// fixed order.
func (c Check) Assertions() []Assertion {
	out := make([]Assertion, 0, 7)
	for _, a := range []Assertion{
		{Name: AssertEq, Other: c.Eq},
		{Name: AssertNeq, Other: c.Neq},
		{Name: AssertLt, Other: c.Lt},
		{Name: AssertLte, Other: c.Lte},
		{Name: AssertGt, Other: c.Gt},
		{Name: AssertGte, Other: c.Gte},
		{Name: AssertIn, Other: c.In},
	} {
		if a.Other != nil {
			out = append(out, a)
		}
	}
	return out
}

// NormalizedOperator returns the lower-cased operator, defaulting to
// "or".
func (c Check) NormalizedOperator() string {
	if c.Operator == "" {
		return OperatorOr
	}
	return strings.ToLower(c.Operator)
}

// MethodOrDefault returns the nested method, defaulting to "latest".
func (p *Parameters) MethodOrDefault() string {
	if p == nil || p.Method == "" {
		return "latest"
	}
	return p.Method
}

// Validate checks the structure of the parameters.
func (p *Parameters) Validate() error {
	return p.validate(0)
}

func (p *Parameters) validate(depth int) error {
	if p == nil {
		return nil
	}

	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(depth > 1, "parameters are nested too deeply")

	for idx, check := range p.Checks {
		catcher.ErrorfWhen(check.Status == "", "check %d must specify a status", idx)
		switch op := check.NormalizedOperator(); op {
		case OperatorAnd, OperatorOr:
		default:
			catcher.Errorf("check %d has unknown operator '%s'", idx, op)
		}
	}

	if p.Parameters != nil {
		catcher.Add(errors.Wrap(p.Parameters.validate(depth+1), "nested parameters"))
	}

	return catcher.Resolve()
}
