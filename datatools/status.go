package datatools

import (
	"reflect"
	"strings"

	"github.com/fdbk/fdbk"
	"github.com/pkg/errors"
)

func equal(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	if aok != bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compare orders numbers and strings. Other combinations are not
// comparable.
func compare(a, b interface{}) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	switch {
	case aok && bok:
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	case aok || bok:
		return 0, false
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func contains(container, v interface{}) bool {
	if s, ok := container.(string); ok {
		sub, ok := v.(string)
		return ok && strings.Contains(s, sub)
	}

	rv := reflect.ValueOf(container)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for idx := 0; idx < rv.Len(); idx++ {
			if equal(rv.Index(idx).Interface(), v) {
				return true
			}
		}
	case reflect.Map:
		key := reflect.ValueOf(v)
		if !key.IsValid() || !key.Type().AssignableTo(rv.Type().Key()) {
			return false
		}
		return rv.MapIndex(key).IsValid()
	}
	return false
}

func runAssertion(name string, value, other interface{}) bool {
	switch name {
	case fdbk.AssertEq:
		return equal(value, other)
	case fdbk.AssertNeq:
		return !equal(value, other)
	case fdbk.AssertIn:
		return contains(other, value)
	}

	c, ok := compare(value, other)
	if !ok {
		return false
	}
	switch name {
	case fdbk.AssertLt:
		return c < 0
	case fdbk.AssertLte:
		return c <= 0
	case fdbk.AssertGt:
		return c > 0
	case fdbk.AssertGte:
		return c >= 0
	}
	return false
}

func runCheck(value interface{}, check fdbk.Check) (bool, error) {
	operator := check.NormalizedOperator()
	if operator != fdbk.OperatorAnd && operator != fdbk.OperatorOr {
		return false, errors.Errorf("Operator %s was not recognized", operator)
	}

	result := operator == fdbk.OperatorAnd
	for _, a := range check.Assertions() {
		ok := runAssertion(a.Name, value, a.Other)
		if operator == fdbk.OperatorAnd {
			result = result && ok
		} else {
			result = result || ok
		}
	}
	return result, nil
}

// status evaluates the checks against a base value computed by the
// nested value method. The first matching check sets the status.
func status(data []fdbk.DataPoint, field string, params *fdbk.Parameters) (*Statistic, error) {
	if len(data) == 0 || params == nil {
		return nil, nil
	}

	method := params.MethodOrDefault()
	base, ok := Lookup(method)
	if !ok || base.Family != FamilyValue {
		return nil, errors.New(fdbk.MethodNotSupported(method))
	}

	result, err := base.Func(data, field, params)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var value interface{}
	if result != nil {
		if v, ok := result.Payload.(*Value); ok {
			value = v.Value
		}
	}

	out := &Status{Type: "status", Field: field}
	if params.Default != "" {
		def := params.Default
		out.Status = &def
	}

	var warnings []string
	matched := false
	for idx := range params.Checks {
		check := params.Checks[idx]
		ok, err := runCheck(value, check)
		if err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		if !ok || matched {
			continue
		}

		s := check.Status
		out.Status = &s
		out.Reason = &check
		matched = true

		if params.ShortCircuit {
			break
		}
	}

	return &Statistic{
		Type:     KindStatus,
		Payload:  out,
		warnings: warnings,
	}, nil
}
