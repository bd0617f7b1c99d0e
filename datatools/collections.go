package datatools

import (
	"github.com/fdbk/fdbk"
	"github.com/pkg/errors"
)

// collectionItem runs the nested method and wraps its result as an item
// of the collection named in the parameters.
func collectionItem(kind Kind, data []fdbk.DataPoint, field string, params *fdbk.Parameters) (*Statistic, error) {
	if params == nil {
		return nil, nil
	}

	method := params.MethodOrDefault()
	nested, ok := Lookup(method)
	if !ok || nested.Family == FamilyCollection {
		return nil, errors.New(fdbk.MethodNotSupported(method))
	}

	inner, err := nested.Func(data, field, params.Parameters)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if inner == nil {
		return nil, nil
	}

	return &Statistic{
		Type:       kind,
		Payload:    inner,
		Parameters: params,
		warnings:   inner.warnings,
	}, nil
}

func listItem(data []fdbk.DataPoint, field string, params *fdbk.Parameters) (*Statistic, error) {
	return collectionItem(KindListItem, data, field, params)
}

func tableItem(data []fdbk.DataPoint, field string, params *fdbk.Parameters) (*Statistic, error) {
	return collectionItem(KindTableItem, data, field, params)
}
