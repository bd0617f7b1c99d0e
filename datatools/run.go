package datatools

import (
	"github.com/fdbk/fdbk"
)

// Output is the result of running data tools: statistics plus the
// warnings raised while computing them.
type Output struct {
	Statistics []*Statistic `json:"statistics"`
	Warnings   []string     `json:"warnings"`
}

func checkDataTool(t *fdbk.Topic, tool fdbk.DataTool) (Method, string) {
	m, ok := Lookup(tool.Method)
	if !ok {
		return Method{}, fdbk.MethodNotSupported(tool.Method)
	}
	if !t.HasField(tool.Field) {
		return Method{}, fdbk.FieldIsUndefined(tool.Field)
	}
	return m, ""
}

func copyMetadata(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	return mergeMetadata(nil, in)
}

// Run executes the data tools of a resolved topic against its data in
// order. Chart methods consume the aggregated data when aggregation is
// requested, every other method the original data. Unknown methods,
// undefined fields and function failures become warnings and the
// statistics of a single topic are folded with PreProcess.
func Run(t fdbk.Topic, data []fdbk.DataPoint, opts Options) Output {
	out := Output{Statistics: []*Statistic{}, Warnings: []string{}}

	if len(data) == 0 {
		out.Warnings = append(out.Warnings, fdbk.NoData(&t))
		return out
	}

	chartData := data
	if opts.AggregateTo > 0 {
		var warnings []string
		chartData, warnings = Aggregate(data, opts)
		out.Warnings = append(out.Warnings, warnings...)
	}

	results := make([]*Statistic, 0, len(t.DataTools))
	for _, tool := range t.DataTools {
		method, warning := checkDataTool(&t, tool)
		if warning != "" {
			out.Warnings = append(out.Warnings, warning)
			continue
		}

		input := data
		if method.Family == FamilyChart {
			input = chartData
		}

		result, err := method.Func(input, tool.Field, tool.Parameters)
		if err != nil {
			out.Warnings = append(out.Warnings, err.Error())
			continue
		}
		if result == nil {
			continue
		}

		out.Warnings = append(out.Warnings, result.warnings...)
		result.annotate(t.Name, t.UnitOf(tool.Field))
		if md := copyMetadata(tool.Metadata); md != nil {
			result.Metadata = md
		}
		results = append(results, result)
	}

	stats, warnings := PreProcess(results)
	out.Statistics = stats
	out.Warnings = append(out.Warnings, warnings...)
	return out
}

// Combine concatenates the outputs of several runs and merges their
// charts and collections with PostProcess.
func Combine(outputs ...Output) Output {
	out := Output{Statistics: []*Statistic{}, Warnings: []string{}}

	var stats []*Statistic
	for _, o := range outputs {
		stats = append(stats, o.Statistics...)
		out.Warnings = append(out.Warnings, o.Warnings...)
	}

	stats, warnings := PostProcess(stats)
	out.Statistics = stats
	out.Warnings = append(out.Warnings, warnings...)
	return out
}
