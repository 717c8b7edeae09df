package funcs

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

func registerLabelManipulation(r *Registry) {
	r.register(Signature{
		Name: "label_replace",
		ArgTypes: []value.ValueType{
			value.ValVector, value.ValString, value.ValString, value.ValString, value.ValString,
		},
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			dst, err := asString(args[1])
			if err != nil {
				return nil, err
			}
			replacement, err := asString(args[2])
			if err != nil {
				return nil, err
			}
			src, err := asString(args[3])
			if err != nil {
				return nil, err
			}
			pattern, err := asString(args[4])
			if err != nil {
				return nil, err
			}

			re, err := regexp.Compile("^(?:" + pattern + ")$")
			if err != nil {
				// Invalid regex: return the input vector unchanged, matching
				// the source engine's fallback behavior.
				return value.VectorValue(v), nil
			}

			out := make(model.Vector, len(v))
			for i, s := range v {
				newLabels := s.Labels.Clone()
				match := re.FindStringSubmatch(s.Labels[src])
				if match != nil {
					newValue := replacement
					for g := 1; g < len(match); g++ {
						placeholder := "$" + strconv.Itoa(g)
						newValue = strings.ReplaceAll(newValue, placeholder, match[g])
					}
					newLabels[dst] = newValue
				}
				out[i] = model.VectorSample{Labels: newLabels, Timestamp: s.Timestamp, Value: s.Value}
			}
			return value.VectorValue(out), nil
		},
	})

	r.register(Signature{
		Name:       "label_join",
		ArgTypes:   []value.ValueType{value.ValVector, value.ValString, value.ValString, value.ValString},
		Variadic:   true,
		ReturnType: value.ValVector,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			v, err := asVector(args[0])
			if err != nil {
				return nil, err
			}
			dst, err := asString(args[1])
			if err != nil {
				return nil, err
			}
			sep, err := asString(args[2])
			if err != nil {
				return nil, err
			}
			srcLabels := make([]string, 0, len(args)-3)
			for _, a := range args[3:] {
				s, err := asString(a)
				if err != nil {
					return nil, err
				}
				srcLabels = append(srcLabels, s)
			}

			out := make(model.Vector, len(v))
			for i, s := range v {
				parts := make([]string, len(srcLabels))
				for j, name := range srcLabels {
					parts[j] = s.Labels[name]
				}
				newLabels := s.Labels.Clone()
				newLabels[dst] = strings.Join(parts, sep)
				out[i] = model.VectorSample{Labels: newLabels, Timestamp: s.Timestamp, Value: s.Value}
			}
			return value.VectorValue(out), nil
		},
	})
}
