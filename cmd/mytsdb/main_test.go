package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/mytsdb/internal/model"
	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

func TestFormatValueScalar(t *testing.T) {
	out := formatValue(value.Scalar{Timestamp: 1000, V: 2.5})
	require.Equal(t, "scalar: 2.5 @1000", out)
}

func TestFormatValueVector(t *testing.T) {
	lset := model.LabelSet{"__name__": "up", "job": "a"}
	out := formatValue(value.VectorValue{{Labels: lset, Timestamp: 1000, Value: 1}})
	require.Contains(t, out, "up")
	require.Contains(t, out, "@1000")
}

func TestJoinParseErrors(t *testing.T) {
	require.Equal(t, "", joinParseErrors(nil))
}
