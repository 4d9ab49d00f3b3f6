package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"100":       100 * MicrosPerUnit,
		"0":         0,
		"12.5":      12_500_000,
		"0.000001":  1,
		"0.0000001": 1, // rounds up to one micro-unit
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.Micros(), in)
	}

	_, err := ParseAmount("-3")
	require.Error(t, err)
	_, err = ParseAmount("ten")
	require.Error(t, err)
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "100", MustParseAmount("100").String())
	assert.Equal(t, "12.5", MustParseAmount("12.50").String())
	assert.Equal(t, "0", Zero.String())
	assert.Equal(t, "-2.25", MustParseAmount("1").Sub(MustParseAmount("3.25")).String())
}

func TestAmountArithmeticSaturates(t *testing.T) {
	spent := MustParseAmount("90")
	huge := FromMicros(9223372036854000000)

	assert.Equal(t, MaxAmount, spent.Add(huge))
	assert.Equal(t, MaxAmount, MaxAmount.Add(FromMicros(1)))
	assert.Equal(t, MaxAmount, MaxAmount.Sub(FromMicros(-1)))
	assert.Equal(t, FromMicros(math.MinInt64), FromMicros(math.MinInt64+1).Sub(FromMicros(2)))
	assert.Equal(t, MustParseAmount("95"), spent.Add(MustParseAmount("5")))
}

func TestRateCostRoundsUp(t *testing.T) {
	rate := MustParseRate("1")
	cost, err := rate.Cost(5)
	require.NoError(t, err)
	assert.Equal(t, MustParseAmount("5"), cost)

	third := MustParseRate("0.01")
	cost, err = third.Cost(1.0 / 3.0)
	require.NoError(t, err)
	assert.Equal(t, int64(3334), cost.Micros())

	_, err = rate.Cost(-1)
	require.Error(t, err)
}

func TestAmountJSONAndYAML(t *testing.T) {
	var doc struct {
		Stop Amount `json:"stop" yaml:"stop"`
		Rate Rate   `json:"rate" yaml:"rate"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"stop": 100, "rate": "0.25"}`), &doc))
	assert.Equal(t, MustParseAmount("100"), doc.Stop)
	assert.Equal(t, "0.25", doc.Rate.String())

	require.NoError(t, yaml.Unmarshal([]byte("stop: \"42.5\"\nrate: 2\n"), &doc))
	assert.Equal(t, MustParseAmount("42.5"), doc.Stop)
	assert.Equal(t, "2", doc.Rate.String())

	out, err := json.Marshal(doc.Stop)
	require.NoError(t, err)
	assert.JSONEq(t, `"42.5"`, string(out))
}
