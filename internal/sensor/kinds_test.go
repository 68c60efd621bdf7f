package sensor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKindRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
}

func TestParseKindUnknown(t *testing.T) {
	_, err := ParseKind("seismograph")
	assert.Error(t, err)
}

func TestFitterUnknownKind(t *testing.T) {
	f := NewFitter(constantSource(10, 1), nil, nil)
	_, err := f.Fit(context.Background(), Kind(99), "nat", 201040, false)
	assert.Error(t, err)
}
