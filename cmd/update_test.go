package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
	"github.com/brookslogan/nowcast-template/internal/sensor"
)

func TestParsePairs(t *testing.T) {
	pairs, err := parsePairs("isch-nat,ght-ca,nsnd4-hhs1")
	require.NoError(t, err)
	assert.Equal(t, []sensor.Pair{
		{Kind: sensor.KindISCH, Location: "nat"},
		{Kind: sensor.KindGHT, Location: "ca"},
		{Kind: sensor.KindNSND4, Location: "hhs1"},
	}, pairs)
}

func TestParsePairsAll(t *testing.T) {
	pairs, err := parsePairs("isch-all")
	require.NoError(t, err)
	assert.Equal(t, []sensor.Pair{{Kind: sensor.KindISCH, Location: "all"}}, pairs)
}

func TestParsePairsRejectsMalformed(t *testing.T) {
	for _, arg := range []string{"", "isch", "isch-", "-nat", "isch nat", "isch-NAT"} {
		_, err := parsePairs(arg)
		assert.Error(t, err, "arg=%q", arg)
	}
}

func TestParsePairsUnknownSensor(t *testing.T) {
	_, err := parsePairs("seismograph-nat")
	assert.Error(t, err)
}

func TestParseWeekRange(t *testing.T) {
	first, last, err := parseWeekRange(201040, 201052, 0)
	require.NoError(t, err)
	assert.Equal(t, epiweek.Week(201040), first)
	assert.Equal(t, epiweek.Week(201052), last)

	// --week pins both ends.
	first, last, err = parseWeekRange(0, 0, 201510)
	require.NoError(t, err)
	assert.Equal(t, epiweek.Week(201510), first)
	assert.Equal(t, first, last)

	// Unset flags stay zero so the orchestrator picks the range.
	first, last, err = parseWeekRange(0, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, first)
	assert.Zero(t, last)
}

func TestParseWeekRangeErrors(t *testing.T) {
	_, _, err := parseWeekRange(201040, 0, 201510)
	assert.Error(t, err)

	_, _, err = parseWeekRange(0, 201052, 201510)
	assert.Error(t, err)

	_, _, err = parseWeekRange(201052, 201040, 0)
	assert.Error(t, err)

	// Week 60 does not exist in any year.
	_, _, err = parseWeekRange(201060, 0, 0)
	assert.Error(t, err)

	_, _, err = parseWeekRange(0, 0, 201060)
	assert.Error(t, err)
}
