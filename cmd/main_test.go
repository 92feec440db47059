package main

import (
	"testing"

	"duneweaver/internal/config"
	"duneweaver/internal/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickDevice(t *testing.T) {
	one := []config.Device{{ID: "a"}}
	two := []config.Device{{ID: "a"}, {ID: "b"}}

	d, err := pickDevice(one, "")
	require.NoError(t, err)
	assert.Equal(t, "a", d.ID)

	_, err = pickDevice(two, "")
	assert.ErrorContains(t, err, "--device")

	d, err = pickDevice(two, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", d.ID)

	_, err = pickDevice(two, "c")
	assert.ErrorContains(t, err, "not found")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "24.12 - 26.12", describe(schedule.Entry{Kind: schedule.KindRange, Start: "24.12", End: "26.12"}))
	assert.Equal(t, "[31.10 01.11]", describe(schedule.Entry{Kind: schedule.KindDates, Dates: []string{"31.10", "01.11"}}))
	assert.Equal(t, "easter", describe(schedule.Entry{Kind: schedule.KindDynamic, Holiday: "easter"}))
}
