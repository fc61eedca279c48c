package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTicksGroupsAndSorts(t *testing.T) {
	in := `token,timestamp,index
B,1700000060,1.0002
A,1700000000,1.0000
B,1700000000,1.0000
A,2023-11-14T22:14:20Z,1.0001
`
	ticks, err := readTicks(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ticks[0].at)
	assert.Len(t, ticks[0].observations, 2)
	assert.Equal(t, time.Unix(1700000060, 0).UTC(), ticks[1].at)
	require.Len(t, ticks[1].observations, 2)
	assert.Equal(t, "B", ticks[1].observations[0].Token)
	assert.Equal(t, "A", ticks[1].observations[1].Token)
}

func TestReadTicksErrors(t *testing.T) {
	_, err := readTicks(strings.NewReader("A,yesterday,1.0\n"))
	assert.ErrorContains(t, err, "invalid timestamp")

	_, err = readTicks(strings.NewReader("A,1700000000,one\n"))
	assert.ErrorContains(t, err, "invalid index")

	_, err = readTicks(strings.NewReader("A,1700000000\n"))
	assert.Error(t, err)
}
