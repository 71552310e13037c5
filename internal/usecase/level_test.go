package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudioLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		snapshot []byte
		want     int
	}{
		{name: "empty", snapshot: nil, want: 0},
		{name: "silence", snapshot: bytesOf(128, 0), want: 0},
		{name: "saturated", snapshot: bytesOf(128, 255), want: 100},
		{name: "clamped", snapshot: bytesOf(128, 200), want: 100},
		{name: "mid", snapshot: bytesOf(128, 100), want: 59},
		{name: "mixed", snapshot: []byte{0, 255, 0, 255}, want: 75},
		{name: "quiet", snapshot: bytesOf(64, 17), want: 10},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, audioLevel(tc.snapshot))
		})
	}
}

func TestFragmentAccumulatorKeepsOrder(t *testing.T) {
	t.Parallel()

	acc := newFragmentAccumulator()
	first := []byte("one")
	acc.Add(first)
	acc.Add(nil)
	acc.Add([]byte{})
	acc.Add([]byte("two"))
	first[0] = 'X'

	assert.Equal(t, 2, acc.Count())
	assert.Equal(t, []byte("onetwo"), acc.Bytes())
}

func TestFragmentAccumulatorEmpty(t *testing.T) {
	t.Parallel()

	acc := newFragmentAccumulator()
	assert.Zero(t, acc.Count())
	assert.Empty(t, acc.Bytes())
}
