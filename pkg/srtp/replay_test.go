package srtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplayWindow_AcceptsIncreasingIndices(t *testing.T) {
	w := newReplayWindow(64)
	for i := uint64(0); i < 10; i++ {
		require.True(t, w.check(i))
		w.accept(i)
	}
}

func TestReplayWindow_RejectsDuplicate(t *testing.T) {
	w := newReplayWindow(64)
	require.True(t, w.check(100))
	w.accept(100)

	require.False(t, w.check(100))
}

func TestReplayWindow_RejectsTooOld(t *testing.T) {
	w := newReplayWindow(64)
	w.accept(1000)
	require.False(t, w.check(1000-64))
	require.False(t, w.check(1000-100))
}

func TestReplayWindow_AcceptsReorderedWithinWindow(t *testing.T) {
	w := newReplayWindow(64)
	w.accept(100)
	require.True(t, w.check(95))
	w.accept(95)
	require.False(t, w.check(95))
}

func TestReplayWindow_NeverAcceptsSameIndexTwice(t *testing.T) {
	w := newReplayWindow(64)
	seen := map[uint64]bool{}
	for _, idx := range []uint64{1, 2, 3, 2, 5, 1, 10} {
		ok := w.check(idx)
		if ok {
			require.False(t, seen[idx], "index %d accepted twice", idx)
			seen[idx] = true
			w.accept(idx)
		}
	}
}
