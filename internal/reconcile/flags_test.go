package reconcile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

func TestMergeFlag(t *testing.T) {
	tests := []struct {
		lc, l, rc, r bool
		seen         bool
		deleted      bool
	}{
		{false, false, false, false, false, false},
		{false, false, false, true, true, true},
		{false, false, true, false, false, false},
		{false, false, true, true, true, false},
		{false, true, false, false, true, true},
		{false, true, false, true, true, true},
		{false, true, true, false, true, false},
		{false, true, true, true, true, true},
		{true, false, false, false, false, false},
		{true, false, false, true, true, false},
		{true, false, true, false, false, false},
		{true, false, true, true, false, false},
		{true, true, false, false, true, false},
		{true, true, false, true, true, true},
		{true, true, true, false, false, false},
		{true, true, true, true, true, true},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("lc=%t,l=%t,rc=%t,r=%t", tt.lc, tt.l, tt.rc, tt.r)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.seen, MergeFlag(types.FlagSeen, tt.lc, tt.l, tt.rc, tt.r), "seen")
			assert.Equal(t, tt.deleted, MergeFlag(types.FlagDeleted, tt.lc, tt.l, tt.rc, tt.r), "deleted")
		})
	}
}

func TestMergeFlagIsSymmetric(t *testing.T) {
	for _, flag := range []types.Flag{types.FlagSeen, types.FlagDeleted, "custom"} {
		for bits := 0; bits < 16; bits++ {
			lc, l, rc, r := bits&8 != 0, bits&4 != 0, bits&2 != 0, bits&1 != 0
			assert.Equal(t, MergeFlag(flag, lc, l, rc, r), MergeFlag(flag, rc, r, lc, l),
				"flag %s lc=%t l=%t rc=%t r=%t", flag, lc, l, rc, r)
		}
	}
}

func TestMergeFlags(t *testing.T) {
	t.Run("first sync unions both sides", func(t *testing.T) {
		merged := MergeFlags(nil, types.NewFlags(types.FlagSeen), nil, types.NewFlags(types.FlagFlagged))
		require.Equal(t, "flagged seen", merged.String())
	})

	t.Run("local removal wins over unchanged remote", func(t *testing.T) {
		was := types.NewFlags(types.FlagSeen, types.FlagFlagged)
		merged := MergeFlags(was, types.NewFlags(types.FlagFlagged), was, was)
		require.Equal(t, "flagged", merged.String())
	})

	t.Run("remote deletion never recorded locally is undone", func(t *testing.T) {
		deleted := types.NewFlags(types.FlagDeleted, types.FlagSeen)
		merged := MergeFlags(nil, types.NewFlags(types.FlagSeen), deleted, deleted)
		require.Equal(t, "seen", merged.String())
	})

	t.Run("changes on both sides combine", func(t *testing.T) {
		was := types.NewFlags(types.FlagSeen)
		merged := MergeFlags(was, types.NewFlags(types.FlagSeen, types.FlagAnswered), was, types.NewFlags())
		require.Equal(t, "answered", merged.String())
	})
}

func TestSideOther(t *testing.T) {
	require.Equal(t, Remote, Local.Other())
	require.Equal(t, Local, Remote.Other())
}
