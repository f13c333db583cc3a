// Package reconcile converges a local and a remote backend of one account.
//
// Each pass compares four observations of every folder, envelope and flag:
// the local cache, the local backend, the remote cache and the remote
// backend. The caches record the state both sides agreed on at the end of
// the previous pass, so a difference between a cache and its live side is a
// change made on that side since then.
package reconcile

import (
	"github.com/brandon/mailsync/pkg/types"
)

// Side is one of the two replicas of an account.
type Side string

const (
	Local  Side = "local"
	Remote Side = "remote"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == Local {
		return Remote
	}
	return Local
}

// presence packs the four observations of a flag or an entity, in the
// order local cache, local, remote cache, remote.
type presence uint8

const (
	inLocalCache presence = 1 << (3 - iota)
	inLocal
	inRemoteCache
	inRemote
)

func presenceOf(lc, l, rc, r bool) presence {
	var p presence
	if lc {
		p |= inLocalCache
	}
	if l {
		p |= inLocal
	}
	if rc {
		p |= inRemoteCache
	}
	if r {
		p |= inRemote
	}
	return p
}

// MergeFlag decides whether flag belongs to the merged set given its
// presence in the local cache, local, remote cache and remote snapshots.
//
// A flag seen on one side only is propagated. A flag both caches recorded
// but a live side lost is removed. When the two sides disagree without a
// cache record to tell which changed, the flag is kept, except Deleted
// which is dropped so an undelete wins over a stale deletion.
func MergeFlag(flag types.Flag, lc, l, rc, r bool) bool {
	const (
		LC = inLocalCache
		L  = inLocal
		RC = inRemoteCache
		R  = inRemote
	)

	switch presenceOf(lc, l, rc, r) {
	case R, L, L | R, L | RC | R, LC | L | R, LC | L | RC | R:
		return true
	case RC, LC, LC | RC, LC | RC | R, LC | L | RC:
		return false
	case RC | R, L | RC, LC | R, LC | L:
		return flag != types.FlagDeleted
	default:
		// absent everywhere
		return false
	}
}

// MergeFlags merges every flag seen in any of the four sets. A nil set
// stands for an observation point that does not hold the envelope.
func MergeFlags(lc, l, rc, r types.Flags) types.Flags {
	merged := types.NewFlags()
	for _, set := range []types.Flags{lc, l, rc, r} {
		for f := range set {
			if merged.Has(f) {
				continue
			}
			if MergeFlag(f, lc.Has(f), l.Has(f), rc.Has(f), r.Has(f)) {
				merged.Add(f)
			}
		}
	}
	return merged
}
