package reconcile

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// EnvelopeSnapshots holds the four observations of one folder. Caches are
// keyed by internal id.
type EnvelopeSnapshots struct {
	LocalCache  map[string]types.Envelope
	Local       types.Envelopes
	RemoteCache map[string]types.Envelope
	Remote      types.Envelopes
}

// EnvelopesPatch is the plan converging one folder. Hunks are ordered
// copies first, then deletions, then flag updates.
type EnvelopesPatch struct {
	Hunks      []EnvelopeHunk
	CacheHunks []EnvelopeCacheHunk
}

// DiffEnvelopes correlates the snapshots by Message-ID and plans the
// changes. An envelope one cache knows but a live side lacks was deleted
// there and is deleted everywhere. An envelope live on both sides gets the
// merged flags. An envelope live on one side only and unknown to both
// caches is new and is copied to the other side.
func DiffEnvelopes(folder string, s EnvelopeSnapshots, logger *logrus.Logger) EnvelopesPatch {
	log := logger.WithField("folder", folder)
	lcByKey := keyCached(s.LocalCache, log.WithField("point", "local cache"))
	lByKey := keyLive(s.Local, s.LocalCache, log.WithField("point", string(Local)))
	rcByKey := keyCached(s.RemoteCache, log.WithField("point", "remote cache"))
	rByKey := keyLive(s.Remote, s.RemoteCache, log.WithField("point", string(Remote)))

	universe := make(map[string]struct{})
	for _, m := range []map[string]types.Envelope{lcByKey, lByKey, rcByKey, rByKey} {
		for key := range m {
			universe[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(universe))
	for key := range universe {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var patch EnvelopesPatch
	var copies, deletes, flags []EnvelopeHunk
	cacheHunk := func(kind CacheHunkKind, side Side, env types.Envelope, key string) {
		patch.CacheHunks = append(patch.CacheHunks, EnvelopeCacheHunk{
			Kind: kind, Folder: folder, Side: side, Envelope: env, key: key,
		})
	}

	for _, key := range keys {
		lcEnv, lc := lcByKey[key]
		lEnv, l := lByKey[key]
		rcEnv, rc := rcByKey[key]
		rEnv, r := rByKey[key]

		switch {
		case (lc || rc) && !(l && r):
			if l {
				deletes = append(deletes, EnvelopeHunk{Kind: KindDelete, Folder: folder, Envelope: lEnv, Side: Local, key: key})
			}
			if r {
				deletes = append(deletes, EnvelopeHunk{Kind: KindDelete, Folder: folder, Envelope: rEnv, Side: Remote, key: key})
			}
			if lc {
				cacheHunk(CacheDelete, Local, lcEnv, key)
			}
			if rc {
				cacheHunk(CacheDelete, Remote, rcEnv, key)
			}

		case l && r:
			merged := MergeFlags(flagsIf(lc, lcEnv), lEnv.Flags, flagsIf(rc, rcEnv), rEnv.Flags)
			if !lEnv.Flags.Equal(merged) {
				flags = append(flags, EnvelopeHunk{Kind: KindSetFlags, Folder: folder, Envelope: lEnv, Side: Local, Flags: merged, key: key})
			}
			if !rEnv.Flags.Equal(merged) {
				flags = append(flags, EnvelopeHunk{Kind: KindSetFlags, Folder: folder, Envelope: rEnv, Side: Remote, Flags: merged, key: key})
			}
			planCacheRow(cacheHunk, Local, lc, lcEnv, lEnv, merged, key)
			planCacheRow(cacheHunk, Remote, rc, rcEnv, rEnv, merged, key)

		case l:
			copies = append(copies, EnvelopeHunk{
				Kind: KindCopy, Folder: folder, Envelope: lEnv, Side: Remote, Source: Local,
				Flags: MergeFlags(nil, lEnv.Flags, nil, nil), RefreshSourceCache: true, key: key,
			})

		case r:
			copies = append(copies, EnvelopeHunk{
				Kind: KindCopy, Folder: folder, Envelope: rEnv, Side: Local, Source: Remote,
				Flags: MergeFlags(nil, nil, nil, rEnv.Flags), RefreshSourceCache: true, key: key,
			})
		}
	}

	patch.Hunks = append(append(copies, deletes...), flags...)
	return patch
}

// planCacheRow makes the cache row of side record live under key with the
// merged flags, replacing a row of another internal id. A side that gets a
// flag update always gets a row, so the flags it keeps can be recorded.
func planCacheRow(cacheHunk func(CacheHunkKind, Side, types.Envelope, string), side Side, cached bool, cachedEnv, live types.Envelope, merged types.Flags, key string) {
	if cached && cachedEnv.InternalID == live.InternalID && cachedEnv.Flags.Equal(merged) && live.Flags.Equal(merged) {
		return
	}
	if cached && cachedEnv.InternalID != live.InternalID {
		cacheHunk(CacheDelete, side, cachedEnv, key)
	}
	row := live
	row.MessageID = key
	row.Flags = merged.Clone()
	cacheHunk(CacheInsert, side, row, key)
}

func flagsIf(present bool, env types.Envelope) types.Flags {
	if !present {
		return nil
	}
	return env.Flags
}

func withoutRecent(env types.Envelope) types.Envelope {
	env.Flags = env.Flags.Without(types.FlagRecent)
	return env
}

// keyCached keys cache rows by their recorded correlation key.
func keyCached(cached map[string]types.Envelope, log *logrus.Entry) map[string]types.Envelope {
	ids := make([]string, 0, len(cached))
	for id := range cached {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	byKey := make(map[string]types.Envelope, len(cached))
	for _, id := range ids {
		env := withoutRecent(cached[id])
		addKeyed(byKey, env.CorrelationKey(), env, log)
	}
	return byKey
}

// keyLive keys live envelopes. An envelope the same side cached keeps the
// key recorded in its cache row.
func keyLive(live types.Envelopes, cached map[string]types.Envelope, log *logrus.Entry) map[string]types.Envelope {
	byKey := make(map[string]types.Envelope, len(live))
	for i := range live {
		env := withoutRecent(live[i])
		key := env.CorrelationKey()
		if row, ok := cached[env.InternalID]; ok {
			key = row.CorrelationKey()
		}
		addKeyed(byKey, key, env, log)
	}
	return byKey
}

func addKeyed(byKey map[string]types.Envelope, key string, env types.Envelope, log *logrus.Entry) {
	if prev, ok := byKey[key]; ok {
		log.WithFields(logrus.Fields{
			"message_id": key,
			"kept":       env.InternalID,
			"dropped":    prev.InternalID,
		}).Warn("Duplicate Message-ID, keeping the later envelope")
	}
	byKey[key] = env
}
