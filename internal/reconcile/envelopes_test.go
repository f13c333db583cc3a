package reconcile

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

func env(internalID, messageID string, flags ...types.Flag) types.Envelope {
	return types.Envelope{
		ID:         internalID,
		InternalID: internalID,
		MessageID:  messageID,
		Flags:      types.NewFlags(flags...),
		Date:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func cached(envs ...types.Envelope) map[string]types.Envelope {
	out := make(map[string]types.Envelope, len(envs))
	for _, e := range envs {
		out[e.InternalID] = e
	}
	return out
}

func envelopeHunks(patch EnvelopesPatch) []string {
	out := []string{}
	for _, h := range patch.Hunks {
		out = append(out, h.String())
	}
	return out
}

func envelopeCacheHunks(patch EnvelopesPatch) []string {
	out := []string{}
	for _, h := range patch.CacheHunks {
		out = append(out, h.String())
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestDiffEnvelopes(t *testing.T) {
	const seen, flagged = types.FlagSeen, types.FlagFlagged

	tests := []struct {
		name       string
		snap       EnvelopeSnapshots
		hunks      []string
		cacheHunks []string
	}{
		{
			name: "in sync",
			snap: EnvelopeSnapshots{
				LocalCache:  cached(env("l1", "m1", seen)),
				Local:       types.Envelopes{env("l1", "m1", seen)},
				RemoteCache: cached(env("r1", "m1", seen)),
				Remote:      types.Envelopes{env("r1", "m1", seen)},
			},
			hunks:      []string{},
			cacheHunks: []string{},
		},
		{
			name: "new remote message",
			snap: EnvelopeSnapshots{
				Remote: types.Envelopes{env("r1", "m1", seen)},
			},
			hunks:      []string{"copy remote envelope r1 of INBOX to local"},
			cacheHunks: []string{},
		},
		{
			name: "new local message",
			snap: EnvelopeSnapshots{
				Local: types.Envelopes{env("l1", "m1")},
			},
			hunks:      []string{"copy local envelope l1 of INBOX to remote"},
			cacheHunks: []string{},
		},
		{
			name: "pre-existing message on both sides is matched by Message-ID",
			snap: EnvelopeSnapshots{
				Local:  types.Envelopes{env("l1", "<m1>", seen)},
				Remote: types.Envelopes{env("r1", "m1", flagged)},
			},
			hunks: []string{
				"set flags [flagged seen] of local envelope l1 of INBOX",
				"set flags [flagged seen] of remote envelope r1 of INBOX",
			},
			cacheHunks: []string{
				"insert local cached envelope l1 of INBOX",
				"insert remote cached envelope r1 of INBOX",
			},
		},
		{
			name: "deleted locally before the cache recorded it",
			snap: EnvelopeSnapshots{
				LocalCache:  cached(),
				RemoteCache: cached(env("r1", "m1", seen)),
				Remote:      types.Envelopes{env("r1", "m1", seen)},
			},
			hunks:      []string{"delete remote envelope r1 of INBOX"},
			cacheHunks: []string{"delete remote cached envelope r1 of INBOX"},
		},
		{
			name: "deleted remotely",
			snap: EnvelopeSnapshots{
				LocalCache:  cached(env("l1", "m1")),
				Local:       types.Envelopes{env("l1", "m1")},
				RemoteCache: cached(env("r1", "m1")),
			},
			hunks: []string{"delete local envelope l1 of INBOX"},
			cacheHunks: []string{
				"delete local cached envelope l1 of INBOX",
				"delete remote cached envelope r1 of INBOX",
			},
		},
		{
			name: "gone from both sides",
			snap: EnvelopeSnapshots{
				LocalCache:  cached(env("l1", "m1")),
				RemoteCache: cached(env("r1", "m1")),
			},
			hunks: []string{},
			cacheHunks: []string{
				"delete local cached envelope l1 of INBOX",
				"delete remote cached envelope r1 of INBOX",
			},
		},
		{
			name: "flag added remotely",
			snap: EnvelopeSnapshots{
				LocalCache:  cached(env("l1", "m1")),
				Local:       types.Envelopes{env("l1", "m1")},
				RemoteCache: cached(env("r1", "m1")),
				Remote:      types.Envelopes{env("r1", "m1", flagged)},
			},
			hunks: []string{"set flags [flagged] of local envelope l1 of INBOX"},
			cacheHunks: []string{
				"insert local cached envelope l1 of INBOX",
				"insert remote cached envelope r1 of INBOX",
			},
		},
		{
			name: "flag update is recorded even when the cache agrees",
			snap: EnvelopeSnapshots{
				LocalCache:  cached(env("l1", "m1", flagged)),
				Local:       types.Envelopes{env("l1", "m1")},
				RemoteCache: cached(env("r1", "m1")),
				Remote:      types.Envelopes{env("r1", "m1", flagged)},
			},
			hunks: []string{"set flags [flagged] of local envelope l1 of INBOX"},
			cacheHunks: []string{
				"insert local cached envelope l1 of INBOX",
				"insert remote cached envelope r1 of INBOX",
			},
		},
		{
			name: "recent is ignored",
			snap: EnvelopeSnapshots{
				LocalCache:  cached(env("l1", "m1", seen)),
				Local:       types.Envelopes{env("l1", "m1", seen)},
				RemoteCache: cached(env("r1", "m1", seen)),
				Remote:      types.Envelopes{env("r1", "m1", seen, types.FlagRecent)},
			},
			hunks:      []string{},
			cacheHunks: []string{},
		},
		{
			name: "renamed local message keeps its remote counterpart",
			snap: EnvelopeSnapshots{
				LocalCache:  cached(env("l1", "m1", seen)),
				Local:       types.Envelopes{env("l2", "m1", seen)},
				RemoteCache: cached(env("r1", "m1", seen)),
				Remote:      types.Envelopes{env("r1", "m1", seen)},
			},
			hunks: []string{},
			cacheHunks: []string{
				"delete local cached envelope l1 of INBOX",
				"insert local cached envelope l2 of INBOX",
			},
		},
		{
			name: "copies come before deletes and flags",
			snap: EnvelopeSnapshots{
				LocalCache:  cached(env("l1", "a"), env("l2", "b")),
				Local:       types.Envelopes{env("l1", "a"), env("l2", "b", seen)},
				RemoteCache: cached(env("r2", "b")),
				Remote:      types.Envelopes{env("r2", "b"), env("r3", "c")},
			},
			hunks: []string{
				"copy remote envelope r3 of INBOX to local",
				"delete local envelope l1 of INBOX",
				"set flags [seen] of remote envelope r2 of INBOX",
			},
			cacheHunks: []string{
				"delete local cached envelope l1 of INBOX",
				"insert local cached envelope l2 of INBOX",
				"insert remote cached envelope r2 of INBOX",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch := DiffEnvelopes("INBOX", tt.snap, quietLogger())
			require.Equal(t, tt.hunks, envelopeHunks(patch))
			require.Equal(t, tt.cacheHunks, envelopeCacheHunks(patch))
		})
	}
}

func TestDiffEnvelopesCopyCarriesSourceFlags(t *testing.T) {
	patch := DiffEnvelopes("INBOX", EnvelopeSnapshots{
		Remote: types.Envelopes{env("r1", "m1", types.FlagSeen, types.FlagRecent)},
	}, quietLogger())

	require.Len(t, patch.Hunks, 1)
	h := patch.Hunks[0]
	require.Equal(t, KindCopy, h.Kind)
	require.Equal(t, Local, h.Side)
	require.Equal(t, Remote, h.Source)
	require.True(t, h.RefreshSourceCache)
	require.Equal(t, "seen", h.Flags.String())
}

func TestDiffEnvelopesCacheRowsKeepCorrelationKey(t *testing.T) {
	patch := DiffEnvelopes("INBOX", EnvelopeSnapshots{
		LocalCache:  cached(env("l1", "m1")),
		Local:       types.Envelopes{env("l1", "other")},
		RemoteCache: cached(env("r1", "m1")),
		Remote:      types.Envelopes{env("r1", "m1", types.FlagSeen)},
	}, quietLogger())

	require.Len(t, patch.CacheHunks, 2)
	for _, h := range patch.CacheHunks {
		require.Equal(t, "m1", h.Envelope.MessageID)
		require.Equal(t, "seen", h.Envelope.Flags.String())
	}
}

func TestDiffEnvelopesWarnsOnDuplicateMessageID(t *testing.T) {
	logger, hook := test.NewNullLogger()

	patch := DiffEnvelopes("INBOX", EnvelopeSnapshots{
		Remote: types.Envelopes{env("r1", "dup"), env("r2", "dup")},
	}, logger)

	require.Equal(t, []string{"copy remote envelope r2 of INBOX to local"}, envelopeHunks(patch))
	require.Len(t, hook.Entries, 1)
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	require.Equal(t, "dup", hook.LastEntry().Data["message_id"])
}

func TestDiffEnvelopesFallsBackToDate(t *testing.T) {
	patch := DiffEnvelopes("INBOX", EnvelopeSnapshots{
		Local:  types.Envelopes{env("l1", "")},
		Remote: types.Envelopes{env("r1", "")},
	}, quietLogger())

	require.Empty(t, patch.Hunks)
	require.Equal(t, []string{
		"insert local cached envelope l1 of INBOX",
		"insert remote cached envelope r1 of INBOX",
	}, envelopeCacheHunks(patch))
	require.Equal(t, "2024-03-01T12:00:00Z", patch.CacheHunks[0].Envelope.MessageID)
}
