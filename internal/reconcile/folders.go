package reconcile

import (
	"sort"
)

// FoldersPatch is the plan converging the folders of both sides.
type FoldersPatch struct {
	Hunks      []FolderHunk
	CacheHunks []FolderCacheHunk
	// Folders are the folders kept on both sides, sorted.
	Folders []string
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// DiffFolders compares the four folder snapshots. A folder that one
// side recorded in its cache but no longer lists was deleted there, and the
// deletion wins over the other side. Any other folder listed on one side is
// kept and created where it is missing.
func DiffFolders(localCache, local, remoteCache, remote []string) FoldersPatch {
	lcSet, lSet, rcSet, rSet := toSet(localCache), toSet(local), toSet(remoteCache), toSet(remote)

	universe := make(map[string]struct{})
	for _, set := range []map[string]struct{}{lcSet, lSet, rcSet, rSet} {
		for name := range set {
			universe[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(universe))
	for name := range universe {
		names = append(names, name)
	}
	sort.Strings(names)

	patch := FoldersPatch{Folders: []string{}}
	var creates, deletes []FolderHunk
	for _, name := range names {
		_, lc := lcSet[name]
		_, l := lSet[name]
		_, rc := rcSet[name]
		_, r := rSet[name]

		localDeleted := lc && !l
		remoteDeleted := rc && !r

		if localDeleted || remoteDeleted {
			if l {
				deletes = append(deletes, FolderHunk{Kind: KindDelete, Folder: name, Side: Local})
			}
			if r {
				deletes = append(deletes, FolderHunk{Kind: KindDelete, Folder: name, Side: Remote})
			}
			if lc {
				patch.CacheHunks = append(patch.CacheHunks, FolderCacheHunk{Kind: CacheDelete, Folder: name, Side: Local})
			}
			if rc {
				patch.CacheHunks = append(patch.CacheHunks, FolderCacheHunk{Kind: CacheDelete, Folder: name, Side: Remote})
			}
			continue
		}

		patch.Folders = append(patch.Folders, name)
		if !l {
			creates = append(creates, FolderHunk{Kind: KindCreate, Folder: name, Side: Local})
		}
		if !r {
			creates = append(creates, FolderHunk{Kind: KindCreate, Folder: name, Side: Remote})
		}
		if !lc {
			patch.CacheHunks = append(patch.CacheHunks, FolderCacheHunk{Kind: CacheInsert, Folder: name, Side: Local})
		}
		if !rc {
			patch.CacheHunks = append(patch.CacheHunks, FolderCacheHunk{Kind: CacheInsert, Folder: name, Side: Remote})
		}
	}

	patch.Hunks = append(creates, deletes...)
	return patch
}
