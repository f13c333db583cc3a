package reconcile

import "fmt"

// EventKind identifies a checkpoint of a pass.
type EventKind int

const (
	GetLocalCachedFolders EventKind = iota
	GetLocalFolders
	GetRemoteCachedFolders
	GetRemoteFolders
	BuildFoldersPatch
	ProcessFoldersPatch
	ProcessFolderHunk
	StartEnvelopesSync
	GetLocalCachedEnvelopes
	GetLocalEnvelopes
	GetRemoteCachedEnvelopes
	GetRemoteEnvelopes
	BuildEnvelopesPatch
	ProcessEnvelopesPatch
	ProcessEnvelopeHunk
)

// Event is reported to the progress callback.
type Event struct {
	Kind EventKind

	// Folder is set from StartEnvelopesSync on.
	Folder string
	// Index and Total number the folder in StartEnvelopesSync, from 1.
	Index int
	Total int
	// Count is the number of hunks of a ProcessFoldersPatch or
	// ProcessEnvelopesPatch.
	Count int
	// Hunk describes the hunk of a ProcessFolderHunk or ProcessEnvelopeHunk.
	Hunk string
}

func (e Event) String() string {
	switch e.Kind {
	case GetLocalCachedFolders:
		return "Listing local cached folders"
	case GetLocalFolders:
		return "Listing local folders"
	case GetRemoteCachedFolders:
		return "Listing remote cached folders"
	case GetRemoteFolders:
		return "Listing remote folders"
	case BuildFoldersPatch:
		return "Building folders patch"
	case ProcessFoldersPatch:
		return fmt.Sprintf("Processing %d hunks of folders patch", e.Count)
	case ProcessFolderHunk:
		return e.Hunk
	case StartEnvelopesSync:
		return fmt.Sprintf("Synchronizing envelopes of folder %s (%d/%d)", e.Folder, e.Index, e.Total)
	case GetLocalCachedEnvelopes:
		return fmt.Sprintf("Listing local cached envelopes of %s", e.Folder)
	case GetLocalEnvelopes:
		return fmt.Sprintf("Listing local envelopes of %s", e.Folder)
	case GetRemoteCachedEnvelopes:
		return fmt.Sprintf("Listing remote cached envelopes of %s", e.Folder)
	case GetRemoteEnvelopes:
		return fmt.Sprintf("Listing remote envelopes of %s", e.Folder)
	case BuildEnvelopesPatch:
		return fmt.Sprintf("Building envelopes patch of %s", e.Folder)
	case ProcessEnvelopesPatch:
		return fmt.Sprintf("Processing %d hunks of envelopes patch of %s", e.Count, e.Folder)
	case ProcessEnvelopeHunk:
		return e.Hunk
	default:
		return fmt.Sprintf("event %d", int(e.Kind))
	}
}

// ProgressFunc receives the events of a pass. Returning an error aborts
// the pass.
type ProgressFunc func(Event) error
