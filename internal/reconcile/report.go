package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/brandon/mailsync/pkg/types"
)

// HunkKind is the operation of a folder or envelope hunk.
type HunkKind string

const (
	KindCreate   HunkKind = "create"
	KindDelete   HunkKind = "delete"
	KindCopy     HunkKind = "copy"
	KindSetFlags HunkKind = "set_flags"
)

// CacheHunkKind is the operation of a cache hunk.
type CacheHunkKind string

const (
	CacheInsert CacheHunkKind = "insert"
	CacheDelete CacheHunkKind = "delete"
)

// FolderHunk creates or deletes a folder on one side.
type FolderHunk struct {
	Kind   HunkKind `json:"kind"`
	Folder string   `json:"folder"`
	Side   Side     `json:"side"`
}

func (h FolderHunk) String() string {
	return fmt.Sprintf("%s %s folder %s", h.Kind, h.Side, h.Folder)
}

// FolderCacheHunk inserts or deletes the cache row of a folder.
type FolderCacheHunk struct {
	Kind   CacheHunkKind `json:"kind"`
	Folder string        `json:"folder"`
	Side   Side          `json:"side"`
}

func (h FolderCacheHunk) String() string {
	return fmt.Sprintf("%s %s cached folder %s", h.Kind, h.Side, h.Folder)
}

// EnvelopeHunk changes one message on Side. A copy reads the message from
// Source; copies and flag updates write Flags.
type EnvelopeHunk struct {
	Kind     HunkKind       `json:"kind"`
	Folder   string         `json:"folder"`
	Envelope types.Envelope `json:"envelope"`
	Side     Side           `json:"side"`
	Source   Side           `json:"source,omitempty"`
	Flags    types.Flags    `json:"flags,omitempty"`

	// RefreshSourceCache records the source envelope in the source cache
	// once the copy succeeded.
	RefreshSourceCache bool `json:"-"`

	key string
}

func (h EnvelopeHunk) String() string {
	switch h.Kind {
	case KindCopy:
		return fmt.Sprintf("copy %s envelope %s of %s to %s", h.Source, h.Envelope.InternalID, h.Folder, h.Side)
	case KindSetFlags:
		return fmt.Sprintf("set flags [%s] of %s envelope %s of %s", h.Flags, h.Side, h.Envelope.InternalID, h.Folder)
	default:
		return fmt.Sprintf("%s %s envelope %s of %s", h.Kind, h.Side, h.Envelope.InternalID, h.Folder)
	}
}

// EnvelopeCacheHunk inserts, updates or deletes the cache row of an
// envelope.
type EnvelopeCacheHunk struct {
	Kind     CacheHunkKind  `json:"kind"`
	Folder   string         `json:"folder"`
	Side     Side           `json:"side"`
	Envelope types.Envelope `json:"envelope"`

	key string
}

func (h EnvelopeCacheHunk) String() string {
	return fmt.Sprintf("%s %s cached envelope %s of %s", h.Kind, h.Side, h.Envelope.InternalID, h.Folder)
}

// Result is a hunk and the error applying it, nil on success or when the
// pass was a dry run.
type Result[H any] struct {
	Hunk H
	Err  error
}

type resultJSON[H any] struct {
	Hunk  H      `json:"hunk"`
	Error string `json:"error,omitempty"`
}

func (r Result[H]) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON[H]{Hunk: r.Hunk, Error: errString(r.Err)})
}

// FolderError is a failure that concerns a whole folder rather than one
// hunk, such as a listing or an expunge.
type FolderError struct {
	Folder string
	Op     string
	Err    error
}

func (e FolderError) Error() string {
	return fmt.Sprintf("cannot %s of folder %s: %v", e.Op, e.Folder, e.Err)
}

func (e FolderError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Folder string `json:"folder"`
		Op     string `json:"op"`
		Error  string `json:"error"`
	}{e.Folder, e.Op, errString(e.Err)})
}

// Report is the outcome of a pass.
type Report struct {
	Account string `json:"account"`
	DryRun  bool   `json:"dry_run"`

	// Folders are the folders that exist on both sides after the pass.
	Folders []string `json:"folders"`

	FoldersPatch        []Result[FolderHunk]        `json:"folders_patch"`
	FoldersCachePatch   []Result[FolderCacheHunk]   `json:"folders_cache_patch"`
	EnvelopesPatch      []Result[EnvelopeHunk]      `json:"envelopes_patch"`
	EnvelopesCachePatch []Result[EnvelopeCacheHunk] `json:"envelopes_cache_patch"`

	FolderErrors []FolderError `json:"folder_errors"`

	// CommitErr is the failure to persist the cache.
	CommitErr error `json:"-"`
}

func (r Report) MarshalJSON() ([]byte, error) {
	type report Report
	return json.Marshal(struct {
		report
		CommitError string `json:"commit_error,omitempty"`
	}{report(r), errString(r.CommitErr)})
}

// IsEmpty reports whether the pass had nothing to do.
func (r *Report) IsEmpty() bool {
	return len(r.FoldersPatch) == 0 &&
		len(r.FoldersCachePatch) == 0 &&
		len(r.EnvelopesPatch) == 0 &&
		len(r.EnvelopesCachePatch) == 0
}

// HasErrors reports whether any part of the pass failed.
func (r *Report) HasErrors() bool {
	return r.CommitErr != nil || len(r.FolderErrors) > 0 ||
		failed(r.FoldersPatch) || failed(r.FoldersCachePatch) ||
		failed(r.EnvelopesPatch) || failed(r.EnvelopesCachePatch)
}

// Errors lists every failure of the pass.
func (r *Report) Errors() []error {
	var errs []error
	errs = appendErrors(errs, r.FoldersPatch)
	errs = appendErrors(errs, r.FoldersCachePatch)
	errs = appendErrors(errs, r.EnvelopesPatch)
	errs = appendErrors(errs, r.EnvelopesCachePatch)
	for _, e := range r.FolderErrors {
		errs = append(errs, e)
	}
	if r.CommitErr != nil {
		errs = append(errs, r.CommitErr)
	}
	return errs
}

func failed[H any](results []Result[H]) bool {
	for _, res := range results {
		if res.Err != nil {
			return true
		}
	}
	return false
}

func appendErrors[H fmt.Stringer](errs []error, results []Result[H]) []error {
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Hunk, res.Err))
		}
	}
	return errs
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
