package types

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/bradenaw/juniper/xslices"
)

// Flag is a message tag. System flags use the lowercase names below,
// anything else is a custom keyword kept verbatim.
type Flag string

const (
	FlagSeen     Flag = "seen"
	FlagAnswered Flag = "answered"
	FlagFlagged  Flag = "flagged"
	FlagDeleted  Flag = "deleted"
	FlagDraft    Flag = "draft"
	FlagRecent   Flag = "recent"
)

var systemFlags = map[string]Flag{
	"seen":     FlagSeen,
	"answered": FlagAnswered,
	"flagged":  FlagFlagged,
	"deleted":  FlagDeleted,
	"draft":    FlagDraft,
	"recent":   FlagRecent,
}

// ParseFlag parses a flag name. The IMAP backslash prefix is accepted and
// system flag names are matched case-insensitively.
func ParseFlag(s string) Flag {
	s = strings.TrimSpace(s)
	name := strings.TrimPrefix(s, `\`)
	if f, ok := systemFlags[strings.ToLower(name)]; ok {
		return f
	}
	return Flag(name)
}

// IsCustom reports whether f is a keyword rather than a system flag.
func (f Flag) IsCustom() bool {
	_, ok := systemFlags[string(f)]
	return !ok
}

// Flags is an unordered set of flags.
type Flags map[Flag]struct{}

// NewFlags builds a set from the given flags.
func NewFlags(flags ...Flag) Flags {
	set := make(Flags, len(flags))
	for _, f := range flags {
		set[f] = struct{}{}
	}
	return set
}

// ParseFlags parses a whitespace separated list of flag names.
func ParseFlags(s string) Flags {
	return NewFlags(xslices.Map(strings.Fields(s), ParseFlag)...)
}

func (fs Flags) Has(f Flag) bool {
	_, ok := fs[f]
	return ok
}

func (fs Flags) Add(f Flag) {
	fs[f] = struct{}{}
}

func (fs Flags) Remove(f Flag) {
	delete(fs, f)
}

// Clone returns a copy that never aliases fs, even when fs is nil.
func (fs Flags) Clone() Flags {
	out := make(Flags, len(fs))
	for f := range fs {
		out[f] = struct{}{}
	}
	return out
}

// Union returns a new set holding the flags of fs and other.
func (fs Flags) Union(other Flags) Flags {
	out := fs.Clone()
	for f := range other {
		out[f] = struct{}{}
	}
	return out
}

// Without returns a copy of fs minus f.
func (fs Flags) Without(f Flag) Flags {
	out := fs.Clone()
	delete(out, f)
	return out
}

func (fs Flags) Equal(other Flags) bool {
	if len(fs) != len(other) {
		return false
	}
	for f := range fs {
		if !other.Has(f) {
			return false
		}
	}
	return true
}

// Slice returns the flags sorted by name.
func (fs Flags) Slice() []Flag {
	out := make([]Flag, 0, len(fs))
	for f := range fs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the set as sorted, space separated names.
func (fs Flags) String() string {
	return strings.Join(xslices.Map(fs.Slice(), func(f Flag) string { return string(f) }), " ")
}

func (fs Flags) MarshalJSON() ([]byte, error) {
	return json.Marshal(fs.Slice())
}

func (fs *Flags) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*fs = NewFlags(xslices.Map(names, ParseFlag)...)
	return nil
}
