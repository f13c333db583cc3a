package maildir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/brandon/mailsync/internal/backend"
	"github.com/brandon/mailsync/pkg/types"
)

// infoSeparator starts the "2,FLAGS" suffix of a message file name.
const infoSeparator = ":2,"

var letterFlags = map[rune]types.Flag{
	'D': types.FlagDraft,
	'F': types.FlagFlagged,
	'P': types.Flag("Passed"),
	'R': types.FlagAnswered,
	'S': types.FlagSeen,
	'T': types.FlagDeleted,
}

// ParseError is returned when a message file cannot be read as a message.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse maildir message %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// splitName splits a file name into its unique part and flag letters.
func splitName(name string) (string, string) {
	if i := strings.Index(name, infoSeparator); i >= 0 {
		return name[:i], name[i+len(infoSeparator):]
	}
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i], ""
	}
	return name, ""
}

func fileName(unique, letters string) string {
	return unique + infoSeparator + letters
}

// KeywordsFile maps the lowercase letters of message file names to IMAP
// keywords, one "<index> <keyword>" line per letter, index 0 being 'a'. It
// sits in each folder directory, as with Dovecot.
const KeywordsFile = "dovecot-keywords"

const maxKeywords = 26

// keywords is the letter table of one folder. Empty slots are free.
type keywords [maxKeywords]string

func readKeywords(dir string) (keywords, error) {
	var kw keywords
	data, err := os.ReadFile(filepath.Join(dir, KeywordsFile))
	if errors.Is(err, os.ErrNotExist) {
		return kw, nil
	}
	if err != nil {
		return kw, fmt.Errorf("failed to read keywords of %s: %w", dir, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		index, name, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok || name == "" {
			continue
		}
		i, err := strconv.Atoi(index)
		if err != nil || i < 0 || i >= maxKeywords {
			continue
		}
		kw[i] = name
	}
	return kw, nil
}

// write replaces the keywords file through tmp so readers never see a
// partial table.
func (kw *keywords) write(dir string) error {
	var sb strings.Builder
	for i, name := range kw {
		if name != "" {
			fmt.Fprintf(&sb, "%d %s\n", i, name)
		}
	}

	tmp := filepath.Join(dir, "tmp", KeywordsFile)
	if err := os.WriteFile(tmp, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write keywords: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, KeywordsFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write keywords: %w", err)
	}
	return nil
}

// letter returns the letter of keyword, assigning a free one if needed.
// It reports false when all letters are taken.
func (kw *keywords) letter(keyword string) (rune, bool, bool) {
	free := -1
	for i, name := range kw {
		if name == keyword {
			return rune('a' + i), false, true
		}
		if name == "" && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return 0, false, false
	}
	kw[free] = keyword
	return rune('a' + free), true, true
}

// decodeFlags reads file name letters. A lowercase letter missing from kw
// stands for itself.
func decodeFlags(letters string, kw *keywords) types.Flags {
	flags := types.NewFlags()
	for _, r := range letters {
		switch {
		case letterFlags[r] != "":
			flags.Add(letterFlags[r])
		case r >= 'a' && r <= 'z':
			if name := kw[r-'a']; name != "" {
				flags.Add(types.Flag(name))
			} else {
				flags.Add(types.Flag(string(r)))
			}
		}
	}
	return flags
}

// encodeFlags renders flags as letters in ASCII order, assigning letters to
// new keywords in kw. Recent has no file name form. Keywords left without a
// letter are returned as dropped.
func encodeFlags(flags types.Flags, kw *keywords) (letters string, added bool, dropped []types.Flag) {
	var runes []rune
	for r, f := range letterFlags {
		if flags.Has(f) {
			runes = append(runes, r)
		}
	}
	for _, f := range flags.Slice() {
		if !f.IsCustom() || isLetterFlag(f) {
			continue
		}
		r, assigned, ok := kw.letter(string(f))
		if !ok {
			dropped = append(dropped, f)
			continue
		}
		added = added || assigned
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })
	return string(runes), added, dropped
}

func isLetterFlag(f types.Flag) bool {
	for _, lf := range letterFlags {
		if lf == f {
			return true
		}
	}
	return false
}

// readEnvelope parses the headers of the message file at path.
func readEnvelope(path, unique, letters string, kw *keywords) (*types.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open message: %w", err)
	}
	defer f.Close()

	env, err := backend.ReadEnvelope(f)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	env.InternalID = unique
	env.Flags = decodeFlags(letters, kw)
	return env, nil
}
