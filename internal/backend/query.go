package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/brandon/mailsync/pkg/types"
)

// Query is a parsed envelope search. Every criterion must match.
//
// The textual form is a whitespace separated list of terms:
//
//	subject <word>   from <word>   body <word>
//	flag <name>      not flag <name>
//	<word>           (matches subject, sender or body)
type Query struct {
	Subject  []string
	From     []string
	Body     []string
	Text     []string
	Flags    types.Flags
	NotFlags types.Flags
}

// ParseQuery parses the textual search form.
func ParseQuery(s string) (*Query, error) {
	q := &Query{Flags: types.NewFlags(), NotFlags: types.NewFlags()}
	fields := strings.Fields(s)

	next := func(i int, key string) (string, error) {
		if i >= len(fields) {
			return "", fmt.Errorf("invalid query %q: %s expects a value", s, key)
		}
		return fields[i], nil
	}

	for i := 0; i < len(fields); i++ {
		key := strings.ToLower(fields[i])
		switch key {
		case "subject", "from", "body", "flag":
			val, err := next(i+1, key)
			if err != nil {
				return nil, err
			}
			i++
			switch key {
			case "subject":
				q.Subject = append(q.Subject, val)
			case "from":
				q.From = append(q.From, val)
			case "body":
				q.Body = append(q.Body, val)
			case "flag":
				q.Flags.Add(types.ParseFlag(val))
			}
		case "not":
			if i+1 >= len(fields) || strings.ToLower(fields[i+1]) != "flag" {
				return nil, fmt.Errorf("invalid query %q: not expects flag", s)
			}
			val, err := next(i+2, "not flag")
			if err != nil {
				return nil, err
			}
			i += 2
			q.NotFlags.Add(types.ParseFlag(val))
		default:
			q.Text = append(q.Text, fields[i])
		}
	}

	return q, nil
}

// Match reports whether env satisfies the criteria that do not need the
// message content, so Body and Text are ignored.
func (q *Query) Match(env *types.Envelope) bool {
	for f := range q.Flags {
		if !env.Flags.Has(f) {
			return false
		}
	}
	for f := range q.NotFlags {
		if env.Flags.Has(f) {
			return false
		}
	}
	for _, w := range q.Subject {
		if !containsFold(env.Subject, w) {
			return false
		}
	}
	for _, w := range q.From {
		if !containsFold(env.From.String(), w) {
			return false
		}
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// SortOrder is the order of a search result.
type SortOrder string

const (
	SortDateDesc SortOrder = "date"
	SortDateAsc  SortOrder = "date:asc"
	SortSubject  SortOrder = "subject"
	SortFrom     SortOrder = "from"
)

// ParseSort parses a sort order; the empty string means newest first.
func ParseSort(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case "", SortDateDesc, "date:desc":
		return SortDateDesc, nil
	case SortDateAsc, SortSubject, SortFrom:
		return o, nil
	default:
		return "", fmt.Errorf("invalid sort order %q", s)
	}
}

// SortEnvelopes sorts envs in place. Ties keep their relative order.
func SortEnvelopes(envs types.Envelopes, order SortOrder) {
	var less func(a, b *types.Envelope) bool
	switch order {
	case SortDateAsc:
		less = func(a, b *types.Envelope) bool { return a.Date.Before(b.Date) }
	case SortSubject:
		less = func(a, b *types.Envelope) bool { return strings.ToLower(a.Subject) < strings.ToLower(b.Subject) }
	case SortFrom:
		less = func(a, b *types.Envelope) bool { return strings.ToLower(a.From.String()) < strings.ToLower(b.From.String()) }
	default:
		less = func(a, b *types.Envelope) bool { return a.Date.After(b.Date) }
	}
	sort.SliceStable(envs, func(i, j int) bool { return less(&envs[i], &envs[j]) })
}
