package imap

import (
	"fmt"
	"strconv"

	goimap "github.com/emersion/go-imap"

	"github.com/brandon/mailsync/internal/backend"
	"github.com/brandon/mailsync/pkg/types"
)

var systemFlags = map[types.Flag]string{
	types.FlagSeen:     goimap.SeenFlag,
	types.FlagAnswered: goimap.AnsweredFlag,
	types.FlagFlagged:  goimap.FlaggedFlag,
	types.FlagDeleted:  goimap.DeletedFlag,
	types.FlagDraft:    goimap.DraftFlag,
	types.FlagRecent:   goimap.RecentFlag,
}

// toIMAPFlags converts flags for STORE and APPEND. Recent is server-managed
// and never sent.
func toIMAPFlags(flags types.Flags) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags.Slice() {
		if f == types.FlagRecent {
			continue
		}
		if name, ok := systemFlags[f]; ok {
			out = append(out, name)
		} else {
			out = append(out, string(f))
		}
	}
	return out
}

func fromIMAPFlags(flags []string) types.Flags {
	out := types.NewFlags()
	for _, f := range flags {
		out.Add(types.ParseFlag(f))
	}
	return out
}

func storeValue(flags types.Flags) []interface{} {
	names := toIMAPFlags(flags)
	value := make([]interface{}, len(names))
	for i, name := range names {
		value[i] = name
	}
	return value
}

func toEnvelope(msg *goimap.Message) types.Envelope {
	env := types.Envelope{
		ID:         strconv.FormatUint(uint64(msg.Uid), 10),
		InternalID: strconv.FormatUint(uint64(msg.Uid), 10),
		Flags:      fromIMAPFlags(msg.Flags),
	}

	if e := msg.Envelope; e != nil {
		env.MessageID = types.NormalizeMessageID(e.MessageId)
		env.Subject = e.Subject
		env.Date = e.Date
		if len(e.From) > 0 {
			env.From = types.Sender{Name: e.From[0].PersonalName, Address: e.From[0].Address()}
		}
	}

	return env
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("invalid message id %q: %w", id, backend.ErrNotFound)
	}
	return uint32(uid), nil
}

func uidSet(ids []string) (*goimap.SeqSet, error) {
	set := new(goimap.SeqSet)
	for _, id := range ids {
		uid, err := parseUID(id)
		if err != nil {
			return nil, err
		}
		set.AddNum(uid)
	}
	return set, nil
}

// criteria translates a query into an IMAP SEARCH.
func criteria(q *backend.Query) *goimap.SearchCriteria {
	c := goimap.NewSearchCriteria()
	for _, s := range q.Subject {
		c.Header.Add("Subject", s)
	}
	for _, s := range q.From {
		c.Header.Add("From", s)
	}
	c.Body = append(c.Body, q.Body...)
	c.Text = append(c.Text, q.Text...)
	c.WithFlags = toIMAPFlags(q.Flags)
	c.WithoutFlags = toIMAPFlags(q.NotFlags)
	return c
}
