package backend

import (
	"bufio"
	"io"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/brandon/mailsync/pkg/types"
)

// ReadEnvelope parses the header block of a raw message. Values that fail
// to decode fall back to their raw text; a missing or invalid date leaves
// the zero time. Only a malformed header block is an error.
func ReadEnvelope(r io.Reader) (*types.Envelope, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	header := mail.Header{Header: message.Header{Header: h}}

	env := &types.Envelope{Flags: types.NewFlags()}

	if id, err := header.MessageID(); err == nil && id != "" {
		env.MessageID = id
	} else {
		env.MessageID = types.NormalizeMessageID(header.Get("Message-Id"))
	}

	if subject, err := header.Subject(); err == nil {
		env.Subject = subject
	} else {
		env.Subject = header.Get("Subject")
	}

	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		env.From = types.Sender{Name: from[0].Name, Address: from[0].Address}
	} else if raw := header.Get("From"); raw != "" {
		env.From = types.Sender{Address: raw}
	}

	if date, err := header.Date(); err == nil {
		env.Date = date
	}

	return env, nil
}
