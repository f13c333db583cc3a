package types

import (
	"strings"
	"time"
)

// InboxFolder is the canonical name of the inbox on every backend.
const InboxFolder = "INBOX"

// Folder represents an email folder/mailbox
type Folder struct {
	Name  string `json:"name"`
	Delim string `json:"delim,omitempty"`
	Desc  string `json:"desc,omitempty"`
}

// Folders is a list of folders in backend order
type Folders []Folder

// Names returns the folder names in order
func (fs Folders) Names() []string {
	names := make([]string, len(fs))
	for i := range fs {
		names[i] = fs[i].Name
	}
	return names
}

// NormalizeFolder returns the identity of a folder name. Only the inbox is
// case-insensitive.
func NormalizeFolder(name string) string {
	if strings.EqualFold(name, InboxFolder) {
		return InboxFolder
	}
	return name
}

// Sender is the display name and address of a message author
type Sender struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

func (s Sender) String() string {
	if s.Name == "" {
		return s.Address
	}
	return s.Name + " <" + s.Address + ">"
}

// Envelope is the synchronized metadata of one message
type Envelope struct {
	ID         string    `json:"id"`
	InternalID string    `json:"internal_id"`
	MessageID  string    `json:"message_id"`
	Flags      Flags     `json:"flags"`
	Subject    string    `json:"subject"`
	From       Sender    `json:"from"`
	Date       time.Time `json:"date"`
}

// Envelopes is a page of envelopes
type Envelopes []Envelope

// NormalizeMessageID strips surrounding whitespace and angle brackets so
// values read from raw headers and from IMAP envelopes compare equal.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}

// CorrelationKey is the Message-ID used to match the envelope across
// backends, falling back to the date when the header is missing.
func (e *Envelope) CorrelationKey() string {
	if id := NormalizeMessageID(e.MessageID); id != "" {
		return id
	}
	return e.Date.UTC().Format(time.RFC3339)
}

// Email is a raw RFC 5322 message
type Email struct {
	ID         string `json:"id"`
	InternalID string `json:"internal_id"`
	Raw        []byte `json:"-"`
}

// Emails is a list of raw messages
type Emails []Email
