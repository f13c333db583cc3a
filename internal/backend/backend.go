// Package backend defines the contract every mailbox store implements.
package backend

import (
	"context"

	"github.com/brandon/mailsync/pkg/types"
)

// Backend is a mailbox store. Message ids are the stable, user-facing ids.
//
// Listings are paginated with zero-based page and pageSize, pageSize 0
// meaning unbounded. A page starting past the end fails with
// *OutOfBoundsError.
type Backend interface {
	Name() string

	AddFolder(ctx context.Context, folder string) error
	ListFolders(ctx context.Context) (types.Folders, error)
	// ExpungeFolder removes the messages flagged Deleted.
	ExpungeFolder(ctx context.Context, folder string) error
	// PurgeFolder removes every message but keeps the folder.
	PurgeFolder(ctx context.Context, folder string) error
	DeleteFolder(ctx context.Context, folder string) error

	GetEnvelope(ctx context.Context, folder, id string) (*types.Envelope, error)
	ListEnvelopes(ctx context.Context, folder string, pageSize, page int) (types.Envelopes, error)
	SearchEnvelopes(ctx context.Context, folder, query, sort string, pageSize, page int) (types.Envelopes, error)

	AddEmail(ctx context.Context, folder string, raw []byte, flags types.Flags) (string, error)
	PreviewEmails(ctx context.Context, folder string, ids []string) (types.Emails, error)
	// GetEmails returns the messages and marks them Seen.
	GetEmails(ctx context.Context, folder string, ids []string) (types.Emails, error)
	CopyEmails(ctx context.Context, fromFolder, toFolder string, ids []string) error
	MoveEmails(ctx context.Context, fromFolder, toFolder string, ids []string) error
	// DeleteEmails moves the messages to the trash folder, or flags them
	// Deleted when folder already is the trash.
	DeleteEmails(ctx context.Context, folder string, ids []string) error

	AddFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error
	SetFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error
	RemoveFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error

	Close() error
}

// InternalBackend is implemented by backends whose internal ids differ from
// the user-facing ids. The package level *Internal helpers fall back to the
// plain Backend methods for the others.
type InternalBackend interface {
	GetEnvelopeInternal(ctx context.Context, folder, internalID string) (*types.Envelope, error)
	// AddEmailInternal returns the internal id of the stored message.
	AddEmailInternal(ctx context.Context, folder string, raw []byte, flags types.Flags) (string, error)
	PreviewEmailsInternal(ctx context.Context, folder string, internalIDs []string) (types.Emails, error)
	GetEmailsInternal(ctx context.Context, folder string, internalIDs []string) (types.Emails, error)
	CopyEmailsInternal(ctx context.Context, fromFolder, toFolder string, internalIDs []string) error
	MoveEmailsInternal(ctx context.Context, fromFolder, toFolder string, internalIDs []string) error
	DeleteEmailsInternal(ctx context.Context, folder string, internalIDs []string) error
	AddFlagsInternal(ctx context.Context, folder string, internalIDs []string, flags types.Flags) error
	SetFlagsInternal(ctx context.Context, folder string, internalIDs []string, flags types.Flags) error
	RemoveFlagsInternal(ctx context.Context, folder string, internalIDs []string, flags types.Flags) error
}

func GetEnvelopeInternal(ctx context.Context, b Backend, folder, internalID string) (*types.Envelope, error) {
	if ib, ok := b.(InternalBackend); ok {
		return ib.GetEnvelopeInternal(ctx, folder, internalID)
	}
	return b.GetEnvelope(ctx, folder, internalID)
}

func AddEmailInternal(ctx context.Context, b Backend, folder string, raw []byte, flags types.Flags) (string, error) {
	if ib, ok := b.(InternalBackend); ok {
		return ib.AddEmailInternal(ctx, folder, raw, flags)
	}
	return b.AddEmail(ctx, folder, raw, flags)
}

func PreviewEmailsInternal(ctx context.Context, b Backend, folder string, internalIDs []string) (types.Emails, error) {
	if ib, ok := b.(InternalBackend); ok {
		return ib.PreviewEmailsInternal(ctx, folder, internalIDs)
	}
	return b.PreviewEmails(ctx, folder, internalIDs)
}

func GetEmailsInternal(ctx context.Context, b Backend, folder string, internalIDs []string) (types.Emails, error) {
	if ib, ok := b.(InternalBackend); ok {
		return ib.GetEmailsInternal(ctx, folder, internalIDs)
	}
	return b.GetEmails(ctx, folder, internalIDs)
}

func CopyEmailsInternal(ctx context.Context, b Backend, fromFolder, toFolder string, internalIDs []string) error {
	if ib, ok := b.(InternalBackend); ok {
		return ib.CopyEmailsInternal(ctx, fromFolder, toFolder, internalIDs)
	}
	return b.CopyEmails(ctx, fromFolder, toFolder, internalIDs)
}

func MoveEmailsInternal(ctx context.Context, b Backend, fromFolder, toFolder string, internalIDs []string) error {
	if ib, ok := b.(InternalBackend); ok {
		return ib.MoveEmailsInternal(ctx, fromFolder, toFolder, internalIDs)
	}
	return b.MoveEmails(ctx, fromFolder, toFolder, internalIDs)
}

func DeleteEmailsInternal(ctx context.Context, b Backend, folder string, internalIDs []string) error {
	if ib, ok := b.(InternalBackend); ok {
		return ib.DeleteEmailsInternal(ctx, folder, internalIDs)
	}
	return b.DeleteEmails(ctx, folder, internalIDs)
}

func AddFlagsInternal(ctx context.Context, b Backend, folder string, internalIDs []string, flags types.Flags) error {
	if ib, ok := b.(InternalBackend); ok {
		return ib.AddFlagsInternal(ctx, folder, internalIDs, flags)
	}
	return b.AddFlags(ctx, folder, internalIDs, flags)
}

func SetFlagsInternal(ctx context.Context, b Backend, folder string, internalIDs []string, flags types.Flags) error {
	if ib, ok := b.(InternalBackend); ok {
		return ib.SetFlagsInternal(ctx, folder, internalIDs, flags)
	}
	return b.SetFlags(ctx, folder, internalIDs, flags)
}

func RemoveFlagsInternal(ctx context.Context, b Backend, folder string, internalIDs []string, flags types.Flags) error {
	if ib, ok := b.(InternalBackend); ok {
		return ib.RemoveFlagsInternal(ctx, folder, internalIDs, flags)
	}
	return b.RemoveFlags(ctx, folder, internalIDs, flags)
}

// MarkEmailsAsDeleted adds the Deleted flag.
func MarkEmailsAsDeleted(ctx context.Context, b Backend, folder string, ids []string) error {
	return b.AddFlags(ctx, folder, ids, types.NewFlags(types.FlagDeleted))
}

// MarkEmailsAsDeletedInternal adds the Deleted flag by internal id.
func MarkEmailsAsDeletedInternal(ctx context.Context, b Backend, folder string, internalIDs []string) error {
	return AddFlagsInternal(ctx, b, folder, internalIDs, types.NewFlags(types.FlagDeleted))
}
