// Package midb implements the client side of the MIDB contract: the
// external index service that is the exclusive owner of per-folder
// metadata (UID allocation, flags, deletion marks, digests and search
// indexes) for every maildir this frontend serves. imapserver never
// touches that metadata directly; every SELECT, FETCH, STORE, SEARCH,
// COPY and EXPUNGE operation is forwarded to a midb.Client.
package midb

import (
	"context"
	"fmt"
)

// Status is the result code returned by every MIDB call, as named in the
// MIDB client contract.
type Status int

const (
	StatusOK Status = iota
	StatusNoServer
	StatusRDWRError
	StatusResultError
	StatusLocalENOMEM
	StatusTooManyResults
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNoServer:
		return "NO_SERVER"
	case StatusRDWRError:
		return "RDWR_ERROR"
	case StatusResultError:
		return "RESULT_ERROR"
	case StatusLocalENOMEM:
		return "LOCAL_ENOMEM"
	case StatusTooManyResults:
		return "TOO_MANY_RESULTS"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Error wraps a non-OK Status together with the descriptive text MIDB
// returned for it (e.g. an errno string for RESULT_ERROR), so dispatcher
// code can both classify the failure and append the raw text the way
// spec's error design requires.
type Error struct {
	Status Status
	Errno  int
	Text   string
}

func (e *Error) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("midb: %s: %s", e.Status, e.Text)
	}
	return fmt.Sprintf("midb: %s", e.Status)
}

// MITEM is a single per-message summary item as returned by
// fetch_simple_uid/fetch_detail_uid/list_deleted.
type MITEM struct {
	UID    uint32
	Mid    string
	Flags  Flags
	Digest string // JSON blob, only populated by fetch_detail_uid.
}

// Flags mirrors the IMAP system flags tracked by MIDB per message.
type Flags struct {
	Seen      bool
	Answered  bool
	Flagged   bool
	Deleted   bool
	Draft     bool
	Recent    bool
	Keywords  []string
}

// FolderSummary is the result of summary_folder.
type FolderSummary struct {
	Exists      int
	Recent      int
	Unseen      int
	UIDValidity uint32
	UIDNext     uint32
}

// Client is the MIDB RPC contract. Every method is synchronous from the
// caller's point of view; implementations are free to pool connections
// underneath. The maildir argument is the per-account maildir root path;
// folder is the MIDB-internal (already-decoded) folder name.
type Client interface {
	SummaryFolder(ctx context.Context, maildir, folder string) (FolderSummary, Status, error)
	EnumFolders(ctx context.Context, maildir string) ([]string, Status, error)
	EnumSubscriptions(ctx context.Context, maildir string) ([]string, Status, error)

	MakeFolder(ctx context.Context, maildir, folder string) (Status, error)
	RemoveFolder(ctx context.Context, maildir, folder string) (Status, error)
	RenameFolder(ctx context.Context, maildir, oldFolder, newFolder string) (Status, error)
	SubscribeFolder(ctx context.Context, maildir, folder string) (Status, error)
	UnsubscribeFolder(ctx context.Context, maildir, folder string) (Status, error)

	FetchSimpleUID(ctx context.Context, maildir, folder, seqSet string) ([]MITEM, Status, error)
	FetchDetailUID(ctx context.Context, maildir, folder, seqSet string) ([]MITEM, Status, error)
	ListDeleted(ctx context.Context, maildir, folder string) ([]MITEM, Status, error)

	// InsertMail and CopyMail do not return the new UID: MIDB's real
	// insert_mail/copy_mail verbs apply asynchronously to their own journal
	// and only make the new row visible to get_uid/fetch_*_uid some time
	// after the call returns OK. Callers must poll GetUID to learn the
	// assigned UID (imapserver's append/copy handlers do this).
	InsertMail(ctx context.Context, maildir, folder, mid string, flags Flags) (Status, error)
	RemoveMail(ctx context.Context, maildir, folder string, uids []uint32) (Status, error)
	CopyMail(ctx context.Context, maildir, srcFolder string, uid uint32, dstFolder string) (Status, error)
	GetUID(ctx context.Context, maildir, folder, mid string) (uint32, Status, error)

	Search(ctx context.Context, maildir, folder, charset string, argv []string) (string, Status, error)
	SearchUID(ctx context.Context, maildir, folder, charset string, argv []string) (string, Status, error)

	SetFlags(ctx context.Context, maildir, folder string, uids []uint32, flags Flags) (Status, error)
	UnsetFlags(ctx context.Context, maildir, folder string, uids []uint32, flags Flags) (Status, error)
	GetFlags(ctx context.Context, maildir, folder string, uid uint32) (Flags, Status, error)
}
