package chatlists

import (
	"context"
)

// RemoteService is the folder-invite surface of the remote side. Every call
// either returns a typed payload or an error; failures this package reacts to
// carry a *RemoteError with one of the Code* values, anything else is treated
// as uncoded.
type RemoteService interface {
	// ExportInvite creates an invite link over the given peers and returns
	// the resulting folder definition together with the link.
	ExportInvite(ctx context.Context, folderId FolderId, title string, peers []InputPeer) (*ExportInviteResult, error)
	// Filters returns the full remote folder list.
	Filters(ctx context.Context) ([]FolderDefinition, error)
	// EditInvite patches an invite link. Absent fields are not transmitted.
	EditInvite(ctx context.Context, folderId FolderId, slug string, req EditInviteRequest) (*SharedLinkInfo, error)
	// DeleteInvite revokes and deletes an invite link by slug.
	DeleteInvite(ctx context.Context, folderId FolderId, slug string) error
	// CheckInvite previews the folder behind a slug.
	CheckInvite(ctx context.Context, slug string) (*RemoteInvitePreview, error)
	// JoinInvite joins the folder behind a slug with the selected peers.
	JoinInvite(ctx context.Context, slug string, peers []InputPeer) (*RemoteUpdates, error)
	// FolderUpdates lists chats added by the folder's owner that this user
	// has not imported yet.
	FolderUpdates(ctx context.Context, folderId FolderId) (*RemoteFolderUpdates, error)
	// JoinFolderUpdates imports a selection of pending chats.
	JoinFolderUpdates(ctx context.Context, folderId FolderId, peers []InputPeer) (*RemoteUpdates, error)
	// HideFolderUpdates dismisses the pending chats on the remote side.
	HideFolderUpdates(ctx context.Context, folderId FolderId) error
	// LeaveFolder leaves a shared folder, optionally leaving listed chats too.
	LeaveFolder(ctx context.Context, folderId FolderId, peers []InputPeer) (*RemoteUpdates, error)
	// LeaveSuggestions lists chats the user would be expected to leave
	// together with the folder.
	LeaveSuggestions(ctx context.Context, folderId FolderId) ([]EntityId, error)
}

type ExportInviteResult struct {
	Folder FolderDefinition
	Link   SharedLinkInfo
}

// EditInviteRequest is a partial update: nil fields stay untouched on the
// remote side, present ones are transmitted regardless of value. A non-nil
// empty Peers slice clears the peer list.
type EditInviteRequest struct {
	Title   *string
	Peers   []InputPeer
	Revoked *bool
}

// RemoteInvitePreview is the raw check-invite response. AlreadyFilterId is nil
// when the folder has not been adopted locally; in the adopted shape PeerIds
// holds only the peers missing from the local filter and AlreadyPeerIds the
// ones it already includes. Peers carries the accompanying peer objects for
// both shapes.
type RemoteInvitePreview struct {
	Title           string
	AlreadyFilterId *FolderId
	PeerIds         []EntityId
	AlreadyPeerIds  []EntityId
	Peers           []Peer
}

// RemoteFolderUpdates is the raw get-updates response for one folder.
type RemoteFolderUpdates struct {
	MissingPeerIds []EntityId
	MemberCounts   map[EntityId]int32
	Peers          []Peer
}

// RemoteUpdates is the update batch a mutating remote call returns. Folders
// lists folder definitions created or changed by the call in arrival order.
type RemoteUpdates struct {
	Folders []FolderDefinition
	Peers   []Peer
}

// FirstFolderId extracts the folder a join produced, if any.
func (u *RemoteUpdates) FirstFolderId() (FolderId, bool) {
	if u == nil || len(u.Folders) == 0 {
		return 0, false
	}
	return u.Folders[0].Id, true
}

// UpdatesApplier folds a remote update batch into local state. In production
// this is the StoreApplier; tests substitute appliers that delay or withhold
// convergence.
type UpdatesApplier interface {
	ApplyUpdates(ctx context.Context, updates *RemoteUpdates) error
}
