package chatlists

import (
	"context"
)

// ReadTx is the read surface of one store transaction.
type ReadTx interface {
	// Folders returns the local folder list in order.
	Folders() []FolderDefinition
	Folder(id FolderId) (FolderDefinition, bool)
	// RemoteFolders returns the mirror of the last known full remote list.
	RemoteFolders() []FolderDefinition
	PendingUpdates(id FolderId) (PendingUpdateRecord, bool)
	Peer(id EntityId) (Peer, bool)
	// InChatList reports chat-list presence of a peer.
	InChatList(id EntityId) bool
}

// Tx adds the write surface. Writes become visible to other transactions only
// after the enclosing Update returns.
type Tx interface {
	ReadTx
	// UpsertFolder updates the definition in place when the id exists,
	// otherwise appends it to the list.
	UpsertFolder(def FolderDefinition)
	DeleteFolder(id FolderId)
	// SetRemoteFolders replaces the remote-known mirror wholesale.
	SetRemoteFolders(defs []FolderDefinition)
	// SetPendingUpdates removes any existing record for the same folder and
	// appends the new one (last write wins).
	SetPendingUpdates(rec PendingUpdateRecord)
	DeletePendingUpdates(id FolderId)
	UpsertPeers(peers []Peer)
	SetInChatList(id EntityId, present bool)
}

// Store is the local transactional cache. Update transactions are atomic and
// serialized against each other (single writer at a time); View transactions
// may run concurrently with each other. No transaction is ever held open
// across a remote call.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx ReadTx) error) error
	// AddChangeCallback registers fn to run after every committed Update.
	// The returned func removes the registration.
	AddChangeCallback(fn func()) (remove func())
}

// mergePeers folds remote peer objects into the peer and presence caches.
// Presence only ever latches on here; chat-list removal is signalled through
// folder updates, not through peer objects.
func mergePeers(tx Tx, peers []Peer) {
	if len(peers) == 0 {
		return
	}
	tx.UpsertPeers(peers)
	for _, p := range peers {
		if p.InChatList {
			tx.SetInChatList(p.Id, true)
		}
	}
}

// resolveInputPeers maps entity ids onto remote-addressable references using
// the peer cache. Unknown ids are skipped.
func resolveInputPeers(tx ReadTx, ids []EntityId) []InputPeer {
	out := make([]InputPeer, 0, len(ids))
	for _, id := range ids {
		p, ok := tx.Peer(id)
		if !ok {
			continue
		}
		out = append(out, InputPeer{Id: p.Id, AccessHash: p.AccessHash})
	}
	return out
}
