// Package store provides the in-memory implementation of the chatlists store,
// used standalone and as the reference for persistent backends.
package store

import (
	"context"
	"sync"

	"github.com/Xorababu0/tgfoldersync/internal/chatlists"
)

// Memory is a process-local chatlists.Store. Update transactions take the
// write lock for their whole duration, so they are serialized and atomic with
// respect to each other; View transactions share the read lock.
type Memory struct {
	mu            sync.RWMutex
	folders       []chatlists.FolderDefinition
	remoteFolders []chatlists.FolderDefinition
	pending       []chatlists.PendingUpdateRecord
	peers         map[chatlists.EntityId]chatlists.Peer
	inChatList    map[chatlists.EntityId]bool

	changeCallbacks *CallbackList[func()]
}

func NewMemory() *Memory {
	return &Memory{
		peers:           map[chatlists.EntityId]chatlists.Peer{},
		inChatList:      map[chatlists.EntityId]bool{},
		changeCallbacks: NewCallbackList[func()](),
	}
}

func (m *Memory) Update(ctx context.Context, fn func(tx chatlists.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	err := fn(&memTx{m: m})
	m.mu.Unlock()
	if err != nil {
		return err
	}
	for _, cb := range m.changeCallbacks.Get() {
		cb()
	}
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(tx chatlists.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{m: m})
}

func (m *Memory) AddChangeCallback(fn func()) func() {
	id := m.changeCallbacks.Add(fn)
	return func() {
		m.changeCallbacks.Remove(id)
	}
}

// memTx serves both transaction kinds; the caller's lock mode decides what is
// legal. Reads observe writes made earlier in the same transaction.
type memTx struct {
	m *Memory
}

func (tx *memTx) Folders() []chatlists.FolderDefinition {
	out := make([]chatlists.FolderDefinition, len(tx.m.folders))
	copy(out, tx.m.folders)
	return out
}

func (tx *memTx) Folder(id chatlists.FolderId) (chatlists.FolderDefinition, bool) {
	for _, def := range tx.m.folders {
		if def.Id == id {
			return def, true
		}
	}
	return chatlists.FolderDefinition{}, false
}

func (tx *memTx) RemoteFolders() []chatlists.FolderDefinition {
	out := make([]chatlists.FolderDefinition, len(tx.m.remoteFolders))
	copy(out, tx.m.remoteFolders)
	return out
}

func (tx *memTx) PendingUpdates(id chatlists.FolderId) (chatlists.PendingUpdateRecord, bool) {
	for _, rec := range tx.m.pending {
		if rec.FolderId == id {
			return rec, true
		}
	}
	return chatlists.PendingUpdateRecord{}, false
}

func (tx *memTx) Peer(id chatlists.EntityId) (chatlists.Peer, bool) {
	p, ok := tx.m.peers[id]
	return p, ok
}

func (tx *memTx) InChatList(id chatlists.EntityId) bool {
	return tx.m.inChatList[id]
}

func (tx *memTx) UpsertFolder(def chatlists.FolderDefinition) {
	for i, existing := range tx.m.folders {
		if existing.Id == def.Id {
			tx.m.folders[i] = def
			return
		}
	}
	tx.m.folders = append(tx.m.folders, def)
}

func (tx *memTx) DeleteFolder(id chatlists.FolderId) {
	for i, def := range tx.m.folders {
		if def.Id == id {
			tx.m.folders = append(tx.m.folders[:i], tx.m.folders[i+1:]...)
			return
		}
	}
}

func (tx *memTx) SetRemoteFolders(defs []chatlists.FolderDefinition) {
	out := make([]chatlists.FolderDefinition, len(defs))
	copy(out, defs)
	tx.m.remoteFolders = out
}

func (tx *memTx) SetPendingUpdates(rec chatlists.PendingUpdateRecord) {
	tx.DeletePendingUpdates(rec.FolderId)
	tx.m.pending = append(tx.m.pending, rec)
}

func (tx *memTx) DeletePendingUpdates(id chatlists.FolderId) {
	for i, rec := range tx.m.pending {
		if rec.FolderId == id {
			tx.m.pending = append(tx.m.pending[:i], tx.m.pending[i+1:]...)
			return
		}
	}
}

func (tx *memTx) UpsertPeers(peers []chatlists.Peer) {
	for _, p := range peers {
		tx.m.peers[p.Id] = p
	}
}

func (tx *memTx) SetInChatList(id chatlists.EntityId, present bool) {
	if present {
		tx.m.inChatList[id] = true
		return
	}
	delete(tx.m.inChatList, id)
}
