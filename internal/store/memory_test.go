package store

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/Xorababu0/tgfoldersync/internal/chatlists"
)

func TestUpsertFolderKeepsOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_ = m.Update(ctx, func(tx chatlists.Tx) error {
		tx.UpsertFolder(chatlists.FolderDefinition{Id: 1, Title: "first"})
		tx.UpsertFolder(chatlists.FolderDefinition{Id: 2, Title: "second"})
		return nil
	})
	// updating the first folder must not move it to the back
	_ = m.Update(ctx, func(tx chatlists.Tx) error {
		tx.UpsertFolder(chatlists.FolderDefinition{Id: 1, Title: "renamed"})
		return nil
	})

	_ = m.View(ctx, func(tx chatlists.ReadTx) error {
		folders := tx.Folders()
		assert.Equal(t, len(folders), 2)
		assert.Equal(t, folders[0].Id, chatlists.FolderId(1))
		assert.Equal(t, folders[0].Title, "renamed")
		assert.Equal(t, folders[1].Id, chatlists.FolderId(2))
		return nil
	})
}

func TestPendingUpdatesLastWriteWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_ = m.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetPendingUpdates(chatlists.PendingUpdateRecord{FolderId: 1, Timestamp: 1, MissingPeerIds: []chatlists.EntityId{5}})
		tx.SetPendingUpdates(chatlists.PendingUpdateRecord{FolderId: 1, Timestamp: 2, MissingPeerIds: []chatlists.EntityId{6}})
		return nil
	})

	_ = m.View(ctx, func(tx chatlists.ReadTx) error {
		rec, ok := tx.PendingUpdates(1)
		assert.Equal(t, ok, true)
		assert.Equal(t, rec.Timestamp, int32(2))
		assert.Equal(t, rec.MissingPeerIds, []chatlists.EntityId{6})
		return nil
	})
}

func TestReadYourWrites(t *testing.T) {
	m := NewMemory()

	_ = m.Update(context.Background(), func(tx chatlists.Tx) error {
		tx.UpsertFolder(chatlists.FolderDefinition{Id: 3, Title: "t"})
		def, ok := tx.Folder(3)
		assert.Equal(t, ok, true)
		assert.Equal(t, def.Title, "t")
		return nil
	})
}

func TestInChatList(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_ = m.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetInChatList(10, true)
		return nil
	})
	_ = m.View(ctx, func(tx chatlists.ReadTx) error {
		assert.Equal(t, tx.InChatList(10), true)
		assert.Equal(t, tx.InChatList(11), false)
		return nil
	})

	_ = m.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetInChatList(10, false)
		return nil
	})
	_ = m.View(ctx, func(tx chatlists.ReadTx) error {
		assert.Equal(t, tx.InChatList(10), false)
		return nil
	})
}

func TestChangeCallbacks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	fired := 0
	remove := m.AddChangeCallback(func() { fired++ })

	_ = m.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetInChatList(10, true)
		return nil
	})
	assert.Equal(t, fired, 1)

	// reads do not notify
	_ = m.View(ctx, func(tx chatlists.ReadTx) error { return nil })
	assert.Equal(t, fired, 1)

	remove()
	_ = m.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetInChatList(11, true)
		return nil
	})
	assert.Equal(t, fired, 1)
}

func TestFailedUpdateDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	fired := 0
	remove := m.AddChangeCallback(func() { fired++ })
	defer remove()

	err := m.Update(ctx, func(tx chatlists.Tx) error {
		return context.Canceled
	})
	assert.NotEqual(t, err, nil)
	assert.Equal(t, fired, 0)
}
