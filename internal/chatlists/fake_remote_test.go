package chatlists_test

import (
	"context"
	"errors"
	"time"

	"github.com/Xorababu0/tgfoldersync/internal/chatlists"
	"github.com/Xorababu0/tgfoldersync/internal/store"
)

var errNotWired = errors.New("not wired")

// fakeRemote is a RemoteService with function fields. Unset methods fail, set
// ones are counted.
type fakeRemote struct {
	exportInvite      func(folderId chatlists.FolderId, title string, peers []chatlists.InputPeer) (*chatlists.ExportInviteResult, error)
	filters           func() ([]chatlists.FolderDefinition, error)
	editInvite        func(folderId chatlists.FolderId, slug string, req chatlists.EditInviteRequest) (*chatlists.SharedLinkInfo, error)
	deleteInvite      func(folderId chatlists.FolderId, slug string) error
	checkInvite       func(slug string) (*chatlists.RemoteInvitePreview, error)
	joinInvite        func(slug string, peers []chatlists.InputPeer) (*chatlists.RemoteUpdates, error)
	folderUpdates     func(folderId chatlists.FolderId) (*chatlists.RemoteFolderUpdates, error)
	joinFolderUpdates func(folderId chatlists.FolderId, peers []chatlists.InputPeer) (*chatlists.RemoteUpdates, error)
	hideFolderUpdates func(folderId chatlists.FolderId) error
	leaveFolder       func(folderId chatlists.FolderId, peers []chatlists.InputPeer) (*chatlists.RemoteUpdates, error)
	leaveSuggestions  func(folderId chatlists.FolderId) ([]chatlists.EntityId, error)

	exportCalls        int
	filtersCalls       int
	folderUpdatesCalls int
	hideCalls          int
}

func (f *fakeRemote) ExportInvite(ctx context.Context, folderId chatlists.FolderId, title string, peers []chatlists.InputPeer) (*chatlists.ExportInviteResult, error) {
	f.exportCalls++
	if f.exportInvite == nil {
		return nil, errNotWired
	}
	return f.exportInvite(folderId, title, peers)
}

func (f *fakeRemote) Filters(ctx context.Context) ([]chatlists.FolderDefinition, error) {
	f.filtersCalls++
	if f.filters == nil {
		return nil, errNotWired
	}
	return f.filters()
}

func (f *fakeRemote) EditInvite(ctx context.Context, folderId chatlists.FolderId, slug string, req chatlists.EditInviteRequest) (*chatlists.SharedLinkInfo, error) {
	if f.editInvite == nil {
		return nil, errNotWired
	}
	return f.editInvite(folderId, slug, req)
}

func (f *fakeRemote) DeleteInvite(ctx context.Context, folderId chatlists.FolderId, slug string) error {
	if f.deleteInvite == nil {
		return errNotWired
	}
	return f.deleteInvite(folderId, slug)
}

func (f *fakeRemote) CheckInvite(ctx context.Context, slug string) (*chatlists.RemoteInvitePreview, error) {
	if f.checkInvite == nil {
		return nil, errNotWired
	}
	return f.checkInvite(slug)
}

func (f *fakeRemote) JoinInvite(ctx context.Context, slug string, peers []chatlists.InputPeer) (*chatlists.RemoteUpdates, error) {
	if f.joinInvite == nil {
		return nil, errNotWired
	}
	return f.joinInvite(slug, peers)
}

func (f *fakeRemote) FolderUpdates(ctx context.Context, folderId chatlists.FolderId) (*chatlists.RemoteFolderUpdates, error) {
	f.folderUpdatesCalls++
	if f.folderUpdates == nil {
		return nil, errNotWired
	}
	return f.folderUpdates(folderId)
}

func (f *fakeRemote) JoinFolderUpdates(ctx context.Context, folderId chatlists.FolderId, peers []chatlists.InputPeer) (*chatlists.RemoteUpdates, error) {
	if f.joinFolderUpdates == nil {
		return nil, errNotWired
	}
	return f.joinFolderUpdates(folderId, peers)
}

func (f *fakeRemote) HideFolderUpdates(ctx context.Context, folderId chatlists.FolderId) error {
	f.hideCalls++
	if f.hideFolderUpdates == nil {
		return errNotWired
	}
	return f.hideFolderUpdates(folderId)
}

func (f *fakeRemote) LeaveFolder(ctx context.Context, folderId chatlists.FolderId, peers []chatlists.InputPeer) (*chatlists.RemoteUpdates, error) {
	if f.leaveFolder == nil {
		return nil, errNotWired
	}
	return f.leaveFolder(folderId, peers)
}

func (f *fakeRemote) LeaveSuggestions(ctx context.Context, folderId chatlists.FolderId) ([]chatlists.EntityId, error) {
	if f.leaveSuggestions == nil {
		return nil, errNotWired
	}
	return f.leaveSuggestions(folderId)
}

// delayedApplier applies the batch only after the delay, from a separate
// goroutine. Join has to stay blocked until the store converges.
type delayedApplier struct {
	store chatlists.Store
	delay time.Duration
}

func (a *delayedApplier) ApplyUpdates(ctx context.Context, updates *chatlists.RemoteUpdates) error {
	go func() {
		time.Sleep(a.delay)
		_ = chatlists.NewStoreApplier(a.store).ApplyUpdates(context.Background(), updates)
	}()
	return nil
}

// nopApplier never converges.
type nopApplier struct{}

func (nopApplier) ApplyUpdates(ctx context.Context, updates *chatlists.RemoteUpdates) error {
	return nil
}

func testEnv(premium bool, cfg chatlists.AppConfiguration) chatlists.Env {
	if cfg == nil {
		cfg = chatlists.AppConfiguration{}
	}
	return chatlists.Env{
		AppConfig: func() chatlists.AppConfiguration { return cfg },
		IsPremium: func() bool { return premium },
	}
}

func seedPeers(s *store.Memory, peers ...chatlists.Peer) {
	_ = s.Update(context.Background(), func(tx chatlists.Tx) error {
		tx.UpsertPeers(peers)
		for _, p := range peers {
			if p.InChatList {
				tx.SetInChatList(p.Id, true)
			}
		}
		return nil
	})
}

func channelPeer(id chatlists.EntityId, title string) chatlists.Peer {
	return chatlists.Peer{
		Id:         id,
		AccessHash: int64(id) * 1000,
		Kind:       chatlists.PeerChannel,
		Title:      title,
		IsCreator:  true,
	}
}
