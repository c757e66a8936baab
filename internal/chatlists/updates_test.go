package chatlists_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/Xorababu0/tgfoldersync/internal/chatlists"
	"github.com/Xorababu0/tgfoldersync/internal/store"
)

// fakeClock drives the debounce window without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newEngine(remote chatlists.RemoteService, s *store.Memory, clock *fakeClock) *chatlists.UpdatesEngine {
	settings := &chatlists.UpdatesEngineSettings{
		RefreshInterval: time.Hour,
		Now:             time.Now,
	}
	if clock != nil {
		settings.Now = clock.Now
	}
	return chatlists.NewUpdatesEngine(1, remote, s, chatlists.NewStoreApplier(s), testEnv(false, nil), nil, settings, nil)
}

func seedSharedFolder(s *store.Memory, id chatlists.FolderId, included ...chatlists.EntityId) {
	_ = s.Update(context.Background(), func(tx chatlists.Tx) error {
		tx.UpsertFolder(chatlists.FolderDefinition{Id: id, Title: "shared", IsShared: true, IncludedPeerIds: included})
		return nil
	})
}

func TestPollDebounce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	// a fresh record is already cached
	_ = s.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetPendingUpdates(chatlists.PendingUpdateRecord{FolderId: 2, Timestamp: int32(clock.now.Unix())})
		return nil
	})

	remote := &fakeRemote{
		folderUpdates: func(folderId chatlists.FolderId) (*chatlists.RemoteFolderUpdates, error) {
			return &chatlists.RemoteFolderUpdates{}, nil
		},
	}
	e := newEngine(remote, s, clock)

	// first contact under this engine always polls live, cache freshness
	// notwithstanding
	e.Poll(ctx, 2)
	assert.Equal(t, remote.folderUpdatesCalls, 1)

	// second poll hits the fresh cache
	e.Poll(ctx, 2)
	assert.Equal(t, remote.folderUpdatesCalls, 1)

	// and goes live again once the record aged out
	clock.Advance(2 * time.Hour)
	e.Poll(ctx, 2)
	assert.Equal(t, remote.folderUpdatesCalls, 2)
}

func TestPollFailureCachesEmptyRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	remote := &fakeRemote{
		folderUpdates: func(folderId chatlists.FolderId) (*chatlists.RemoteFolderUpdates, error) {
			return nil, errors.New("net down")
		},
	}
	e := newEngine(remote, s, clock)

	e.Poll(ctx, 3)
	assert.Equal(t, remote.folderUpdatesCalls, 1)

	// the failure was absorbed into an empty record with a fresh timestamp
	_ = s.View(ctx, func(tx chatlists.ReadTx) error {
		rec, ok := tx.PendingUpdates(3)
		assert.Equal(t, ok, true)
		assert.Equal(t, len(rec.MissingPeerIds), 0)
		assert.Equal(t, rec.Timestamp, int32(clock.now.Unix()))
		return nil
	})

	// which holds the debounce window like a successful poll would
	e.Poll(ctx, 3)
	assert.Equal(t, remote.folderUpdatesCalls, 1)
}

func TestPollStoresResultAndPeers(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	remote := &fakeRemote{
		folderUpdates: func(folderId chatlists.FolderId) (*chatlists.RemoteFolderUpdates, error) {
			return &chatlists.RemoteFolderUpdates{
				MissingPeerIds: []chatlists.EntityId{21},
				MemberCounts:   map[chatlists.EntityId]int32{21: 5},
				Peers:          []chatlists.Peer{channelPeer(21, "offered")},
			}, nil
		},
	}
	newEngine(remote, s, clock).Poll(ctx, 4)

	_ = s.View(ctx, func(tx chatlists.ReadTx) error {
		rec, ok := tx.PendingUpdates(4)
		assert.Equal(t, ok, true)
		assert.Equal(t, rec.MissingPeerIds, []chatlists.EntityId{21})
		assert.Equal(t, rec.MemberCounts[21], int32(5))
		_, ok = tx.Peer(21)
		assert.Equal(t, ok, true)
		return nil
	})
}

func TestSubscribeDeliversCurrentStateFirst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := store.NewMemory()
	seedPeers(s, channelPeer(21, "offered"))
	seedSharedFolder(s, 4)
	_ = s.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetPendingUpdates(chatlists.PendingUpdateRecord{
			FolderId:       4,
			Timestamp:      1,
			MissingPeerIds: []chatlists.EntityId{21},
			MemberCounts:   map[chatlists.EntityId]int32{21: 5},
		})
		return nil
	})

	e := newEngine(&fakeRemote{}, s, nil)
	upd := <-e.Subscribe(ctx, 4)
	assert.NotEqual(t, upd, nil)
	assert.Equal(t, upd.FolderId, chatlists.FolderId(4))
	assert.Equal(t, len(upd.MissingPeers), 1)
	assert.Equal(t, upd.MissingPeers[0].Id, chatlists.EntityId(21))
	assert.Equal(t, upd.MemberCounts[21], int32(5))
}

func TestSubscribeSuppressesEquivalentStates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := store.NewMemory()
	seedPeers(s, channelPeer(21, "a"), channelPeer(22, "b"))
	seedSharedFolder(s, 4)
	_ = s.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetPendingUpdates(chatlists.PendingUpdateRecord{
			FolderId:       4,
			Timestamp:      1,
			MissingPeerIds: []chatlists.EntityId{21, 22},
			MemberCounts:   map[chatlists.EntityId]int32{21: 5, 22: 6},
		})
		return nil
	})

	e := newEngine(&fakeRemote{}, s, nil)
	feed := e.Subscribe(ctx, 4)
	first := <-feed
	assert.Equal(t, len(first.MissingPeers), 2)

	// same missing set with different member counts: not an update
	_ = s.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetPendingUpdates(chatlists.PendingUpdateRecord{
			FolderId:       4,
			Timestamp:      2,
			MissingPeerIds: []chatlists.EntityId{21, 22},
			MemberCounts:   map[chatlists.EntityId]int32{21: 50, 22: 60},
		})
		return nil
	})
	// shrinking the missing set is one
	_ = s.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetPendingUpdates(chatlists.PendingUpdateRecord{
			FolderId:       4,
			Timestamp:      3,
			MissingPeerIds: []chatlists.EntityId{21},
			MemberCounts:   map[chatlists.EntityId]int32{21: 50},
		})
		return nil
	})

	// the next delivery is the third state: the count-only change in
	// between was never emitted
	second := <-feed
	assert.NotEqual(t, second, nil)
	assert.Equal(t, len(second.MissingPeers), 1)
	assert.Equal(t, second.MissingPeers[0].Id, chatlists.EntityId(21))

	cancel()
	_, open := <-feed
	assert.Equal(t, open, false)
}

func TestSubscribeDerivesNilWhenNothingPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := store.NewMemory()

	e := newEngine(&fakeRemote{}, s, nil)
	upd := <-e.Subscribe(ctx, 4)
	assert.Equal(t, upd, nil)
}

func TestSubscribeExcludesChatsAlreadyIncluded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := store.NewMemory()
	seedPeers(s, channelPeer(21, "a"), channelPeer(22, "b"))
	// 21 already made it into the folder definition
	seedSharedFolder(s, 4, 21)
	_ = s.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetPendingUpdates(chatlists.PendingUpdateRecord{
			FolderId:       4,
			Timestamp:      1,
			MissingPeerIds: []chatlists.EntityId{21, 22},
		})
		return nil
	})

	e := newEngine(&fakeRemote{}, s, nil)
	upd := <-e.Subscribe(ctx, 4)
	assert.NotEqual(t, upd, nil)
	assert.Equal(t, len(upd.MissingPeers), 1)
	assert.Equal(t, upd.MissingPeers[0].Id, chatlists.EntityId(22))
}

func TestAcceptAvailable(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedPeers(s, channelPeer(21, "a"))
	seedSharedFolder(s, 4)

	remote := &fakeRemote{
		joinFolderUpdates: func(folderId chatlists.FolderId, peers []chatlists.InputPeer) (*chatlists.RemoteUpdates, error) {
			return &chatlists.RemoteUpdates{
				Folders: []chatlists.FolderDefinition{{Id: 4, Title: "shared", IsShared: true, IncludedPeerIds: []chatlists.EntityId{21}}},
			}, nil
		},
	}
	e := newEngine(remote, s, nil)

	err := e.AcceptAvailable(ctx, &chatlists.FolderUpdates{FolderId: 4}, []chatlists.EntityId{21})
	assert.Equal(t, err, nil)

	_ = s.View(ctx, func(tx chatlists.ReadTx) error {
		def, _ := tx.Folder(4)
		assert.Equal(t, def.Includes(21), true)
		return nil
	})

	assert.Equal(t, e.AcceptAvailable(ctx, nil, nil), chatlists.ErrGeneric)
}

func TestAcceptAvailableQuota(t *testing.T) {
	s := store.NewMemory()
	remote := &fakeRemote{
		joinFolderUpdates: func(chatlists.FolderId, []chatlists.InputPeer) (*chatlists.RemoteUpdates, error) {
			return nil, &chatlists.RemoteError{Code: chatlists.CodeUserChannelsTooMuch}
		},
	}
	e := newEngine(remote, s, nil)

	err := e.AcceptAvailable(context.Background(), &chatlists.FolderUpdates{FolderId: 4}, nil)
	var quota *chatlists.QuotaError
	assert.Equal(t, errors.As(err, &quota), true)
	assert.Equal(t, quota.Kind, chatlists.QuotaChannelCount)
	assert.Equal(t, quota.Limit, int32(500))
	assert.Equal(t, quota.PremiumLimit, int32(1000))
}

func TestDismissIsLocalFirst(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	_ = s.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetPendingUpdates(chatlists.PendingUpdateRecord{FolderId: 4, Timestamp: 1})
		return nil
	})

	remote := &fakeRemote{
		hideFolderUpdates: func(folderId chatlists.FolderId) error {
			return errors.New("net down")
		},
	}
	e := newEngine(remote, s, nil)

	// the remote refusal does not surface, the local record is gone anyway
	assert.Equal(t, e.Dismiss(ctx, 4), nil)
	assert.Equal(t, remote.hideCalls, 1)
	_ = s.View(ctx, func(tx chatlists.ReadTx) error {
		_, ok := tx.PendingUpdates(4)
		assert.Equal(t, ok, false)
		return nil
	})
}

func TestPollAllShared(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	_ = s.Update(ctx, func(tx chatlists.Tx) error {
		tx.UpsertFolder(chatlists.FolderDefinition{Id: 1, Title: "private"})
		tx.UpsertFolder(chatlists.FolderDefinition{Id: 2, Title: "shared", IsShared: true})
		return nil
	})

	var polled []chatlists.FolderId
	remote := &fakeRemote{
		folderUpdates: func(folderId chatlists.FolderId) (*chatlists.RemoteFolderUpdates, error) {
			polled = append(polled, folderId)
			return &chatlists.RemoteFolderUpdates{}, nil
		},
	}
	newEngine(remote, s, nil).PollAllShared(ctx)

	assert.Equal(t, polled, []chatlists.FolderId{2})
}
