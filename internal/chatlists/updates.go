package chatlists

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DebounceKey scopes first-observation tracking to one folder of one account.
type DebounceKey struct {
	AccountId int64
	FolderId  FolderId
}

// ObservationCache remembers which folders have been polled at least once
// during the lifetime of the engine that owns it. It is not persisted; a new
// engine instance starts unobserved everywhere. Concurrent first observations
// of the same key may both report first contact, which only costs a redundant
// remote poll.
type ObservationCache struct {
	mu   sync.Mutex
	seen map[DebounceKey]struct{}
}

func NewObservationCache() *ObservationCache {
	return &ObservationCache{seen: make(map[DebounceKey]struct{})}
}

// MarkObserved records the key and reports whether this was its first
// observation.
func (c *ObservationCache) MarkObserved(key DebounceKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = struct{}{}
	return true
}

type UpdatesEngineSettings struct {
	// RefreshInterval is the pending-record age below which Poll
	// short-circuits without a remote call.
	RefreshInterval time.Duration
	Now             func() time.Time
}

func DefaultUpdatesEngineSettings(debug bool) *UpdatesEngineSettings {
	interval := time.Hour
	if debug {
		interval = 5 * time.Second
	}
	return &UpdatesEngineSettings{
		RefreshInterval: interval,
		Now:             time.Now,
	}
}

// UpdatesEngine polls shared folders for chats their owners added, caches the
// results as pending-update records and serves them as a deduplicated
// subscription feed.
type UpdatesEngine struct {
	accountId int64
	remote    RemoteService
	store     Store
	applier   UpdatesApplier
	env       Env
	observed  *ObservationCache
	settings  *UpdatesEngineSettings
	log       *zap.Logger
}

func NewUpdatesEngine(accountId int64, remote RemoteService, store Store, applier UpdatesApplier, env Env, observed *ObservationCache, settings *UpdatesEngineSettings, log *zap.Logger) *UpdatesEngine {
	if observed == nil {
		observed = NewObservationCache()
	}
	if settings == nil {
		settings = DefaultUpdatesEngineSettings(false)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UpdatesEngine{
		accountId: accountId,
		remote:    remote,
		store:     store,
		applier:   applier,
		env:       env,
		observed:  observed,
		settings:  settings,
		log:       log,
	}
}

// Poll refreshes the pending-update record of one folder. The first poll of a
// folder under this engine always goes to the remote; later polls
// short-circuit while the cached record is younger than RefreshInterval.
// Callers never see an error: remote failures follow the absorb-and-cache-empty
// policy.
func (e *UpdatesEngine) Poll(ctx context.Context, folderId FolderId) {
	first := e.observed.MarkObserved(DebounceKey{AccountId: e.accountId, FolderId: folderId})
	if !first {
		fresh := false
		_ = e.store.View(ctx, func(tx ReadTx) error {
			if rec, ok := tx.PendingUpdates(folderId); ok {
				age := e.settings.Now().Unix() - int64(rec.Timestamp)
				fresh = age < int64(e.settings.RefreshInterval/time.Second)
			}
			return nil
		})
		if fresh {
			return
		}
	}

	res, err := e.remote.FolderUpdates(ctx, folderId)
	if err != nil {
		e.absorbAndCacheEmpty(ctx, folderId, err)
		return
	}

	rec := PendingUpdateRecord{
		FolderId:       folderId,
		Timestamp:      int32(e.settings.Now().Unix()),
		MissingPeerIds: res.MissingPeerIds,
		MemberCounts:   res.MemberCounts,
	}
	if err := e.store.Update(ctx, func(tx Tx) error {
		tx.SetPendingUpdates(rec)
		mergePeers(tx, res.Peers)
		return nil
	}); err != nil {
		e.log.Warn("pending updates write failed", zap.Int32("folder_id", int32(folderId)), zap.Error(err))
	}
}

// absorbAndCacheEmpty is the named polling failure policy: whatever went
// wrong, write a fresh empty record so the debounce window holds and no
// re-poll storm starts, and surface nothing to the caller.
func (e *UpdatesEngine) absorbAndCacheEmpty(ctx context.Context, folderId FolderId, cause error) {
	e.log.Debug("folder updates poll absorbed", zap.Int32("folder_id", int32(folderId)), zap.Error(cause))
	rec := PendingUpdateRecord{
		FolderId:  folderId,
		Timestamp: int32(e.settings.Now().Unix()),
	}
	_ = e.store.Update(ctx, func(tx Tx) error {
		tx.SetPendingUpdates(rec)
		return nil
	})
}

// Subscribe derives FolderUpdates for one folder from live store state. A nil
// value means "no updates to offer". The current derived value is delivered
// immediately; after that a value is delivered only when it differs from the
// last delivered one under EqualFolderUpdates. The channel closes when ctx is
// canceled.
func (e *UpdatesEngine) Subscribe(ctx context.Context, folderId FolderId) <-chan *FolderUpdates {
	out := make(chan *FolderUpdates, 1)
	kick := make(chan struct{}, 1)
	remove := e.store.AddChangeCallback(func() {
		select {
		case kick <- struct{}{}:
		default:
		}
	})

	go func() {
		defer remove()
		defer close(out)

		var last *FolderUpdates
		delivered := false
		for {
			cur := e.derive(ctx, folderId)
			if !delivered || !EqualFolderUpdates(cur, last) {
				select {
				case out <- cur:
					last = cur
					delivered = true
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-kick:
			}
		}
	}()
	return out
}

// derive computes the current subscription value: the pending record's missing
// peers minus the folder's include set, resolved through the peer cache.
// Absent record, absent definition, non-shared folder or an empty difference
// all derive to nil.
func (e *UpdatesEngine) derive(ctx context.Context, folderId FolderId) *FolderUpdates {
	var out *FolderUpdates
	err := e.store.View(ctx, func(tx ReadTx) error {
		rec, ok := tx.PendingUpdates(folderId)
		if !ok {
			return nil
		}
		def, ok := tx.Folder(folderId)
		if !ok || !def.IsShared {
			return nil
		}

		missing := make([]Peer, 0, len(rec.MissingPeerIds))
		counts := make(map[EntityId]int32, len(rec.MissingPeerIds))
		for _, id := range rec.MissingPeerIds {
			if def.Includes(id) {
				continue
			}
			p, ok := tx.Peer(id)
			if !ok {
				continue
			}
			missing = append(missing, p)
			counts[id] = rec.MemberCounts[id]
		}
		if len(missing) == 0 {
			return nil
		}
		out = &FolderUpdates{
			FolderId:     folderId,
			Title:        def.Title,
			MissingPeers: missing,
			MemberCounts: counts,
		}
		return nil
	})
	if err != nil {
		return nil
	}
	return out
}

// AcceptAvailable imports a selection of the offered pending chats. The
// subscription feed shrinks on its own once the applied updates extend the
// folder's include set.
func (e *UpdatesEngine) AcceptAvailable(ctx context.Context, updates *FolderUpdates, peerIds []EntityId) error {
	if updates == nil {
		return ErrGeneric
	}
	var peers []InputPeer
	if err := e.store.View(ctx, func(tx ReadTx) error {
		peers = resolveInputPeers(tx, peerIds)
		return nil
	}); err != nil {
		return ErrGeneric
	}

	batch, err := e.remote.JoinFolderUpdates(ctx, updates.FolderId, peers)
	if err != nil {
		if kind, ok := joinQuotaKind(RemoteCode(err)); ok {
			return e.env.quota(kind)
		}
		e.log.Warn("join folder updates failed", zap.Int32("folder_id", int32(updates.FolderId)), zap.Error(err))
		return ErrGeneric
	}
	if err := e.applier.ApplyUpdates(ctx, batch); err != nil {
		return ErrGeneric
	}
	return nil
}

// Dismiss drops the pending-update record. The local removal is unconditional
// and authoritative; the remote acknowledgement is best effort.
func (e *UpdatesEngine) Dismiss(ctx context.Context, folderId FolderId) error {
	if err := e.store.Update(ctx, func(tx Tx) error {
		tx.DeletePendingUpdates(folderId)
		return nil
	}); err != nil {
		return err
	}
	if err := e.remote.HideFolderUpdates(ctx, folderId); err != nil {
		e.log.Debug("hide folder updates not acknowledged", zap.Int32("folder_id", int32(folderId)), zap.Error(err))
	}
	return nil
}

// RunScheduler polls every shared folder on the given cron schedule, e.g.
// "@every 1h". The returned cron is already started; stop it to shut down.
func (e *UpdatesEngine) RunScheduler(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		e.PollAllShared(context.Background())
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// PollAllShared polls every folder currently marked shared.
func (e *UpdatesEngine) PollAllShared(ctx context.Context) {
	var shared []FolderId
	_ = e.store.View(ctx, func(tx ReadTx) error {
		for _, def := range tx.Folders() {
			if def.IsShared {
				shared = append(shared, def.Id)
			}
		}
		return nil
	})
	for _, id := range shared {
		e.Poll(ctx, id)
	}
}
