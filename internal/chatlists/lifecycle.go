package chatlists

import (
	"context"

	"go.uber.org/zap"
)

// Env carries the account-level lookups the engines consult on quota error
// paths. Both are read on demand so a premium upgrade mid-session is picked up.
type Env struct {
	AppConfig func() AppConfiguration
	IsPremium func() bool
}

func (e Env) quota(kind QuotaKind) error {
	return quotaError(e.AppConfig(), e.IsPremium(), kind)
}

// LinkManager owns the lifecycle of folder invite links: export, edit, revoke,
// and leaving a shared folder altogether.
type LinkManager struct {
	remote  RemoteService
	store   Store
	applier UpdatesApplier
	env     Env
	log     *zap.Logger
}

func NewLinkManager(remote RemoteService, store Store, applier UpdatesApplier, env Env, log *zap.Logger) *LinkManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &LinkManager{remote: remote, store: store, applier: applier, env: env, log: log}
}

// Export creates an invite link over the given peers. On success the returned
// folder definition is merged into the local list and the remote-known mirror
// is replaced with the current full filter list.
func (m *LinkManager) Export(ctx context.Context, folderId FolderId, title string, peerIds []EntityId) (*SharedLinkInfo, error) {
	var peers []InputPeer
	if err := m.store.View(ctx, func(tx ReadTx) error {
		peers = resolveInputPeers(tx, peerIds)
		return nil
	}); err != nil {
		return nil, ErrGeneric
	}

	res, err := m.remote.ExportInvite(ctx, folderId, title, peers)
	if err != nil {
		if kind, ok := exportQuotaKind(RemoteCode(err)); ok {
			return nil, m.env.quota(kind)
		}
		m.log.Warn("export invite failed", zap.Int32("folder_id", int32(folderId)), zap.Error(err))
		return nil, ErrGeneric
	}

	filters, err := m.remote.Filters(ctx)
	if err != nil {
		// the link exists remotely at this point, so a failed mirror
		// refresh only skips the replacement
		m.log.Warn("filter list refresh failed after export", zap.Error(err))
	}

	if err := m.store.Update(ctx, func(tx Tx) error {
		tx.UpsertFolder(res.Folder)
		if filters != nil {
			tx.SetRemoteFolders(filters)
		}
		return nil
	}); err != nil {
		return nil, ErrGeneric
	}

	link := res.Link
	link.Slug = SlugFromLink(link.Slug)
	return &link, nil
}

// EditLinkOptions is a partial update of one link. Nil fields stay untouched;
// a non-nil empty PeerIds slice clears the peer list. Revoke contributes only
// when set.
type EditLinkOptions struct {
	Title   *string
	PeerIds []EntityId
	Revoke  bool
}

// Edit patches an invite link. Only present fields are transmitted. Failures
// are generic; the edit path has no quota.
func (m *LinkManager) Edit(ctx context.Context, folderId FolderId, slug string, opts EditLinkOptions) (*SharedLinkInfo, error) {
	req := EditInviteRequest{Title: opts.Title}
	if opts.PeerIds != nil {
		peers := []InputPeer{}
		if err := m.store.View(ctx, func(tx ReadTx) error {
			peers = resolveInputPeers(tx, opts.PeerIds)
			return nil
		}); err != nil {
			return nil, ErrGeneric
		}
		req.Peers = peers
	}
	if opts.Revoke {
		revoked := true
		req.Revoked = &revoked
	}

	link, err := m.remote.EditInvite(ctx, folderId, SlugFromLink(slug), req)
	if err != nil {
		m.log.Warn("edit invite failed", zap.Int32("folder_id", int32(folderId)), zap.Error(err))
		return nil, ErrGeneric
	}
	out := *link
	out.Slug = SlugFromLink(out.Slug)
	return &out, nil
}

// Revoke deletes an invite link by slug. No retry; any failure is generic.
func (m *LinkManager) Revoke(ctx context.Context, folderId FolderId, slug string) error {
	if err := m.remote.DeleteInvite(ctx, folderId, SlugFromLink(slug)); err != nil {
		m.log.Warn("delete invite failed", zap.Int32("folder_id", int32(folderId)), zap.Error(err))
		return ErrGeneric
	}
	return nil
}

// LeaveFolder leaves a shared folder, leaving the listed chats with it, and
// drops the local definition plus any pending-update record.
func (m *LinkManager) LeaveFolder(ctx context.Context, folderId FolderId, removePeerIds []EntityId) error {
	var peers []InputPeer
	if err := m.store.View(ctx, func(tx ReadTx) error {
		peers = resolveInputPeers(tx, removePeerIds)
		return nil
	}); err != nil {
		return ErrGeneric
	}

	updates, err := m.remote.LeaveFolder(ctx, folderId, peers)
	if err != nil {
		m.log.Warn("leave folder failed", zap.Int32("folder_id", int32(folderId)), zap.Error(err))
		return ErrGeneric
	}
	if err := m.applier.ApplyUpdates(ctx, updates); err != nil {
		return ErrGeneric
	}

	if err := m.store.Update(ctx, func(tx Tx) error {
		tx.DeleteFolder(folderId)
		tx.DeletePendingUpdates(folderId)
		return nil
	}); err != nil {
		return ErrGeneric
	}
	return nil
}

// LeaveSuggestions lists the chats the user joined only through this folder.
func (m *LinkManager) LeaveSuggestions(ctx context.Context, folderId FolderId) ([]EntityId, error) {
	ids, err := m.remote.LeaveSuggestions(ctx, folderId)
	if err != nil {
		return nil, ErrGeneric
	}
	return ids, nil
}
