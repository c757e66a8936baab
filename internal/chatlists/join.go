package chatlists

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type InviteResolverSettings struct {
	// ConvergenceTimeout bounds the wait between "remote accepted the
	// join" and the folder becoming visible in the local filter list.
	ConvergenceTimeout time.Duration
}

func DefaultInviteResolverSettings() *InviteResolverSettings {
	return &InviteResolverSettings{
		ConvergenceTimeout: 10 * time.Second,
	}
}

// InviteResolver turns invite slugs into previews and performs joins,
// returning only once the joined folder is visible locally.
type InviteResolver struct {
	remote   RemoteService
	store    Store
	applier  UpdatesApplier
	env      Env
	settings *InviteResolverSettings
	log      *zap.Logger
}

func NewInviteResolver(remote RemoteService, store Store, applier UpdatesApplier, env Env, settings *InviteResolverSettings, log *zap.Logger) *InviteResolver {
	if settings == nil {
		settings = DefaultInviteResolverSettings()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &InviteResolver{remote: remote, store: store, applier: applier, env: env, settings: settings, log: log}
}

// Check resolves a slug into a preview. Peer objects arriving with the remote
// response are merged into the peer and presence caches before the preview is
// built, whichever shape the response has.
func (r *InviteResolver) Check(ctx context.Context, slug string) (*InvitePreview, error) {
	slug = SlugFromLink(slug)
	resp, err := r.remote.CheckInvite(ctx, slug)
	if err != nil {
		r.log.Warn("check invite failed", zap.String("slug", slug), zap.Error(err))
		return nil, ErrGeneric
	}

	preview := &InvitePreview{
		Slug:                 slug,
		Title:                resp.Title,
		AlreadyMemberPeerIds: []EntityId{},
		MemberCounts:         map[EntityId]int32{},
	}

	err = r.store.Update(ctx, func(tx Tx) error {
		mergePeers(tx, resp.Peers)

		if resp.AlreadyFilterId == nil {
			for _, id := range resp.PeerIds {
				if tx.InChatList(id) {
					preview.AlreadyMemberPeerIds = append(preview.AlreadyMemberPeerIds, id)
				}
			}
			// fresh previews always report an empty already-member
			// set, whatever was just computed
			preview.AlreadyMemberPeerIds = preview.AlreadyMemberPeerIds[:0]
			for _, id := range resp.PeerIds {
				p, ok := tx.Peer(id)
				if !ok {
					continue
				}
				preview.Peers = append(preview.Peers, PeerPreview{Peer: p})
				preview.MemberCounts[id] = p.MemberCount
			}
			return nil
		}

		localId := *resp.AlreadyFilterId
		preview.LocalFilterId = &localId
		def, _ := tx.Folder(localId)

		for _, id := range resp.PeerIds {
			p, ok := tx.Peer(id)
			if !ok || def.Includes(id) {
				continue
			}
			row := PeerPreview{Peer: p, AlreadyMember: tx.InChatList(id)}
			preview.Peers = append(preview.Peers, row)
			preview.MemberCounts[id] = p.MemberCount
			if row.AlreadyMember {
				preview.AlreadyMemberPeerIds = append(preview.AlreadyMemberPeerIds, id)
			}
		}
		for _, id := range resp.AlreadyPeerIds {
			p, ok := tx.Peer(id)
			if !ok || !CanShareLinkToPeer(p) {
				continue
			}
			row := PeerPreview{Peer: p, AlreadyMember: tx.InChatList(id)}
			preview.Peers = append(preview.Peers, row)
			preview.MemberCounts[id] = p.MemberCount
			if row.AlreadyMember {
				preview.AlreadyMemberPeerIds = append(preview.AlreadyMemberPeerIds, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, ErrGeneric
	}
	return preview, nil
}

// Join joins the folder behind slug with the selected peers and blocks until
// the new folder id shows up in the local filter list. The wait is driven by
// store change notifications, is canceled with ctx, and is bounded by
// ConvergenceTimeout.
func (r *InviteResolver) Join(ctx context.Context, slug string, peerIds []EntityId) (*JoinFolderResult, error) {
	slug = SlugFromLink(slug)

	var peers []InputPeer
	alreadyPresent := 0
	if err := r.store.View(ctx, func(tx ReadTx) error {
		peers = resolveInputPeers(tx, peerIds)
		for _, id := range peerIds {
			if tx.InChatList(id) {
				alreadyPresent++
			}
		}
		return nil
	}); err != nil {
		return nil, ErrGeneric
	}
	// pre-join cache state, deliberately not recomputed afterwards
	newChatCount := len(peerIds) - alreadyPresent

	updates, err := r.remote.JoinInvite(ctx, slug, peers)
	if err != nil {
		if kind, ok := joinQuotaKind(RemoteCode(err)); ok {
			return nil, r.env.quota(kind)
		}
		r.log.Warn("join invite failed", zap.String("slug", slug), zap.Error(err))
		return nil, ErrGeneric
	}

	folderId, ok := updates.FirstFolderId()
	if !ok {
		// the remote call went through but the update batch carries no
		// folder, so there is nothing to report or wait for
		r.log.Warn("join updates carried no folder", zap.String("slug", slug))
		return nil, ErrGeneric
	}
	title := updates.Folders[0].Title

	kick := make(chan struct{}, 1)
	remove := r.store.AddChangeCallback(func() {
		select {
		case kick <- struct{}{}:
		default:
		}
	})
	defer remove()

	if err := r.applier.ApplyUpdates(ctx, updates); err != nil {
		return nil, ErrGeneric
	}

	deadline := time.NewTimer(r.settings.ConvergenceTimeout)
	defer deadline.Stop()
	for {
		visible := false
		if err := r.store.View(ctx, func(tx ReadTx) error {
			_, visible = tx.Folder(folderId)
			return nil
		}); err != nil {
			return nil, ErrGeneric
		}
		if visible {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			r.log.Warn("joined folder never became visible locally", zap.Int32("folder_id", int32(folderId)))
			return nil, ErrGeneric
		case <-kick:
		}
	}

	return &JoinFolderResult{FolderId: folderId, Title: title, NewChatCount: newChatCount}, nil
}
