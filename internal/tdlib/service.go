// Package tdlib adapts the tdlib client to the chatlists engines: it speaks
// the chat folder API, translates tdlib failures into coded remote errors and
// mirrors folder and chat-list updates into the local store.
package tdlib

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zelenin/go-tdlib/client"
	"go.uber.org/zap"

	"github.com/Xorababu0/tgfoldersync/internal/chatlists"
	"github.com/Xorababu0/tgfoldersync/internal/config"
)

// newFolderWait bounds how long JoinInvite waits for tdlib to announce the
// folder created by the join before giving up.
const newFolderWait = 5 * time.Second

// Service owns one account's tdlib client and implements the remote side of
// the chatlists engines on top of it.
type Service struct {
	cfg   *config.Config
	store chatlists.Store
	log   *zap.Logger

	tdlibClient *client.Client
	me          *client.User

	mu          sync.RWMutex
	localChats  map[int64]*client.Chat
	folderInfos []*client.ChatFolderInfo
	options     map[string]any
}

func NewService(cfg *config.Config, store chatlists.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:        cfg,
		store:      store,
		log:        log,
		localChats: make(map[int64]*client.Chat),
		options:    make(map[string]any),
	}
}

// Run authorizes and starts the tdlib client, blocking until authorization
// finished. Codes and passwords requested during authorization are read from
// authParams.
func (t *Service) Run(ctx context.Context, authParams chan string) error {
	tdlibParameters := createTdlibParameters(t.cfg)
	authorizer := newClientAuthorizer(tdlibParameters)
	go chanInteractor(authorizer, t.cfg.Phone, authParams, t.log)

	_, _ = client.SetLogVerbosityLevel(&client.SetLogVerbosityLevelRequest{
		NewVerbosityLevel: 1,
	})

	tdlibClient, err := client.NewClient(authorizer, client.WithResultHandler(client.NewCallbackResultHandler(t.listenUpdates)))
	if err != nil {
		return errors.New("tdlib client: " + err.Error())
	}
	t.tdlibClient = tdlibClient

	me, err := tdlibClient.GetMe(ctx)
	if err != nil {
		return errors.New("get me: " + err.Error())
	}
	t.me = me
	t.log.Info("tdlib client ready",
		zap.Int64("user_id", me.Id),
		zap.String("username", GetUsername(me.Usernames)))

	return nil
}

func (t *Service) Close() {
	if t.tdlibClient != nil {
		t.tdlibClient.Close(context.Background())
	}
}

// IsPremium reports the premium flag of the authorized account.
func (t *Service) IsPremium() bool {
	if t.me == nil {
		return false
	}
	return t.me.IsPremium
}

// AppConfig snapshots the option values tdlib pushed so far. Keys the quota
// resolver does not find fall back to its defaults.
func (t *Service) AppConfig() chatlists.AppConfiguration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(chatlists.AppConfiguration, len(t.options))
	for k, v := range t.options {
		out[k] = v
	}
	return out
}

func (t *Service) ExportInvite(ctx context.Context, folderId chatlists.FolderId, title string, peers []chatlists.InputPeer) (*chatlists.ExportInviteResult, error) {
	req := &client.CreateChatFolderInviteLinkRequest{
		ChatFolderId: int32(folderId),
		Name:         title,
		ChatIds:      toChatIds(peers),
	}
	link, err := t.tdlibClient.CreateChatFolderInviteLink(ctx, req)
	if err != nil {
		return nil, translateError(err)
	}

	folder, err := t.folderDefinition(ctx, folderId)
	if err != nil {
		// exporting marks the folder shareable, reconstruct what we can
		folder = chatlists.FolderDefinition{
			Id:              folderId,
			Title:           title,
			IsShared:        true,
			IncludedPeerIds: toEntityIds(link.ChatIds),
		}
	}

	return &chatlists.ExportInviteResult{
		Folder: folder,
		Link: chatlists.SharedLinkInfo{
			Title:   link.Name,
			Slug:    chatlists.SlugFromLink(link.InviteLink),
			PeerIds: toEntityIds(link.ChatIds),
		},
	}, nil
}

func (t *Service) Filters(ctx context.Context) ([]chatlists.FolderDefinition, error) {
	t.mu.RLock()
	infos := make([]*client.ChatFolderInfo, len(t.folderInfos))
	copy(infos, t.folderInfos)
	t.mu.RUnlock()

	defs := make([]chatlists.FolderDefinition, 0, len(infos))
	for _, info := range infos {
		def, err := t.folderDefinition(ctx, chatlists.FolderId(info.Id))
		if err != nil {
			t.log.Warn("chat folder load failed", zap.Int32("folder_id", info.Id), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (t *Service) EditInvite(ctx context.Context, folderId chatlists.FolderId, slug string, req chatlists.EditInviteRequest) (*chatlists.SharedLinkInfo, error) {
	current, err := t.findInviteLink(ctx, folderId, slug)
	if err != nil {
		return nil, translateError(err)
	}

	// tdlib has no revoked flag on folder links, revocation is deletion
	if req.Revoked != nil && *req.Revoked {
		delReq := &client.DeleteChatFolderInviteLinkRequest{ChatFolderId: int32(folderId), InviteLink: current.InviteLink}
		if _, err := t.tdlibClient.DeleteChatFolderInviteLink(ctx, delReq); err != nil {
			return nil, translateError(err)
		}
		return &chatlists.SharedLinkInfo{
			Title:   current.Name,
			Slug:    chatlists.SlugFromLink(current.InviteLink),
			PeerIds: toEntityIds(current.ChatIds),
			Revoked: true,
		}, nil
	}

	name := current.Name
	if req.Title != nil {
		name = *req.Title
	}
	chatIds := current.ChatIds
	if req.Peers != nil {
		chatIds = toChatIds(req.Peers)
	}

	editReq := &client.EditChatFolderInviteLinkRequest{
		ChatFolderId: int32(folderId),
		InviteLink:   current.InviteLink,
		Name:         name,
		ChatIds:      chatIds,
	}
	edited, err := t.tdlibClient.EditChatFolderInviteLink(ctx, editReq)
	if err != nil {
		return nil, translateError(err)
	}
	return &chatlists.SharedLinkInfo{
		Title:   edited.Name,
		Slug:    chatlists.SlugFromLink(edited.InviteLink),
		PeerIds: toEntityIds(edited.ChatIds),
	}, nil
}

func (t *Service) DeleteInvite(ctx context.Context, folderId chatlists.FolderId, slug string) error {
	req := &client.DeleteChatFolderInviteLinkRequest{
		ChatFolderId: int32(folderId),
		InviteLink:   chatlists.LinkFromSlug(slug),
	}
	_, err := t.tdlibClient.DeleteChatFolderInviteLink(ctx, req)
	return translateError(err)
}

func (t *Service) CheckInvite(ctx context.Context, slug string) (*chatlists.RemoteInvitePreview, error) {
	req := &client.CheckChatFolderInviteLinkRequest{InviteLink: chatlists.LinkFromSlug(slug)}
	info, err := t.tdlibClient.CheckChatFolderInviteLink(ctx, req)
	if err != nil {
		return nil, translateError(err)
	}

	preview := &chatlists.RemoteInvitePreview{}
	if info.ChatFolderInfo != nil {
		preview.Title = folderInfoTitle(info.ChatFolderInfo)
	}

	if info.ChatFolderInfo != nil && info.ChatFolderInfo.Id != 0 {
		localId := chatlists.FolderId(info.ChatFolderInfo.Id)
		preview.AlreadyFilterId = &localId
		preview.PeerIds = toEntityIds(info.MissingChatIds)
		preview.AlreadyPeerIds = toEntityIds(info.AddedChatIds)
	} else {
		// folder id zero means the folder does not exist locally yet,
		// the whole chat set is offered
		preview.PeerIds = toEntityIds(append(append([]int64{}, info.MissingChatIds...), info.AddedChatIds...))
	}

	preview.Peers = t.buildPeers(ctx, append(append([]int64{}, info.MissingChatIds...), info.AddedChatIds...))
	return preview, nil
}

func (t *Service) JoinInvite(ctx context.Context, slug string, peers []chatlists.InputPeer) (*chatlists.RemoteUpdates, error) {
	before := t.folderIdSet()

	req := &client.AddChatFolderByInviteLinkRequest{
		InviteLink: chatlists.LinkFromSlug(slug),
		ChatIds:    toChatIds(peers),
	}
	if _, err := t.tdlibClient.AddChatFolderByInviteLink(ctx, req); err != nil {
		return nil, translateError(err)
	}

	// the new folder arrives asynchronously via updateChatFolders
	newId, err := t.waitNewFolder(ctx, before)
	if err != nil {
		return nil, err
	}
	def, err := t.folderDefinition(ctx, newId)
	if err != nil {
		return nil, translateError(err)
	}
	return &chatlists.RemoteUpdates{
		Folders: []chatlists.FolderDefinition{def},
		Peers:   t.buildPeers(ctx, toChatIds(peers)),
	}, nil
}

func (t *Service) FolderUpdates(ctx context.Context, folderId chatlists.FolderId) (*chatlists.RemoteFolderUpdates, error) {
	req := &client.GetChatFolderNewChatsRequest{ChatFolderId: int32(folderId)}
	chats, err := t.tdlibClient.GetChatFolderNewChats(ctx, req)
	if err != nil {
		return nil, translateError(err)
	}

	out := &chatlists.RemoteFolderUpdates{
		MissingPeerIds: toEntityIds(chats.ChatIds),
		MemberCounts:   map[chatlists.EntityId]int32{},
	}
	out.Peers = t.buildPeers(ctx, chats.ChatIds)
	for _, p := range out.Peers {
		out.MemberCounts[p.Id] = p.MemberCount
	}
	return out, nil
}

func (t *Service) JoinFolderUpdates(ctx context.Context, folderId chatlists.FolderId, peers []chatlists.InputPeer) (*chatlists.RemoteUpdates, error) {
	req := &client.ProcessChatFolderNewChatsRequest{
		ChatFolderId: int32(folderId),
		AddedChatIds: toChatIds(peers),
	}
	if _, err := t.tdlibClient.ProcessChatFolderNewChats(ctx, req); err != nil {
		return nil, translateError(err)
	}
	def, err := t.folderDefinition(ctx, folderId)
	if err != nil {
		return nil, translateError(err)
	}
	return &chatlists.RemoteUpdates{
		Folders: []chatlists.FolderDefinition{def},
		Peers:   t.buildPeers(ctx, toChatIds(peers)),
	}, nil
}

func (t *Service) HideFolderUpdates(ctx context.Context, folderId chatlists.FolderId) error {
	// dismissing is processing the batch with nothing selected
	req := &client.ProcessChatFolderNewChatsRequest{ChatFolderId: int32(folderId)}
	_, err := t.tdlibClient.ProcessChatFolderNewChats(ctx, req)
	return translateError(err)
}

func (t *Service) LeaveFolder(ctx context.Context, folderId chatlists.FolderId, peers []chatlists.InputPeer) (*chatlists.RemoteUpdates, error) {
	req := &client.DeleteChatFolderRequest{
		ChatFolderId: int32(folderId),
		LeaveChatIds: toChatIds(peers),
	}
	if _, err := t.tdlibClient.DeleteChatFolder(ctx, req); err != nil {
		return nil, translateError(err)
	}
	return &chatlists.RemoteUpdates{}, nil
}

func (t *Service) LeaveSuggestions(ctx context.Context, folderId chatlists.FolderId) ([]chatlists.EntityId, error) {
	req := &client.GetChatFolderChatsToLeaveRequest{ChatFolderId: int32(folderId)}
	chats, err := t.tdlibClient.GetChatFolderChatsToLeave(ctx, req)
	if err != nil {
		return nil, translateError(err)
	}
	return toEntityIds(chats.ChatIds), nil
}

func (t *Service) folderIdSet() map[int32]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int32]struct{}, len(t.folderInfos))
	for _, info := range t.folderInfos {
		out[info.Id] = struct{}{}
	}
	return out
}

func (t *Service) waitNewFolder(ctx context.Context, before map[int32]struct{}) (chatlists.FolderId, error) {
	started := time.Now()
	for {
		t.mu.RLock()
		var newId int32
		for _, info := range t.folderInfos {
			if _, ok := before[info.Id]; !ok {
				newId = info.Id
				break
			}
		}
		t.mu.RUnlock()
		if newId != 0 {
			return chatlists.FolderId(newId), nil
		}
		if time.Since(started) > newFolderWait {
			return 0, errors.New("timeout while waiting for joined folder")
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (t *Service) folderDefinition(ctx context.Context, folderId chatlists.FolderId) (chatlists.FolderDefinition, error) {
	req := &client.GetChatFolderRequest{ChatFolderId: int32(folderId)}
	folder, err := t.tdlibClient.GetChatFolder(ctx, req)
	if err != nil {
		return chatlists.FolderDefinition{}, err
	}
	return chatlists.FolderDefinition{
		Id:              folderId,
		Title:           folderTitle(folder),
		IsShared:        folder.IsShareable,
		IncludedPeerIds: toEntityIds(folder.IncludedChatIds),
	}, nil
}

func (t *Service) getChat(ctx context.Context, chatId int64, force bool) (*client.Chat, error) {
	t.mu.RLock()
	chat, ok := t.localChats[chatId]
	t.mu.RUnlock()
	if !force && ok {
		return chat, nil
	}
	req := &client.GetChatRequest{ChatId: chatId}
	chat, err := t.tdlibClient.GetChat(ctx, req)
	if err == nil {
		t.cacheChat(chat)
	}
	return chat, err
}

func (t *Service) cacheChat(chat *client.Chat) {
	t.mu.Lock()
	t.localChats[chat.Id] = chat
	t.mu.Unlock()
}

// buildPeers resolves chat ids into cached peer objects. Chats that cannot be
// resolved are skipped; the engines tolerate holes in the peer set.
func (t *Service) buildPeers(ctx context.Context, chatIds []int64) []chatlists.Peer {
	out := make([]chatlists.Peer, 0, len(chatIds))
	for _, chatId := range chatIds {
		peer, err := t.buildPeer(ctx, chatId)
		if err != nil {
			t.log.Warn("peer resolve failed", zap.Int64("chat_id", chatId), zap.Error(err))
			continue
		}
		out = append(out, peer)
	}
	return out
}

func (t *Service) buildPeer(ctx context.Context, chatId int64) (chatlists.Peer, error) {
	chat, err := t.getChat(ctx, chatId, false)
	if err != nil {
		return chatlists.Peer{}, err
	}

	peer := chatlists.Peer{
		Id:         chatlists.EntityId(chatId),
		Title:      chat.Title,
		InChatList: inMainList(chat),
	}

	switch chat.Type.ChatTypeConstructor() {
	case client.ConstructorChatTypeSupergroup:
		typ := chat.Type.(*client.ChatTypeSupergroup)
		sg, err := t.tdlibClient.GetSupergroup(ctx, &client.GetSupergroupRequest{SupergroupId: typ.SupergroupId})
		if err != nil {
			return chatlists.Peer{}, err
		}
		peer.Username = GetUsername(sg.Usernames)
		peer.MemberCount = sg.MemberCount
		if typ.IsChannel {
			peer.Kind = chatlists.PeerChannel
			peer.IsCreator = sg.Status.ChatMemberStatusConstructor() == client.ConstructorChatMemberStatusCreator
			peer.CanInvite = canInviteUsers(sg.Status)
		} else {
			peer.Kind = chatlists.PeerGroup
			peer.BannedAddMembers = !canInviteUsers(sg.Status) && peer.Username == ""
		}

	case client.ConstructorChatTypeBasicGroup:
		typ := chat.Type.(*client.ChatTypeBasicGroup)
		bg, err := t.tdlibClient.GetBasicGroup(ctx, &client.GetBasicGroupRequest{BasicGroupId: typ.BasicGroupId})
		if err != nil {
			return chatlists.Peer{}, err
		}
		peer.Kind = chatlists.PeerGroup
		peer.MemberCount = bg.MemberCount
		peer.BannedAddMembers = !canInviteUsers(bg.Status)

	default:
		peer.Kind = chatlists.PeerUser
	}

	return peer, nil
}

func canInviteUsers(status client.ChatMemberStatus) bool {
	switch status.ChatMemberStatusConstructor() {
	case client.ConstructorChatMemberStatusCreator:
		return true
	case client.ConstructorChatMemberStatusAdministrator:
		st := status.(*client.ChatMemberStatusAdministrator)
		return st.Rights != nil && st.Rights.CanInviteUsers
	case client.ConstructorChatMemberStatusMember:
		return true
	case client.ConstructorChatMemberStatusRestricted:
		st := status.(*client.ChatMemberStatusRestricted)
		return st.Permissions != nil && st.Permissions.CanInviteUsers
	default:
		return false
	}
}

func inMainList(chat *client.Chat) bool {
	for _, pos := range chat.Positions {
		if pos.List.ChatListConstructor() == client.ConstructorChatListMain {
			return true
		}
	}
	return false
}

func (t *Service) findInviteLink(ctx context.Context, folderId chatlists.FolderId, slug string) (*client.ChatFolderInviteLink, error) {
	req := &client.GetChatFolderInviteLinksRequest{ChatFolderId: int32(folderId)}
	links, err := t.tdlibClient.GetChatFolderInviteLinks(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, link := range links.InviteLinks {
		if chatlists.SlugFromLink(link.InviteLink) == slug {
			return link, nil
		}
	}
	return nil, errors.New("invite link not found: " + slug)
}

func folderTitle(folder *client.ChatFolder) string {
	if folder.Name == nil || folder.Name.Text == nil {
		return ""
	}
	return folder.Name.Text.Text
}

func folderInfoTitle(info *client.ChatFolderInfo) string {
	if info.Name == nil || info.Name.Text == nil {
		return ""
	}
	return info.Name.Text.Text
}

func toChatIds(peers []chatlists.InputPeer) []int64 {
	out := make([]int64, 0, len(peers))
	for _, p := range peers {
		out = append(out, int64(p.Id))
	}
	return out
}

func toEntityIds(chatIds []int64) []chatlists.EntityId {
	out := make([]chatlists.EntityId, 0, len(chatIds))
	for _, id := range chatIds {
		out = append(out, chatlists.EntityId(id))
	}
	return out
}

var remoteCodes = []string{
	chatlists.CodeInvitesTooMuch,
	chatlists.CodeCommunitiesTooMuch,
	chatlists.CodeUserChannelsTooMuch,
	chatlists.CodeDialogFiltersTooMuch,
	chatlists.CodeFiltersTooMuch,
}

// translateError maps tdlib failures onto coded remote errors. tdlib error
// text is "<code> <message>", the quota codes show up in the message part.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, code := range remoteCodes {
		if strings.Contains(msg, code) {
			return &chatlists.RemoteError{Code: code}
		}
	}
	return err
}

func createTdlibParameters(cfg *config.Config) *client.SetTdlibParametersRequest {
	return &client.SetTdlibParametersRequest{
		UseTestDc:           false,
		DatabaseDirectory:   filepath.Join(cfg.TDataDir, ".tdlib"+cfg.Phone, "database"),
		FilesDirectory:      filepath.Join(cfg.TDataDir, ".tdlib"+cfg.Phone, "files"),
		UseFileDatabase:     true,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  false,
		UseSecretChats:      false,
		ApiId:               cfg.ApiId,
		ApiHash:             cfg.ApiHash,
		SystemLanguageCode:  "en",
		DeviceModel:         "Linux",
		SystemVersion:       "1.0.0",
		ApplicationVersion:  "1.0.0",
	}
}
