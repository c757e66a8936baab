package tdlib

import (
	"context"

	"github.com/zelenin/go-tdlib/client"
	"go.uber.org/zap"

	"github.com/Xorababu0/tgfoldersync/internal/chatlists"
)

// listenUpdates is the tdlib result handler. Folder and chat-list updates are
// mirrored into the local store, option updates feed the app-config snapshot,
// everything else is ignored.
func (t *Service) listenUpdates(ctx context.Context, update client.Type) {
	switch update.GetType() {
	case client.TypeUpdate:
		switch update.GetConstructor() {
		case client.ConstructorUpdateChatFolders:
			upd := update.(*client.UpdateChatFolders)
			t.syncChatFolders(ctx, upd)

		case client.ConstructorUpdateChatAddedToList:
			upd := update.(*client.UpdateChatAddedToList)
			if upd.ChatList.ChatListConstructor() == client.ConstructorChatListMain {
				t.setPresence(ctx, upd.ChatId, true)
			}

		case client.ConstructorUpdateChatRemovedFromList:
			upd := update.(*client.UpdateChatRemovedFromList)
			if upd.ChatList.ChatListConstructor() == client.ConstructorChatListMain {
				t.setPresence(ctx, upd.ChatId, false)
			}

		case client.ConstructorUpdateOption:
			upd := update.(*client.UpdateOption)
			if upd.Name == "unix_time" {
				break
			}
			t.saveOption(upd)

		case client.ConstructorUpdateNewChat:
			upd := update.(*client.UpdateNewChat)
			t.cacheChat(upd.Chat)
		}

	case client.TypeChat:
		t.cacheChat(update.(*client.Chat))
	}
}

// syncChatFolders reconciles the local folder list with the authoritative one
// tdlib pushed: new or changed folders are loaded and upserted, folders gone
// from the update are deleted.
func (t *Service) syncChatFolders(ctx context.Context, upd *client.UpdateChatFolders) {
	t.mu.Lock()
	t.folderInfos = upd.ChatFolders
	t.mu.Unlock()

	defs := make([]chatlists.FolderDefinition, 0, len(upd.ChatFolders))
	for _, info := range upd.ChatFolders {
		def, err := t.folderDefinition(ctx, chatlists.FolderId(info.Id))
		if err != nil {
			t.log.Warn("chat folder load failed", zap.Int32("folder_id", info.Id), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}

	err := t.store.Update(ctx, func(tx chatlists.Tx) error {
		keep := make(map[chatlists.FolderId]struct{}, len(defs))
		for _, def := range defs {
			tx.UpsertFolder(def)
			keep[def.Id] = struct{}{}
		}
		for _, existing := range tx.Folders() {
			if _, ok := keep[existing.Id]; !ok {
				tx.DeleteFolder(existing.Id)
				tx.DeletePendingUpdates(existing.Id)
			}
		}
		return nil
	})
	if err != nil {
		t.log.Warn("folder list sync failed", zap.Error(err))
	}
}

func (t *Service) setPresence(ctx context.Context, chatId int64, present bool) {
	err := t.store.Update(ctx, func(tx chatlists.Tx) error {
		tx.SetInChatList(chatlists.EntityId(chatId), present)
		return nil
	})
	if err != nil {
		t.log.Warn("presence update failed", zap.Int64("chat_id", chatId), zap.Error(err))
	}
}

func (t *Service) saveOption(upd *client.UpdateOption) {
	var value any
	switch upd.Value.OptionValueConstructor() {
	case client.ConstructorOptionValueInteger:
		value = int64(upd.Value.(*client.OptionValueInteger).Value)
	case client.ConstructorOptionValueString:
		value = upd.Value.(*client.OptionValueString).Value
	case client.ConstructorOptionValueBoolean:
		value = upd.Value.(*client.OptionValueBoolean).Value
	default:
		return
	}
	t.mu.Lock()
	t.options[upd.Name] = value
	t.mu.Unlock()
}
