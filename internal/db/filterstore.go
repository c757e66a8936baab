// Package db holds the mongo-backed chatlists store. One database per
// account, one collection per record family, mirroring how the watcher-style
// deployments this grew out of keep their chat state.
package db

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Xorababu0/tgfoldersync/internal/chatlists"
	"github.com/Xorababu0/tgfoldersync/internal/consts"
	"github.com/Xorababu0/tgfoldersync/internal/store"
)

const opTimeout = 10 * time.Second

// FilterStore implements chatlists.Store on mongo collections. Mongo multi-
// document transactions need a replica set, so atomicity comes from the
// store mutex instead: Update transactions hold the write lock, View
// transactions the read lock, and change callbacks fire only after the
// writer released the store.
type FilterStore struct {
	mu sync.RWMutex

	chatFoldersColl   *mongo.Collection
	remoteFoldersColl *mongo.Collection
	folderUpdatesColl *mongo.Collection
	peersColl         *mongo.Collection
	chatListColl      *mongo.Collection

	changeCallbacks *store.CallbackList[func()]
	log             *zap.Logger
}

func NewFilterStore(mongoClient *mongo.Client, dbPrefix string, phone string, log *zap.Logger) *FilterStore {
	if log == nil {
		log = zap.NewNop()
	}
	database := mongoClient.Database(dbPrefix + phone)
	return &FilterStore{
		chatFoldersColl:   database.Collection("chatFolders"),
		remoteFoldersColl: database.Collection("remoteFolders"),
		folderUpdatesColl: database.Collection("folderUpdates"),
		peersColl:         database.Collection("peers"),
		chatListColl:      database.Collection("chatList"),
		changeCallbacks:   store.NewCallbackList[func()](),
		log:               log,
	}
}

func (s *FilterStore) Update(ctx context.Context, fn func(tx chatlists.Tx) error) error {
	s.mu.Lock()
	err := fn(&mongoTx{s: s, ctx: ctx})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, cb := range s.changeCallbacks.Get() {
		cb()
	}
	return nil
}

func (s *FilterStore) View(ctx context.Context, fn func(tx chatlists.ReadTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&mongoTx{s: s, ctx: ctx})
}

func (s *FilterStore) AddChangeCallback(fn func()) func() {
	id := s.changeCallbacks.Add(fn)
	return func() {
		s.changeCallbacks.Remove(id)
	}
}

type folderDoc struct {
	chatlists.FolderDefinition `bson:",inline"`
	Pos                        int64 `bson:"pos"`
}

type memberCountDoc struct {
	PeerId int64 `bson:"peerid"`
	Count  int32 `bson:"count"`
}

type pendingDoc struct {
	FolderId       int32            `bson:"folderid"`
	Timestamp      int32            `bson:"timestamp"`
	MissingPeerIds []int64          `bson:"missingpeerids"`
	MemberCounts   []memberCountDoc `bson:"membercounts"`
}

// mongo rejects int-keyed maps, so member counts travel as a doc slice
func newPendingDoc(rec chatlists.PendingUpdateRecord) pendingDoc {
	doc := pendingDoc{
		FolderId:  int32(rec.FolderId),
		Timestamp: rec.Timestamp,
	}
	for _, id := range rec.MissingPeerIds {
		doc.MissingPeerIds = append(doc.MissingPeerIds, int64(id))
	}
	for id, count := range rec.MemberCounts {
		doc.MemberCounts = append(doc.MemberCounts, memberCountDoc{PeerId: int64(id), Count: count})
	}
	return doc
}

func (d pendingDoc) record() chatlists.PendingUpdateRecord {
	rec := chatlists.PendingUpdateRecord{
		FolderId:     chatlists.FolderId(d.FolderId),
		Timestamp:    d.Timestamp,
		MemberCounts: map[chatlists.EntityId]int32{},
	}
	for _, pid := range d.MissingPeerIds {
		rec.MissingPeerIds = append(rec.MissingPeerIds, chatlists.EntityId(pid))
	}
	for _, mc := range d.MemberCounts {
		rec.MemberCounts[chatlists.EntityId(mc.PeerId)] = mc.Count
	}
	return rec
}

type chatListDoc struct {
	ChatId int64 `bson:"chatid"`
	ListId int32 `bson:"listid"`
}

type mongoTx struct {
	s   *FilterStore
	ctx context.Context
}

func (tx *mongoTx) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(tx.ctx, opTimeout)
}

func (tx *mongoTx) loadFolders(coll *mongo.Collection) []chatlists.FolderDefinition {
	mctx, cancel := tx.opCtx()
	defer cancel()
	opts := options.Find().SetSort(bson.M{"pos": 1})
	cur, err := coll.Find(mctx, bson.M{}, opts)
	if err != nil {
		tx.s.log.Warn("folder list read failed", zap.Error(err))
		return nil
	}
	var docs []folderDoc
	if err := cur.All(mctx, &docs); err != nil {
		tx.s.log.Warn("folder list decode failed", zap.Error(err))
		return nil
	}
	defs := make([]chatlists.FolderDefinition, 0, len(docs))
	for _, doc := range docs {
		defs = append(defs, doc.FolderDefinition)
	}
	return defs
}

func (tx *mongoTx) Folders() []chatlists.FolderDefinition {
	return tx.loadFolders(tx.s.chatFoldersColl)
}

func (tx *mongoTx) Folder(id chatlists.FolderId) (chatlists.FolderDefinition, bool) {
	mctx, cancel := tx.opCtx()
	defer cancel()
	var doc folderDoc
	err := tx.s.chatFoldersColl.FindOne(mctx, bson.M{"id": id}).Decode(&doc)
	if err != nil {
		return chatlists.FolderDefinition{}, false
	}
	return doc.FolderDefinition, true
}

func (tx *mongoTx) RemoteFolders() []chatlists.FolderDefinition {
	return tx.loadFolders(tx.s.remoteFoldersColl)
}

func (tx *mongoTx) PendingUpdates(id chatlists.FolderId) (chatlists.PendingUpdateRecord, bool) {
	mctx, cancel := tx.opCtx()
	defer cancel()
	var doc pendingDoc
	err := tx.s.folderUpdatesColl.FindOne(mctx, bson.M{"folderid": id}).Decode(&doc)
	if err != nil {
		return chatlists.PendingUpdateRecord{}, false
	}
	return doc.record(), true
}

func (tx *mongoTx) Peer(id chatlists.EntityId) (chatlists.Peer, bool) {
	mctx, cancel := tx.opCtx()
	defer cancel()
	var p chatlists.Peer
	err := tx.s.peersColl.FindOne(mctx, bson.M{"id": id}).Decode(&p)
	if err != nil {
		return chatlists.Peer{}, false
	}
	return p, true
}

func (tx *mongoTx) InChatList(id chatlists.EntityId) bool {
	mctx, cancel := tx.opCtx()
	defer cancel()
	err := tx.s.chatListColl.FindOne(mctx, bson.M{"chatid": id, "listid": consts.ClMain}).Err()
	return err == nil
}

func (tx *mongoTx) UpsertFolder(def chatlists.FolderDefinition) {
	mctx, cancel := tx.opCtx()
	defer cancel()

	var existing folderDoc
	pos := int64(0)
	err := tx.s.chatFoldersColl.FindOne(mctx, bson.M{"id": def.Id}).Decode(&existing)
	if err == nil {
		pos = existing.Pos
	} else {
		count, err := tx.s.chatFoldersColl.CountDocuments(mctx, bson.M{})
		if err != nil {
			tx.s.log.Warn("folder count failed", zap.Error(err))
		}
		pos = count
	}

	doc := folderDoc{FolderDefinition: def, Pos: pos}
	opts := options.Update().SetUpsert(true)
	_, err = tx.s.chatFoldersColl.UpdateOne(mctx, bson.M{"id": def.Id}, bson.M{"$set": doc}, opts)
	if err != nil {
		tx.s.log.Warn("folder upsert failed", zap.Int32("folder_id", int32(def.Id)), zap.Error(err))
	}
}

func (tx *mongoTx) DeleteFolder(id chatlists.FolderId) {
	mctx, cancel := tx.opCtx()
	defer cancel()
	_, err := tx.s.chatFoldersColl.DeleteMany(mctx, bson.M{"id": id})
	if err != nil {
		tx.s.log.Warn("folder delete failed", zap.Int32("folder_id", int32(id)), zap.Error(err))
	}
}

func (tx *mongoTx) SetRemoteFolders(defs []chatlists.FolderDefinition) {
	mctx, cancel := tx.opCtx()
	defer cancel()
	if _, err := tx.s.remoteFoldersColl.DeleteMany(mctx, bson.M{}); err != nil {
		tx.s.log.Warn("remote folder mirror clear failed", zap.Error(err))
		return
	}
	if len(defs) == 0 {
		return
	}
	docs := make([]interface{}, 0, len(defs))
	for i, def := range defs {
		docs = append(docs, folderDoc{FolderDefinition: def, Pos: int64(i)})
	}
	if _, err := tx.s.remoteFoldersColl.InsertMany(mctx, docs); err != nil {
		tx.s.log.Warn("remote folder mirror write failed", zap.Error(err))
	}
}

func (tx *mongoTx) SetPendingUpdates(rec chatlists.PendingUpdateRecord) {
	mctx, cancel := tx.opCtx()
	defer cancel()

	doc := newPendingDoc(rec)

	// remove-then-insert keeps the record unique per folder
	if _, err := tx.s.folderUpdatesColl.DeleteMany(mctx, bson.M{"folderid": doc.FolderId}); err != nil {
		tx.s.log.Warn("pending record clear failed", zap.Int32("folder_id", doc.FolderId), zap.Error(err))
		return
	}
	if _, err := tx.s.folderUpdatesColl.InsertOne(mctx, doc); err != nil {
		tx.s.log.Warn("pending record write failed", zap.Int32("folder_id", doc.FolderId), zap.Error(err))
	}
}

func (tx *mongoTx) DeletePendingUpdates(id chatlists.FolderId) {
	mctx, cancel := tx.opCtx()
	defer cancel()
	_, err := tx.s.folderUpdatesColl.DeleteMany(mctx, bson.M{"folderid": id})
	if err != nil {
		tx.s.log.Warn("pending record delete failed", zap.Int32("folder_id", int32(id)), zap.Error(err))
	}
}

func (tx *mongoTx) UpsertPeers(peers []chatlists.Peer) {
	mctx, cancel := tx.opCtx()
	defer cancel()
	opts := options.Update().SetUpsert(true)
	for _, p := range peers {
		_, err := tx.s.peersColl.UpdateOne(mctx, bson.M{"id": p.Id}, bson.M{"$set": p}, opts)
		if err != nil {
			tx.s.log.Warn("peer upsert failed", zap.Int64("peer_id", int64(p.Id)), zap.Error(err))
		}
	}
}

func (tx *mongoTx) SetInChatList(id chatlists.EntityId, present bool) {
	mctx, cancel := tx.opCtx()
	defer cancel()
	crit := bson.M{"chatid": id, "listid": consts.ClMain}
	if !present {
		if _, err := tx.s.chatListColl.DeleteMany(mctx, crit); err != nil {
			tx.s.log.Warn("presence delete failed", zap.Int64("peer_id", int64(id)), zap.Error(err))
		}
		return
	}
	doc := chatListDoc{ChatId: int64(id), ListId: consts.ClMain}
	opts := options.Update().SetUpsert(true)
	if _, err := tx.s.chatListColl.UpdateOne(mctx, crit, bson.M{"$set": doc}, opts); err != nil {
		tx.s.log.Warn("presence upsert failed", zap.Int64("peer_id", int64(id)), zap.Error(err))
	}
}
