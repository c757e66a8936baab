package chatlists

import (
	"strings"
)

// FolderId identifies a chat folder within one account.
type FolderId int32

// EntityId identifies a chat, channel or group within one account's universe.
type EntityId int64

const linkPrefix = "https://t.me/addlist/"

// SlugFromLink strips the public link prefix. Already-stripped slugs pass
// through unchanged so stored and URL forms round-trip.
func SlugFromLink(link string) string {
	link = strings.TrimPrefix(link, linkPrefix)
	link = strings.TrimPrefix(link, "t.me/addlist/")
	return link
}

func LinkFromSlug(slug string) string {
	return linkPrefix + slug
}

type PeerKind string

const (
	PeerUser    PeerKind = "user"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

// Peer is the cached view of a chat/channel/group, enough to render previews
// and to decide shareability.
type Peer struct {
	Id          EntityId `bson:"id"`
	AccessHash  int64    `bson:"accesshash"`
	Kind        PeerKind `bson:"kind"`
	Title       string   `bson:"title"`
	Username    string   `bson:"username"`
	MemberCount int32    `bson:"membercount"`
	// channel flags
	IsCreator bool `bson:"iscreator"`
	CanInvite bool `bson:"caninvite"`
	// basic group flag
	BannedAddMembers bool `bson:"bannedaddmembers"`
	// set on peers arriving from remote responses; folded into the presence cache
	InChatList bool `bson:"inchatlist"`
}

// SharedLinkInfo describes one invite link of a shared folder. Slug is always
// the stripped form, never the full URL.
type SharedLinkInfo struct {
	Title   string
	Slug    string
	PeerIds []EntityId
	Revoked bool
}

func (l SharedLinkInfo) Link() string {
	return LinkFromSlug(l.Slug)
}

// FolderDefinition is the locally cached folder. IncludedPeerIds keeps the
// remote ordering; Includes does the set lookups.
type FolderDefinition struct {
	Id              FolderId   `bson:"id"`
	Title           string     `bson:"title"`
	IsShared        bool       `bson:"isshared"`
	IncludedPeerIds []EntityId `bson:"includedpeerids"`
}

func (d FolderDefinition) Includes(id EntityId) bool {
	for _, p := range d.IncludedPeerIds {
		if p == id {
			return true
		}
	}
	return false
}

// PendingUpdateRecord caches the last poll result for one folder: chats its
// owner added that are still missing locally. At most one record per folder.
type PendingUpdateRecord struct {
	FolderId       FolderId           `bson:"folderid"`
	Timestamp      int32              `bson:"timestamp"`
	MissingPeerIds []EntityId         `bson:"missingpeerids"`
	MemberCounts   map[EntityId]int32 `bson:"membercounts"`
}

// JoinFolderResult is returned once per successful join. NewChatCount reflects
// the cache state from before the remote call executed.
type JoinFolderResult struct {
	FolderId     FolderId
	Title        string
	NewChatCount int
}

// FolderUpdates is the subscription value: pending chats of one shared folder
// that the local filter does not include yet.
type FolderUpdates struct {
	FolderId     FolderId
	Title        string
	MissingPeers []Peer
	MemberCounts map[EntityId]int32
}

// EqualFolderUpdates is the de-duplication rule of the subscription feed:
// same folder and same ordered missing-peer sequence. Title and member counts
// do not participate.
func EqualFolderUpdates(a, b *FolderUpdates) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.FolderId != b.FolderId || len(a.MissingPeers) != len(b.MissingPeers) {
		return false
	}
	for i := range a.MissingPeers {
		if a.MissingPeers[i].Id != b.MissingPeers[i].Id {
			return false
		}
	}
	return true
}

// PeerPreview is one row of an invite preview.
type PeerPreview struct {
	Peer          Peer
	AlreadyMember bool
}

// InvitePreview is the resolved view of an invite slug.
type InvitePreview struct {
	Slug                 string
	Title                string
	LocalFilterId        *FolderId
	Peers                []PeerPreview
	AlreadyMemberPeerIds []EntityId
	MemberCounts         map[EntityId]int32
}

// InputPeer is a remote-addressable peer reference resolved from the cache.
type InputPeer struct {
	Id         EntityId
	AccessHash int64
}

// CanShareLinkToPeer reports whether the calling user may put this peer behind
// a folder invite link: channels need ownership, invite rights or a public
// handle; basic groups only require the user not being banned from adding
// members.
func CanShareLinkToPeer(p Peer) bool {
	switch p.Kind {
	case PeerChannel:
		return p.IsCreator || p.CanInvite || p.Username != ""
	case PeerGroup:
		return !p.BannedAddMembers
	default:
		return false
	}
}
