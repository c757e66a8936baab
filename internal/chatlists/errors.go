package chatlists

import (
	"errors"
	"fmt"
)

// ErrGeneric is the catch-all failure of every operation in this package.
// Remote errors that don't match a known quota code collapse into it with no
// detail preserved.
var ErrGeneric = errors.New("chat folder request failed")

// Remote failure codes this package distinguishes from all other failures.
const (
	CodeInvitesTooMuch       = "INVITES_TOO_MUCH"
	CodeCommunitiesTooMuch   = "COMMUNITIES_TOO_MUCH"
	CodeUserChannelsTooMuch  = "USER_CHANNELS_TOO_MUCH"
	CodeDialogFiltersTooMuch = "DIALOG_FILTERS_TOO_MUCH"
	CodeFiltersTooMuch       = "FILTERS_TOO_MUCH"
)

// RemoteError is a coded failure surfaced by a RemoteService implementation.
type RemoteError struct {
	Code string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Code)
}

// RemoteCode extracts the failure code, or "" for uncoded errors.
func RemoteCode(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

type QuotaKind string

const (
	QuotaDialogFilterCount           QuotaKind = "dialogFilterCount"
	QuotaSharedFolderJoinCount       QuotaKind = "sharedFolderJoinCount"
	QuotaSharedFolderInviteLinkCount QuotaKind = "sharedFolderInviteLinkCount"
	QuotaChannelCount                QuotaKind = "channelCount"
)

// QuotaError reports that a remote call failed on a known per-tier quota.
// Limit is the caller's current tier value, PremiumLimit the premium tier
// value; for premium callers the two coincide.
type QuotaError struct {
	Kind         QuotaKind
	Limit        int32
	PremiumLimit int32
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %s (limit %d, premium %d)", e.Kind, e.Limit, e.PremiumLimit)
}

// quotaError builds the typed error for one kind, resolving limits only on
// this failure path.
func quotaError(cfg AppConfiguration, isPremium bool, kind QuotaKind) *QuotaError {
	current, premium := LimitsFor(cfg, isPremium)
	e := &QuotaError{Kind: kind}
	switch kind {
	case QuotaDialogFilterCount:
		e.Limit, e.PremiumLimit = current.MaxFolders, premium.MaxFolders
	case QuotaSharedFolderJoinCount:
		e.Limit, e.PremiumLimit = current.MaxSharedFolderJoins, premium.MaxSharedFolderJoins
	case QuotaSharedFolderInviteLinkCount:
		e.Limit, e.PremiumLimit = current.MaxSharedFolderLinks, premium.MaxSharedFolderLinks
	case QuotaChannelCount:
		e.Limit, e.PremiumLimit = current.MaxChannels, premium.MaxChannels
	}
	return e
}

// joinQuotaKind maps the join-path failure codes. Both historical folder-count
// codes resolve to the same kind.
func joinQuotaKind(code string) (QuotaKind, bool) {
	switch code {
	case CodeUserChannelsTooMuch:
		return QuotaChannelCount, true
	case CodeDialogFiltersTooMuch, CodeFiltersTooMuch:
		return QuotaDialogFilterCount, true
	case CodeCommunitiesTooMuch:
		return QuotaSharedFolderJoinCount, true
	default:
		return "", false
	}
}

// exportQuotaKind maps the export-path failure codes.
func exportQuotaKind(code string) (QuotaKind, bool) {
	switch code {
	case CodeInvitesTooMuch:
		return QuotaSharedFolderInviteLinkCount, true
	case CodeCommunitiesTooMuch:
		return QuotaSharedFolderJoinCount, true
	default:
		return "", false
	}
}
