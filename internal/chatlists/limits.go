package chatlists

// AppConfiguration is the server-provided app config snapshot, as cached by
// the client. Values arrive as json numbers.
type AppConfiguration map[string]any

// Default quota values used when the cached config misses a key.
const (
	defaultMaxFolders           int32 = 10
	defaultMaxFolderChats       int32 = 100
	defaultMaxSharedFolderLinks int32 = 3
	defaultMaxSharedFolderJoins int32 = 2
	defaultMaxChannels          int32 = 500
	premiumMaxFolders           int32 = 20
	premiumMaxFolderChats       int32 = 200
	premiumMaxSharedFolderLinks int32 = 20
	premiumMaxSharedFolderJoins int32 = 20
	premiumMaxChannels          int32 = 1000
)

// LimitsTable is one tier's quota set.
type LimitsTable struct {
	MaxSharedFolderLinks int32
	MaxSharedFolderJoins int32
	MaxFolders           int32
	MaxFolderChats       int32
	MaxChannels          int32
}

// ResolveLimits derives the (standard, premium) quota tables from the cached
// app configuration. Pure; malformed or missing keys fall back to defaults.
// The premium flag of the caller is accepted for parity with per-tier config
// overrides but does not change which tables are returned; callers pick their
// current table with LimitsFor.
func ResolveLimits(cfg AppConfiguration, isPremiumCaller bool) (LimitsTable, LimitsTable) {
	_ = isPremiumCaller

	standard := LimitsTable{
		MaxSharedFolderLinks: configInt32(cfg, "chatlist_invites_limit_default", defaultMaxSharedFolderLinks),
		MaxSharedFolderJoins: configInt32(cfg, "chatlists_joined_limit_default", defaultMaxSharedFolderJoins),
		MaxFolders:           configInt32(cfg, "dialog_filters_limit_default", defaultMaxFolders),
		MaxFolderChats:       configInt32(cfg, "dialog_filters_chats_limit_default", defaultMaxFolderChats),
		MaxChannels:          configInt32(cfg, "channels_limit_default", defaultMaxChannels),
	}
	premium := LimitsTable{
		MaxSharedFolderLinks: configInt32(cfg, "chatlist_invites_limit_premium", premiumMaxSharedFolderLinks),
		MaxSharedFolderJoins: configInt32(cfg, "chatlists_joined_limit_premium", premiumMaxSharedFolderJoins),
		MaxFolders:           configInt32(cfg, "dialog_filters_limit_premium", premiumMaxFolders),
		MaxFolderChats:       configInt32(cfg, "dialog_filters_chats_limit_premium", premiumMaxFolderChats),
		MaxChannels:          configInt32(cfg, "channels_limit_premium", premiumMaxChannels),
	}
	return standard, premium
}

// LimitsFor returns the table matching the caller's tier plus the premium
// table. Quota errors carry one value from each.
func LimitsFor(cfg AppConfiguration, isPremium bool) (current, premium LimitsTable) {
	standard, prem := ResolveLimits(cfg, isPremium)
	if isPremium {
		return prem, prem
	}
	return standard, prem
}

func configInt32(cfg AppConfiguration, key string, def int32) int32 {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int32(n)
	case int:
		return int32(n)
	case int32:
		return n
	case int64:
		return int32(n)
	default:
		return def
	}
}
