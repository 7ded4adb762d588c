package discord

import (
	"sync"
	"time"

	"modlog/internal/modlog"

	"github.com/patrickmn/go-cache"
)

// guildSnapshot is the previous state of things whose gateway update does
// not carry the old value.
type guildSnapshot struct {
	guild    modlog.Guild
	roles    map[string]modlog.Role
	emojis   []modlog.Asset
	stickers []modlog.Asset
}

// snapshots is seeded from GuildCreate and advanced by every update. Each
// swap returns the value it replaced.
type snapshots struct {
	mu     sync.Mutex
	guilds map[string]*guildSnapshot

	// presences are keyed guild:user and expire so members who go quiet do
	// not pin memory.
	presences *cache.Cache
}

func newSnapshots(presenceTTL time.Duration) *snapshots {
	if presenceTTL <= 0 {
		presenceTTL = time.Hour
	}
	return &snapshots{
		guilds:    map[string]*guildSnapshot{},
		presences: cache.New(presenceTTL, presenceTTL/2),
	}
}

func (s *snapshots) seed(g modlog.Guild, roles []modlog.Role, emojis, stickers []modlog.Asset) {
	snap := &guildSnapshot{guild: g, roles: make(map[string]modlog.Role, len(roles)), emojis: emojis, stickers: stickers}
	for _, r := range roles {
		snap.roles[r.ID] = r
	}
	s.mu.Lock()
	s.guilds[g.ID] = snap
	s.mu.Unlock()
}

func (s *snapshots) forget(guildID string) {
	s.mu.Lock()
	delete(s.guilds, guildID)
	s.mu.Unlock()
}

func (s *snapshots) get(guildID string) *guildSnapshot {
	snap := s.guilds[guildID]
	if snap == nil {
		snap = &guildSnapshot{roles: map[string]modlog.Role{}}
		s.guilds[guildID] = snap
	}
	return snap
}

// swapGuild stores g and returns the previous snapshot, if any.
func (s *snapshots) swapGuild(g modlog.Guild) *modlog.Guild {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.get(g.ID)
	var prev *modlog.Guild
	if snap.guild.ID != "" {
		p := snap.guild
		prev = &p
	}
	snap.guild = g
	return prev
}

func (s *snapshots) swapRole(guildID string, r modlog.Role) *modlog.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.get(guildID)
	var prev *modlog.Role
	if p, ok := snap.roles[r.ID]; ok {
		prev = &p
	}
	snap.roles[r.ID] = r
	return prev
}

// removeRole returns the deleted role, or a stub carrying only the id.
func (s *snapshots) removeRole(guildID, roleID string) modlog.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.get(guildID)
	r, ok := snap.roles[roleID]
	if !ok {
		return modlog.Role{ID: roleID, Name: "unknown"}
	}
	delete(snap.roles, roleID)
	return r
}

// swapEmojis reports whether a previous list was known.
func (s *snapshots) swapEmojis(guildID string, next []modlog.Asset) ([]modlog.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.get(guildID)
	prev, known := snap.emojis, snap.emojis != nil
	snap.emojis = next
	return prev, known
}

func (s *snapshots) swapStickers(guildID string, next []modlog.Asset) ([]modlog.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.get(guildID)
	prev, known := snap.stickers, snap.stickers != nil
	snap.stickers = next
	return prev, known
}

func (s *snapshots) swapPresence(guildID, userID string, p modlog.Presence) *modlog.Presence {
	key := guildID + ":" + userID
	var prev *modlog.Presence
	if v, ok := s.presences.Get(key); ok {
		old := v.(modlog.Presence)
		prev = &old
	}
	s.presences.SetDefault(key, p)
	return prev
}
