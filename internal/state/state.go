// Package state holds the bot's durable in-memory state: the log destination
// of every guild and per-member nickname history. Every mutation is written
// through to the configured storage backend before it returns.
package state

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"modlog/internal/storage"
	logx "modlog/pkg/logx"
)

const DefaultMaxNicknames = 20

type Options struct {
	MaxNicknames int
	Log          logx.Logger
}

type Store struct {
	backend storage.Store
	log     logx.Logger

	mu       sync.Mutex
	channels map[string]string
	nicks    storage.Nicknames
	maxNicks int
}

// Load reads both maps from backend.
func Load(ctx context.Context, backend storage.Store, opts Options) (*Store, error) {
	channels, err := backend.LoadLogChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load log channels: %w", err)
	}
	nicks, err := backend.LoadNicknames(ctx)
	if err != nil {
		return nil, fmt.Errorf("load nicknames: %w", err)
	}
	if channels == nil {
		channels = map[string]string{}
	}
	if nicks == nil {
		nicks = storage.Nicknames{}
	}
	s := &Store{
		backend:  backend,
		log:      opts.Log,
		channels: channels,
		nicks:    nicks,
	}
	s.SetMaxNicknames(opts.MaxNicknames)
	s.log.Info("state loaded", logx.Int("guilds", len(channels)), logx.Int("nickname_guilds", len(nicks)))
	return s, nil
}

// SetMaxNicknames changes the retention bound for future inserts.
func (s *Store) SetMaxNicknames(n int) {
	if n <= 0 {
		n = DefaultMaxNicknames
	}
	s.mu.Lock()
	s.maxNicks = n
	s.mu.Unlock()
}

// LogChannel returns the destination channel of guildID, if any.
func (s *Store) LogChannel(guildID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[guildID]
	return ch, ok
}

// SetLogChannel replaces the destination of guildID and persists it. The
// caller is responsible for checking that the channel belongs to the guild.
func (s *Store) SetLogChannel(ctx context.Context, guildID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.channels[guildID]
	s.channels[guildID] = channelID
	if err := s.backend.SaveLogChannels(ctx, s.channels); err != nil {
		if had {
			s.channels[guildID] = prev
		} else {
			delete(s.channels, guildID)
		}
		return fmt.Errorf("save log channels: %w", err)
	}
	return nil
}

// EvictLogChannel forgets the destination of guildID, but only while it still
// points at channelID. Concurrent failures against the same channel evict
// once; a destination replaced in the meantime is left alone.
func (s *Store) EvictLogChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.channels[guildID]
	if !ok || cur != channelID {
		return false, nil
	}
	delete(s.channels, guildID)
	if err := s.backend.SaveLogChannels(ctx, s.channels); err != nil {
		// The in-memory eviction stands; the next successful save or flush
		// catches the backend up.
		return true, fmt.Errorf("save log channels: %w", err)
	}
	return true, nil
}

// RecordNickname pushes nick onto the member's history and returns the
// updated history, most recent first.
func (s *Store) RecordNickname(ctx context.Context, guildID, userID, nick string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.nicks[guildID]
	if users == nil {
		users = map[string][]string{}
		s.nicks[guildID] = users
	}
	hist := PushNickname(users[userID], nick, s.maxNicks)
	users[userID] = hist
	out := append([]string(nil), hist...)
	if err := s.backend.SaveNicknames(ctx, s.nicks); err != nil {
		return out, fmt.Errorf("save nicknames: %w", err)
	}
	return out, nil
}

// Nicknames returns a copy of the member's history, most recent first.
func (s *Store) Nicknames(guildID, userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.nicks[guildID][userID]...)
}

// Flush rewrites both maps to the backend.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.SaveLogChannels(ctx, s.channels); err != nil {
		return fmt.Errorf("save log channels: %w", err)
	}
	if err := s.backend.SaveNicknames(ctx, s.nicks); err != nil {
		return fmt.Errorf("save nicknames: %w", err)
	}
	return nil
}

// PushNickname prepends nick unless it is empty or already present, then
// bounds the result to max entries. hist is not modified.
func PushNickname(hist []string, nick string, max int) []string {
	nick = strings.TrimSpace(nick)
	if max <= 0 {
		max = DefaultMaxNicknames
	}
	out := append([]string(nil), hist...)
	if nick != "" && !slices.Contains(out, nick) {
		out = append([]string{nick}, out...)
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}
