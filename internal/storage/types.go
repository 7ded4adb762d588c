package storage

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by every Store method after Close.
var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file" (default): Path is a directory holding config.json and nicknames.json
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Nicknames is guild id -> user id -> nicknames, most recent first.
type Nicknames map[string]map[string][]string

// Clone returns a deep copy.
func (n Nicknames) Clone() Nicknames {
	out := make(Nicknames, len(n))
	for g, users := range n {
		m := make(map[string][]string, len(users))
		for u, hist := range users {
			m[u] = append([]string(nil), hist...)
		}
		out[g] = m
	}
	return out
}

// Store is the persistence API used by the state package. Saves replace the
// whole persisted content with the given map.
type Store interface {
	LoadLogChannels(ctx context.Context) (map[string]string, error)
	SaveLogChannels(ctx context.Context, channels map[string]string) error
	LoadNicknames(ctx context.Context) (Nicknames, error)
	SaveNicknames(ctx context.Context, nicks Nicknames) error
	Close() error
}
