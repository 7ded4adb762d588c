package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	logx "modlog/pkg/logx"
)

const (
	logChannelsFile = "config.json"
	nicknamesFile   = "nicknames.json"
)

// fileStore keeps each map in its own JSON document:
//   - <dir>/config.json    guild id -> log channel id
//   - <dir>/nicknames.json guild id -> user id -> nicknames
//
// Writes go to a temp file that is renamed over the target, so a crash never
// leaves a half-written document behind.
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	log.Debug("file store opened", logx.String("dir", dir))
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) LoadLogChannels(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	if err := s.load(ctx, logChannelsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) SaveLogChannels(ctx context.Context, channels map[string]string) error {
	if channels == nil {
		channels = map[string]string{}
	}
	return s.save(ctx, logChannelsFile, channels)
}

func (s *fileStore) LoadNicknames(ctx context.Context) (Nicknames, error) {
	out := Nicknames{}
	if err := s.load(ctx, nicknamesFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) SaveNicknames(ctx context.Context, nicks Nicknames) error {
	if nicks == nil {
		nicks = Nicknames{}
	}
	return s.save(ctx, nicknamesFile, nicks)
}

// load decodes name into v. A missing or empty file leaves v untouched.
func (s *fileStore) load(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *fileStore) save(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// encoding/json sorts map keys, which keeps the output byte-stable.
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
