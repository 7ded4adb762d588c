package state

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"modlog/internal/storage"
	logx "modlog/pkg/logx"
)

func openFileBackend(t *testing.T, dir string) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// countingBackend counts channel saves and can be told to fail.
type countingBackend struct {
	storage.Store
	saves atomic.Int32
	fail  atomic.Bool
}

func (c *countingBackend) SaveLogChannels(ctx context.Context, m map[string]string) error {
	c.saves.Add(1)
	if c.fail.Load() {
		return errors.New("disk full")
	}
	return c.Store.SaveLogChannels(ctx, m)
}

func TestPushNickname(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		hist []string
		nick string
		max  int
		want []string
	}{
		{name: "empty history", hist: nil, nick: "a", max: 20, want: []string{"a"}},
		{name: "prepend", hist: []string{"b"}, nick: "a", max: 20, want: []string{"a", "b"}},
		{name: "already present", hist: []string{"b", "a"}, nick: "a", max: 20, want: []string{"b", "a"}},
		{name: "blank ignored", hist: []string{"b"}, nick: "   ", max: 20, want: []string{"b"}},
		{name: "truncate", hist: []string{"b", "c", "d"}, nick: "a", max: 3, want: []string{"a", "b", "c"}},
		{name: "default bound", hist: nil, nick: "x", max: 0, want: []string{"x"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := PushNickname(tt.hist, tt.nick, tt.max)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("PushNickname = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPushNicknameBoundedAndUnique(t *testing.T) {
	t.Parallel()
	var hist []string
	for i := 0; i < 50; i++ {
		hist = PushNickname(hist, fmt.Sprintf("n%d", i%30), 20)
	}
	if len(hist) != 20 {
		t.Fatalf("len = %d, want 20", len(hist))
	}
	seen := map[string]bool{}
	for _, n := range hist {
		if seen[n] {
			t.Fatalf("duplicate %q in %v", n, hist)
		}
		seen[n] = true
	}
}

func TestSetLogChannelPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Load(ctx, openFileBackend(t, dir), Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.SetLogChannel(ctx, "g1", "c1"); err != nil {
		t.Fatalf("SetLogChannel: %v", err)
	}
	if _, err := s.RecordNickname(ctx, "g1", "u1", "alpha"); err != nil {
		t.Fatalf("RecordNickname: %v", err)
	}

	reloaded, err := Load(ctx, openFileBackend(t, dir), Options{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if ch, ok := reloaded.LogChannel("g1"); !ok || ch != "c1" {
		t.Fatalf("LogChannel = %q,%v", ch, ok)
	}
	if got := reloaded.Nicknames("g1", "u1"); !reflect.DeepEqual(got, []string{"alpha"}) {
		t.Fatalf("Nicknames = %v", got)
	}
}

func TestSetLogChannelRollsBackOnSaveError(t *testing.T) {
	ctx := context.Background()
	be := &countingBackend{Store: openFileBackend(t, t.TempDir())}
	s, err := Load(ctx, be, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.SetLogChannel(ctx, "g", "old"); err != nil {
		t.Fatalf("SetLogChannel: %v", err)
	}
	be.fail.Store(true)
	if err := s.SetLogChannel(ctx, "g", "new"); err == nil {
		t.Fatal("expected save error")
	}
	if ch, _ := s.LogChannel("g"); ch != "old" {
		t.Fatalf("LogChannel = %q, want old", ch)
	}
}

func TestEvictLogChannelOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	be := &countingBackend{Store: openFileBackend(t, dir)}
	s, err := Load(ctx, be, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.SetLogChannel(ctx, "g", "c"); err != nil {
		t.Fatalf("SetLogChannel: %v", err)
	}
	before := be.saves.Load()

	var (
		wg      sync.WaitGroup
		evicted atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.EvictLogChannel(ctx, "g", "c")
			if err != nil {
				t.Errorf("EvictLogChannel: %v", err)
			}
			if ok {
				evicted.Add(1)
			}
		}()
	}
	wg.Wait()

	if evicted.Load() != 1 {
		t.Fatalf("evicted %d times, want 1", evicted.Load())
	}
	if got := be.saves.Load() - before; got != 1 {
		t.Fatalf("saves after eviction = %d, want 1", got)
	}
	if _, ok := s.LogChannel("g"); ok {
		t.Fatal("destination still present")
	}

	reloaded, err := Load(ctx, openFileBackend(t, dir), Options{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reloaded.LogChannel("g"); ok {
		t.Fatal("eviction not persisted")
	}
}

func TestEvictLogChannelKeepsReplacement(t *testing.T) {
	ctx := context.Background()
	s, err := Load(ctx, openFileBackend(t, t.TempDir()), Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_ = s.SetLogChannel(ctx, "g", "new")
	ok, err := s.EvictLogChannel(ctx, "g", "old")
	if err != nil || ok {
		t.Fatalf("EvictLogChannel = %v,%v; want false,nil", ok, err)
	}
	if ch, _ := s.LogChannel("g"); ch != "new" {
		t.Fatalf("LogChannel = %q", ch)
	}
}

func TestRecordNicknameRespectsBound(t *testing.T) {
	ctx := context.Background()
	s, err := Load(ctx, openFileBackend(t, t.TempDir()), Options{MaxNicknames: 3})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var hist []string
	for _, n := range []string{"a", "b", "c", "d", "c"} {
		hist, err = s.RecordNickname(ctx, "g", "u", n)
		if err != nil {
			t.Fatalf("RecordNickname: %v", err)
		}
	}
	if !reflect.DeepEqual(hist, []string{"d", "c", "b"}) {
		t.Fatalf("history = %v", hist)
	}
	hist[0] = "mutated"
	if got := s.Nicknames("g", "u"); got[0] != "d" {
		t.Fatal("RecordNickname returned internal slice")
	}
}
