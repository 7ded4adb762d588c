package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	logx "modlog/pkg/logx"
)

func openDrivers(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"file": func() Store {
			dir := t.TempDir()
			return reopenable(t, Config{Driver: "file", Path: dir})
		},
		"sqlite": func() Store {
			dir := t.TempDir()
			return reopenable(t, Config{Driver: "sqlite", Path: filepath.Join(dir, "modlog.db")})
		},
	}
}

func reopenable(t *testing.T, cfg Config) Store {
	t.Helper()
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", cfg.Driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, open := range openDrivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			st := open()

			chans, err := st.LoadLogChannels(ctx)
			if err != nil {
				t.Fatalf("LoadLogChannels empty: %v", err)
			}
			if len(chans) != 0 {
				t.Fatalf("expected empty channels, got %v", chans)
			}

			wantChans := map[string]string{"g1": "c1", "g2": "c2"}
			if err := st.SaveLogChannels(ctx, wantChans); err != nil {
				t.Fatalf("SaveLogChannels: %v", err)
			}
			wantNicks := Nicknames{"g1": {"u1": {"newest", "older", "oldest"}}}
			if err := st.SaveNicknames(ctx, wantNicks); err != nil {
				t.Fatalf("SaveNicknames: %v", err)
			}

			gotChans, err := st.LoadLogChannels(ctx)
			if err != nil {
				t.Fatalf("LoadLogChannels: %v", err)
			}
			if !reflect.DeepEqual(gotChans, wantChans) {
				t.Fatalf("channels = %v, want %v", gotChans, wantChans)
			}
			gotNicks, err := st.LoadNicknames(ctx)
			if err != nil {
				t.Fatalf("LoadNicknames: %v", err)
			}
			if !reflect.DeepEqual(gotNicks, wantNicks) {
				t.Fatalf("nicknames = %v, want %v", gotNicks, wantNicks)
			}

			// Save replaces, it does not merge.
			if err := st.SaveLogChannels(ctx, map[string]string{"g2": "c9"}); err != nil {
				t.Fatalf("SaveLogChannels replace: %v", err)
			}
			gotChans, _ = st.LoadLogChannels(ctx)
			if !reflect.DeepEqual(gotChans, map[string]string{"g2": "c9"}) {
				t.Fatalf("after replace channels = %v", gotChans)
			}
		})
	}
}

func TestFileStoreSaveIsByteStable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st := reopenable(t, Config{Driver: "file", Path: dir})

	in := map[string]string{"b": "2", "a": "1", "c": "3"}
	if err := st.SaveLogChannels(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(dir, logChannelsFile))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	loaded, err := st.LoadLogChannels(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := st.SaveLogChannels(ctx, loaded); err != nil {
		t.Fatalf("save again: %v", err)
	}
	second, _ := os.ReadFile(filepath.Join(dir, logChannelsFile))
	if string(first) != string(second) {
		t.Fatalf("load->save changed bytes:\n%s\nvs\n%s", first, second)
	}
	want := "{\n  \"a\": \"1\",\n  \"b\": \"2\",\n  \"c\": \"3\"\n}\n"
	if string(first) != want {
		t.Fatalf("file content = %q, want %q", first, want)
	}
}

func TestFileStoreReadsExistingDocuments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, nicknamesFile), []byte(`{"g":{"u":["a","b"]}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	st := reopenable(t, Config{Driver: "file", Path: dir})
	got, err := st.LoadNicknames(ctx)
	if err != nil {
		t.Fatalf("LoadNicknames: %v", err)
	}
	if h := got["g"]["u"]; len(h) != 2 || h[0] != "a" {
		t.Fatalf("history = %v", h)
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, logChannelsFile), []byte(`{not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	st := reopenable(t, Config{Driver: "file", Path: dir})
	if _, err := st.LoadLogChannels(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestClosedStore(t *testing.T) {
	for name, open := range openDrivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			st := open()
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if err := st.SaveLogChannels(context.Background(), map[string]string{"g": "c"}); !errors.Is(err, ErrClosed) {
				t.Fatalf("err = %v, want ErrClosed", err)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis", Path: t.TempDir()}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNicknamesClone(t *testing.T) {
	orig := Nicknames{"g": {"u": {"a"}}}
	c := orig.Clone()
	c["g"]["u"][0] = "changed"
	if orig["g"]["u"][0] != "a" {
		t.Fatal("Clone shares backing arrays")
	}
}
