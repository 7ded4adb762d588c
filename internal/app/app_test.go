package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"modlog/internal/audit"
	"modlog/internal/commands"
	"modlog/internal/config"
	"modlog/internal/invites"
	"modlog/internal/notifier"
	"modlog/internal/transport"
	logx "modlog/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     *config.Config
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "absent", cfg: &config.Config{}, driver: "file"},
		{name: "file", cfg: &config.Config{Storage: &config.StorageConfig{Driver: "FILE", Path: "/tmp/x"}}, driver: "file"},
		{name: "sqlite default busy", cfg: &config.Config{Storage: &config.StorageConfig{Driver: "sqlite3", Path: "modlog.db"}}, driver: "sqlite", busy: time.Second},
		{name: "sqlite busy", cfg: &config.Config{Storage: &config.StorageConfig{Driver: "sqlite", Path: "modlog.db", BusyTimeout: "3s"}}, driver: "sqlite", busy: 3 * time.Second},
		{name: "sqlite without path", cfg: &config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}}, wantErr: true},
		{name: "unknown", cfg: &config.Config{Storage: &config.StorageConfig{Driver: "redis"}}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapStorageConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr {
				return
			}
			if got.Driver != tt.driver || got.BusyTimeout != tt.busy {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestMapDeliveryConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Delivery: config.DeliveryConfig{Workers: 4, RetryBase: "250ms", DedupWindow: "1m"}}
	got, err := mapDeliveryConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := notifier.Config{Workers: 4, RetryMax: defaultRetryMax, RetryBase: 250 * time.Millisecond, DedupWindow: time.Minute}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	cfg.Delivery.RetryMaxDelay = "soon"
	if _, err := mapDeliveryConfig(cfg); err == nil {
		t.Fatal("invalid duration accepted")
	}
}

type fakeInvites struct {
	failFor string
	primed  []string
}

func (f *fakeInvites) CanManageInvites(string) bool { return true }

func (f *fakeInvites) GuildInvites(_ context.Context, guildID string) ([]transport.Invite, error) {
	if guildID == f.failFor {
		return nil, errors.New("503")
	}
	f.primed = append(f.primed, guildID)
	return []transport.Invite{{Code: "a", Uses: 1}}, nil
}

func TestResyncInvitesContinuesPastFailures(t *testing.T) {
	t.Parallel()
	src := &fakeInvites{failFor: "g2"}
	tr := invites.NewTracker(src, logx.Nop(), nil)

	err := resyncInvites(context.Background(), []string{"g1", "g2", "g3"}, tr)
	if err == nil {
		t.Fatal("expected the g2 failure")
	}
	if len(src.primed) != 2 || !tr.Tracked("g1") || !tr.Tracked("g3") || tr.Tracked("g2") {
		t.Fatalf("primed=%v", src.primed)
	}
}

type noPlatform struct{ commands.Platform }

func TestApplyConfigFansOut(t *testing.T) {
	t.Parallel()
	resolver := audit.NewResolver(nil, audit.Policy{}, logx.Nop(), nil)
	router := commands.NewRouter(commands.Options{Platform: noPlatform{}, Log: logx.Nop()})
	a := &App{
		log:      logx.Nop(),
		resolver: resolver,
		router:   router,
		notif:    notifier.New(notifier.Config{}, notifier.Options{Log: logx.Nop()}),
	}

	oldCfg := &config.Config{}
	newCfg := &config.Config{
		Discord: config.DiscordConfig{Prefix: "?"},
		Audit:   config.AuditConfig{Window: "8s", Limit: 10},
		Storage: &config.StorageConfig{Driver: "sqlite", Path: "x.db"},
	}
	a.applyConfig(oldCfg, newCfg)

	if got := router.Prefix(); got != "?" {
		t.Fatalf("prefix = %q", got)
	}
	if p := resolver.Policy(); p.Window != 8*time.Second || p.Limit != 10 {
		t.Fatalf("policy = %+v", p)
	}

	// An unchanged config leaves everything alone.
	router.SetPrefix("!")
	a.applyConfig(newCfg, newCfg)
	if got := router.Prefix(); got != "!" {
		t.Fatalf("prefix changed on a no-op reload: %q", got)
	}
}
