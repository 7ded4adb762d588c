package discord

import (
	"testing"
	"time"

	"modlog/internal/modlog"
)

func TestSnapshotsSwapGuildAndRoles(t *testing.T) {
	t.Parallel()
	s := newSnapshots(time.Minute)

	if prev := s.swapGuild(modlog.Guild{ID: "g", Name: "one"}); prev != nil {
		t.Fatalf("first swap returned %+v", prev)
	}
	if prev := s.swapGuild(modlog.Guild{ID: "g", Name: "two"}); prev == nil || prev.Name != "one" {
		t.Fatalf("second swap returned %+v", prev)
	}

	s.seed(modlog.Guild{ID: "h"}, []modlog.Role{{ID: "r1", Name: "mods"}}, nil, nil)
	if prev := s.swapRole("h", modlog.Role{ID: "r1", Name: "admins"}); prev == nil || prev.Name != "mods" {
		t.Fatalf("swapRole = %+v", prev)
	}
	if r := s.removeRole("h", "r1"); r.Name != "admins" {
		t.Fatalf("removeRole = %+v", r)
	}
	if r := s.removeRole("h", "r1"); r.Name != "unknown" || r.ID != "r1" {
		t.Fatalf("removing twice = %+v", r)
	}
}

func TestSnapshotsAssetsKnownAfterSeed(t *testing.T) {
	t.Parallel()
	s := newSnapshots(time.Minute)

	if _, known := s.swapEmojis("g", []modlog.Asset{{ID: "1"}}); known {
		t.Fatal("unseeded guild reported known emojis")
	}
	prev, known := s.swapEmojis("g", nil)
	if !known || len(prev) != 1 {
		t.Fatalf("prev=%v known=%v", prev, known)
	}

	s.seed(modlog.Guild{ID: "h"}, nil, []modlog.Asset{}, []modlog.Asset{})
	if _, known := s.swapStickers("h", []modlog.Asset{{ID: "s"}}); !known {
		t.Fatal("seeded empty sticker list should count as known")
	}

	s.forget("h")
	if _, known := s.swapStickers("h", nil); known {
		t.Fatal("forgotten guild still known")
	}
}

func TestSnapshotsPresence(t *testing.T) {
	t.Parallel()
	s := newSnapshots(0)
	if prev := s.swapPresence("g", "u", modlog.Presence{Status: "online"}); prev != nil {
		t.Fatalf("first presence returned %+v", prev)
	}
	if prev := s.swapPresence("g", "u", modlog.Presence{Status: "idle"}); prev == nil || prev.Status != "online" {
		t.Fatalf("prev = %+v", prev)
	}
	if prev := s.swapPresence("h", "u", modlog.Presence{Status: "dnd"}); prev != nil {
		t.Fatal("presence leaked across guilds")
	}
}
