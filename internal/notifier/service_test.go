package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"modlog/internal/eventbus"
	"modlog/internal/state"
	"modlog/internal/storage"
	"modlog/internal/transport"
	logx "modlog/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	calls int
	// errs is consumed one per call; nil entries and an exhausted slice mean success.
	errs  []error
	block chan struct{}
	began chan struct{}
}

func (f *fakeSender) SendRecord(ctx context.Context, channelID string, rec transport.Record) error {
	if f.began != nil {
		f.began <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, channelID+":"+rec.Title)
	return nil
}

func (f *fakeSender) snapshot() (sent []string, calls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...), f.calls
}

func fastConfig() Config {
	return Config{
		Workers:       1,
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      3,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func rec(title string) transport.Record {
	return transport.Record{ID: title, Title: title, Body: "body of " + title}
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) DeliveryEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e.Data.(DeliveryEvent)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func stop(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestDeliverSends(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "delivery.")
	defer unsub()

	snd := &fakeSender{}
	s := New(fastConfig(), Options{Sender: snd, Bus: bus, Log: logx.Nop()})
	s.Start(context.Background())
	defer stop(t, s)

	if err := s.Deliver(context.Background(), "g", "c", rec("one")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	ev := waitEvent(t, events, EventSent)
	if ev.GuildID != "g" || ev.ChannelID != "c" || ev.RecordID != "one" || ev.Attempts != 1 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDeliverRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "delivery.")
	defer unsub()

	snd := &fakeSender{errs: []error{errors.New("502"), errors.New("timeout")}}
	s := New(fastConfig(), Options{Sender: snd, Bus: bus, Log: logx.Nop()})
	s.Start(context.Background())
	defer stop(t, s)

	_ = s.Deliver(context.Background(), "g", "c", rec("flaky"))
	ev := waitEvent(t, events, EventSent)
	if ev.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", ev.Attempts)
	}
}

func TestDeliverGivesUpAfterRetryMax(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "delivery.")
	defer unsub()

	boom := errors.New("boom")
	snd := &fakeSender{errs: []error{boom, boom, boom, boom, boom}}
	cfg := fastConfig()
	cfg.RetryMax = 2
	s := New(cfg, Options{Sender: snd, Bus: bus, Log: logx.Nop()})
	s.Start(context.Background())
	defer stop(t, s)

	_ = s.Deliver(context.Background(), "g", "c", rec("doomed"))
	ev := waitEvent(t, events, EventFailed)
	if ev.Attempts != 3 || ev.Error != "boom" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDeliverDedup(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "delivery.")
	defer unsub()

	snd := &fakeSender{}
	cfg := fastConfig()
	cfg.DedupWindow = time.Minute
	s := New(cfg, Options{Sender: snd, Bus: bus, Log: logx.Nop()})
	s.Start(context.Background())

	ctx := context.Background()
	_ = s.Deliver(ctx, "g", "c", rec("same"))
	_ = s.Deliver(ctx, "g", "c", rec("same"))
	_ = s.Deliver(ctx, "g", "other", rec("same"))
	waitEvent(t, events, EventDeduped)
	stop(t, s)

	sent, _ := snd.snapshot()
	if len(sent) != 2 {
		t.Fatalf("sent = %v, want 2 sends", sent)
	}
}

func TestUnreachableEvictsOnceAndPersists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	st, err := state.Load(ctx, backend, state.Options{})
	if err != nil {
		t.Fatalf("state.Load: %v", err)
	}
	if err := st.SetLogChannel(ctx, "g", "gone"); err != nil {
		t.Fatalf("SetLogChannel: %v", err)
	}
	if err := st.SetLogChannel(ctx, "h", "fine"); err != nil {
		t.Fatalf("SetLogChannel: %v", err)
	}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, EventEvicted, EventFailed)
	defer unsub()

	unreachable := []error{transport.ErrDestinationUnreachable, transport.ErrDestinationUnreachable}
	snd := &fakeSender{errs: unreachable}
	s := New(fastConfig(), Options{Sender: snd, Evictor: st, Bus: bus, Log: logx.Nop()})
	s.Start(ctx)

	_ = s.Deliver(ctx, "g", "gone", rec("first"))
	_ = s.Deliver(ctx, "g", "gone", rec("second"))
	stop(t, s)

	if _, calls := snd.snapshot(); calls != 2 {
		t.Fatalf("send calls = %d, want 2 (no retries)", calls)
	}
	evicted := 0
	for len(events) > 0 {
		e := <-events
		if e.Type == EventFailed {
			t.Fatalf("unreachable reported as failure: %+v", e)
		}
		evicted++
	}
	if evicted != 1 {
		t.Fatalf("evicted events = %d, want 1", evicted)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	again, err := state.Load(ctx, reopened, state.Options{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if ch, ok := again.LogChannel("g"); ok {
		t.Fatalf("evicted guild still configured: %q", ch)
	}
	if ch, _ := again.LogChannel("h"); ch != "fine" {
		t.Fatalf("other guild lost its channel: %q", ch)
	}
}

func TestDeliverQueueFull(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{block: make(chan struct{}), began: make(chan struct{}, 4)}
	cfg := fastConfig()
	cfg.QueueSize = 1
	s := New(cfg, Options{Sender: snd, Log: logx.Nop()})
	s.Start(context.Background())

	ctx := context.Background()
	if err := s.Deliver(ctx, "g", "c", rec("a")); err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	<-snd.began // worker holds "a"
	if err := s.Deliver(ctx, "g", "c", rec("b")); err != nil {
		t.Fatalf("second Deliver: %v", err)
	}
	if err := s.Deliver(ctx, "g", "c", rec("c")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Deliver = %v, want ErrQueueFull", err)
	}
	close(snd.block)
	stop(t, s)
}

func TestDeliverAfterStop(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), Options{Sender: &fakeSender{}, Log: logx.Nop()})
	if err := s.Deliver(context.Background(), "g", "c", rec("x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Deliver before Start = %v, want ErrStopped", err)
	}
	s.Start(context.Background())
	stop(t, s)
	if err := s.Deliver(context.Background(), "g", "c", rec("x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Deliver after Stop = %v, want ErrStopped", err)
	}
}

func TestStopDrainsAfterParentCancel(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{block: make(chan struct{})}
	s := New(fastConfig(), Options{Sender: snd, Log: logx.Nop()})
	parent, cancel := context.WithCancel(context.Background())
	s.Start(parent)

	for _, title := range []string{"a", "b", "c", "d", "e"} {
		if err := s.Deliver(context.Background(), "g", "c", rec(title)); err != nil {
			t.Fatalf("Deliver(%s): %v", title, err)
		}
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(snd.block)

	ctx, done := context.WithTimeout(context.Background(), 3*time.Second)
	defer done()
	s.Stop(ctx)

	sent, _ := snd.snapshot()
	want := []string{"c:a", "c:b", "c:c", "c:d", "c:e"}
	if len(sent) != len(want) {
		t.Fatalf("sent = %v, want %v", sent, want)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("sent = %v, want %v", sent, want)
		}
	}
}
