package dispatch

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/seance/internal/autoproxy"
	"github.com/nextlevelbuilder/seance/internal/bus"
	"github.com/nextlevelbuilder/seance/internal/clock"
	"github.com/nextlevelbuilder/seance/internal/scope"
	"github.com/nextlevelbuilder/seance/internal/telemetry"
	"github.com/nextlevelbuilder/seance/pkg/protocol"
)

type stubIdentities map[string]string

func (s stubIdentities) SelfMention(channel string) string { return s[channel] }

type harness struct {
	bus        *bus.MessageBus
	engine     *autoproxy.Engine
	clock      *clock.FakeClock
	dispatcher *Dispatcher
	seq        int
}

func newHarness(t *testing.T, g scope.Granularity, notifier autoproxy.Notifier) *harness {
	t.Helper()
	peer, err := autoproxy.CompilePeerPattern(`pk;`)
	if err != nil {
		t.Fatalf("CompilePeerPattern: %v", err)
	}
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	e, err := autoproxy.New(autoproxy.Options{
		PeerPattern: peer,
		Scope:       g,
		Timeout:     30 * time.Minute,
		Notifier:    notifier,
		Clock:       clk,
	})
	if err != nil {
		t.Fatalf("autoproxy.New: %v", err)
	}
	b := bus.New()
	return &harness{
		bus:    b,
		engine: e,
		clock:  clk,
		dispatcher: New(Options{
			Engine:        e,
			Router:        b,
			Identities:    stubIdentities{"discord": "<@42>", "telegram": "@seance_bot"},
			CommandPrefix: "!",
			ProxyPrefix:   "+",
			Clock:         clk,
		}),
	}
}

// send handles content as a Discord message in guild g1, channel c1.
func (h *harness) send(t *testing.T, content string) string {
	t.Helper()
	return h.sendTo(t, "discord", "g1", "c1", content)
}

func (h *harness) sendTo(t *testing.T, channel, group, chat, content string) string {
	t.Helper()
	h.seq++
	return h.dispatcher.Handle(context.Background(), bus.InboundMessage{
		Channel:   channel,
		SenderID:  "1",
		ChatID:    chat,
		GroupID:   group,
		MessageID: "m" + strconv.Itoa(h.seq),
		Content:   content,
		TraceID:   "trace",
	})
}

func (h *harness) outbound(t *testing.T) bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := h.bus.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected an outbound message")
	}
	return msg
}

func (h *harness) noOutbound(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if msg, ok := h.bus.SubscribeOutbound(ctx); ok {
		t.Fatalf("unexpected outbound message %+v", msg)
	}
}

func TestLatchFlow(t *testing.T) {
	h := newHarness(t, scope.Server, nil)

	if got := h.send(t, "!ap latch"); got != telemetry.ResultCommand {
		t.Fatalf("result = %q", got)
	}
	reply := h.outbound(t)
	if reply.Action() != bus.ActionReply || !strings.Contains(reply.Content, "latch") {
		t.Fatalf("reply = %+v", reply)
	}

	// not latched yet
	if got := h.send(t, "plain"); got != telemetry.ResultNone {
		t.Fatalf("result = %q", got)
	}
	h.noOutbound(t)

	if got := h.send(t, "+hello there"); got != telemetry.ResultManual {
		t.Fatalf("result = %q", got)
	}
	proxied := h.outbound(t)
	if proxied.Action() != bus.ActionProxy || proxied.Content != "hello there" || proxied.Metadata[bus.MetaReplaceMessageID] == "" {
		t.Fatalf("proxied = %+v", proxied)
	}

	if got := h.send(t, "carried on"); got != telemetry.ResultAutoproxy {
		t.Fatalf("result = %q", got)
	}
	if got := h.outbound(t); got.Content != "carried on" || got.ChatID != "c1" || got.Channel != "discord" {
		t.Fatalf("autoproxied = %+v", got)
	}

	// skip leaves the latch alone
	if got := h.send(t, `\aside`); got != telemetry.ResultNone {
		t.Fatalf("result = %q", got)
	}
	if got := h.send(t, "still me"); got != telemetry.ResultAutoproxy {
		t.Fatalf("result = %q", got)
	}
	h.outbound(t)

	// a peer trigger unlatches
	if got := h.send(t, "pk;switch"); got != telemetry.ResultNone {
		t.Fatalf("result = %q", got)
	}
	if got := h.send(t, "after peer"); got != telemetry.ResultNone {
		t.Fatalf("result = %q", got)
	}
	h.noOutbound(t)
}

func TestSelfMentionCommandAndTimeout(t *testing.T) {
	h := newHarness(t, scope.Channel, nil)

	h.send(t, "!autoproxy <@42>")
	if reply := h.outbound(t); reply.Content != "autoproxy set to on" {
		t.Fatalf("reply = %q", reply.Content)
	}

	h.send(t, "!ap")
	status := h.outbound(t).Content
	if !strings.Contains(status, "autoproxy: on") || !strings.Contains(status, "clears in 30m0s") {
		t.Fatalf("status = %q", status)
	}

	if got := h.send(t, "talking"); got != telemetry.ResultAutoproxy {
		t.Fatalf("result = %q", got)
	}
	h.outbound(t)

	h.clock.Advance(30 * time.Minute)
	if got := h.send(t, "too late"); got != telemetry.ResultNone {
		t.Fatalf("result after timeout = %q", got)
	}
	h.noOutbound(t)
}

func TestOtherMentionTurnsOff(t *testing.T) {
	h := newHarness(t, scope.Channel, nil)
	h.send(t, "!ap <@42>")
	h.outbound(t)
	h.send(t, "!ap <@7>")
	if reply := h.outbound(t); reply.Content != "autoproxy set to off" {
		t.Fatalf("reply = %q", reply.Content)
	}
}

func TestTelegramSelfMention(t *testing.T) {
	h := newHarness(t, scope.Channel, nil)
	h.sendTo(t, "telegram", "", "11", "!ap @seance_bot")
	if reply := h.outbound(t); reply.Content != "autoproxy set to on" || reply.Channel != "telegram" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestStatusReply(t *testing.T) {
	h := newHarness(t, scope.Server, nil)
	h.send(t, "!ap status")
	status := h.outbound(t).Content
	if !strings.Contains(status, "autoproxy: off") || !strings.Contains(status, "global autoproxy: inactive") {
		t.Fatalf("status = %q", status)
	}
	if h.engine.Len() != 0 {
		t.Fatal("status must not create a scope record")
	}
}

func TestCommandNameMatching(t *testing.T) {
	h := newHarness(t, scope.Server, nil)
	if got := h.send(t, "!AP off"); got != telemetry.ResultCommand {
		t.Fatalf("result = %q", got)
	}
	h.outbound(t)
	if got := h.send(t, "!apple"); got != telemetry.ResultNone {
		t.Fatalf("!apple result = %q", got)
	}
	h.noOutbound(t)
}

func TestEmptyManualProxyIgnored(t *testing.T) {
	h := newHarness(t, scope.Server, nil)
	h.send(t, "!ap latch")
	h.outbound(t)
	if got := h.send(t, "+   "); got != telemetry.ResultNone {
		t.Fatalf("result = %q", got)
	}
	if got := h.engine.Mode(scope.Conversation{Group: "discord:g1"}); got != autoproxy.ModeLatchUnlatched {
		t.Fatalf("mode = %v, want unlatched", got)
	}
}

func TestPlatformsDoNotShareScopes(t *testing.T) {
	h := newHarness(t, scope.Channel, nil)
	h.sendTo(t, "discord", "", "1", "!ap <@42>")
	h.outbound(t)
	if got := h.sendTo(t, "telegram", "", "1", "hello"); got != telemetry.ResultNone {
		t.Fatalf("telegram chat 1 should be independent, got %q", got)
	}
	if got := h.sendTo(t, "discord", "", "1", "hello"); got != telemetry.ResultAutoproxy {
		t.Fatalf("discord chat 1 result = %q", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, scope.Server, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.dispatcher.Run(ctx) }()

	h.bus.PublishInbound(bus.InboundMessage{Channel: "discord", ChatID: "c", GroupID: "g", Content: "!ap latch"})
	if reply := h.outbound(t); !strings.Contains(reply.Content, "latch") {
		t.Fatalf("reply = %q", reply.Content)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		content string
		option  string
		ok      bool
	}{
		{"!ap", "", true},
		{"!ap latch", "latch", true},
		{"!autoproxy   <@42>  ", "<@42>", true},
		{"!Autoproxy\toff", "off", true},
		{"!apx", "", false},
		{"ap latch", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		option, ok := parseCommand("!", tt.content)
		if option != tt.option || ok != tt.ok {
			t.Errorf("parseCommand(%q) = %q, %v; want %q, %v", tt.content, option, ok, tt.option, tt.ok)
		}
	}
}

type recordingPresence struct {
	mu     sync.Mutex
	values []bool
}

func (r *recordingPresence) SetPresence(_ context.Context, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, active)
	return nil
}

func (r *recordingPresence) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.values...)
}

func waitPresence(t *testing.T, r *recordingPresence, want []bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		got := r.get()
		if len(got) == len(want) {
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("presence = %v, want %v", got, want)
				}
			}
			return
		}
		if len(got) > len(want) || time.Now().After(deadline) {
			t.Fatalf("presence = %v, want %v", got, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func runSync(t *testing.T, g *GlobalSync) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestGlobalStateReachesPresence(t *testing.T) {
	events := bus.New()
	presence := &recordingPresence{}
	gs := NewGlobalSync(presence, nil)
	events.Subscribe("presence", gs.Handle)
	runSync(t, gs)

	h := newHarness(t, scope.Global, NewBroadcaster(events))

	h.send(t, "!ap <@42>")
	h.outbound(t)
	waitPresence(t, presence, []bool{true})

	// timer restarts notify, but the state did not change
	h.send(t, "one")
	h.outbound(t)
	h.send(t, "two")
	h.outbound(t)
	time.Sleep(10 * time.Millisecond)
	waitPresence(t, presence, []bool{true})

	h.clock.Advance(30 * time.Minute)
	waitPresence(t, presence, []bool{true, false})
}

func TestGlobalSyncIgnoresOtherEvents(t *testing.T) {
	presence := &recordingPresence{}
	g := NewGlobalSync(presence, nil)
	runSync(t, g)
	g.Handle(bus.Event{Name: "something.else", Payload: true})
	g.Handle(bus.Event{Name: protocol.EventAutoproxyGlobal, Payload: "bogus"})
	time.Sleep(10 * time.Millisecond)
	if got := presence.get(); len(got) != 0 {
		t.Fatalf("presence = %v", got)
	}
}

func TestGlobalSyncDropsStaleEvents(t *testing.T) {
	presence := &recordingPresence{}
	g := NewGlobalSync(presence, nil)

	// A fire (seq 3) overtakes the command (seq 2) that preceded it.
	g.Handle(bus.Event{Name: protocol.EventAutoproxyGlobal, Payload: protocol.GlobalAutoproxyPayload{Active: false, Seq: 3}})
	g.Handle(bus.Event{Name: protocol.EventAutoproxyGlobal, Payload: protocol.GlobalAutoproxyPayload{Active: true, Seq: 2}})

	runSync(t, g)
	waitPresence(t, presence, []bool{false})
}

type blockingPresence struct {
	release chan struct{}
	calls   chan bool
}

func (b *blockingPresence) SetPresence(ctx context.Context, active bool) error {
	b.calls <- active
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func TestGlobalSyncHandleDoesNotBlock(t *testing.T) {
	presence := &blockingPresence{release: make(chan struct{}), calls: make(chan bool, 10)}
	g := NewGlobalSync(presence, nil)
	runSync(t, g)

	g.Handle(bus.Event{Name: protocol.EventAutoproxyGlobal, Payload: protocol.GlobalAutoproxyPayload{Active: true, Seq: 1}})
	<-presence.calls // worker is now stuck in SetPresence

	done := make(chan struct{})
	go func() {
		for i := uint64(2); i < 10; i++ {
			g.Handle(bus.Event{Name: protocol.EventAutoproxyGlobal, Payload: protocol.GlobalAutoproxyPayload{Active: i%2 == 0, Seq: i}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle blocked behind a slow presence update")
	}

	close(presence.release)
	// Only the latest state (seq 9, inactive) is pushed next.
	if got := <-presence.calls; got {
		t.Fatalf("next push = %v, want false", got)
	}
}
