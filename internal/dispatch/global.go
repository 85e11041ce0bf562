package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/seance/internal/autoproxy"
	"github.com/nextlevelbuilder/seance/internal/bus"
	"github.com/nextlevelbuilder/seance/internal/telemetry"
	"github.com/nextlevelbuilder/seance/pkg/protocol"
)

// Broadcaster is the engine's Notifier: it broadcasts each global
// change as an EventAutoproxyGlobal event.
type Broadcaster struct {
	pub bus.EventPublisher
}

// NewBroadcaster returns a Broadcaster publishing on pub.
func NewBroadcaster(pub bus.EventPublisher) *Broadcaster {
	return &Broadcaster{pub: pub}
}

// OnGlobalAutoproxyChange implements autoproxy.Notifier.
func (b *Broadcaster) OnGlobalAutoproxyChange(c autoproxy.GlobalChange) {
	b.pub.Broadcast(bus.Event{
		Name:    protocol.EventAutoproxyGlobal,
		Payload: protocol.GlobalAutoproxyPayload{Active: c.Active, Seq: c.Seq},
	})
}

// Publish broadcasts active as the state before any change, e.g. the
// start mode at boot.
func (b *Broadcaster) Publish(active bool) {
	b.OnGlobalAutoproxyChange(autoproxy.GlobalChange{Active: active})
}

// PresenceSetter shows the global state on chat platforms.
// *channels.Manager implements it.
type PresenceSetter interface {
	SetPresence(ctx context.Context, active bool) error
}

// GlobalSync applies EventAutoproxyGlobal events to presence and the
// global gauge. Events older than the newest one seen are dropped.
// Presence is pushed by Run on its own goroutine, always with the
// latest state, so a slow platform never blocks the event publisher;
// repeats of the state already shown (every message in "on" mode
// restarts the clear timer) are skipped.
type GlobalSync struct {
	presence PresenceSetter
	metrics  *telemetry.Metrics
	timeout  time.Duration
	kick     chan struct{}

	mu     sync.Mutex
	seq    uint64
	want   bool
	pushed bool // shown is valid
	shown  bool
}

// NewGlobalSync returns a GlobalSync. Either argument may be nil.
func NewGlobalSync(presence PresenceSetter, metrics *telemetry.Metrics) *GlobalSync {
	return &GlobalSync{
		presence: presence,
		metrics:  metrics,
		timeout:  10 * time.Second,
		kick:     make(chan struct{}, 1),
	}
}

// Handle is a bus.EventHandler. It never blocks.
func (g *GlobalSync) Handle(ev bus.Event) {
	if ev.Name != protocol.EventAutoproxyGlobal {
		return
	}
	payload, ok := ev.Payload.(protocol.GlobalAutoproxyPayload)
	if !ok {
		return
	}

	g.mu.Lock()
	if payload.Seq < g.seq {
		g.mu.Unlock()
		slog.Debug("stale global autoproxy event dropped", "seq", payload.Seq, "latest", g.seq)
		return
	}
	g.seq, g.want = payload.Seq, payload.Active
	g.metrics.SetGlobalActive(payload.Active)
	g.mu.Unlock()

	select {
	case g.kick <- struct{}{}:
	default:
	}
}

// Run pushes the latest global state to presence until ctx is done.
func (g *GlobalSync) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.kick:
			g.push(ctx)
		}
	}
}

func (g *GlobalSync) push(ctx context.Context) {
	g.mu.Lock()
	active := g.want
	repeat := g.pushed && g.shown == active
	g.mu.Unlock()
	if repeat || g.presence == nil {
		return
	}

	pctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.presence.SetPresence(pctx, active); err != nil {
		slog.Warn("failed to update presence", "active", active, "error", err)
		return
	}

	g.mu.Lock()
	g.pushed, g.shown = true, active
	g.mu.Unlock()
}
