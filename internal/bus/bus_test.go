package bus

import (
	"context"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishInbound(InboundMessage{Channel: "discord", ChatID: "c1", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("ConsumeInbound returned !ok")
	}
	if msg.Content != "hi" || msg.ChatID != "c1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestConsumeInboundCancelled(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Fatal("ConsumeInbound on cancelled context returned ok")
	}
	if _, ok := b.SubscribeOutbound(ctx); ok {
		t.Fatal("SubscribeOutbound on cancelled context returned ok")
	}
}

func TestOutboundAction(t *testing.T) {
	b := New()
	b.PublishOutbound(OutboundMessage{Channel: "discord", Content: "x", Metadata: map[string]string{MetaAction: ActionProxy}})
	b.PublishOutbound(OutboundMessage{Channel: "discord", Content: "y"})

	ctx := context.Background()
	first, _ := b.SubscribeOutbound(ctx)
	second, _ := b.SubscribeOutbound(ctx)
	if first.Action() != ActionProxy {
		t.Fatalf("first action = %q, want proxy", first.Action())
	}
	if second.Action() != ActionReply {
		t.Fatalf("default action = %q, want reply", second.Action())
	}
}

func TestBroadcast(t *testing.T) {
	b := New()
	var order []string
	b.Subscribe("b", func(e Event) { order = append(order, "b:"+e.Name) })
	b.Subscribe("a", func(e Event) { order = append(order, "a:"+e.Name) })

	b.Broadcast(Event{Name: "x"})
	if len(order) != 2 || order[0] != "a:x" || order[1] != "b:x" {
		t.Fatalf("order = %v", order)
	}

	b.Unsubscribe("a")
	order = nil
	b.Broadcast(Event{Name: "y"})
	if len(order) != 1 || order[0] != "b:y" {
		t.Fatalf("after unsubscribe order = %v", order)
	}
}

func TestBroadcastHandlerMaySubscribe(t *testing.T) {
	b := New()
	b.Subscribe("self", func(Event) {
		b.Subscribe("late", func(Event) {})
	})
	done := make(chan struct{})
	go func() {
		b.Broadcast(Event{Name: "x"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast deadlocked when a handler subscribed")
	}
}
