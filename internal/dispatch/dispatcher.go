// Package dispatch drives the autoproxy engine from inbound chat
// messages: it recognises autoproxy commands and manual proxies, asks
// the engine about everything else, and publishes the resulting
// proxy actions and replies back onto the bus.
package dispatch

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/seance/internal/autoproxy"
	"github.com/nextlevelbuilder/seance/internal/bus"
	"github.com/nextlevelbuilder/seance/internal/clock"
	"github.com/nextlevelbuilder/seance/internal/scope"
	"github.com/nextlevelbuilder/seance/internal/telemetry"
)

// Identities looks up the bot's mention token per channel.
// *channels.Manager implements it.
type Identities interface {
	SelfMention(channel string) string
}

// Options configures a Dispatcher.
type Options struct {
	Engine        *autoproxy.Engine
	Router        bus.MessageRouter
	Identities    Identities
	CommandPrefix string
	ProxyPrefix   string
	Metrics       *telemetry.Metrics // optional
	Clock         clock.Clock        // defaults to clock.Real()
}

// Dispatcher is the single consumer of inbound messages.
type Dispatcher struct {
	engine        *autoproxy.Engine
	router        bus.MessageRouter
	identities    Identities
	commandPrefix string
	proxyPrefix   string
	metrics       *telemetry.Metrics
	clock         clock.Clock
}

// New returns a Dispatcher for opts.
func New(opts Options) *Dispatcher {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Dispatcher{
		engine:        opts.Engine,
		router:        opts.Router,
		identities:    opts.Identities,
		commandPrefix: opts.CommandPrefix,
		proxyPrefix:   opts.ProxyPrefix,
		metrics:       opts.Metrics,
		clock:         clk,
	}
}

// Run consumes inbound messages until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher started", "scope", d.engine.Granularity())
	for {
		msg, ok := d.router.ConsumeInbound(ctx)
		if !ok {
			slog.Info("dispatcher stopped")
			return nil
		}
		d.Handle(ctx, msg)
	}
}

// Handle processes one inbound message and returns the decision result
// (one of the telemetry.Result* values).
func (d *Dispatcher) Handle(ctx context.Context, msg bus.InboundMessage) string {
	ctx = telemetry.WithCorrelation(ctx, msg.TraceID)
	ctx, span := telemetry.StartSpan(ctx, "seance.message",
		attribute.String("channel", msg.Channel),
		attribute.String("chat_id", msg.ChatID),
	)
	defer span.End()

	var result string
	telemetry.TimeFunc(d.metrics.HandleObserver(), func() {
		result = d.handle(ctx, msg)
	})

	span.SetAttributes(attribute.String("result", result))
	telemetry.SetSpanSuccess(span)
	d.metrics.RecordDecision(result)
	d.metrics.SetScopes(d.engine.Len())
	return result
}

func (d *Dispatcher) handle(ctx context.Context, msg bus.InboundMessage) string {
	log := telemetry.LoggerWithCorr(ctx)
	conv := conversation(msg)

	if option, ok := parseCommand(d.commandPrefix, msg.Content); ok {
		d.handleCommand(ctx, msg, conv, option)
		return telemetry.ResultCommand
	}

	if text, ok := parseManualProxy(d.proxyPrefix, msg.Content); ok {
		if text == "" && len(msg.Media) == 0 {
			return telemetry.ResultNone
		}
		d.publishProxy(msg, text)
		d.engine.OnManualProxy(conv)
		log.Debug("manual proxy", "scope", d.engine.Key(conv))
		return telemetry.ResultManual
	}

	if d.engine.ShouldAutoproxy(conv, msg.Content) {
		d.publishProxy(msg, msg.Content)
		log.Debug("autoproxy", "scope", d.engine.Key(conv))
		return telemetry.ResultAutoproxy
	}
	return telemetry.ResultNone
}

func (d *Dispatcher) handleCommand(ctx context.Context, msg bus.InboundMessage, conv scope.Conversation, option string) {
	log := telemetry.LoggerWithCorr(ctx)

	if isStatusOption(option) {
		d.metrics.RecordCommand("status")
		d.publishReply(msg, statusReply(d.engine.Status(conv), d.engine.GlobalState(), d.clock.Now()))
		return
	}

	mode := d.engine.HandleCommand(conv, channelIdentity{d.identities, msg.Channel}, option)
	d.metrics.RecordCommand(mode.String())
	log.Info("autoproxy command", "scope", d.engine.Key(conv), "option", option, "mode", mode)
	d.publishReply(msg, commandReply(mode))
}

func (d *Dispatcher) publishProxy(msg bus.InboundMessage, content string) {
	d.router.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Media:   msg.Media,
		Metadata: map[string]string{
			bus.MetaAction:           bus.ActionProxy,
			bus.MetaReplaceMessageID: msg.MessageID,
			bus.MetaTraceID:          msg.TraceID,
		},
	})
}

func (d *Dispatcher) publishReply(msg bus.InboundMessage, content string) {
	d.router.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Metadata: map[string]string{
			bus.MetaAction:  bus.ActionReply,
			bus.MetaTraceID: msg.TraceID,
		},
	})
}

// conversation maps a message onto the scope context. Ids are prefixed
// with the platform name so Discord and Telegram ids never share a scope.
func conversation(msg bus.InboundMessage) scope.Conversation {
	conv := scope.Conversation{Channel: msg.Channel + ":" + msg.ChatID}
	if msg.GroupID != "" {
		conv.Group = msg.Channel + ":" + msg.GroupID
	}
	return conv
}

// channelIdentity resolves the bot mention of one channel lazily.
type channelIdentity struct {
	ids     Identities
	channel string
}

func (c channelIdentity) SelfMention() string {
	if c.ids == nil {
		return ""
	}
	return c.ids.SelfMention(c.channel)
}
