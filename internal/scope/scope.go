// Package scope derives autoproxy state keys from a message's
// conversation context.
//
// Keys follow a prefixed format so that different granularities and
// DMs can never alias each other:
//
//	Global:  global
//	Server:  server:{groupId}
//	Channel: channel:{channelId}
//	DM:      dm:{channelId}   (server granularity, message has no group)
//
// Examples:
//
//	server:1027384756102938475
//	channel:1130987654321098765
//	channel:-100123456:topic:99
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Granularity selects how finely autoproxy state is partitioned.
type Granularity string

const (
	Global  Granularity = "global"
	Server  Granularity = "server"
	Channel Granularity = "channel"
)

// ErrUnknownGranularity is returned for any granularity other than
// global, server or channel.
var ErrUnknownGranularity = errors.New("unknown scope granularity")

// ParseGranularity parses a configured granularity. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Global, Server, Channel:
		return g, nil
	default:
		return "", fmt.Errorf("%w: %q (want global, server or channel)", ErrUnknownGranularity, s)
	}
}

// Key identifies one autoproxy state record.
type Key string

// GlobalKey is the single key used under global granularity.
const GlobalKey Key = "global"

// IsGlobal reports whether k is the global sentinel.
func (k Key) IsGlobal() bool { return k == GlobalKey }

func (k Key) String() string { return string(k) }

// Context is the part of an inbound message the resolver needs.
type Context interface {
	// GroupID is the server/guild (conversation group). Empty for DMs.
	GroupID() string
	// ChannelID is the channel or chat the message was posted in.
	ChannelID() string
}

// Conversation is a plain Context value.
type Conversation struct {
	Group   string
	Channel string
}

func (c Conversation) GroupID() string   { return c.Group }
func (c Conversation) ChannelID() string { return c.Channel }

// Resolver maps message contexts to keys for one fixed granularity.
type Resolver struct {
	granularity Granularity
}

// NewResolver returns a Resolver for g. Unknown granularities are
// rejected here so that a bad config fails at startup rather than on
// the first message.
func NewResolver(g Granularity) (*Resolver, error) {
	switch g {
	case Global, Server, Channel:
		return &Resolver{granularity: g}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGranularity, string(g))
	}
}

// Granularity returns the resolver's granularity.
func (r *Resolver) Granularity() Granularity { return r.granularity }

// Resolve returns the state key for ctx.
func (r *Resolver) Resolve(ctx Context) Key {
	switch r.granularity {
	case Server:
		if g := ctx.GroupID(); g != "" {
			return Key("server:" + g)
		}
		return Key("dm:" + ctx.ChannelID())
	case Channel:
		return Key("channel:" + ctx.ChannelID())
	default:
		return GlobalKey
	}
}
