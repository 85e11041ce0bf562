package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/seance/internal/bus"
	"github.com/nextlevelbuilder/seance/internal/channels"
	"github.com/nextlevelbuilder/seance/internal/config"
)

const (
	// maxMessageLen is Discord's per-message content limit.
	maxMessageLen = 2000
	// maxAttachmentBytes is the upload limit for bots without boosts.
	maxAttachmentBytes = 25 << 20
	attachmentTimeout  = 30 * time.Second
)

// api is the subset of *discordgo.Session used after connecting.
type api interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
}

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session    *discordgo.Session
	api        api
	httpClient *http.Client
	config     config.DiscordConfig
	presence   bool

	mu        sync.RWMutex
	botUserID string // populated on start
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, router bus.MessageRouter) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Request necessary intents
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", router, cfg.AllowFrom),
		session:     session,
		api:         session,
		httpClient:  &http.Client{Timeout: attachmentTimeout},
		config:      cfg,
		presence:    cfg.PresenceEnabled(),
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	// Fetch bot identity
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.mu.Lock()
	c.botUserID = user.ID
	c.mu.Unlock()

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)

	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// SelfMention returns "<@botID>", or "" before the bot has connected.
func (c *Channel) SelfMention() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.botUserID == "" {
		return ""
	}
	return "<@" + c.botUserID + ">"
}

// SetPresence shows the bot online while global autoproxy is active
// and idle otherwise. No-op when presence is disabled in config.
func (c *Channel) SetPresence(_ context.Context, active bool) error {
	if !c.presence {
		return nil
	}
	status := string(discordgo.StatusIdle)
	if active {
		status = string(discordgo.StatusOnline)
	}
	if err := c.api.UpdateStatusComplex(discordgo.UpdateStatusData{Status: status}); err != nil {
		return fmt.Errorf("update discord presence: %w", err)
	}
	slog.Debug("discord presence updated", "status", status)
	return nil
}

// Send delivers an outbound message to a Discord channel. Attachments
// are downloaded and re-uploaded with the last chunk, since their CDN
// URLs stop working once the original message is deleted. A proxy
// action then deletes the original message.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}
	if msg.Content == "" && len(msg.Media) == 0 {
		return nil
	}

	files, err := c.fetchAttachments(ctx, msg.Media)
	if err != nil {
		return err
	}
	if err := c.sendChunked(channelID, msg.Content, files); err != nil {
		return err
	}

	if msg.Action() != bus.ActionProxy {
		return nil
	}
	original := msg.Metadata[bus.MetaReplaceMessageID]
	if original == "" {
		return nil
	}
	if err := c.api.ChannelMessageDelete(channelID, original); err != nil {
		return fmt.Errorf("delete proxied discord message: %w", err)
	}
	return nil
}

// sendChunked sends a message, splitting into multiple messages if over
// 2000 chars. Files ride on the last message.
func (c *Channel) sendChunked(channelID, content string, files []*discordgo.File) error {
	chunks := channels.SplitMessage(content, maxMessageLen)
	if len(files) == 0 {
		for _, chunk := range chunks {
			if _, err := c.api.ChannelMessageSend(channelID, chunk); err != nil {
				return fmt.Errorf("send discord message: %w", err)
			}
		}
		return nil
	}

	last := ""
	if n := len(chunks); n > 0 {
		last = chunks[n-1]
		chunks = chunks[:n-1]
	}
	for _, chunk := range chunks {
		if _, err := c.api.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	if _, err := c.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: last, Files: files}); err != nil {
		return fmt.Errorf("send discord attachments: %w", err)
	}
	return nil
}

// fetchAttachments downloads attachment URLs into memory for re-upload.
func (c *Channel) fetchAttachments(ctx context.Context, urls []string) ([]*discordgo.File, error) {
	files := make([]*discordgo.File, 0, len(urls))
	for _, u := range urls {
		f, err := c.fetchAttachment(ctx, u)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (c *Channel) fetchAttachment(ctx context.Context, rawURL string) (*discordgo.File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("attachment request %q: %w", rawURL, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment %q: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment %q exceeds %d bytes", rawURL, maxAttachmentBytes)
	}
	return &discordgo.File{
		Name:        attachmentName(rawURL),
		ContentType: resp.Header.Get("Content-Type"),
		Reader:      bytes.NewReader(data),
	}, nil
}

// attachmentName is the last path element of the URL, ignoring the query.
func attachmentName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" {
			return name
		}
	}
	return "attachment"
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	c.mu.RLock()
	botUserID := c.botUserID
	c.mu.RUnlock()

	// Ignore bot's own messages
	if m.Author == nil || m.Author.ID == botUserID {
		return
	}

	// Ignore bot messages
	if m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	senderName := resolveDisplayName(m)

	if !c.IsAllowed(senderID) {
		slog.Debug("discord message rejected by allowlist",
			"user_id", senderID,
			"username", senderName,
		)
		return
	}

	var media []string
	for _, att := range m.Attachments {
		media = append(media, att.URL)
	}

	slog.Debug("discord message received",
		"sender_id", senderID,
		"channel_id", m.ChannelID,
		"guild_id", m.GuildID,
		"preview", channels.Truncate(m.Content, 50),
	)

	c.HandleMessage(bus.InboundMessage{
		SenderID:  senderID,
		ChatID:    m.ChannelID,
		GroupID:   m.GuildID,
		MessageID: m.ID,
		Content:   m.Content,
		Media:     media,
		Metadata: map[string]string{
			"username":     m.Author.Username,
			"display_name": senderName,
		},
	})
}

// resolveDisplayName returns the best available display name for a Discord message author.
// Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
