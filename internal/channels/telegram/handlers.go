package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/seance/internal/bus"
	"github.com/nextlevelbuilder/seance/internal/channels"
)

// maxMessageLen is Telegram's per-message text limit.
const maxMessageLen = 4096

// handleMessage turns a Telegram message into an inbound bus message.
// Groups and supergroups are the scope group; forum topics get their
// own chat key so each topic is a separate conversation.
func (c *Channel) handleMessage(message *telego.Message) {
	user := message.From
	if user == nil || user.IsBot {
		return
	}

	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}
	media := messageMedia(message)
	if message.Caption != "" && len(media) == 0 {
		// A caption on an attachment that cannot be re-sent by file id;
		// proxying would delete the attachment.
		slog.Debug("telegram message skipped (unsupported media)", "chat_id", message.Chat.ID)
		return
	}
	if content == "" && len(media) == 0 {
		// Service messages, stickers and the like carry nothing to proxy.
		return
	}

	userID := strconv.FormatInt(user.ID, 10)
	senderID := userID
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, user.Username)
	}

	isGroup := message.Chat.Type == telego.ChatTypeGroup || message.Chat.Type == telego.ChatTypeSupergroup
	chatIDStr := strconv.FormatInt(message.Chat.ID, 10)

	// Non-forum groups use message_thread_id for reply context only.
	chatKey := chatIDStr
	if isGroup && message.Chat.IsForum {
		threadID := message.MessageThreadID
		if threadID == 0 {
			threadID = telegramGeneralTopicID
		}
		chatKey = fmt.Sprintf("%s:topic:%d", chatIDStr, threadID)
	}

	groupID := ""
	if isGroup {
		groupID = chatIDStr
	}

	slog.Debug("telegram message received",
		"chat_type", message.Chat.Type,
		"chat_id", message.Chat.ID,
		"user_id", user.ID,
		"username", user.Username,
		"text_preview", channels.Truncate(content, 60),
		"media", len(media),
	)

	c.HandleMessage(bus.InboundMessage{
		SenderID:  senderID,
		ChatID:    chatKey,
		GroupID:   groupID,
		MessageID: strconv.Itoa(message.MessageID),
		Content:   content,
		Media:     media,
		Metadata: map[string]string{
			"username":   user.Username,
			"first_name": user.FirstName,
		},
	})
}

// Send delivers an outbound message. Telegram file references in Media
// are re-sent by file id, captioned with the content when it fits; other
// media entries are appended to the text. A proxy action then deletes
// the original message.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	chatID, topic, err := parseRawChatID(msg.ChatID)
	if err != nil {
		return err
	}

	var files []mediaRef
	var links []string
	for _, m := range msg.Media {
		if ref, ok := parseMediaRef(m); ok {
			files = append(files, ref)
		} else {
			links = append(links, m)
		}
	}

	content := msg.Content
	if len(links) > 0 {
		content = strings.TrimSpace(content + "\n" + strings.Join(links, "\n"))
	}
	if content == "" && len(files) == 0 {
		return nil
	}

	threadID := resolveThreadIDForSend(topic)
	caption := ""
	if len(files) > 0 && channels.UTF16Len(content) <= maxCaptionLen {
		caption, content = content, ""
	}
	for _, chunk := range channels.SplitMessageUTF16(content, maxMessageLen) {
		params := tu.Message(tu.ID(chatID), chunk)
		if threadID > 0 {
			params.MessageThreadID = threadID
		}
		if _, err := c.api.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	for i, ref := range files {
		text := ""
		if i == 0 {
			text = caption
		}
		if err := c.sendMedia(ctx, chatID, threadID, ref, text); err != nil {
			return err
		}
	}

	if msg.Action() != bus.ActionProxy {
		return nil
	}
	original := msg.Metadata[bus.MetaReplaceMessageID]
	if original == "" {
		return nil
	}
	messageID, err := strconv.Atoi(original)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", original, err)
	}
	if err := c.api.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: tu.ID(chatID), MessageID: messageID}); err != nil {
		return fmt.Errorf("delete proxied telegram message: %w", err)
	}
	return nil
}
