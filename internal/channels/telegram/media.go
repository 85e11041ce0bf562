package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// maxCaptionLen is Telegram's media caption limit in UTF-16 units.
const maxCaptionLen = 1024

// Media kinds that can be re-sent by file id with a caption.
const (
	mediaPhoto     = "photo"
	mediaDocument  = "document"
	mediaVideo     = "video"
	mediaAnimation = "animation"
	mediaAudio     = "audio"
	mediaVoice     = "voice"
)

// mediaRefPrefix marks a bus media entry as a Telegram file reference
// ("tg:photo:<file_id>") rather than a URL.
const mediaRefPrefix = "tg:"

type mediaRef struct {
	kind   string
	fileID string
}

func (r mediaRef) String() string { return mediaRefPrefix + r.kind + ":" + r.fileID }

// parseMediaRef decodes a bus media entry. ok is false for anything that
// is not a Telegram file reference.
func parseMediaRef(s string) (mediaRef, bool) {
	rest, found := strings.CutPrefix(s, mediaRefPrefix)
	if !found {
		return mediaRef{}, false
	}
	kind, fileID, found := strings.Cut(rest, ":")
	if !found || fileID == "" {
		return mediaRef{}, false
	}
	switch kind {
	case mediaPhoto, mediaDocument, mediaVideo, mediaAnimation, mediaAudio, mediaVoice:
		return mediaRef{kind: kind, fileID: fileID}, true
	}
	return mediaRef{}, false
}

// messageMedia returns the file references attached to message. Photos
// use the largest size; animations also carry a document, which is
// ignored.
func messageMedia(message *telego.Message) []string {
	var refs []mediaRef
	switch {
	case len(message.Photo) > 0:
		refs = append(refs, mediaRef{mediaPhoto, message.Photo[len(message.Photo)-1].FileID})
	case message.Animation != nil:
		refs = append(refs, mediaRef{mediaAnimation, message.Animation.FileID})
	case message.Document != nil:
		refs = append(refs, mediaRef{mediaDocument, message.Document.FileID})
	case message.Video != nil:
		refs = append(refs, mediaRef{mediaVideo, message.Video.FileID})
	case message.Audio != nil:
		refs = append(refs, mediaRef{mediaAudio, message.Audio.FileID})
	case message.Voice != nil:
		refs = append(refs, mediaRef{mediaVoice, message.Voice.FileID})
	}

	media := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.fileID != "" {
			media = append(media, r.String())
		}
	}
	return media
}

// sendMedia re-sends one file by id into chatID/threadID.
func (c *Channel) sendMedia(ctx context.Context, chatID int64, threadID int, ref mediaRef, caption string) error {
	id := tu.ID(chatID)
	file := tu.FileFromID(ref.fileID)

	var err error
	switch ref.kind {
	case mediaPhoto:
		_, err = c.api.SendPhoto(ctx, &telego.SendPhotoParams{ChatID: id, MessageThreadID: threadID, Photo: file, Caption: caption})
	case mediaDocument:
		_, err = c.api.SendDocument(ctx, &telego.SendDocumentParams{ChatID: id, MessageThreadID: threadID, Document: file, Caption: caption})
	case mediaVideo:
		_, err = c.api.SendVideo(ctx, &telego.SendVideoParams{ChatID: id, MessageThreadID: threadID, Video: file, Caption: caption})
	case mediaAnimation:
		_, err = c.api.SendAnimation(ctx, &telego.SendAnimationParams{ChatID: id, MessageThreadID: threadID, Animation: file, Caption: caption})
	case mediaAudio:
		_, err = c.api.SendAudio(ctx, &telego.SendAudioParams{ChatID: id, MessageThreadID: threadID, Audio: file, Caption: caption})
	case mediaVoice:
		_, err = c.api.SendVoice(ctx, &telego.SendVoiceParams{ChatID: id, MessageThreadID: threadID, Voice: file, Caption: caption})
	default:
		return fmt.Errorf("unsupported telegram media kind %q", ref.kind)
	}
	if err != nil {
		return fmt.Errorf("send telegram %s: %w", ref.kind, err)
	}
	return nil
}
