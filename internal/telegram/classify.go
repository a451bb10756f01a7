package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Classify maps a raw message onto the closed Content variant set using a
// fixed precedence order. Media kinds carry the caption as Text; anything
// the bot cannot name becomes KindUnsupported rather than being dropped.
func Classify(msg *tgbotapi.Message) Content {
	if msg == nil {
		return Content{Kind: KindUnsupported}
	}
	caption := strings.TrimSpace(msg.Caption)
	switch {
	case strings.TrimSpace(msg.Text) != "":
		return Content{Kind: KindText, Text: strings.TrimSpace(msg.Text)}
	case len(msg.Photo) > 0:
		return Content{Kind: KindPhoto, Text: caption, FileID: pickPhoto(msg.Photo).FileID}
	case msg.Video != nil:
		return Content{Kind: KindVideo, Text: caption, FileID: msg.Video.FileID}
	case msg.Voice != nil:
		return Content{Kind: KindVoice, Text: caption, FileID: msg.Voice.FileID}
	case msg.Audio != nil:
		return Content{Kind: KindAudio, Text: caption, FileID: msg.Audio.FileID}
	case msg.Document != nil:
		return Content{Kind: KindDocument, Text: caption, FileID: msg.Document.FileID}
	case msg.Animation != nil:
		return Content{Kind: KindAnimation, Text: caption, FileID: msg.Animation.FileID}
	case msg.Sticker != nil:
		return Content{Kind: KindSticker, FileID: msg.Sticker.FileID}
	case msg.VideoNote != nil:
		return Content{Kind: KindVideoNote, FileID: msg.VideoNote.FileID}
	case msg.Contact != nil:
		return Content{Kind: KindContact, Contact: &Contact{
			PhoneNumber: msg.Contact.PhoneNumber,
			FirstName:   msg.Contact.FirstName,
			LastName:    msg.Contact.LastName,
		}}
	case msg.Location != nil:
		return Content{Kind: KindLocation, Location: &Location{
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
		}}
	case msg.ForwardFrom != nil || msg.ForwardFromChat != nil:
		return Content{Kind: KindForward, Forward: &ForwardRef{
			FromChatID: msg.Chat.ID,
			MessageID:  msg.MessageID,
		}}
	default:
		return Content{Kind: KindUnsupported}
	}
}

// IsMedia reports whether the content is proof-submission material: visual
// or document media, or a forwarded message carried as evidence.
func (c Content) IsMedia() bool {
	switch c.Kind {
	case KindPhoto, KindVideo, KindAnimation, KindDocument, KindForward:
		return true
	default:
		return false
	}
}

func pickPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}
