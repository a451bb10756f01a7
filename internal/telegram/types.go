package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Kind identifies one variant of the closed inbound-content set. A message
// is classified exactly once, at the adapter boundary.
type Kind string

const (
	KindText        Kind = "text"
	KindPhoto       Kind = "photo"
	KindVideo       Kind = "video"
	KindVoice       Kind = "voice"
	KindAudio       Kind = "audio"
	KindDocument    Kind = "document"
	KindAnimation   Kind = "animation"
	KindSticker     Kind = "sticker"
	KindVideoNote   Kind = "video_note"
	KindContact     Kind = "contact"
	KindLocation    Kind = "location"
	KindForward     Kind = "forward"
	KindUnsupported Kind = "unsupported"
)

// Contact is a shared phone contact payload.
type Contact struct {
	PhoneNumber string
	FirstName   string
	LastName    string
}

// Location is a shared geographic point.
type Location struct {
	Latitude  float64
	Longitude float64
}

// ForwardRef identifies a message to re-forward: the chat it currently
// lives in and its id there.
type ForwardRef struct {
	FromChatID int64
	MessageID  int
}

// Content is the typed inbound payload produced by Classify. Text holds the
// message text for KindText and the caption for media kinds. Exactly one of
// the pointer fields is set for its kind.
type Content struct {
	Kind     Kind
	Text     string
	FileID   string
	Contact  *Contact
	Location *Location
	Forward  *ForwardRef
}

// Target addresses an outbound send: a chat, optionally a forum topic
// thread within it.
type Target struct {
	ChatID   int64
	ThreadID int64
}

// Button is one inline keyboard button; exactly one of URL or Data is set.
type Button struct {
	Text string
	URL  string
	Data string
}

// Identity is the bot's own platform identity.
type Identity struct {
	ID       int64
	Username string
}

// ChatInfo is the subset of chat metadata the bot consumes.
type ChatInfo struct {
	ID       int64
	Type     string
	Title    string
	Username string
}

// Message extends the library message with the forum-topic wire fields the
// vendored API version predates. The thread id lives here and nowhere
// else; consumers never probe for it.
type Message struct {
	tgbotapi.Message
	MessageThreadID int64 `json:"message_thread_id"`
	IsTopicMessage  bool  `json:"is_topic_message"`
}

// ThreadID returns the forum topic the message was posted in, or 0.
func (m *Message) ThreadID() int64 {
	if m == nil || !m.IsTopicMessage {
		return 0
	}
	return m.MessageThreadID
}

// Update is the typed union of inbound platform events the bot handles.
type Update struct {
	UpdateID        int64                     `json:"update_id"`
	Message         *Message                  `json:"message"`
	CallbackQuery   *tgbotapi.CallbackQuery   `json:"callback_query"`
	ChatJoinRequest *tgbotapi.ChatJoinRequest `json:"chat_join_request"`
}
