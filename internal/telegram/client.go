package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxMessageLength = 4096
	// maxTopicNameLength is the platform limit for forum topic labels.
	maxTopicNameLength = 128
	pollTimeoutSeconds = 30
)

// Client is the bot's platform client. All wire-level concerns live here;
// thread routing, invite administration, and forum topics go through raw
// API requests because the vendored library version predates them.
type Client struct {
	logger *slog.Logger
	bot    *tgbotapi.BotAPI
}

// NewClient authenticates the bot token against the platform.
func NewClient(log *slog.Logger, token string) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Client{
		logger: log.With(slog.String("adapter", "telegram")),
		bot:    bot,
	}, nil
}

// Identity returns the authenticated bot identity.
func (c *Client) Identity() Identity {
	return Identity{ID: c.bot.Self.ID, Username: c.bot.Self.UserName}
}

// GetChat fetches chat metadata.
func (c *Client) GetChat(ctx context.Context, chatID int64) (ChatInfo, error) {
	chat, err := c.bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return ChatInfo{}, fmt.Errorf("get chat: %w", err)
	}
	return ChatInfo{
		ID:       chat.ID,
		Type:     chat.Type,
		Title:    chat.Title,
		Username: chat.UserName,
	}, nil
}

// CreateInviteLink requests a named invite link into the channel,
// optionally one that creates join requests instead of instant joins.
func (c *Client) CreateInviteLink(ctx context.Context, chatID int64, name string, joinRequest bool) (string, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonEmpty("name", name)
	params.AddBool("creates_join_request", joinRequest)
	resp, err := c.bot.MakeRequest("createChatInviteLink", params)
	if err != nil {
		return "", fmt.Errorf("create invite link: %w", err)
	}
	var link struct {
		InviteLink string `json:"invite_link"`
	}
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("decode invite link: %w", err)
	}
	return link.InviteLink, nil
}

// ApproveJoinRequest approves a pending join request into the channel.
func (c *Client) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero64("user_id", userID)
	_, err := c.bot.MakeRequest("approveChatJoinRequest", params)
	if err != nil {
		return fmt.Errorf("approve join request: %w", err)
	}
	return nil
}

// CreateForumTopic creates a forum topic in the chat and returns its thread id.
func (c *Client) CreateForumTopic(ctx context.Context, chatID int64, name string) (int64, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonEmpty("name", TruncateTopicName(name))
	resp, err := c.bot.MakeRequest("createForumTopic", params)
	if err != nil {
		return 0, fmt.Errorf("create forum topic: %w", err)
	}
	var topic struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	if err := json.Unmarshal(resp.Result, &topic); err != nil {
		return 0, fmt.Errorf("decode forum topic: %w", err)
	}
	return topic.MessageThreadID, nil
}

func (c *Client) targetParams(t Target) tgbotapi.Params {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", t.ChatID)
	params.AddNonZero64("message_thread_id", t.ThreadID)
	return params
}

// SendText sends a plain text message and returns the sent message id.
func (c *Client) SendText(ctx context.Context, t Target, text string) (int, error) {
	params := c.targetParams(t)
	params.AddNonEmpty("text", truncateText(sanitizeText(text)))
	resp, err := c.bot.MakeRequest("sendMessage", params)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	var sent struct {
		MessageID int `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return 0, fmt.Errorf("decode sent message: %w", err)
	}
	return sent.MessageID, nil
}

// SendTextKeyboard sends a text message with an inline keyboard.
func (c *Client) SendTextKeyboard(ctx context.Context, t Target, text string, rows [][]Button) (int, error) {
	params := c.targetParams(t)
	params.AddNonEmpty("text", truncateText(sanitizeText(text)))
	if len(rows) > 0 {
		_ = params.AddInterface("reply_markup", buildKeyboard(rows))
	}
	resp, err := c.bot.MakeRequest("sendMessage", params)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	var sent struct {
		MessageID int `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return 0, fmt.Errorf("decode sent message: %w", err)
	}
	return sent.MessageID, nil
}

func (c *Client) sendFile(t Target, method, field, fileID, caption string) error {
	params := c.targetParams(t)
	params.AddNonEmpty(field, fileID)
	params.AddNonEmpty("caption", truncateText(sanitizeText(caption)))
	if _, err := c.bot.MakeRequest(method, params); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// SendPhoto re-sends a photo by file id with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, t Target, fileID, caption string) error {
	return c.sendFile(t, "sendPhoto", "photo", fileID, caption)
}

// SendVideo re-sends a video by file id with an optional caption.
func (c *Client) SendVideo(ctx context.Context, t Target, fileID, caption string) error {
	return c.sendFile(t, "sendVideo", "video", fileID, caption)
}

// SendVoice re-sends a voice note by file id with an optional caption.
func (c *Client) SendVoice(ctx context.Context, t Target, fileID, caption string) error {
	return c.sendFile(t, "sendVoice", "voice", fileID, caption)
}

// SendAudio re-sends an audio file by file id with an optional caption.
func (c *Client) SendAudio(ctx context.Context, t Target, fileID, caption string) error {
	return c.sendFile(t, "sendAudio", "audio", fileID, caption)
}

// SendDocument re-sends a document by file id with an optional caption.
func (c *Client) SendDocument(ctx context.Context, t Target, fileID, caption string) error {
	return c.sendFile(t, "sendDocument", "document", fileID, caption)
}

// SendAnimation re-sends an animation by file id with an optional caption.
func (c *Client) SendAnimation(ctx context.Context, t Target, fileID, caption string) error {
	return c.sendFile(t, "sendAnimation", "animation", fileID, caption)
}

// SendSticker re-sends a sticker by file id. Stickers carry no caption.
func (c *Client) SendSticker(ctx context.Context, t Target, fileID string) error {
	return c.sendFile(t, "sendSticker", "sticker", fileID, "")
}

// SendVideoNote re-sends a round video by file id.
func (c *Client) SendVideoNote(ctx context.Context, t Target, fileID string) error {
	return c.sendFile(t, "sendVideoNote", "video_note", fileID, "")
}

// SendContact sends a phone contact.
func (c *Client) SendContact(ctx context.Context, t Target, contact Contact) error {
	params := c.targetParams(t)
	params.AddNonEmpty("phone_number", contact.PhoneNumber)
	params.AddNonEmpty("first_name", contact.FirstName)
	params.AddNonEmpty("last_name", contact.LastName)
	if _, err := c.bot.MakeRequest("sendContact", params); err != nil {
		return fmt.Errorf("send contact: %w", err)
	}
	return nil
}

// SendLocation sends a geographic point.
func (c *Client) SendLocation(ctx context.Context, t Target, location Location) error {
	params := c.targetParams(t)
	params.AddNonZeroFloat("latitude", location.Latitude)
	params.AddNonZeroFloat("longitude", location.Longitude)
	if _, err := c.bot.MakeRequest("sendLocation", params); err != nil {
		return fmt.Errorf("send location: %w", err)
	}
	return nil
}

// Forward forwards a message from its current chat into the target. The
// platform rejects forwards of content-protected messages.
func (c *Client) Forward(ctx context.Context, t Target, ref ForwardRef) error {
	params := c.targetParams(t)
	params.AddNonZero64("from_chat_id", ref.FromChatID)
	params.AddNonZero("message_id", ref.MessageID)
	if _, err := c.bot.MakeRequest("forwardMessage", params); err != nil {
		return fmt.Errorf("forward message: %w", err)
	}
	return nil
}

// DeleteMessage deletes a message the bot sent.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", messageID)
	if _, err := c.bot.MakeRequest("deleteMessage", params); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a callback query, optionally as an alert popup.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("callback_query_id", callbackID)
	params.AddNonEmpty("text", text)
	params.AddBool("show_alert", alert)
	if _, err := c.bot.MakeRequest("answerCallbackQuery", params); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// Updates long-polls the platform and delivers typed updates until the
// context is cancelled. Poll errors are logged and retried.
func (c *Client) Updates(ctx context.Context) <-chan Update {
	ch := make(chan Update)
	go func() {
		defer close(ch)
		var offset int64
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			params := tgbotapi.Params{}
			params.AddNonZero64("offset", offset)
			params.AddNonZero("timeout", pollTimeoutSeconds)
			_ = params.AddInterface("allowed_updates", []string{"message", "callback_query", "chat_join_request"})
			resp, err := c.bot.MakeRequest("getUpdates", params)
			if err != nil {
				c.logger.Warn("poll updates failed", slog.Any("error", err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(3 * time.Second):
				}
				continue
			}
			var updates []Update
			if err := json.Unmarshal(resp.Result, &updates); err != nil {
				c.logger.Error("decode updates failed", slog.Any("error", err))
				continue
			}
			for _, update := range updates {
				if update.UpdateID >= offset {
					offset = update.UpdateID + 1
				}
				select {
				case ch <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

func buildKeyboard(rows [][]Button) tgbotapi.InlineKeyboardMarkup {
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			switch {
			case b.URL != "":
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			default:
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		keyboard = append(keyboard, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// sanitizeText ensures text is valid UTF-8 for the platform API.
func sanitizeText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateText truncates text to the platform message limit on a valid
// UTF-8 rune boundary, appending "..." when truncation occurs.
func truncateText(text string) string {
	return truncateTo(text, maxMessageLength)
}

// TruncateTopicName truncates a forum topic label to the platform limit.
func TruncateTopicName(name string) string {
	return truncateTo(name, maxTopicNameLength)
}

func truncateTo(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	const suffix = "..."
	cut := limit - len(suffix)
	// Walk backwards to a rune boundary.
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + suffix
}
