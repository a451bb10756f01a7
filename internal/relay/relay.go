package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/invitegate/invitegate/internal/config"
	"github.com/invitegate/invitegate/internal/store"
	"github.com/invitegate/invitegate/internal/telegram"
)

var (
	// ErrTopicCreationFailed means the staff chat refused topic creation,
	// typically because it is not forum-enabled. Callers degrade to an
	// unthreaded relay into the staff chat.
	ErrTopicCreationFailed = errors.New("forum topic creation failed")

	// ErrTargetNotFound means a staff reply carried no resolvable
	// participant identity.
	ErrTargetNotFound = errors.New("reply target not found")
)

// probeMarker is an invisible character sent and deleted to test whether a
// remembered topic still exists.
const probeMarker = "⁣"

// replyIDPattern extracts the participant id token embedded in relayed
// message prefixes, e.g. "From: @ada (ID: 42) - Ada".
var replyIDPattern = regexp.MustCompile(`(?i)ID:\s*(\d+)`)

// Store is the topic-mapping surface the router needs.
type Store interface {
	TopicByUser(ctx context.Context, tgUserID int64) (int64, error)
	UserByTopic(ctx context.Context, topicID int64) (int64, error)
	SaveTopic(ctx context.Context, tgUserID, topicID int64, topicName string) error
	DeleteTopic(ctx context.Context, tgUserID int64) error
}

// Platform is the send surface the relay needs.
type Platform interface {
	CreateForumTopic(ctx context.Context, chatID int64, name string) (int64, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendText(ctx context.Context, t telegram.Target, text string) (int, error)
	SendPhoto(ctx context.Context, t telegram.Target, fileID, caption string) error
	SendVideo(ctx context.Context, t telegram.Target, fileID, caption string) error
	SendVoice(ctx context.Context, t telegram.Target, fileID, caption string) error
	SendAudio(ctx context.Context, t telegram.Target, fileID, caption string) error
	SendDocument(ctx context.Context, t telegram.Target, fileID, caption string) error
	SendAnimation(ctx context.Context, t telegram.Target, fileID, caption string) error
	SendSticker(ctx context.Context, t telegram.Target, fileID string) error
	SendVideoNote(ctx context.Context, t telegram.Target, fileID string) error
	SendContact(ctx context.Context, t telegram.Target, contact telegram.Contact) error
	SendLocation(ctx context.Context, t telegram.Target, location telegram.Location) error
	Forward(ctx context.Context, t telegram.Target, ref telegram.ForwardRef) error
}

// Participant carries the display fields a topic label is built from.
type Participant struct {
	ID        int64
	Username  string
	FirstName string
}

// Service routes participant conversations into per-participant forum
// topics in the staff chat and relays content in both directions.
type Service struct {
	logger      *slog.Logger
	store       Store
	platform    Platform
	staffChatID int64
}

// NewService creates the conversation router for the configured staff chat.
func NewService(log *slog.Logger, st Store, platform Platform, cfg config.TelegramConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:      log.With(slog.String("service", "relay")),
		store:       st,
		platform:    platform,
		staffChatID: cfg.StaffChatID,
	}
}

// TopicFor returns the live forum topic dedicated to the participant,
// probing the remembered one and recreating it when the probe shows it was
// deleted. The participant-to-topic mapping is a bijection; a freshly
// created topic id that already belongs to someone else is used for this
// relay but never overwrites the existing mapping.
func (s *Service) TopicFor(ctx context.Context, p Participant) (int64, error) {
	topicID, err := s.store.TopicByUser(ctx, p.ID)
	switch {
	case err == nil:
		if s.probeTopic(ctx, topicID) {
			return topicID, nil
		}
		s.logger.Warn("remembered topic gone, recreating",
			slog.Int64("tg_user_id", p.ID),
			slog.Int64("topic_id", topicID))
		if err := s.store.DeleteTopic(ctx, p.ID); err != nil {
			s.logger.Error("delete stale topic mapping failed", slog.Any("error", err))
		}
	case !errors.Is(err, store.ErrNotFound):
		return 0, fmt.Errorf("topic lookup: %w", err)
	}

	name := topicName(p)
	newID, err := s.platform.CreateForumTopic(ctx, s.staffChatID, name)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTopicCreationFailed, err)
	}

	if owner, err := s.store.UserByTopic(ctx, newID); err == nil && owner != p.ID {
		s.logger.Error("new topic id already mapped, keeping existing mapping",
			slog.Int64("topic_id", newID),
			slog.Int64("owner", owner),
			slog.Int64("tg_user_id", p.ID))
		return newID, nil
	}

	if err := s.store.SaveTopic(ctx, p.ID, newID, name); err != nil {
		s.logger.Error("save topic mapping failed",
			slog.Int64("tg_user_id", p.ID),
			slog.Any("error", err))
	} else {
		s.logger.Info("created topic",
			slog.Int64("tg_user_id", p.ID),
			slog.Int64("topic_id", newID))
	}
	return newID, nil
}

// probeTopic sends an invisible marker into the topic and deletes it again.
// A send failure means the topic no longer exists.
func (s *Service) probeTopic(ctx context.Context, topicID int64) bool {
	messageID, err := s.platform.SendText(ctx,
		telegram.Target{ChatID: s.staffChatID, ThreadID: topicID}, probeMarker)
	if err != nil {
		return false
	}
	if err := s.platform.DeleteMessage(ctx, s.staffChatID, messageID); err != nil {
		s.logger.Debug("probe cleanup failed", slog.Any("error", err))
	}
	return true
}

func topicName(p Participant) string {
	var name string
	switch {
	case p.Username != "":
		first := p.FirstName
		if first == "" {
			first = "User"
		}
		name = fmt.Sprintf("%s (@%s)", first, p.Username)
	default:
		name = fmt.Sprintf("User %d", p.ID)
	}
	return telegram.TruncateTopicName(name)
}

// Relay delivers classified content to the target, prefixing text and
// captions with the attribution line when one is given. The same primitive
// serves both directions. Non-captionable kinds get a companion placeholder
// text; rejected forwards degrade to a placeholder notice. Returns false
// only when nothing at all was delivered.
func (s *Service) Relay(ctx context.Context, content telegram.Content, target telegram.Target, prefix string) bool {
	userInfo := ""
	if prefix != "" {
		userInfo = prefix + "\n\n"
	}

	sendText := func(text string) bool {
		_, err := s.platform.SendText(ctx, target, text)
		if err != nil {
			s.logger.Error("relay text failed", slog.Any("error", err))
		}
		return err == nil
	}
	logged := func(what string, err error) bool {
		if err != nil {
			s.logger.Error("relay failed",
				slog.String("kind", what),
				slog.Any("error", err))
			return false
		}
		return true
	}

	caption := userInfo + content.Text

	switch content.Kind {
	case telegram.KindText:
		return sendText(userInfo + content.Text)
	case telegram.KindPhoto:
		return logged("photo", s.platform.SendPhoto(ctx, target, content.FileID, caption))
	case telegram.KindVideo:
		return logged("video", s.platform.SendVideo(ctx, target, content.FileID, caption))
	case telegram.KindVoice:
		return logged("voice", s.platform.SendVoice(ctx, target, content.FileID, caption))
	case telegram.KindAudio:
		return logged("audio", s.platform.SendAudio(ctx, target, content.FileID, caption))
	case telegram.KindDocument:
		return logged("document", s.platform.SendDocument(ctx, target, content.FileID, caption))
	case telegram.KindAnimation:
		return logged("animation", s.platform.SendAnimation(ctx, target, content.FileID, caption))
	case telegram.KindSticker:
		noted := sendText(userInfo + "[Sent a sticker]")
		sent := logged("sticker", s.platform.SendSticker(ctx, target, content.FileID))
		return noted || sent
	case telegram.KindVideoNote:
		noted := sendText(userInfo + "[Sent a video note]")
		sent := logged("video note", s.platform.SendVideoNote(ctx, target, content.FileID))
		return noted || sent
	case telegram.KindContact:
		sent := false
		if content.Contact != nil {
			sent = logged("contact", s.platform.SendContact(ctx, target, *content.Contact))
		}
		noted := sendText(userInfo + "[Sent a contact]")
		return noted || sent
	case telegram.KindLocation:
		sent := false
		if content.Location != nil {
			sent = logged("location", s.platform.SendLocation(ctx, target, *content.Location))
		}
		noted := sendText(userInfo + "[Sent a location]")
		return noted || sent
	case telegram.KindForward:
		if content.Forward != nil {
			if err := s.platform.Forward(ctx, target, *content.Forward); err == nil {
				sendText(userInfo + "[Forwarded message]")
				return true
			}
			s.logger.Warn("forward rejected, degrading to placeholder")
		}
		return sendText(userInfo + "[Could not forward message - content may be protected]")
	default:
		return sendText(userInfo + "[Sent unsupported content type]")
	}
}

// ResolveReplyTarget maps an inbound staff message to the participant it
// answers: the forum topic's owner when the message was posted in a topic,
// else the "ID:<digits>" token in the replied-to message.
func (s *Service) ResolveReplyTarget(ctx context.Context, msg *telegram.Message) (int64, error) {
	if msg == nil {
		return 0, ErrTargetNotFound
	}
	if threadID := msg.ThreadID(); threadID != 0 {
		owner, err := s.store.UserByTopic(ctx, threadID)
		if err == nil {
			return owner, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("topic owner lookup: %w", err)
		}
	}
	if replied := msg.ReplyToMessage; replied != nil {
		for _, text := range []string{replied.Text, replied.Caption} {
			if m := replyIDPattern.FindStringSubmatch(text); m != nil {
				id, err := strconv.ParseInt(m[1], 10, 64)
				if err == nil {
					return id, nil
				}
			}
		}
	}
	return 0, ErrTargetNotFound
}
