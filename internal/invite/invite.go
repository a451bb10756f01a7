package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/invitegate/invitegate/internal/config"
	"github.com/invitegate/invitegate/internal/store"
)

// ErrIssuanceFailed means the platform refused to create an invite link and
// no stored one exists. Nothing is persisted on this path; a shared fallback
// link would break attribution.
var ErrIssuanceFailed = errors.New("invite link issuance failed")

// Store is the persistence surface the issuer needs.
type Store interface {
	InviteLinkByOwner(ctx context.Context, tgUserID int64) (string, error)
	SaveInviteLink(ctx context.Context, link string, tgUserID int64) (bool, error)
}

// Platform creates invite links on the chat platform.
type Platform interface {
	CreateInviteLink(ctx context.Context, chatID int64, name string, joinRequest bool) (string, error)
}

// Service issues one personal invite link per participant, idempotently.
type Service struct {
	logger       *slog.Logger
	store        Store
	platform     Platform
	channelID    int64
	joinRequests bool
}

// NewService creates the invite issuer for the configured channel.
func NewService(log *slog.Logger, st Store, platform Platform, cfg config.TelegramConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:       log.With(slog.String("service", "invite")),
		store:        st,
		platform:     platform,
		channelID:    cfg.ChannelID,
		joinRequests: cfg.JoinRequests,
	}
}

// IssueOrGet returns the participant's stored invite link, creating one on
// the platform only on first call. When two issuers race, the uniqueness
// constraint picks a winner and the loser returns the stored winner instead
// of its own candidate, so repeated calls always converge on one link.
func (s *Service) IssueOrGet(ctx context.Context, tgUserID int64) (string, error) {
	link, err := s.store.InviteLinkByOwner(ctx, tgUserID)
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("lookup invite link: %w", err)
	}

	name := fmt.Sprintf("user_%d", tgUserID)
	created, err := s.platform.CreateInviteLink(ctx, s.channelID, name, s.joinRequests)
	if err != nil {
		s.logger.Warn("create invite link failed",
			slog.Int64("tg_user_id", tgUserID),
			slog.Any("error", err))
		return "", fmt.Errorf("%w: %w", ErrIssuanceFailed, err)
	}

	inserted, err := s.store.SaveInviteLink(ctx, created, tgUserID)
	if err != nil {
		return "", fmt.Errorf("save invite link: %w", err)
	}
	if !inserted {
		// Lost a race; the stored link is canonical.
		winner, err := s.store.InviteLinkByOwner(ctx, tgUserID)
		if err != nil {
			return "", fmt.Errorf("reread invite link: %w", err)
		}
		return winner, nil
	}

	s.logger.Info("invite link issued",
		slog.Int64("tg_user_id", tgUserID),
		slog.String("invite_link", created))
	return created, nil
}

// ComposeShare substitutes the participant's invite link into the campaign
// share body.
func ComposeShare(body, link string) string {
	return strings.ReplaceAll(body, config.InviteLinkPlaceholder, link)
}

// ShareURL builds the platform share deeplink carrying the composed text.
// A non-empty bot username is appended as the url parameter so recipients
// also see a path back to the bot.
func ShareURL(text, botUsername string) string {
	values := url.Values{}
	values.Set("text", text)
	if botUsername != "" {
		values.Set("url", "https://t.me/"+botUsername)
	}
	return "https://t.me/share/url?" + values.Encode()
}
