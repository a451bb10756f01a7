package attribution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/invitegate/invitegate/internal/config"
	"github.com/invitegate/invitegate/internal/telegram"
)

// Store is the persistence surface join attribution needs.
type Store interface {
	InviteLinkExists(ctx context.Context, link string) (bool, error)
	RecordJoin(ctx context.Context, link string, joinedUserID int64) (bool, error)
	JoinCount(ctx context.Context, tgUserID int64) (int64, error)
	Rank(ctx context.Context, tgUserID int64) (rank int64, ok bool, total int64, err error)
}

// Platform approves join requests and notifies staff.
type Platform interface {
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
	SendText(ctx context.Context, t telegram.Target, text string) (int, error)
}

// Stats is a participant's campaign standing.
type Stats struct {
	Joins  int64
	Rank   int64
	Ranked bool
	Total  int64
}

// RankDisplay renders the rank slot of the campaign header: the dense rank
// for ranked participants, "-" for participants without a link.
func (s Stats) RankDisplay() string {
	if !s.Ranked {
		return "-"
	}
	return fmt.Sprintf("%d", s.Rank)
}

// Service attributes channel joins to the invite links that produced them
// and auto-approves every join request.
type Service struct {
	logger      *slog.Logger
	store       Store
	platform    Platform
	channelID   int64
	staffChatID int64
}

// NewService creates the join attributor for the configured channel.
func NewService(log *slog.Logger, st Store, platform Platform, cfg config.TelegramConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:      log.With(slog.String("service", "attribution")),
		store:       st,
		platform:    platform,
		channelID:   cfg.ChannelID,
		staffChatID: cfg.StaffChatID,
	}
}

// AttributeJoin records the join if it arrived via a link this system
// issued, approves the join request unconditionally, and notifies staff
// exactly once per newly recorded join. Attribution and approval are
// independent: a failure on either side never suppresses the other, so a
// redelivered or unattributable request still gets approved and an approval
// failure never loses the recorded join. Reports whether a new join event
// was written.
func (s *Service) AttributeJoin(ctx context.Context, link string, joiningUserID int64) bool {
	recorded := false
	if link != "" {
		issued, err := s.store.InviteLinkExists(ctx, link)
		switch {
		case err != nil:
			s.logger.Error("invite link check failed",
				slog.String("invite_link", link),
				slog.Any("error", err))
		case !issued:
			s.logger.Info("ignoring join via foreign invite link",
				slog.Int64("joined_user_id", joiningUserID))
		default:
			recorded, err = s.store.RecordJoin(ctx, link, joiningUserID)
			if err != nil {
				s.logger.Error("record join failed",
					slog.String("invite_link", link),
					slog.Int64("joined_user_id", joiningUserID),
					slog.Any("error", err))
			}
		}
	}

	if err := s.platform.ApproveJoinRequest(ctx, s.channelID, joiningUserID); err != nil {
		s.logger.Error("approve join request failed",
			slog.Int64("joined_user_id", joiningUserID),
			slog.Any("error", err))
	}

	if recorded {
		text := fmt.Sprintf("✅ User %d joined via bot invite link. Auto-approved.", joiningUserID)
		if _, err := s.platform.SendText(ctx, telegram.Target{ChatID: s.staffChatID}, text); err != nil {
			s.logger.Warn("staff join notification failed", slog.Any("error", err))
		}
	}
	return recorded
}

// StatsFor returns the participant's attributed join count and dense rank.
func (s *Service) StatsFor(ctx context.Context, tgUserID int64) (Stats, error) {
	joins, err := s.store.JoinCount(ctx, tgUserID)
	if err != nil {
		return Stats{}, fmt.Errorf("join count: %w", err)
	}
	rank, ranked, total, err := s.store.Rank(ctx, tgUserID)
	if err != nil {
		return Stats{}, fmt.Errorf("rank: %w", err)
	}
	return Stats{Joins: joins, Rank: rank, Ranked: ranked, Total: total}, nil
}
