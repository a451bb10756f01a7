package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/invitegate/invitegate/internal/attribution"
	"github.com/invitegate/invitegate/internal/config"
	"github.com/invitegate/invitegate/internal/relay"
	"github.com/invitegate/invitegate/internal/store"
	"github.com/invitegate/invitegate/internal/telegram"
)

// Platform is the wire surface the dispatcher itself needs; everything else
// goes through the services.
type Platform interface {
	Identity() telegram.Identity
	Updates(ctx context.Context) <-chan telegram.Update
	SendText(ctx context.Context, t telegram.Target, text string) (int, error)
	SendTextKeyboard(ctx context.Context, t telegram.Target, text string, rows [][]telegram.Button) (int, error)
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Issuer hands out personal invite links.
type Issuer interface {
	IssueOrGet(ctx context.Context, tgUserID int64) (string, error)
}

// Attributor records joins and computes campaign standings.
type Attributor interface {
	AttributeJoin(ctx context.Context, link string, joiningUserID int64) bool
	StatsFor(ctx context.Context, tgUserID int64) (attribution.Stats, error)
}

// Router moves content between participants and their staff topics.
type Router interface {
	TopicFor(ctx context.Context, p relay.Participant) (int64, error)
	Relay(ctx context.Context, content telegram.Content, target telegram.Target, prefix string) bool
	ResolveReplyTarget(ctx context.Context, msg *telegram.Message) (int64, error)
}

// Store is the participant and submission surface the handlers need.
type Store interface {
	UpsertParticipant(ctx context.Context, tgUserID int64, username, firstName string) error
	SaveSubmission(ctx context.Context, tgUserID int64, fileIDs []string, caption string) (int64, error)
	RecentSubmissions(ctx context.Context, limit int32) ([]store.Submission, error)
}

// Bot dispatches inbound platform updates to the campaign handlers.
type Bot struct {
	logger     *slog.Logger
	platform   Platform
	issuer     Issuer
	attributor Attributor
	router     Router
	store      Store
	telegram   config.TelegramConfig
	campaign   config.CampaignConfig
}

// New wires the dispatcher.
func New(log *slog.Logger, platform Platform, issuer Issuer, attributor Attributor, router Router, st Store, cfg config.Config) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		logger:     log.With(slog.String("service", "bot")),
		platform:   platform,
		issuer:     issuer,
		attributor: attributor,
		router:     router,
		store:      st,
		telegram:   cfg.Telegram,
		campaign:   cfg.Campaign,
	}
}

// Run consumes the update stream until the context is cancelled. Each
// update is handled in its own goroutine; a failing handler is logged and
// never takes the loop down with it.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("start", slog.String("bot", b.platform.Identity().Username))
	updates := b.platform.Updates(ctx)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stop")
			return
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("updates channel closed")
				return
			}
			go func(update telegram.Update) {
				if err := b.dispatch(ctx, update); err != nil {
					b.logger.Error("handle update failed",
						slog.Int64("update_id", update.UpdateID),
						slog.Any("error", err))
				}
			}(update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update telegram.Update) error {
	switch {
	case update.ChatJoinRequest != nil:
		return b.handleJoinRequest(ctx, update.ChatJoinRequest)
	case update.CallbackQuery != nil:
		return b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		return b.dispatchMessage(ctx, update.Message)
	default:
		return nil
	}
}

func (b *Bot) dispatchMessage(ctx context.Context, msg *telegram.Message) error {
	if msg.Chat == nil || msg.From == nil || msg.From.IsBot {
		return nil
	}
	command := commandName(msg.Text)
	switch {
	case msg.Chat.ID == b.telegram.StaffChatID:
		switch command {
		case "reply":
			return b.handleStaffReply(ctx, msg)
		case "export_submissions":
			return b.handleExport(ctx, msg)
		case "":
			return b.handleStaffTopicMessage(ctx, msg)
		default:
			return nil
		}
	case msg.Chat.IsPrivate():
		switch command {
		case "start":
			return b.handleStart(ctx, msg)
		case "":
			return b.handleUserMessage(ctx, msg)
		default:
			return nil
		}
	default:
		return nil
	}
}

// commandName returns the lowercased bot command the text starts with,
// without the slash or an @botname suffix, or "" for non-commands.
func commandName(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	command := strings.Fields(text)[0][1:]
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	return strings.ToLower(command)
}
