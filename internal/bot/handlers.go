package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/invitegate/invitegate/internal/invite"
	"github.com/invitegate/invitegate/internal/relay"
	"github.com/invitegate/invitegate/internal/telegram"
)

const (
	issuanceFailedReply = "Error creating invite link. Please contact support."
	supportInstruction  = "Send us your question or anything related to the challenge and staff will reply. Just send it as a normal message here."
	proofHint           = "You can send media files & screenshots directly to this chat to submit proof."
	relayFailedReply    = "⚠️ There was an error forwarding your message. Please try again or contact support."

	ackMedia   = "✅ Your media has been forwarded to staff. They will review it soon."
	ackVoice   = "✅ Your voice/audio message has been forwarded to staff. They will review it soon."
	ackText    = "✅ Your message has been forwarded to staff. They will reply soon."
	ackGeneric = "✅ Your message has been received and forwarded to staff."

	replyUsage    = "Use this command as a reply to a user's message in staff chat. Example: /reply <your message>"
	replyNoTarget = "Could not find user ID in the replied message."
	replyNoText   = "No reply text provided."
	replySent     = "✅ Sent to user."
	replyFailed   = "❌ Error sending message to user."
)

func (b *Bot) handleStart(ctx context.Context, msg *telegram.Message) error {
	from := msg.From
	if err := b.store.UpsertParticipant(ctx, from.ID, from.UserName, from.FirstName); err != nil {
		b.logger.Error("upsert participant failed", slog.Any("error", err))
	}

	reply := telegram.Target{ChatID: msg.Chat.ID}
	link, err := b.issuer.IssueOrGet(ctx, from.ID)
	if err != nil {
		b.logger.Warn("issue invite link failed",
			slog.Int64("tg_user_id", from.ID),
			slog.Any("error", err))
		_, err := b.platform.SendText(ctx, reply, issuanceFailedReply)
		return err
	}

	stats, err := b.attributor.StatsFor(ctx, from.ID)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	header := fmt.Sprintf(b.campaign.Header, stats.Joins, stats.RankDisplay())
	composed := invite.ComposeShare(b.campaign.ShareBody, link)
	_, err = b.platform.SendTextKeyboard(ctx, reply, header+"\n\n"+composed, b.campaignKeyboard(composed))
	return err
}

// campaignKeyboard is the inline keyboard under the /start message. The
// participate button only appears when the bot has a public username.
func (b *Bot) campaignKeyboard(shareText string) [][]telegram.Button {
	username := b.platform.Identity().Username
	shareURL := invite.ShareURL(shareText, username)

	rows := [][]telegram.Button{
		{{Text: "Share to Group", URL: shareURL}},
	}
	middle := []telegram.Button{}
	if username != "" {
		middle = append(middle, telegram.Button{Text: "Participate in Challenge", URL: "https://t.me/" + username})
	}
	middle = append(middle, telegram.Button{Text: "Contact Support", Data: "contact_support"})
	rows = append(rows, middle)
	rows = append(rows, []telegram.Button{
		{Text: "Submit Screenshot", Data: "noop"},
		{Text: "My Stats", Data: "my_stats"},
	})
	return rows
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	switch cb.Data {
	case "my_stats":
		if cb.Message == nil || cb.Message.Chat == nil {
			return b.platform.AnswerCallback(ctx, cb.ID, "", false)
		}
		if err := b.store.UpsertParticipant(ctx, cb.From.ID, cb.From.UserName, cb.From.FirstName); err != nil {
			b.logger.Error("upsert participant failed", slog.Any("error", err))
		}
		stats, err := b.attributor.StatsFor(ctx, cb.From.ID)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		rankText := fmt.Sprintf("Unranked (0/%d)", stats.Total)
		if stats.Ranked {
			rankText = fmt.Sprintf("%d/%d", stats.Rank, stats.Total)
		}
		text := fmt.Sprintf("Your stats:\nTotal invited (via your link): %d\nRank: %s", stats.Joins, rankText)
		if _, err := b.platform.SendText(ctx, telegram.Target{ChatID: cb.Message.Chat.ID}, text); err != nil {
			return err
		}
		return b.platform.AnswerCallback(ctx, cb.ID, "", false)
	case "contact_support":
		if cb.Message != nil && cb.Message.Chat != nil {
			if _, err := b.platform.SendText(ctx, telegram.Target{ChatID: cb.Message.Chat.ID}, supportInstruction); err != nil {
				return err
			}
		}
		return b.platform.AnswerCallback(ctx, cb.ID, "", false)
	case "noop":
		return b.platform.AnswerCallback(ctx, cb.ID, proofHint, true)
	default:
		return b.platform.AnswerCallback(ctx, cb.ID, "", false)
	}
}

func (b *Bot) handleUserMessage(ctx context.Context, msg *telegram.Message) error {
	from := msg.From
	if err := b.store.UpsertParticipant(ctx, from.ID, from.UserName, from.FirstName); err != nil {
		b.logger.Error("upsert participant failed", slog.Any("error", err))
	}

	content := telegram.Classify(&msg.Message)
	target := telegram.Target{ChatID: b.telegram.StaffChatID}
	participant := relay.Participant{ID: from.ID, Username: from.UserName, FirstName: from.FirstName}
	topicID, err := b.router.TopicFor(ctx, participant)
	if err != nil {
		// Degrade to the staff chat itself rather than dropping the message.
		b.logger.Warn("topic unavailable, relaying unthreaded",
			slog.Int64("tg_user_id", from.ID),
			slog.Any("error", err))
	} else {
		target.ThreadID = topicID
	}

	if content.IsMedia() {
		fileIDs := []string{content.FileID}
		if content.Kind == telegram.KindForward {
			fileIDs = []string{"forwarded_message"}
		}
		submissionID, err := b.store.SaveSubmission(ctx, from.ID, fileIDs, content.Text)
		if err != nil {
			b.logger.Error("save submission failed", slog.Any("error", err))
		} else {
			meta := fmt.Sprintf("Submission #%d from @%s (ID: %d)", submissionID, displayUsername(from), from.ID)
			if _, err := b.platform.SendText(ctx, target, meta); err != nil {
				b.logger.Error("submission header failed", slog.Any("error", err))
			}
		}
	}

	prefix := fmt.Sprintf("From: @%s (ID: %d)", displayUsername(from), from.ID)
	if from.FirstName != "" {
		prefix += " - " + from.FirstName
	}
	ok := b.router.Relay(ctx, content, target, prefix)

	reply := telegram.Target{ChatID: msg.Chat.ID}
	if !ok {
		_, err := b.platform.SendText(ctx, reply, relayFailedReply)
		return err
	}
	_, err = b.platform.SendText(ctx, reply, ackFor(content.Kind))
	return err
}

func ackFor(kind telegram.Kind) string {
	switch kind {
	case telegram.KindPhoto, telegram.KindVideo, telegram.KindDocument, telegram.KindAnimation, telegram.KindForward:
		return ackMedia
	case telegram.KindVoice, telegram.KindAudio:
		return ackVoice
	case telegram.KindText:
		return ackText
	default:
		return ackGeneric
	}
}

func displayUsername(from *tgbotapi.User) string {
	if from.UserName == "" {
		return "unknown"
	}
	return from.UserName
}

func (b *Bot) handleStaffTopicMessage(ctx context.Context, msg *telegram.Message) error {
	if msg.ThreadID() == 0 {
		return nil
	}
	userID, err := b.router.ResolveReplyTarget(ctx, msg)
	if err != nil {
		b.logger.Warn("no participant for staff message",
			slog.Int64("topic_id", msg.ThreadID()),
			slog.Any("error", err))
		return nil
	}
	content := telegram.Classify(&msg.Message)
	if !b.router.Relay(ctx, content, telegram.Target{ChatID: userID}, "") {
		b.logger.Error("relay staff message failed",
			slog.Int64("topic_id", msg.ThreadID()),
			slog.Int64("tg_user_id", userID))
	}
	return nil
}

func (b *Bot) handleStaffReply(ctx context.Context, msg *telegram.Message) error {
	reply := telegram.Target{ChatID: msg.Chat.ID, ThreadID: msg.ThreadID()}
	if msg.ReplyToMessage == nil {
		_, err := b.platform.SendText(ctx, reply, replyUsage)
		return err
	}
	userID, err := b.router.ResolveReplyTarget(ctx, msg)
	if err != nil {
		_, err := b.platform.SendText(ctx, reply, replyNoTarget)
		return err
	}

	parts := strings.SplitN(strings.TrimSpace(msg.Text), " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		_, err := b.platform.SendText(ctx, reply, replyNoText)
		return err
	}

	if _, err := b.platform.SendText(ctx, telegram.Target{ChatID: userID}, parts[1]); err != nil {
		b.logger.Error("staff reply failed",
			slog.Int64("tg_user_id", userID),
			slog.Any("error", err))
		_, err := b.platform.SendText(ctx, reply, replyFailed)
		return err
	}
	_, err = b.platform.SendText(ctx, reply, replySent)
	return err
}

func (b *Bot) handleExport(ctx context.Context, msg *telegram.Message) error {
	reply := telegram.Target{ChatID: msg.Chat.ID, ThreadID: msg.ThreadID()}
	items, err := b.store.RecentSubmissions(ctx, 50)
	if err != nil {
		return fmt.Errorf("recent submissions: %w", err)
	}
	if len(items) == 0 {
		_, err := b.platform.SendText(ctx, reply, "no submissions")
		return err
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%d | user:%d | files:%s | caption:%s | at:%s | handled:%t",
			item.ID, item.TGUserID, strings.Join(item.FileIDs, ","), item.Caption,
			item.CreatedAt.UTC().Format(time.RFC3339), item.StaffHandled))
	}
	_, err = b.platform.SendText(ctx, reply, strings.Join(lines, "\n"))
	return err
}

func (b *Bot) handleJoinRequest(ctx context.Context, req *tgbotapi.ChatJoinRequest) error {
	link := ""
	if req.InviteLink != nil {
		link = req.InviteLink.InviteLink
	}
	recorded := b.attributor.AttributeJoin(ctx, link, req.From.ID)
	b.logger.Info("join request handled",
		slog.Int64("joined_user_id", req.From.ID),
		slog.Bool("recorded", recorded))
	return nil
}
