package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invitegate/invitegate/internal/attribution"
	"github.com/invitegate/invitegate/internal/config"
	"github.com/invitegate/invitegate/internal/relay"
	"github.com/invitegate/invitegate/internal/store"
	"github.com/invitegate/invitegate/internal/telegram"
)

type sentText struct {
	target telegram.Target
	text   string
}

type fakePlatform struct {
	identity  telegram.Identity
	texts     []sentText
	keyboards [][][]telegram.Button
	answers   []string
	sendErr   error
}

func (f *fakePlatform) Identity() telegram.Identity { return f.identity }

func (f *fakePlatform) Updates(ctx context.Context) <-chan telegram.Update {
	ch := make(chan telegram.Update)
	close(ch)
	return ch
}

func (f *fakePlatform) SendText(ctx context.Context, t telegram.Target, text string) (int, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.texts = append(f.texts, sentText{target: t, text: text})
	return len(f.texts), nil
}

func (f *fakePlatform) SendTextKeyboard(ctx context.Context, t telegram.Target, text string, rows [][]telegram.Button) (int, error) {
	f.texts = append(f.texts, sentText{target: t, text: text})
	f.keyboards = append(f.keyboards, rows)
	return len(f.texts), nil
}

func (f *fakePlatform) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	f.answers = append(f.answers, callbackID+":"+text)
	return nil
}

type fakeIssuer struct {
	link string
	err  error
}

func (f *fakeIssuer) IssueOrGet(ctx context.Context, tgUserID int64) (string, error) {
	return f.link, f.err
}

type fakeAttributor struct {
	stats    attribution.Stats
	statsErr error
	joins    []string
}

func (f *fakeAttributor) AttributeJoin(ctx context.Context, link string, joiningUserID int64) bool {
	f.joins = append(f.joins, link)
	return link != ""
}

func (f *fakeAttributor) StatsFor(ctx context.Context, tgUserID int64) (attribution.Stats, error) {
	return f.stats, f.statsErr
}

type fakeRouter struct {
	topicID    int64
	topicErr   error
	relayOK    bool
	relayed    []telegram.Content
	targets    []telegram.Target
	prefixes   []string
	resolveID  int64
	resolveErr error
}

func (f *fakeRouter) TopicFor(ctx context.Context, p relay.Participant) (int64, error) {
	return f.topicID, f.topicErr
}

func (f *fakeRouter) Relay(ctx context.Context, content telegram.Content, target telegram.Target, prefix string) bool {
	f.relayed = append(f.relayed, content)
	f.targets = append(f.targets, target)
	f.prefixes = append(f.prefixes, prefix)
	return f.relayOK
}

func (f *fakeRouter) ResolveReplyTarget(ctx context.Context, msg *telegram.Message) (int64, error) {
	return f.resolveID, f.resolveErr
}

type fakeBotStore struct {
	upserts     []int64
	submissions []store.Submission
	recent      []store.Submission
}

func (f *fakeBotStore) UpsertParticipant(ctx context.Context, tgUserID int64, username, firstName string) error {
	f.upserts = append(f.upserts, tgUserID)
	return nil
}

func (f *fakeBotStore) SaveSubmission(ctx context.Context, tgUserID int64, fileIDs []string, caption string) (int64, error) {
	f.submissions = append(f.submissions, store.Submission{TGUserID: tgUserID, FileIDs: fileIDs, Caption: caption})
	return int64(len(f.submissions)), nil
}

func (f *fakeBotStore) RecentSubmissions(ctx context.Context, limit int32) ([]store.Submission, error) {
	return f.recent, nil
}

type fixture struct {
	bot        *Bot
	platform   *fakePlatform
	issuer     *fakeIssuer
	attributor *fakeAttributor
	router     *fakeRouter
	store      *fakeBotStore
}

func newFixture() *fixture {
	f := &fixture{
		platform:   &fakePlatform{identity: telegram.Identity{ID: 999, Username: "gatebot"}},
		issuer:     &fakeIssuer{link: "https://t.me/+x"},
		attributor: &fakeAttributor{stats: attribution.Stats{Joins: 3, Rank: 2, Ranked: true, Total: 10}},
		router:     &fakeRouter{topicID: 17, relayOK: true},
		store:      &fakeBotStore{},
	}
	cfg, _ := config.Load("/nonexistent")
	cfg.Telegram.StaffChatID = -100456
	cfg.Telegram.ChannelID = -100123
	f.bot = New(nil, f.platform, f.issuer, f.attributor, f.router, f.store, cfg)
	return f
}

func privateMessage(userID int64, text string) *telegram.Message {
	msg := &telegram.Message{}
	msg.Chat = &tgbotapi.Chat{ID: userID, Type: "private"}
	msg.From = &tgbotapi.User{ID: userID, UserName: "ada", FirstName: "Ada"}
	msg.Text = text
	return msg
}

func staffMessage(text string, threadID int64) *telegram.Message {
	msg := &telegram.Message{MessageThreadID: threadID, IsTopicMessage: threadID != 0}
	msg.Chat = &tgbotapi.Chat{ID: -100456, Type: "supergroup"}
	msg.From = &tgbotapi.User{ID: 7, UserName: "staffer"}
	msg.Text = text
	return msg
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "start", commandName("/start"))
	assert.Equal(t, "start", commandName("/START@GateBot extra"))
	assert.Equal(t, "reply", commandName("  /reply hello"))
	assert.Equal(t, "", commandName("hello"))
	assert.Equal(t, "", commandName(""))
}

func TestStartSendsCampaignMessage(t *testing.T) {
	f := newFixture()
	err := f.bot.dispatch(context.Background(), telegram.Update{Message: privateMessage(42, "/start")})
	require.NoError(t, err)

	assert.Equal(t, []int64{42}, f.store.upserts)
	require.Len(t, f.platform.texts, 1)
	sent := f.platform.texts[0].text
	assert.Contains(t, sent, "Total Invited: 3")
	assert.Contains(t, sent, "Rank: 2")
	assert.Contains(t, sent, "https://t.me/+x", "placeholder replaced with the link")
	assert.NotContains(t, sent, config.InviteLinkPlaceholder)

	require.Len(t, f.platform.keyboards, 1)
	rows := f.platform.keyboards[0]
	require.Len(t, rows, 3)
	assert.Contains(t, rows[0][0].URL, "https://t.me/share/url?")
	assert.Equal(t, "https://t.me/gatebot", rows[1][0].URL)
	assert.Equal(t, "my_stats", rows[2][1].Data)
}

func TestStartIssuanceFailureGetsRetryMessage(t *testing.T) {
	f := newFixture()
	f.issuer.err = errors.New("missing rights")

	err := f.bot.dispatch(context.Background(), telegram.Update{Message: privateMessage(42, "/start")})
	require.NoError(t, err)
	require.Len(t, f.platform.texts, 1)
	assert.Equal(t, issuanceFailedReply, f.platform.texts[0].text)
	assert.Empty(t, f.platform.keyboards)
}

func TestCallbackMyStats(t *testing.T) {
	f := newFixture()
	cb := &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    "my_stats",
		From:    &tgbotapi.User{ID: 42, UserName: "ada"},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
	}
	err := f.bot.dispatch(context.Background(), telegram.Update{CallbackQuery: cb})
	require.NoError(t, err)
	require.Len(t, f.platform.texts, 1)
	assert.Contains(t, f.platform.texts[0].text, "Total invited (via your link): 3")
	assert.Contains(t, f.platform.texts[0].text, "Rank: 2/10")
	assert.Len(t, f.platform.answers, 1)
}

func TestCallbackMyStatsUnranked(t *testing.T) {
	f := newFixture()
	f.attributor.stats = attribution.Stats{Joins: 0, Total: 10}
	cb := &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    "my_stats",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
	}
	require.NoError(t, f.bot.handleCallback(context.Background(), cb))
	assert.Contains(t, f.platform.texts[0].text, "Unranked (0/10)")
}

func TestCallbackNoopAlerts(t *testing.T) {
	f := newFixture()
	cb := &tgbotapi.CallbackQuery{ID: "cb2", Data: "noop", From: &tgbotapi.User{ID: 42}}
	require.NoError(t, f.bot.handleCallback(context.Background(), cb))
	require.Len(t, f.platform.answers, 1)
	assert.Contains(t, f.platform.answers[0], proofHint)
}

func TestUserTextRelayedWithPrefix(t *testing.T) {
	f := newFixture()
	err := f.bot.dispatch(context.Background(), telegram.Update{Message: privateMessage(42, "help me")})
	require.NoError(t, err)

	require.Len(t, f.router.relayed, 1)
	assert.Equal(t, telegram.KindText, f.router.relayed[0].Kind)
	assert.Equal(t, telegram.Target{ChatID: -100456, ThreadID: 17}, f.router.targets[0])
	assert.Equal(t, "From: @ada (ID: 42) - Ada", f.router.prefixes[0])
	assert.Empty(t, f.store.submissions, "text is not a submission")

	require.Len(t, f.platform.texts, 1)
	assert.Equal(t, ackText, f.platform.texts[0].text)
}

func TestUserMediaRecordedAsSubmission(t *testing.T) {
	f := newFixture()
	msg := privateMessage(42, "")
	msg.Caption = "week 3 proof"
	msg.Photo = []tgbotapi.PhotoSize{{FileID: "p1", FileSize: 9}}

	err := f.bot.dispatch(context.Background(), telegram.Update{Message: msg})
	require.NoError(t, err)

	require.Len(t, f.store.submissions, 1)
	assert.Equal(t, []string{"p1"}, f.store.submissions[0].FileIDs)
	assert.Equal(t, "week 3 proof", f.store.submissions[0].Caption)

	// Metadata header into the topic, then the ack to the user.
	require.Len(t, f.platform.texts, 2)
	assert.Contains(t, f.platform.texts[0].text, "Submission #1 from @ada (ID: 42)")
	assert.Equal(t, telegram.Target{ChatID: -100456, ThreadID: 17}, f.platform.texts[0].target)
	assert.Equal(t, ackMedia, f.platform.texts[1].text)
}

func TestUserMessageDegradesWhenTopicFails(t *testing.T) {
	f := newFixture()
	f.router.topicErr = relay.ErrTopicCreationFailed

	err := f.bot.dispatch(context.Background(), telegram.Update{Message: privateMessage(42, "hi")})
	require.NoError(t, err)
	require.Len(t, f.router.targets, 1)
	assert.Equal(t, telegram.Target{ChatID: -100456}, f.router.targets[0], "unthreaded staff chat")
}

func TestUserMessageRelayFailureAck(t *testing.T) {
	f := newFixture()
	f.router.relayOK = false

	err := f.bot.dispatch(context.Background(), telegram.Update{Message: privateMessage(42, "hi")})
	require.NoError(t, err)
	require.Len(t, f.platform.texts, 1)
	assert.Equal(t, relayFailedReply, f.platform.texts[0].text)
}

func TestStaffTopicMessageRelayedWithoutPrefix(t *testing.T) {
	f := newFixture()
	f.router.resolveID = 42

	err := f.bot.dispatch(context.Background(), telegram.Update{Message: staffMessage("we got it", 17)})
	require.NoError(t, err)
	require.Len(t, f.router.relayed, 1)
	assert.Equal(t, telegram.Target{ChatID: 42}, f.router.targets[0])
	assert.Equal(t, "", f.router.prefixes[0])
}

func TestStaffGeneralMessageIgnored(t *testing.T) {
	f := newFixture()
	err := f.bot.dispatch(context.Background(), telegram.Update{Message: staffMessage("chatter", 0)})
	require.NoError(t, err)
	assert.Empty(t, f.router.relayed)
}

func TestStaffReply(t *testing.T) {
	f := newFixture()
	f.router.resolveID = 42
	msg := staffMessage("/reply on our way", 0)
	msg.ReplyToMessage = &tgbotapi.Message{Text: "From: @ada (ID: 42) - Ada"}

	err := f.bot.dispatch(context.Background(), telegram.Update{Message: msg})
	require.NoError(t, err)
	require.Len(t, f.platform.texts, 2)
	assert.Equal(t, telegram.Target{ChatID: 42}, f.platform.texts[0].target)
	assert.Equal(t, "on our way", f.platform.texts[0].text)
	assert.Equal(t, replySent, f.platform.texts[1].text)
}

func TestStaffReplyWithoutReplyToMessage(t *testing.T) {
	f := newFixture()
	err := f.bot.dispatch(context.Background(), telegram.Update{Message: staffMessage("/reply hi", 0)})
	require.NoError(t, err)
	require.Len(t, f.platform.texts, 1)
	assert.Equal(t, replyUsage, f.platform.texts[0].text)
}

func TestStaffReplyNoTarget(t *testing.T) {
	f := newFixture()
	f.router.resolveErr = relay.ErrTargetNotFound
	msg := staffMessage("/reply hi", 0)
	msg.ReplyToMessage = &tgbotapi.Message{Text: "no id here"}

	err := f.bot.dispatch(context.Background(), telegram.Update{Message: msg})
	require.NoError(t, err)
	assert.Equal(t, replyNoTarget, f.platform.texts[0].text)
}

func TestStaffReplyNoText(t *testing.T) {
	f := newFixture()
	f.router.resolveID = 42
	msg := staffMessage("/reply", 0)
	msg.ReplyToMessage = &tgbotapi.Message{Text: "ID: 42"}

	err := f.bot.dispatch(context.Background(), telegram.Update{Message: msg})
	require.NoError(t, err)
	assert.Equal(t, replyNoText, f.platform.texts[0].text)
}

func TestExportSubmissions(t *testing.T) {
	f := newFixture()
	f.store.recent = []store.Submission{
		{ID: 2, TGUserID: 42, FileIDs: []string{"a", "b"}, Caption: "second",
			CreatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)},
		{ID: 1, TGUserID: 7, FileIDs: []string{"c"}, Caption: "first",
			CreatedAt: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC), StaffHandled: true},
	}

	err := f.bot.dispatch(context.Background(), telegram.Update{Message: staffMessage("/export_submissions", 0)})
	require.NoError(t, err)
	require.Len(t, f.platform.texts, 1)
	lines := strings.Split(f.platform.texts[0].text, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2 | user:42 | files:a,b | caption:second | at:2026-08-30T12:00:00Z | handled:false", lines[0])
	assert.Equal(t, "1 | user:7 | files:c | caption:first | at:2026-08-29T12:00:00Z | handled:true", lines[1])
}

func TestExportEmpty(t *testing.T) {
	f := newFixture()
	err := f.bot.dispatch(context.Background(), telegram.Update{Message: staffMessage("/export_submissions", 0)})
	require.NoError(t, err)
	assert.Equal(t, "no submissions", f.platform.texts[0].text)
}

func TestJoinRequestDispatch(t *testing.T) {
	f := newFixture()
	req := &tgbotapi.ChatJoinRequest{
		From:       tgbotapi.User{ID: 42},
		InviteLink: &tgbotapi.ChatInviteLink{InviteLink: "https://t.me/+x"},
	}
	err := f.bot.dispatch(context.Background(), telegram.Update{ChatJoinRequest: req})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://t.me/+x"}, f.attributor.joins)
}

func TestBotMessagesIgnored(t *testing.T) {
	f := newFixture()
	msg := privateMessage(42, "hi")
	msg.From.IsBot = true
	err := f.bot.dispatch(context.Background(), telegram.Update{Message: msg})
	require.NoError(t, err)
	assert.Empty(t, f.router.relayed)
	assert.Empty(t, f.platform.texts)
}
