package attribution

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invitegate/invitegate/internal/config"
	"github.com/invitegate/invitegate/internal/telegram"
)

type fakeStore struct {
	issued     map[string]bool
	recorded   map[string]bool
	existsErr  error
	recordErr  error
	joins      int64
	rank       int64
	ranked     bool
	total      int64
	recordHits int
}

func (f *fakeStore) InviteLinkExists(ctx context.Context, link string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.issued[link], nil
}

func (f *fakeStore) RecordJoin(ctx context.Context, link string, joinedUserID int64) (bool, error) {
	f.recordHits++
	if f.recordErr != nil {
		return false, f.recordErr
	}
	key := fmt.Sprintf("%s|%d", link, joinedUserID)
	if f.recorded[key] {
		return false, nil
	}
	if f.recorded == nil {
		f.recorded = map[string]bool{}
	}
	f.recorded[key] = true
	return true, nil
}

func (f *fakeStore) JoinCount(ctx context.Context, tgUserID int64) (int64, error) {
	return f.joins, nil
}

func (f *fakeStore) Rank(ctx context.Context, tgUserID int64) (int64, bool, int64, error) {
	return f.rank, f.ranked, f.total, nil
}

type fakePlatform struct {
	approveErr   error
	sendErr      error
	approvals    []int64
	sentMessages []string
	sentTargets  []telegram.Target
}

func (f *fakePlatform) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	f.approvals = append(f.approvals, userID)
	return f.approveErr
}

func (f *fakePlatform) SendText(ctx context.Context, t telegram.Target, text string) (int, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sentTargets = append(f.sentTargets, t)
	f.sentMessages = append(f.sentMessages, text)
	return 1, nil
}

func newAttributor(st *fakeStore, p *fakePlatform) *Service {
	return NewService(nil, st, p, config.TelegramConfig{ChannelID: -100123, StaffChatID: -100456})
}

func TestAttributeJoinRecordsAndNotifies(t *testing.T) {
	st := &fakeStore{issued: map[string]bool{"https://t.me/+x": true}}
	platform := &fakePlatform{}
	svc := newAttributor(st, platform)

	recorded := svc.AttributeJoin(context.Background(), "https://t.me/+x", 42)
	assert.True(t, recorded)
	assert.Equal(t, []int64{42}, platform.approvals)
	require.Len(t, platform.sentMessages, 1)
	assert.Contains(t, platform.sentMessages[0], "42")
	assert.Equal(t, int64(-100456), platform.sentTargets[0].ChatID)
}

func TestAttributeJoinDuplicateIsSilent(t *testing.T) {
	st := &fakeStore{issued: map[string]bool{"https://t.me/+x": true}}
	platform := &fakePlatform{}
	svc := newAttributor(st, platform)

	svc.AttributeJoin(context.Background(), "https://t.me/+x", 42)
	recorded := svc.AttributeJoin(context.Background(), "https://t.me/+x", 42)

	assert.False(t, recorded)
	assert.Equal(t, []int64{42, 42}, platform.approvals, "redelivery still approved")
	assert.Len(t, platform.sentMessages, 1, "no second notification")
}

func TestAttributeJoinForeignLinkApprovedUnrecorded(t *testing.T) {
	st := &fakeStore{issued: map[string]bool{}}
	platform := &fakePlatform{}
	svc := newAttributor(st, platform)

	recorded := svc.AttributeJoin(context.Background(), "https://t.me/+foreign", 42)
	assert.False(t, recorded)
	assert.Zero(t, st.recordHits)
	assert.Equal(t, []int64{42}, platform.approvals)
	assert.Empty(t, platform.sentMessages)
}

func TestAttributeJoinNoLinkStillApproved(t *testing.T) {
	platform := &fakePlatform{}
	svc := newAttributor(&fakeStore{}, platform)

	recorded := svc.AttributeJoin(context.Background(), "", 42)
	assert.False(t, recorded)
	assert.Equal(t, []int64{42}, platform.approvals)
}

func TestAttributeJoinAttributionSurvivesApprovalFailure(t *testing.T) {
	st := &fakeStore{issued: map[string]bool{"https://t.me/+x": true}}
	platform := &fakePlatform{approveErr: errors.New("not admin")}
	svc := newAttributor(st, platform)

	recorded := svc.AttributeJoin(context.Background(), "https://t.me/+x", 42)
	assert.True(t, recorded, "approval failure does not lose the join event")
	assert.Len(t, platform.sentMessages, 1)
}

func TestAttributeJoinApprovalSurvivesStoreFailure(t *testing.T) {
	st := &fakeStore{existsErr: errors.New("db down")}
	platform := &fakePlatform{}
	svc := newAttributor(st, platform)

	recorded := svc.AttributeJoin(context.Background(), "https://t.me/+x", 42)
	assert.False(t, recorded)
	assert.Equal(t, []int64{42}, platform.approvals)
}

func TestStatsFor(t *testing.T) {
	st := &fakeStore{joins: 7, rank: 2, ranked: true, total: 30}
	svc := newAttributor(st, &fakePlatform{})

	stats, err := svc.StatsFor(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.Joins)
	assert.Equal(t, "2", stats.RankDisplay())

	st.ranked = false
	stats, err = svc.StatsFor(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "-", stats.RankDisplay())
}
