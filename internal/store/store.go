package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Querier is the subset of pgxpool.Pool the store needs. pgxmock satisfies
// it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the single owner of persistent attribution state. Uniqueness
// constraints in the schema, not application locks, guard against duplicate
// inserts: racing writers treat "insert affected zero rows" as a benign
// no-op.
type Store struct {
	q      Querier
	logger *slog.Logger
}

// NewStore creates a Store over the given querier.
func NewStore(log *slog.Logger, q Querier) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		q:      q,
		logger: log.With(slog.String("service", "store")),
	}
}

// UpsertParticipant creates the participant on first contact and refreshes
// the display fields on subsequent ones.
func (s *Store) UpsertParticipant(ctx context.Context, tgUserID int64, username, firstName string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO participants (tg_user_id, username, first_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (tg_user_id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name`,
		tgUserID, username, firstName)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// InviteLinkByOwner returns the active invite link owned by the participant,
// or ErrNotFound.
func (s *Store) InviteLinkByOwner(ctx context.Context, tgUserID int64) (string, error) {
	var link string
	err := s.q.QueryRow(ctx,
		`SELECT invite_link FROM invite_links WHERE tg_user_id = $1 AND active`,
		tgUserID).Scan(&link)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("invite link by owner: %w", err)
	}
	return link, nil
}

// SaveInviteLink persists the link for the participant with an
// insert-if-absent write and reports whether the row was inserted. A racing
// duplicate call loses the insert and must re-read the stored winner; the
// existing mapping is never overwritten.
func (s *Store) SaveInviteLink(ctx context.Context, link string, tgUserID int64) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO invite_links (invite_link, tg_user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		link, tgUserID)
	if err != nil {
		return false, fmt.Errorf("save invite link: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InviteLinkExists reports whether the presented link was issued by this
// system and is still active.
func (s *Store) InviteLinkExists(ctx context.Context, link string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM invite_links WHERE invite_link = $1 AND active)`,
		link).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("invite link exists: %w", err)
	}
	return exists, nil
}

// RecordJoin appends a join event for (link, joiner) and reports whether a
// new row was written. Redelivered join notifications hit the uniqueness
// constraint and report false.
func (s *Store) RecordJoin(ctx context.Context, link string, joinedUserID int64) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO join_events (invite_link, joined_user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		link, joinedUserID)
	if err != nil {
		return false, fmt.Errorf("record join: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// JoinCount returns the number of joins attributed to the participant's link.
func (s *Store) JoinCount(ctx context.Context, tgUserID int64) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM join_events je
		JOIN invite_links il ON je.invite_link = il.invite_link
		WHERE il.tg_user_id = $1`,
		tgUserID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("join count: %w", err)
	}
	return count, nil
}

// Rank returns the participant's dense rank by descending attributed join
// count among all participants who own a link, and the total number of such
// participants. ok is false when the participant owns no link. Tie order
// among equal counts is whatever the window function yields.
func (s *Store) Rank(ctx context.Context, tgUserID int64) (rank int64, ok bool, total int64, err error) {
	if err = s.q.QueryRow(ctx,
		`SELECT COUNT(DISTINCT tg_user_id) FROM invite_links`).Scan(&total); err != nil {
		return 0, false, 0, fmt.Errorf("rank total: %w", err)
	}
	err = s.q.QueryRow(ctx, `
		SELECT rank FROM (
			SELECT il.tg_user_id,
			       DENSE_RANK() OVER (ORDER BY COUNT(je.id) DESC) AS rank
			FROM invite_links il
			LEFT JOIN join_events je ON je.invite_link = il.invite_link
			GROUP BY il.tg_user_id
		) ranked
		WHERE tg_user_id = $1`,
		tgUserID).Scan(&rank)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, total, nil
	}
	if err != nil {
		return 0, false, total, fmt.Errorf("rank: %w", err)
	}
	return rank, true, total, nil
}

// Leaderboard returns up to limit (participant, join count) rows ordered by
// descending attributed joins.
func (s *Store) Leaderboard(ctx context.Context, limit int32) ([]LeaderboardRow, error) {
	rows, err := s.q.Query(ctx, `
		SELECT il.tg_user_id, COALESCE(p.username, ''), COALESCE(p.first_name, ''), COUNT(je.id) AS joins
		FROM invite_links il
		JOIN participants p ON p.tg_user_id = il.tg_user_id
		LEFT JOIN join_events je ON je.invite_link = il.invite_link
		GROUP BY il.tg_user_id, p.username, p.first_name
		ORDER BY joins DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()
	items := make([]LeaderboardRow, 0, limit)
	for rows.Next() {
		var row LeaderboardRow
		if err := rows.Scan(&row.TGUserID, &row.Username, &row.FirstName, &row.Joins); err != nil {
			return nil, fmt.Errorf("leaderboard scan: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leaderboard rows: %w", err)
	}
	return items, nil
}

// TopicByUser returns the remembered topic id for the participant, or
// ErrNotFound.
func (s *Store) TopicByUser(ctx context.Context, tgUserID int64) (int64, error) {
	var topicID int64
	err := s.q.QueryRow(ctx,
		`SELECT topic_id FROM support_topics WHERE tg_user_id = $1`,
		tgUserID).Scan(&topicID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("topic by user: %w", err)
	}
	return topicID, nil
}

// UserByTopic resolves the participant owning a topic id, or ErrNotFound.
// This is the staff-to-participant direction of the bijection.
func (s *Store) UserByTopic(ctx context.Context, topicID int64) (int64, error) {
	var tgUserID int64
	err := s.q.QueryRow(ctx,
		`SELECT tg_user_id FROM support_topics WHERE topic_id = $1`,
		topicID).Scan(&tgUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("user by topic: %w", err)
	}
	return tgUserID, nil
}

// SaveTopic upserts the participant's topic mapping. One row per
// participant; a re-save replaces the remembered topic.
func (s *Store) SaveTopic(ctx context.Context, tgUserID, topicID int64, topicName string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO support_topics (tg_user_id, topic_id, topic_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (tg_user_id) DO UPDATE SET
			topic_id = EXCLUDED.topic_id,
			topic_name = EXCLUDED.topic_name`,
		tgUserID, topicID, topicName)
	if err != nil {
		return fmt.Errorf("save topic: %w", err)
	}
	return nil
}

// DeleteTopic discards the participant's topic mapping, used when a probe
// shows the remembered topic no longer exists.
func (s *Store) DeleteTopic(ctx context.Context, tgUserID int64) error {
	_, err := s.q.Exec(ctx,
		`DELETE FROM support_topics WHERE tg_user_id = $1`, tgUserID)
	if err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}
	return nil
}

// SaveSubmission appends a proof submission and returns its id.
func (s *Store) SaveSubmission(ctx context.Context, tgUserID int64, fileIDs []string, caption string) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO submissions (tg_user_id, file_ids, caption)
		VALUES ($1, $2, $3)
		RETURNING id`,
		tgUserID, strings.Join(fileIDs, ","), caption).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save submission: %w", err)
	}
	return id, nil
}

// RecentSubmissions returns up to limit submissions, newest first.
func (s *Store) RecentSubmissions(ctx context.Context, limit int32) ([]Submission, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, tg_user_id, file_ids, caption, created_at, staff_handled
		FROM submissions
		ORDER BY created_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("recent submissions: %w", err)
	}
	defer rows.Close()
	items := make([]Submission, 0, limit)
	for rows.Next() {
		var item Submission
		var fileIDs string
		if err := rows.Scan(&item.ID, &item.TGUserID, &fileIDs, &item.Caption, &item.CreatedAt, &item.StaffHandled); err != nil {
			return nil, fmt.Errorf("submission scan: %w", err)
		}
		if fileIDs != "" {
			item.FileIDs = strings.Split(fileIDs, ",")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("submission rows: %w", err)
	}
	return items, nil
}
