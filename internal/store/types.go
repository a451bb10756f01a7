package store

import "time"

// Participant is a chat-platform identity that has interacted with the bot.
// Rows are never deleted; display fields are refreshed on every interaction.
type Participant struct {
	TGUserID  int64
	Username  string
	FirstName string
	CreatedAt time.Time
}

// Topic maps a participant to their dedicated staff-side forum topic.
type Topic struct {
	TGUserID  int64
	TopicID   int64
	TopicName string
	CreatedAt time.Time
}

// Submission records user-submitted proof content. StaffHandled is present
// in the schema but not mutated by any current code path.
type Submission struct {
	ID           int64
	TGUserID     int64
	FileIDs      []string
	Caption      string
	CreatedAt    time.Time
	StaffHandled bool
}

// LeaderboardRow is one ordered (participant, attributed join count) pair
// from the ranking query.
type LeaderboardRow struct {
	TGUserID  int64
	Username  string
	FirstName string
	Joins     int64
}
