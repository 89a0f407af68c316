package database

// EventLog is one row of the incident history shown by /antinuke logs.
type EventLog struct {
	ID          int64
	GuildID     string
	Verb        string
	ActorID     string
	TargetID    string
	ActionTaken string
	Reason      string
	Timestamp   int64
}

// BannedUser is a user the bot banned as punishment.
type BannedUser struct {
	ID       int64
	GuildID  string
	UserID   string
	Reason   string
	BannedAt int64
	BannedBy string // bot user id
}

// guildRow mirrors guild_config.
type guildRow struct {
	GuildID         string
	OwnerID         string
	Enabled         bool
	AntiBot         bool
	Protections     string // JSON object keyed by verb name
	Punishment      string
	LogChannelID    string
	LastSnapshotAt  int64
	ThreatsBlocked  int64
	TotalRecoveries int64
	CreatedAt       int64
	UpdatedAt       int64
}
