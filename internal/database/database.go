package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

type Database struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path.
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	d := &Database{db: db}
	if err := d.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return d, nil
}

func (d *Database) Ping() error {
	return d.db.Ping()
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS guild_config (
		guild_id TEXT PRIMARY KEY,
		owner_id TEXT DEFAULT '',
		enabled INTEGER DEFAULT 1,
		anti_bot INTEGER DEFAULT 1,
		protections TEXT DEFAULT '{}',
		punishment TEXT DEFAULT 'ban',
		log_channel_id TEXT DEFAULT '',
		last_snapshot_at INTEGER DEFAULT 0,
		threats_blocked INTEGER DEFAULT 0,
		total_recoveries INTEGER DEFAULT 0,
		created_at INTEGER DEFAULT 0,
		updated_at INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS whitelist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		target_type TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(guild_id, target_id, target_type)
	);

	CREATE INDEX IF NOT EXISTS idx_whitelist_guild ON whitelist(guild_id);

	CREATE TABLE IF NOT EXISTS event_limits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		verb TEXT NOT NULL,
		max_actions INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(guild_id, verb)
	);

	CREATE INDEX IF NOT EXISTS idx_event_limits_guild ON event_limits(guild_id);

	CREATE TABLE IF NOT EXISTS banned_users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		banned_at INTEGER NOT NULL,
		banned_by TEXT NOT NULL,
		UNIQUE(guild_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_banned_users_guild ON banned_users(guild_id);

	CREATE TABLE IF NOT EXISTS event_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		verb TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		target_id TEXT DEFAULT '',
		action_taken TEXT NOT NULL,
		reason TEXT DEFAULT '',
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_event_logs_guild ON event_logs(guild_id, timestamp);
	`

	_, err := d.db.Exec(schema)
	return err
}

// LoadTenant reads a tenant profile. found is false when the tenant has never
// been saved; cfg is then nil.
func (d *Database) LoadTenant(guildID string) (cfg *config.TenantConfig, found bool, err error) {
	var row guildRow
	err = d.db.QueryRow(
		`SELECT guild_id, owner_id, enabled, anti_bot, protections, punishment, log_channel_id,
		        last_snapshot_at, threats_blocked, total_recoveries, created_at, updated_at
		 FROM guild_config WHERE guild_id = ?`,
		guildID,
	).Scan(&row.GuildID, &row.OwnerID, &row.Enabled, &row.AntiBot, &row.Protections, &row.Punishment,
		&row.LogChannelID, &row.LastSnapshotAt, &row.ThreatsBlocked, &row.TotalRecoveries, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	punishment, perr := models.ParsePunishment(row.Punishment)
	if perr != nil {
		punishment = models.PunishBan
	}

	cfg = config.NewTenantConfig(guildID, punishment)
	cfg.OwnerID = row.OwnerID
	cfg.Enabled = row.Enabled
	cfg.AntiBot = row.AntiBot
	cfg.LogChannelID = row.LogChannelID
	cfg.ThreatsBlocked = row.ThreatsBlocked
	cfg.TotalRecoveries = row.TotalRecoveries
	if row.LastSnapshotAt > 0 {
		cfg.LastSnapshotAt = time.Unix(row.LastSnapshotAt, 0)
	}
	if row.UpdatedAt > 0 {
		cfg.UpdatedAt = time.Unix(row.UpdatedAt, 0)
	}

	var toggles map[string]bool
	if row.Protections != "" {
		if err := json.Unmarshal([]byte(row.Protections), &toggles); err != nil {
			return nil, false, fmt.Errorf("protections of %s: %w", guildID, err)
		}
	}
	for name, on := range toggles {
		if v, ok := models.ParseVerb(name); ok {
			cfg.Protections[v] = on
		}
	}

	if err := d.loadWhitelist(cfg); err != nil {
		return nil, false, err
	}
	if err := d.loadLimits(cfg); err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func (d *Database) loadWhitelist(cfg *config.TenantConfig) error {
	rows, err := d.db.Query(
		`SELECT target_id, target_type FROM whitelist WHERE guild_id = ? ORDER BY id`,
		cfg.TenantID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, kind string
		if err := rows.Scan(&id, &kind); err != nil {
			return err
		}
		cfg.AddWhitelist(config.WhitelistKind(kind), id)
	}
	return rows.Err()
}

func (d *Database) loadLimits(cfg *config.TenantConfig) error {
	rows, err := d.db.Query(
		`SELECT verb, max_actions FROM event_limits WHERE guild_id = ?`,
		cfg.TenantID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var limit int
		if err := rows.Scan(&name, &limit); err != nil {
			return err
		}
		if v, ok := models.ParseVerb(name); ok && limit > 0 {
			cfg.Thresholds[v] = limit
		}
	}
	return rows.Err()
}

// SaveTenant writes a whole tenant profile in one transaction.
func (d *Database) SaveTenant(cfg *config.TenantConfig) error {
	toggles := make(map[string]bool, len(cfg.Protections))
	for v, on := range cfg.Protections {
		toggles[v.String()] = on
	}
	protections, err := json.Marshal(toggles)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	var lastSnapshot int64
	if !cfg.LastSnapshotAt.IsZero() {
		lastSnapshot = cfg.LastSnapshotAt.Unix()
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO guild_config (guild_id, owner_id, enabled, anti_bot, protections, punishment, log_channel_id,
		                           last_snapshot_at, threats_blocked, total_recoveries, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(guild_id) DO UPDATE SET
		   owner_id = excluded.owner_id, enabled = excluded.enabled, anti_bot = excluded.anti_bot,
		   protections = excluded.protections, punishment = excluded.punishment,
		   log_channel_id = excluded.log_channel_id, last_snapshot_at = excluded.last_snapshot_at,
		   threats_blocked = excluded.threats_blocked, total_recoveries = excluded.total_recoveries,
		   updated_at = excluded.updated_at`,
		cfg.TenantID, cfg.OwnerID, cfg.Enabled, cfg.AntiBot, string(protections), string(cfg.Punishment),
		cfg.LogChannelID, lastSnapshot, cfg.ThreatsBlocked, cfg.TotalRecoveries, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert guild_config: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM whitelist WHERE guild_id = ?`, cfg.TenantID); err != nil {
		return err
	}
	for kind, ids := range map[config.WhitelistKind][]string{
		config.WhitelistUser: cfg.WhitelistUsers,
		config.WhitelistRole: cfg.WhitelistRoles,
	} {
		for _, id := range ids {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO whitelist (guild_id, target_id, target_type, created_at) VALUES (?, ?, ?, ?)`,
				cfg.TenantID, id, string(kind), now,
			); err != nil {
				return fmt.Errorf("insert whitelist: %w", err)
			}
		}
	}

	if _, err := tx.Exec(`DELETE FROM event_limits WHERE guild_id = ?`, cfg.TenantID); err != nil {
		return err
	}
	for v, limit := range cfg.Thresholds {
		if limit < 1 {
			continue
		}
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO event_limits (guild_id, verb, max_actions, updated_at) VALUES (?, ?, ?, ?)`,
			cfg.TenantID, v.String(), limit, now,
		); err != nil {
			return fmt.Errorf("insert event_limits: %w", err)
		}
	}

	return tx.Commit()
}

// TenantIDs lists every tenant with a saved profile.
func (d *Database) TenantIDs() ([]string, error) {
	rows, err := d.db.Query(`SELECT guild_id FROM guild_config`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *Database) LogEvent(log *EventLog) error {
	if log.Timestamp == 0 {
		log.Timestamp = time.Now().Unix()
	}

	_, err := d.db.Exec(
		`INSERT INTO event_logs (guild_id, verb, actor_id, target_id, action_taken, reason, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.GuildID, log.Verb, log.ActorID, log.TargetID, log.ActionTaken, log.Reason, log.Timestamp,
	)
	return err
}

// GetRecentLogs returns the newest event logs of a guild first.
func (d *Database) GetRecentLogs(guildID string, limit int) ([]*EventLog, error) {
	rows, err := d.db.Query(
		`SELECT id, guild_id, verb, actor_id, target_id, action_taken, reason, timestamp
		 FROM event_logs WHERE guild_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		guildID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*EventLog
	for rows.Next() {
		var log EventLog
		if err := rows.Scan(&log.ID, &log.GuildID, &log.Verb, &log.ActorID, &log.TargetID, &log.ActionTaken, &log.Reason, &log.Timestamp); err != nil {
			return nil, err
		}
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}

func (d *Database) AddBannedUser(guildID, userID, reason, bannedBy string) error {
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO banned_users (guild_id, user_id, reason, banned_at, banned_by)
		 VALUES (?, ?, ?, ?, ?)`,
		guildID, userID, reason, time.Now().Unix(), bannedBy,
	)
	return err
}

func (d *Database) RemoveBannedUser(guildID, userID string) error {
	_, err := d.db.Exec(
		`DELETE FROM banned_users WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	)
	return err
}

func (d *Database) GetBannedUsers(guildID string) ([]*BannedUser, error) {
	rows, err := d.db.Query(
		`SELECT id, guild_id, user_id, reason, banned_at, banned_by
		 FROM banned_users WHERE guild_id = ? ORDER BY banned_at DESC`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*BannedUser
	for rows.Next() {
		var user BannedUser
		if err := rows.Scan(&user.ID, &user.GuildID, &user.UserID, &user.Reason, &user.BannedAt, &user.BannedBy); err != nil {
			return nil, err
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}
