package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsertMatch persists a match header and returns the assigned id. A match
// whose signature is already stored is rejected and the returned id is 0;
// callers treat that as the duplicate sentinel and abort their update.
func (d *DB) InsertMatch(ctx context.Context, header *MatchHeader) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO matches (signature, team_id, played_at, outdated, team_outdated)
		VALUES (?, ?, ?, ?, ?)
	`, header.Signature, header.TeamID, header.PlayedAt.UTC().Format(time.RFC3339), boolInt(header.Outdated), boolInt(header.TeamOutdated))
	if err != nil {
		return 0, fmt.Errorf("failed to insert match: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return 0, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return id, nil
}

// InsertPlayers persists all player rows of one match in a single transaction.
func (d *DB) InsertPlayers(ctx context.Context, rows []PlayerRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after Commit()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO players (match_id, team_id, profile_id, name, mmr, teammate,
			killed_by_me, killed_me, downed_by_me, downed_me)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare players statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range rows {
		if _, err := stmt.ExecContext(ctx, p.MatchID, p.TeamID, p.ProfileID, p.Name, p.MMR,
			boolInt(p.Teammate), p.KilledByMe, p.KilledMe, p.DownedByMe, p.DownedMe); err != nil {
			return fmt.Errorf("failed to insert player %s: %w", p.ProfileID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit players: %w", err)
	}
	return nil
}

// GetLastMatch returns the most recently inserted match header, or nil when
// the database holds no matches yet.
func (d *DB) GetLastMatch(ctx context.Context) (*MatchHeader, error) {
	var (
		h        MatchHeader
		playedAt string
		outdated int
		teamOut  int
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, signature, team_id, played_at, outdated, team_outdated
		FROM matches ORDER BY id DESC LIMIT 1
	`).Scan(&h.ID, &h.Signature, &h.TeamID, &playedAt, &outdated, &teamOut)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last match: %w", err)
	}

	h.PlayedAt, _ = time.Parse(time.RFC3339, playedAt)
	h.Outdated = outdated != 0
	h.TeamOutdated = teamOut != 0
	return &h, nil
}

// GetMatchPlayers returns the player rows of one match in insertion order.
func (d *DB) GetMatchPlayers(ctx context.Context, matchID int64) ([]PlayerRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT match_id, team_id, profile_id, name, mmr, teammate,
			killed_by_me, killed_me, downed_by_me, downed_me
		FROM players WHERE match_id = ? ORDER BY rowid
	`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match players: %w", err)
	}
	defer rows.Close()

	var players []PlayerRecord
	for rows.Next() {
		var (
			p        PlayerRecord
			teammate int
		)
		if err := rows.Scan(&p.MatchID, &p.TeamID, &p.ProfileID, &p.Name, &p.MMR, &teammate,
			&p.KilledByMe, &p.KilledMe, &p.DownedByMe, &p.DownedMe); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		p.Teammate = teammate != 0
		players = append(players, p)
	}
	return players, rows.Err()
}

// GetOwnStats aggregates the local player's interactions across all matches
// that have not been invalidated.
func (d *DB) GetOwnStats(ctx context.Context) (*OwnStats, error) {
	var s OwnStats
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT m.id),
			COALESCE(SUM(p.killed_by_me), 0), COALESCE(SUM(p.killed_me), 0),
			COALESCE(SUM(p.downed_by_me), 0), COALESCE(SUM(p.downed_me), 0)
		FROM matches m JOIN players p ON p.match_id = m.id
		WHERE m.outdated = 0
	`).Scan(&s.Matches, &s.Kills, &s.Deaths, &s.Downs, &s.Downed)
	if err != nil {
		return nil, fmt.Errorf("failed to query own stats: %w", err)
	}
	return &s, nil
}

// GetTeamStats aggregates interactions across the matches of one team
// composition, skipping matches invalidated globally or per team.
func (d *DB) GetTeamStats(ctx context.Context, teamID string) (*TeamStats, error) {
	s := TeamStats{TeamID: teamID}
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT m.id),
			COALESCE(SUM(p.killed_by_me), 0), COALESCE(SUM(p.killed_me), 0),
			COALESCE(SUM(p.downed_by_me), 0), COALESCE(SUM(p.downed_me), 0)
		FROM matches m JOIN players p ON p.match_id = m.id
		WHERE m.team_id = ? AND m.outdated = 0 AND m.team_outdated = 0
	`, teamID).Scan(&s.Matches, &s.Kills, &s.Deaths, &s.Downs, &s.Downed)
	if err != nil {
		return nil, fmt.Errorf("failed to query team stats: %w", err)
	}
	return &s, nil
}

// GetEnemiesStats aggregates the history against each of the given enemy
// profiles. Profiles with no recorded history are absent from the result.
func (d *DB) GetEnemiesStats(ctx context.Context, profileIDs []string) (map[string]*EnemyStats, error) {
	stats := make(map[string]*EnemyStats)
	if len(profileIDs) == 0 {
		return stats, nil
	}

	query := fmt.Sprintf(`
		SELECT p.profile_id, COUNT(DISTINCT p.match_id),
			COALESCE(SUM(p.killed_by_me), 0), COALESCE(SUM(p.killed_me), 0),
			COALESCE(SUM(p.downed_by_me), 0), COALESCE(SUM(p.downed_me), 0),
			MAX(p.rowid), p.name, p.mmr
		FROM players p JOIN matches m ON m.id = p.match_id
		WHERE m.outdated = 0 AND p.teammate = 0 AND p.profile_id IN (%s)
		GROUP BY p.profile_id
	`, placeholders(len(profileIDs)))

	rows, err := d.db.QueryContext(ctx, query, toArgs(profileIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enemies stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s       EnemyStats
			lastRow int64
		)
		if err := rows.Scan(&s.ProfileID, &s.Matches, &s.KilledByMe, &s.KilledMe,
			&s.DownedByMe, &s.DownedMe, &lastRow, &s.Name, &s.MMR); err != nil {
			return nil, fmt.Errorf("failed to scan enemy stats: %w", err)
		}
		stats[s.ProfileID] = &s
	}
	return stats, rows.Err()
}

// CalculateMostPlayedTeammate resolves which of the given teammate profile
// ids is most likely the local player, by counting how often each appears in
// the stored history. Returns nil when history is too thin to decide.
func (d *DB) CalculateMostPlayedTeammate(ctx context.Context, profileIDs []string) (*string, error) {
	if len(profileIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT p.profile_id, COUNT(DISTINCT p.match_id) AS n
		FROM players p
		WHERE p.teammate = 1 AND p.profile_id IN (%s)
		GROUP BY p.profile_id
		ORDER BY n DESC LIMIT 1
	`, placeholders(len(profileIDs)))

	var (
		profileID string
		count     int
	)
	err := d.db.QueryRowContext(ctx, query, toArgs(profileIDs)...).Scan(&profileID, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query most played teammate: %w", err)
	}

	// A single appearance is just the current match; not enough signal.
	if count < 2 {
		return nil, nil
	}
	return &profileID, nil
}

// IsTeamOutdated reports whether the most recent match of the given team was
// invalidated per team, so a recurring composition stays invalidated.
func (d *DB) IsTeamOutdated(ctx context.Context, teamID string) (bool, error) {
	var flag int
	err := d.db.QueryRowContext(ctx, `
		SELECT team_outdated FROM matches WHERE team_id = ? ORDER BY id DESC LIMIT 1
	`, teamID).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query team outdated flag: %w", err)
	}
	return flag != 0, nil
}

// OutdateAll excludes every stored match from future aggregates.
func (d *DB) OutdateAll(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `UPDATE matches SET outdated = 1`); err != nil {
		return fmt.Errorf("failed to outdate matches: %w", err)
	}
	return nil
}

// OutdateTeam excludes one team's matches from future team aggregates.
func (d *DB) OutdateTeam(ctx context.Context, teamID string) error {
	if _, err := d.db.ExecContext(ctx, `UPDATE matches SET team_outdated = 1 WHERE team_id = ?`, teamID); err != nil {
		return fmt.Errorf("failed to outdate team: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
