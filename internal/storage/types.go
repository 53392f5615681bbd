package storage

import "time"

// MatchHeader identifies one parsed match snapshot.
type MatchHeader struct {
	// ID is assigned by InsertMatch; zero until persisted.
	ID int64
	// Signature uniquely identifies the parsed attributes snapshot.
	Signature string
	// TeamID identifies the local player's team composition.
	TeamID string
	// PlayedAt is when the match was recorded by the tracker.
	PlayedAt time.Time
	// Outdated marks the row as excluded from aggregates.
	Outdated bool
	// TeamOutdated marks the team's rows as excluded from team aggregates.
	TeamOutdated bool
}

// PlayerRecord is one player row of a match.
type PlayerRecord struct {
	MatchID    int64
	TeamID     string
	ProfileID  string
	Name       string
	MMR        int
	Teammate   bool
	KilledByMe int
	KilledMe   int
	DownedByMe int
	DownedMe   int
}

// MatchRecord is a match header plus its ordered player rows.
type MatchRecord struct {
	Header  MatchHeader
	Players []PlayerRecord
}

// OwnStats aggregates the local player's history.
type OwnStats struct {
	ProfileID string
	Matches   int
	Kills     int
	Deaths    int
	Downs     int
	Downed    int
}

// TeamStats aggregates one team composition's history.
type TeamStats struct {
	TeamID  string
	Matches int
	Kills   int
	Deaths  int
	Downs   int
	Downed  int
}

// EnemyStats aggregates the history against one enemy profile.
type EnemyStats struct {
	ProfileID  string
	Name       string
	MMR        int
	Matches    int
	KilledByMe int
	KilledMe   int
	DownedByMe int
	DownedMe   int
}
