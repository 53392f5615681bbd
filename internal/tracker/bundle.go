package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/dealnotedev/hunt-stats/internal/broker"
	"github.com/dealnotedev/hunt-stats/internal/storage"
	"github.com/rs/zerolog/log"
)

// Store is the persistence surface the tracker depends on. *storage.DB
// implements it; tests substitute fakes.
// Note: This is separate from the storage package to allow for mocking in tests.
type Store interface {
	InsertMatch(ctx context.Context, header *storage.MatchHeader) (int64, error)
	InsertPlayers(ctx context.Context, rows []storage.PlayerRecord) error
	GetLastMatch(ctx context.Context) (*storage.MatchHeader, error)
	GetMatchPlayers(ctx context.Context, matchID int64) ([]storage.PlayerRecord, error)
	GetOwnStats(ctx context.Context) (*storage.OwnStats, error)
	GetTeamStats(ctx context.Context, teamID string) (*storage.TeamStats, error)
	GetEnemiesStats(ctx context.Context, profileIDs []string) (map[string]*storage.EnemyStats, error)
	CalculateMostPlayedTeammate(ctx context.Context, profileIDs []string) (*string, error)
	IsTeamOutdated(ctx context.Context, teamID string) (bool, error)
	OutdateAll(ctx context.Context) error
	OutdateTeam(ctx context.Context, teamID string) error
}

// HuntBundle is the published snapshot: the latest match with its rolling
// context. The Previous* fields describe the bundle that existed immediately
// before this one was computed; they are nil for the first bundle after
// startup or after an invalidation. A nil *HuntBundle on the feed is the
// explicit "no match loaded yet" value.
type HuntBundle struct {
	Match   *storage.MatchHeader   `json:"match"`
	Players []storage.PlayerRecord `json:"players"`
	// Me is the local player's profile id when history suffices to resolve it.
	Me        *string              `json:"me,omitempty"`
	OwnStats  *storage.OwnStats    `json:"ownStats"`
	TeamStats *storage.TeamStats   `json:"teamStats"`
	Enemies   []storage.EnemyStats `json:"enemies"`

	PreviousTeamStats *storage.TeamStats   `json:"previousTeamStats,omitempty"`
	PreviousOwnStats  *storage.OwnStats    `json:"previousOwnStats,omitempty"`
	PreviousMatch     *storage.MatchHeader `json:"previousMatch,omitempty"`
}

// Assembler owns the current bundle and recomputes it when a new match
// arrives or stored history is invalidated. The read-compute-publish sequence
// runs under one mutex so subscribers never observe a half-built bundle and
// two matches arriving back to back serialize as last-write-wins.
type Assembler struct {
	store   Store
	bundles *broker.Broker[*HuntBundle]

	mu      sync.Mutex // held across the storage round trips of one update
	current *HuntBundle
}

// NewAssembler creates an assembler publishing to the given broker.
func NewAssembler(store Store, bundles *broker.Broker[*HuntBundle]) *Assembler {
	return &Assembler{store: store, bundles: bundles}
}

// OnNewMatch persists the detected match and publishes the recomputed
// bundle. A storage rejection (assigned id 0) aborts the whole update: no
// player rows are written and the current bundle stays untouched.
func (a *Assembler) OnNewMatch(ctx context.Context, record *storage.MatchRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.current

	// Carry the team stats of the bundle being replaced when the squad is
	// unchanged; they already describe the state before this match.
	var prevTeam *storage.TeamStats
	if prev != nil && prev.Match != nil && prev.Match.TeamID == record.Header.TeamID {
		prevTeam = prev.TeamStats
	} else {
		fetched, err := a.store.GetTeamStats(ctx, record.Header.TeamID)
		if err != nil {
			return fmt.Errorf("failed to fetch previous team stats: %w", err)
		}
		prevTeam = fetched
	}

	matchID, err := a.store.InsertMatch(ctx, &record.Header)
	if err != nil {
		return fmt.Errorf("failed to persist match: %w", err)
	}
	if matchID == 0 {
		log.Debug().Str("signature", record.Header.Signature).Msg("match already stored, skipping update")
		return nil
	}
	record.Header.ID = matchID

	for i := range record.Players {
		record.Players[i].MatchID = matchID
		record.Players[i].TeamID = record.Header.TeamID
	}
	if err := a.store.InsertPlayers(ctx, record.Players); err != nil {
		return fmt.Errorf("failed to persist players: %w", err)
	}

	next, err := a.assemble(ctx, &record.Header, record.Players)
	if err != nil {
		return err
	}

	next.PreviousTeamStats = prevTeam
	if prev != nil {
		next.PreviousOwnStats = prev.OwnStats
		next.PreviousMatch = prev.Match
	}

	a.current = next
	a.bundles.Publish(next)
	log.Info().Int64("match_id", matchID).Str("team_id", record.Header.TeamID).
		Int("enemies", len(next.Enemies)).Msg("published new match bundle")
	return nil
}

// InvalidateAll marks every stored match outdated, then republishes from the
// latest persisted state with no previous context.
func (a *Assembler) InvalidateAll(ctx context.Context) error {
	if err := a.store.OutdateAll(ctx); err != nil {
		return err
	}
	return a.Refresh(ctx)
}

// InvalidateTeam marks one team's matches outdated, then republishes from
// the latest persisted state with no previous context.
func (a *Assembler) InvalidateTeam(ctx context.Context, teamID string) error {
	if err := a.store.OutdateTeam(ctx, teamID); err != nil {
		return err
	}
	return a.Refresh(ctx)
}

// Refresh rebuilds the bundle from the most recently persisted match and
// publishes it. Previous* fields are always absent after a refresh. When the
// store is empty it publishes the explicit "none yet" value.
func (a *Assembler) Refresh(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	last, err := a.store.GetLastMatch(ctx)
	if err != nil {
		return fmt.Errorf("failed to load last match: %w", err)
	}
	if last == nil {
		a.current = nil
		a.bundles.Publish(nil)
		return nil
	}

	players, err := a.store.GetMatchPlayers(ctx, last.ID)
	if err != nil {
		return fmt.Errorf("failed to load match players: %w", err)
	}

	next, err := a.assemble(ctx, last, players)
	if err != nil {
		return err
	}

	a.current = next
	a.bundles.Publish(next)
	return nil
}

// assemble computes a bundle for one match without Previous* fields. Caller
// holds the assembler lock.
func (a *Assembler) assemble(ctx context.Context, match *storage.MatchHeader, players []storage.PlayerRecord) (*HuntBundle, error) {
	enemies := selectEnemies(players)

	enemyIDs := make([]string, 0, len(enemies))
	for _, e := range enemies {
		enemyIDs = append(enemyIDs, e.ProfileID)
	}
	enemyStats, err := a.store.GetEnemiesStats(ctx, enemyIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch enemy stats: %w", err)
	}

	var teammateIDs []string
	for _, p := range players {
		if p.Teammate {
			teammateIDs = append(teammateIDs, p.ProfileID)
		}
	}
	me, err := a.store.CalculateMostPlayedTeammate(ctx, teammateIDs)
	if err != nil {
		// Identity resolution is best-effort; degrade to "unknown".
		log.Debug().Err(err).Msg("could not resolve local player identity")
		me = nil
	}

	own, err := a.store.GetOwnStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch own stats: %w", err)
	}
	team, err := a.store.GetTeamStats(ctx, match.TeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch team stats: %w", err)
	}

	bundle := &HuntBundle{
		Match:     match,
		Players:   players,
		Me:        me,
		OwnStats:  own,
		TeamStats: team,
	}
	for _, e := range enemies {
		if s, ok := enemyStats[e.ProfileID]; ok {
			bundle.Enemies = append(bundle.Enemies, *s)
		} else {
			// No history for this enemy yet; publish the current match's view.
			bundle.Enemies = append(bundle.Enemies, storage.EnemyStats{
				ProfileID:  e.ProfileID,
				Name:       e.Name,
				MMR:        e.MMR,
				Matches:    1,
				KilledByMe: e.KilledByMe,
				KilledMe:   e.KilledMe,
				DownedByMe: e.DownedByMe,
				DownedMe:   e.DownedMe,
			})
		}
	}
	return bundle, nil
}

// selectEnemies filters player rows down to opponents the tracked player
// actually traded with. Rows are keyed by profile id so a duplicated profile
// collapses to its last occurrence.
func selectEnemies(players []storage.PlayerRecord) []storage.PlayerRecord {
	byID := make(map[string]int)
	var enemies []storage.PlayerRecord

	for _, p := range players {
		if p.Teammate {
			continue
		}
		if p.KilledByMe == 0 && p.KilledMe == 0 && p.DownedByMe == 0 && p.DownedMe == 0 {
			continue
		}
		if i, ok := byID[p.ProfileID]; ok {
			enemies[i] = p
			continue
		}
		byID[p.ProfileID] = len(enemies)
		enemies = append(enemies, p)
	}
	return enemies
}
