package tracker

import (
	"context"
	"sync"

	"github.com/dealnotedev/hunt-stats/internal/storage"
)

// fakeStore is an in-memory Store for tests. Aggregate values are whatever
// the test preloads; call counts allow asserting query avoidance.
type fakeStore struct {
	mu sync.Mutex

	nextID   int64
	matches  map[string]int64 // signature -> assigned id
	inserted []*storage.MatchHeader
	players  map[int64][]storage.PlayerRecord

	ownStats     *storage.OwnStats
	teamStats    map[string]*storage.TeamStats
	enemiesStats map[string]*storage.EnemyStats
	mostPlayed   *string
	teamOutdated map[string]bool

	teamStatsCalls  map[string]int
	outdateAllCalls int
	outdatedTeams   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		matches:        make(map[string]int64),
		players:        make(map[int64][]storage.PlayerRecord),
		ownStats:       &storage.OwnStats{},
		teamStats:      make(map[string]*storage.TeamStats),
		enemiesStats:   make(map[string]*storage.EnemyStats),
		teamOutdated:   make(map[string]bool),
		teamStatsCalls: make(map[string]int),
	}
}

func (f *fakeStore) InsertMatch(_ context.Context, header *storage.MatchHeader) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.matches[header.Signature]; ok {
		return 0, nil
	}
	f.nextID++
	f.matches[header.Signature] = f.nextID

	stored := *header
	stored.ID = f.nextID
	f.inserted = append(f.inserted, &stored)
	return f.nextID, nil
}

func (f *fakeStore) InsertPlayers(_ context.Context, rows []storage.PlayerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range rows {
		f.players[p.MatchID] = append(f.players[p.MatchID], p)
	}
	return nil
}

func (f *fakeStore) GetLastMatch(context.Context) (*storage.MatchHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.inserted) == 0 {
		return nil, nil
	}
	return f.inserted[len(f.inserted)-1], nil
}

func (f *fakeStore) GetMatchPlayers(_ context.Context, matchID int64) ([]storage.PlayerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.players[matchID], nil
}

func (f *fakeStore) GetOwnStats(context.Context) (*storage.OwnStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ownStats, nil
}

func (f *fakeStore) GetTeamStats(_ context.Context, teamID string) (*storage.TeamStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.teamStatsCalls[teamID]++
	// Return a copy so pointer identity in bundles proves query reuse.
	if s, ok := f.teamStats[teamID]; ok {
		c := *s
		return &c, nil
	}
	return &storage.TeamStats{TeamID: teamID}, nil
}

func (f *fakeStore) GetEnemiesStats(_ context.Context, profileIDs []string) (map[string]*storage.EnemyStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]*storage.EnemyStats)
	for _, id := range profileIDs {
		if s, ok := f.enemiesStats[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeStore) CalculateMostPlayedTeammate(context.Context, []string) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mostPlayed, nil
}

func (f *fakeStore) IsTeamOutdated(_ context.Context, teamID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teamOutdated[teamID], nil
}

func (f *fakeStore) OutdateAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outdateAllCalls++
	return nil
}

func (f *fakeStore) OutdateTeam(_ context.Context, teamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outdatedTeams = append(f.outdatedTeams, teamID)
	return nil
}

func (f *fakeStore) playerCount(matchID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.players[matchID])
}

func (f *fakeStore) teamStatsCallCount(teamID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teamStatsCalls[teamID]
}
