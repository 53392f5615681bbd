package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "hunt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testMatch(signature, teamID string) *MatchHeader {
	return &MatchHeader{
		Signature: signature,
		TeamID:    teamID,
		PlayedAt:  time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
	}
}

// TestInsertMatch_DuplicateSignatureReturnsZero verifies the storage-side
// idempotence sentinel: a repeated signature is rejected with id 0.
func TestInsertMatch_DuplicateSignatureReturnsZero(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.InsertMatch(ctx, testMatch("sig-1", "team-a"))
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	dup, err := db.InsertMatch(ctx, testMatch("sig-1", "team-a"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), dup)

	next, err := db.InsertMatch(ctx, testMatch("sig-2", "team-a"))
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

// TestGetLastMatch_Empty verifies nil is returned before any match exists.
func TestGetLastMatch_Empty(t *testing.T) {
	db := openTestDB(t)

	last, err := db.GetLastMatch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

// TestInsertPlayers_RoundTrip verifies player rows survive storage in order.
func TestInsertPlayers_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.InsertMatch(ctx, testMatch("sig-1", "team-a"))
	require.NoError(t, err)

	rows := []PlayerRecord{
		{MatchID: id, TeamID: "team-a", ProfileID: "p1", Name: "Ruth", MMR: 2700, Teammate: true},
		{MatchID: id, TeamID: "team-a", ProfileID: "p2", Name: "Felis", MMR: 2900, KilledByMe: 1, DownedMe: 2},
	}
	require.NoError(t, db.InsertPlayers(ctx, rows))

	got, err := db.GetMatchPlayers(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ProfileID)
	assert.True(t, got[0].Teammate)
	assert.Equal(t, 1, got[1].KilledByMe)
	assert.Equal(t, 2, got[1].DownedMe)
}

// TestAggregates_ExcludeOutdated verifies OutdateAll removes matches from own
// stats and OutdateTeam removes them from team stats only.
func TestAggregates_ExcludeOutdated(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.InsertMatch(ctx, testMatch("sig-1", "team-a"))
	require.NoError(t, err)
	require.NoError(t, db.InsertPlayers(ctx, []PlayerRecord{
		{MatchID: id, TeamID: "team-a", ProfileID: "e1", KilledByMe: 2, KilledMe: 1},
	}))

	own, err := db.GetOwnStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, own.Matches)
	assert.Equal(t, 2, own.Kills)
	assert.Equal(t, 1, own.Deaths)

	team, err := db.GetTeamStats(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, 1, team.Matches)

	require.NoError(t, db.OutdateTeam(ctx, "team-a"))

	team, err = db.GetTeamStats(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, 0, team.Matches)

	// Own stats are untouched by a per-team invalidation.
	own, err = db.GetOwnStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, own.Matches)

	outdated, err := db.IsTeamOutdated(ctx, "team-a")
	require.NoError(t, err)
	assert.True(t, outdated)

	require.NoError(t, db.OutdateAll(ctx))

	own, err = db.GetOwnStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, own.Matches)
}

// TestGetEnemiesStats verifies per-enemy aggregation across matches and that
// teammates never show up as enemies.
func TestGetEnemiesStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i, sig := range []string{"sig-1", "sig-2"} {
		id, err := db.InsertMatch(ctx, testMatch(sig, "team-a"))
		require.NoError(t, err)
		require.NoError(t, db.InsertPlayers(ctx, []PlayerRecord{
			{MatchID: id, TeamID: "team-a", ProfileID: "mate", Name: "Mate", Teammate: true, KilledByMe: 9},
			{MatchID: id, TeamID: "team-a", ProfileID: "foe", Name: "Foe", MMR: 2500 + i, KilledByMe: 1, DownedMe: 1},
		}))
	}

	stats, err := db.GetEnemiesStats(ctx, []string{"mate", "foe", "stranger"})
	require.NoError(t, err)

	require.Contains(t, stats, "foe")
	assert.Equal(t, 2, stats["foe"].Matches)
	assert.Equal(t, 2, stats["foe"].KilledByMe)
	assert.Equal(t, 2, stats["foe"].DownedMe)

	assert.NotContains(t, stats, "mate")
	assert.NotContains(t, stats, "stranger")
}

// TestCalculateMostPlayedTeammate verifies the identity heuristic needs at
// least two appearances and picks the most frequent candidate.
func TestCalculateMostPlayedTeammate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// One match only: not enough history to resolve.
	id, err := db.InsertMatch(ctx, testMatch("sig-1", "team-a"))
	require.NoError(t, err)
	require.NoError(t, db.InsertPlayers(ctx, []PlayerRecord{
		{MatchID: id, TeamID: "team-a", ProfileID: "me", Teammate: true},
		{MatchID: id, TeamID: "team-a", ProfileID: "friend", Teammate: true},
	}))

	got, err := db.CalculateMostPlayedTeammate(ctx, []string{"me", "friend"})
	require.NoError(t, err)
	assert.Nil(t, got)

	// Second match with a different friend: "me" is now most frequent.
	id, err = db.InsertMatch(ctx, testMatch("sig-2", "team-b"))
	require.NoError(t, err)
	require.NoError(t, db.InsertPlayers(ctx, []PlayerRecord{
		{MatchID: id, TeamID: "team-b", ProfileID: "me", Teammate: true},
		{MatchID: id, TeamID: "team-b", ProfileID: "other", Teammate: true},
	}))

	got, err = db.CalculateMostPlayedTeammate(ctx, []string{"me", "friend"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "me", *got)
}
