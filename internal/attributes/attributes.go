// Package attributes parses the game's attributes.xml into a match snapshot.
//
// The file is a flat list of <Attr name="..." value="..."/> elements. Player
// data lives under MissionBagPlayer_<team>_<slot>_<field> keys and team data
// under MissionBagTeam_<team>_<field>. The game rewrites the file in place,
// so callers must treat parse failures as transient and retry later.
package attributes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dealnotedev/hunt-stats/internal/storage"
)

// ErrNoPlayers is returned when the file parsed cleanly but holds no player
// entries, which happens while the game is still writing it out.
var ErrNoPlayers = errors.New("attributes contain no players")

// Player is one player entry of a parsed snapshot.
type Player struct {
	ProfileID  string
	Name       string
	MMR        int
	Teammate   bool
	KilledByMe int
	KilledMe   int
	DownedByMe int
	DownedMe   int
}

// Header identifies a parsed snapshot.
type Header struct {
	// Signature is a digest of every player's identity and interaction
	// counters; two reads of the same on-disk match produce the same value.
	Signature string
	// TeamID is a digest of the local team's profile ids.
	TeamID string
}

// Snapshot is the parsed form of one attributes file.
type Snapshot struct {
	Header  Header
	Players []Player
}

type attrXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type attributesXML struct {
	Attrs []attrXML `xml:"Attr"`
}

// Parse decodes raw attributes.xml bytes into a snapshot.
func Parse(data []byte) (*Snapshot, error) {
	var doc attributesXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode attributes xml: %w", err)
	}

	attrs := make(map[string]string, len(doc.Attrs))
	for _, a := range doc.Attrs {
		attrs[a.Name] = a.Value
	}

	numTeams := atoiDefault(attrs["MissionBagNumTeams"], 0)
	if numTeams <= 0 {
		return nil, ErrNoPlayers
	}

	var players []Player
	for team := 0; team < numTeams; team++ {
		own := attrs[fmt.Sprintf("MissionBagTeam_%d_ownteam", team)] == "true"
		numPlayers := atoiDefault(attrs[fmt.Sprintf("MissionBagTeam_%d_numplayers", team)], 3)

		for slot := 0; slot < numPlayers; slot++ {
			prefix := fmt.Sprintf("MissionBagPlayer_%d_%d_", team, slot)
			profileID := attrs[prefix+"profileid"]
			if profileID == "" {
				continue
			}

			players = append(players, Player{
				ProfileID:  profileID,
				Name:       attrs[prefix+"blood_line_name"],
				MMR:        atoiDefault(attrs[prefix+"mmr"], 0),
				Teammate:   own || attrs[prefix+"ispartner"] == "true",
				KilledByMe: atoiDefault(attrs[prefix+"killedbyme"], 0),
				KilledMe:   atoiDefault(attrs[prefix+"killedme"], 0),
				DownedByMe: atoiDefault(attrs[prefix+"downedbyme"], 0),
				DownedMe:   atoiDefault(attrs[prefix+"downedme"], 0),
			})
		}
	}

	if len(players) == 0 {
		return nil, ErrNoPlayers
	}

	return &Snapshot{
		Header: Header{
			Signature: signature(players),
			TeamID:    teamID(players),
		},
		Players: players,
	}, nil
}

// TeamFlagStore is the subset of storage the entity conversion consults.
type TeamFlagStore interface {
	IsTeamOutdated(ctx context.Context, teamID string) (bool, error)
}

// ToRecord converts the snapshot into a storage record, carrying forward the
// team's invalidation flag so a previously outdated composition stays
// excluded from team aggregates.
func (s *Snapshot) ToRecord(ctx context.Context, store TeamFlagStore) (*storage.MatchRecord, error) {
	teamOutdated, err := store.IsTeamOutdated(ctx, s.Header.TeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to check team flags: %w", err)
	}

	record := &storage.MatchRecord{
		Header: storage.MatchHeader{
			Signature:    s.Header.Signature,
			TeamID:       s.Header.TeamID,
			PlayedAt:     time.Now(),
			TeamOutdated: teamOutdated,
		},
	}

	for _, p := range s.Players {
		record.Players = append(record.Players, storage.PlayerRecord{
			ProfileID:  p.ProfileID,
			Name:       p.Name,
			MMR:        p.MMR,
			Teammate:   p.Teammate,
			KilledByMe: p.KilledByMe,
			KilledMe:   p.KilledMe,
			DownedByMe: p.DownedByMe,
			DownedMe:   p.DownedMe,
		})
	}
	return record, nil
}

// signature digests every player's identity and interaction counters. Lines
// are sorted so the result does not depend on slot order.
func signature(players []Player) string {
	lines := make([]string, 0, len(players))
	for _, p := range players {
		lines = append(lines, fmt.Sprintf("%s|%d|%d|%d|%d|%d|%t",
			p.ProfileID, p.MMR, p.KilledByMe, p.KilledMe, p.DownedByMe, p.DownedMe, p.Teammate))
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// teamID digests the sorted teammate profile ids, so the same squad maps to
// the same id across matches.
func teamID(players []Player) string {
	var ids []string
	for _, p := range players {
		if p.Teammate {
			ids = append(ids, p.ProfileID)
		}
	}
	sort.Strings(ids)

	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
