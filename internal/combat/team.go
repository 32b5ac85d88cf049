package combat

import (
	"fmt"
	"strings"
)

// Team identifies the side an actor fights for.
type Team uint8

const (
	TeamNone Team = iota
	TeamA
	TeamB
)

// String renders the team using the wire spelling.
func (t Team) String() string {
	switch t {
	case TeamA:
		return "A"
	case TeamB:
		return "B"
	default:
		return "None"
	}
}

// Valid reports whether the team is one a spawned player may belong to.
func (t Team) Valid() bool { return t == TeamA || t == TeamB }

// Opponent returns the other playable team, or TeamNone.
func (t Team) Opponent() Team {
	switch t {
	case TeamA:
		return TeamB
	case TeamB:
		return TeamA
	default:
		return TeamNone
	}
}

// ParseTeam accepts "A", "B" or "None" in any case.
func ParseTeam(raw string) (Team, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "A":
		return TeamA, nil
	case "B":
		return TeamB, nil
	case "", "NONE":
		return TeamNone, nil
	default:
		return TeamNone, fmt.Errorf("unknown team %q", raw)
	}
}

// Hostile reports whether an effect owned by attacker may hurt a member of defender.
// Unassigned actors are never hostile to anyone.
func Hostile(attacker, defender Team) bool {
	return attacker.Valid() && defender.Valid() && attacker != defender
}

// Allied reports whether both actors are on the same playable team.
func Allied(a, b Team) bool {
	return a.Valid() && a == b
}

// MarshalText encodes the team with its wire spelling.
func (t Team) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes the wire spelling.
func (t *Team) UnmarshalText(data []byte) error {
	parsed, err := ParseTeam(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
