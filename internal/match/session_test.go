package match

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"

	"arenaclash/server/internal/combat"
)

type stubResolver struct{}

func (stubResolver) ResolveProjectile(name string) string {
	if name == "Boomerang" {
		return name
	}
	return "Bullet"
}

func (stubResolver) ResolveAbility(name string) string {
	if name == "Parry" {
		return name
	}
	return "Blink"
}

func TestNewSessionLoadsEnvironmentCapacity(t *testing.T) {
	t.Setenv(envMatchID, "alpha")
	t.Setenv(envMatchMinPlayers, "2")
	t.Setenv(envMatchMaxPlayers, "8")

	clock := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	session, err := NewSession(WithSessionClock(clock))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	snapshot := session.Snapshot()
	if snapshot.MatchID != "alpha" || snapshot.State != StateWaiting {
		t.Fatalf("unexpected session: %+v", snapshot)
	}
	if snapshot.Capacity.MinPlayers != 2 || snapshot.Capacity.MaxPlayers != 8 {
		t.Fatalf("unexpected capacity: %+v", snapshot.Capacity)
	}
}

func TestJoinAndLeavePreservesSelections(t *testing.T) {
	session, err := NewSession(
		WithSessionMatchID("persistent"),
		WithSessionCapacity(Capacity{MinPlayers: 1, MaxPlayers: 2}),
		WithSessionClock(func() time.Time { return time.Unix(0, 0) }),
		WithSessionEnvLookup(nil),
		WithSessionResolver(stubResolver{}),
	)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	snapshot, err := session.Join(Player{ID: "player-1", Projectile: "Boomerang", Ability: "Nope"})
	if err != nil {
		t.Fatalf("join player-1: %v", err)
	}
	first, _ := snapshot.Player("player-1")
	if first.Projectile != "Boomerang" || first.Ability != "Blink" || first.Name != "player-1" {
		t.Fatalf("unexpected selections: %+v", first)
	}
	if _, err := session.Join(Player{ID: "player-2"}); err != nil {
		t.Fatalf("join player-2: %v", err)
	}
	if _, err := session.Join(Player{ID: "player-3"}); !errors.Is(err, ErrMatchFull) {
		t.Fatalf("expected match full error, got %v", err)
	}
	if _, err := session.Join(Player{ID: "  "}); !errors.Is(err, ErrInvalidPlayerID) {
		t.Fatalf("expected invalid id error, got %v", err)
	}

	afterLeave := session.Leave("player-2")
	if len(afterLeave.ActivePlayers) != 1 || afterLeave.ActivePlayers[0] != "player-1" {
		t.Fatalf("unexpected roster after leave: %+v", afterLeave.ActivePlayers)
	}

	//1.- Rejoining keeps the recorded selections and refreshes the name.
	snapshot, err = session.Join(Player{ID: "player-1", Name: "Ace", Projectile: "Mortar"})
	if err != nil {
		t.Fatalf("rejoin player-1: %v", err)
	}
	rejoined, _ := snapshot.Player("player-1")
	if rejoined.Name != "Ace" || rejoined.Projectile != "Boomerang" {
		t.Fatalf("unexpected rejoin state: %+v", rejoined)
	}
}

func TestSelectFallsBackToDefaults(t *testing.T) {
	session, err := NewSession(WithSessionEnvLookup(nil), WithSessionResolver(stubResolver{}))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := session.Select("ghost", "Bullet", ""); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("expected unknown player, got %v", err)
	}
	if _, err := session.Join(Player{ID: "p"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	player, err := session.Select("p", "Laser", "Parry")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if player.Projectile != "Bullet" || player.Ability != "Parry" {
		t.Fatalf("unexpected selection %+v", player)
	}
}

func TestShuffleTeamsSplitsRoster(t *testing.T) {
	session, err := NewSession(WithSessionEnvLookup(nil))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if _, err := session.Join(Player{ID: id}); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	snapshot := session.ShuffleTeams(rand.New(rand.NewSource(7)))
	counts := map[combat.Team]int{}
	for _, player := range snapshot.Players {
		counts[player.Team]++
	}
	if counts[combat.TeamA] != 2 || counts[combat.TeamB] != 3 {
		t.Fatalf("unexpected split %v", counts)
	}
	//1.- The same seed reproduces the same assignment.
	again := session.ShuffleTeams(rand.New(rand.NewSource(7)))
	for i := range snapshot.Players {
		if snapshot.Players[i].Team != again.Players[i].Team {
			t.Fatalf("shuffle not reproducible for %s", snapshot.Players[i].ID)
		}
	}
}

func TestLifecycleTransitions(t *testing.T) {
	session, err := NewSession(
		WithSessionEnvLookup(nil),
		WithSessionCapacity(Capacity{MinPlayers: 2}),
		WithSessionIDGenerator(func() string { return "rematch" }),
	)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := session.Join(Player{ID: "a"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := session.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected minimum roster error, got %v", err)
	}
	if _, err := session.Join(Player{ID: "b"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := session.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected missing team error, got %v", err)
	}
	if _, err := session.AssignTeam("a", combat.TeamNone); err == nil {
		t.Fatal("expected invalid team error")
	}
	if _, err := session.AssignTeam("a", combat.TeamA); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := session.AssignTeam("b", combat.TeamB); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := session.Finish(combat.TeamA); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected finish before start to fail, got %v", err)
	}
	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	over, err := session.Finish(combat.TeamB)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if over.State != StateOver || over.Winner != combat.TeamB {
		t.Fatalf("unexpected final snapshot %+v", over)
	}
	if _, err := session.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("over must be terminal, got %v", err)
	}

	//1.- Restart opens a fresh match and keeps teams.
	restarted := session.Restart()
	if restarted.MatchID != "rematch" || restarted.State != StateWaiting || restarted.Winner != combat.TeamNone {
		t.Fatalf("unexpected restart %+v", restarted)
	}
	if player, _ := restarted.Player("a"); player.Team != combat.TeamA {
		t.Fatalf("team lost on restart: %+v", player)
	}

	encoded, err := json.Marshal(over)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Winner != combat.TeamB {
		t.Fatalf("winner did not survive json: %s", encoded)
	}
}

func TestAdjustCapacityValidations(t *testing.T) {
	session, err := NewSession(
		WithSessionMatchID("beta"),
		WithSessionCapacity(Capacity{MinPlayers: 0, MaxPlayers: 3}),
		WithSessionEnvLookup(nil),
	)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := session.Join(Player{ID: id}); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	if _, err := session.AdjustCapacity(0, 2); err == nil {
		t.Fatalf("expected error when shrinking below active participants")
	}

	updated, err := session.AdjustCapacity(1, 4)
	if err != nil {
		t.Fatalf("adjust capacity: %v", err)
	}
	if updated.Capacity.MinPlayers != 1 || updated.Capacity.MaxPlayers != 4 {
		t.Fatalf("unexpected capacity: %+v", updated.Capacity)
	}
}
