// Package ability implements the equippable effects a caster can trigger. Each effect is a
// small state machine driven through the Effect interface; timed effects schedule their own
// expiry on the host's virtual clock.
package ability

import (
	"errors"
	"math"
	"time"

	"arenaclash/server/internal/combat"
	"arenaclash/server/internal/physics"
	"arenaclash/server/internal/simulation"
	"arenaclash/server/internal/state"
)

// Kind enumerates the ability variants.
type Kind uint8

const (
	KindTeleport Kind = iota + 1
	KindDecoy
	KindStealth
	KindParry
	KindHaste
)

var kindNames = map[Kind]string{
	KindTeleport: "teleport",
	KindDecoy:    "decoy_shot",
	KindStealth:  "stealth",
	KindParry:    "deflect_parry",
	KindHaste:    "haste",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a wire name onto a Kind.
func ParseKind(raw string) (Kind, bool) {
	for kind, name := range kindNames {
		if name == raw {
			return kind, true
		}
	}
	return 0, false
}

var (
	// ErrUnknownKind is returned when an effect is requested for a kind outside the catalog.
	ErrUnknownKind = errors.New("unknown ability kind")
	// ErrNoGround reports an aim ray that never reaches the arena floor.
	ErrNoGround = errors.New("aim ray does not reach the ground")
	// ErrNoNavPoint reports that no walkable point exists near the requested destination.
	ErrNoNavPoint = errors.New("no navigable point near destination")
	// ErrCasterGone reports that the caster handle no longer resolves.
	ErrCasterGone = errors.New("caster no longer exists")
)

// Visibility describes how opaque a caster looks. Ally applies to observers on the caster's
// team, Enemy to everybody else.
type Visibility struct {
	Team  combat.Team `json:"team" msgpack:"team"`
	Ally  float64     `json:"ally" msgpack:"ally"`
	Enemy float64     `json:"enemy" msgpack:"enemy"`
}

// Opaque is the default appearance.
var Opaque = Visibility{Ally: 1, Enemy: 1}

// AlphaFor resolves the opacity seen by an observer on observerTeam.
func (v Visibility) AlphaFor(observerTeam combat.Team) float64 {
	if observerTeam == v.Team {
		return v.Ally
	}
	return v.Enemy
}

// Host is the world surface an effect may touch. The authority implements it against its
// actor registry and every observer implements it against its mirrored actors.
type Host interface {
	Scheduler() *simulation.Scheduler
	RaycastGround(ray physics.Ray) (physics.Vec3, bool)
	SampleNav(point physics.Vec3, radius float64) (physics.Vec3, bool)
	Position(caster state.Handle) (physics.Vec3, bool)
	Teleport(caster state.Handle, to physics.Vec3)
	SpawnDecoy(caster state.Handle, aim physics.Ray) error
	SetVisibility(caster state.Handle, visibility Visibility)
	SetParry(caster state.Handle, enabled bool)
	Speed(caster state.Handle) (float64, bool)
	SetSpeed(caster state.Handle, speed float64)
}

// Activation is everything a request carries besides the caster.
type Activation struct {
	Aim  physics.Ray
	Team combat.Team
}

// Effect is one equipped ability instance owned by a single caster.
type Effect interface {
	Kind() Kind
	// Activate applies the effect. Timed effects restart their window when re-activated.
	Activate(host Host, caster state.Handle, activation Activation) error
	// Deactivate ends the effect early. It is safe to call at any time and more than once.
	Deactivate(host Host, caster state.Handle)
	Active() bool
}

// Params bundles the per variant parameter structs.
type Params struct {
	Teleport TeleportParams
	Stealth  StealthParams
	Parry    ParryParams
	Haste    HasteParams
}

// New builds the effect for kind.
func New(kind Kind, params Params) (Effect, error) {
	switch kind {
	case KindTeleport:
		return NewTeleport(params.Teleport), nil
	case KindDecoy:
		return NewDecoy(), nil
	case KindStealth:
		return NewStealth(params.Stealth), nil
	case KindParry:
		return NewParry(params.Parry), nil
	case KindHaste:
		return NewHaste(params.Haste), nil
	default:
		return nil, ErrUnknownKind
	}
}

func seconds(value float64) time.Duration {
	return time.Duration(math.Round(value * float64(time.Second)))
}

// window tracks a single pending expiry on the host scheduler.
type window struct {
	task *simulation.Task
}

func (w *window) open(host Host, duration time.Duration, expire func()) {
	w.close()
	w.task = host.Scheduler().After(duration, expire)
}

func (w *window) close() {
	if w.task != nil {
		w.task.Cancel()
		w.task = nil
	}
}
