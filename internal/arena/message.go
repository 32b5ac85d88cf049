// Package arena is the authoritative combat simulation: the actor registry, projectile
// entities and their collisions, the shooter and caster request protocol, and the client
// side initiator that gates, channels and sends those requests.
package arena

import (
	"arenaclash/server/internal/ability"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/physics"
	"arenaclash/server/internal/state"
	"arenaclash/server/internal/tuning"
)

// Kind discriminates wire messages.
type Kind string

// Requests travel from a client to the authority.
const (
	KindSpawnProjectile Kind = "spawn_projectile"
	KindUseAbility      Kind = "use_ability"
	KindFace            Kind = "face"
	KindSteer           Kind = "steer"
	KindMove            Kind = "move"
	KindSelect          Kind = "select"
	KindRestart         Kind = "restart"
)

// Broadcasts travel from the authority to observers.
const (
	KindProjectileSpawned   Kind = "projectile_spawned"
	KindProjectileSteered   Kind = "projectile_steered"
	KindProjectileDespawned Kind = "projectile_despawned"
	KindTickDiff            Kind = "tick_diff"
	KindAbilityEquipped     Kind = "ability_equipped"
	KindAbilityActivated    Kind = "ability_activated"
	KindVisibilityChanged   Kind = "visibility_changed"
	KindHealthChanged       Kind = "health_changed"
	KindCooldownAdjust      Kind = "cooldown_adjust"
	KindActorMoved          Kind = "actor_moved"
	KindHealCountdown       Kind = "heal_countdown"
	KindHealVolume          Kind = "heal_volume"
	KindMatchOver           Kind = "match_over"
	KindMatchState          Kind = "match_state"
	KindTuningChanged       Kind = "tuning_changed"
)

// IsRequest reports whether clients may send messages of this kind.
func (k Kind) IsRequest() bool {
	switch k {
	case KindSpawnProjectile, KindUseAbility, KindFace, KindSteer, KindMove, KindSelect, KindRestart:
		return true
	default:
		return false
	}
}

// Audience restricts who receives a broadcast.
type Audience uint8

const (
	// AudienceAll delivers to every observer.
	AudienceAll Audience = iota
	// AudienceOwner delivers only to the observer controlling Message.Actor.
	AudienceOwner
)

// Cooldown slots addressed by cooldown_adjust.
const (
	SlotProjectile = "projectile"
	SlotAbility    = "ability"
)

// Cooldown adjustment modes.
const (
	AdjustReduce = "reduce"
	AdjustReset  = "reset"
)

// Message is the single flat envelope used for requests and broadcasts. Fields irrelevant to
// a kind stay at their zero value and are omitted on the wire.
type Message struct {
	Kind     Kind     `json:"kind" msgpack:"kind"`
	Seq      uint64   `json:"seq,omitempty" msgpack:"seq,omitempty"`
	Tick     uint64   `json:"tick,omitempty" msgpack:"tick,omitempty"`
	Audience Audience `json:"-" msgpack:"-"`

	// Actor is the issuing or affected actor id; Target is a projectile id or the attacker.
	Actor  string `json:"actor,omitempty" msgpack:"actor,omitempty"`
	Target string `json:"target,omitempty" msgpack:"target,omitempty"`

	Variant string `json:"variant,omitempty" msgpack:"variant,omitempty"`
	Ability string `json:"ability,omitempty" msgpack:"ability,omitempty"`
	Team    string `json:"team,omitempty" msgpack:"team,omitempty"`

	Aim       *physics.Ray  `json:"aim,omitempty" msgpack:"aim,omitempty"`
	Direction *physics.Vec3 `json:"direction,omitempty" msgpack:"direction,omitempty"`
	Position  *physics.Vec3 `json:"position,omitempty" msgpack:"position,omitempty"`
	Lateral   float64       `json:"lateral,omitempty" msgpack:"lateral,omitempty"`

	Value   int     `json:"value,omitempty" msgpack:"value,omitempty"`
	Max     int     `json:"max,omitempty" msgpack:"max,omitempty"`
	Amount  int     `json:"amount,omitempty" msgpack:"amount,omitempty"`
	Seconds float64 `json:"seconds,omitempty" msgpack:"seconds,omitempty"`
	Slot    string  `json:"slot,omitempty" msgpack:"slot,omitempty"`
	Mode    string  `json:"mode,omitempty" msgpack:"mode,omitempty"`
	Open    bool    `json:"open,omitempty" msgpack:"open,omitempty"`
	Winner  string  `json:"winner,omitempty" msgpack:"winner,omitempty"`
	Reason  string  `json:"reason,omitempty" msgpack:"reason,omitempty"`

	Cosmetic   bool                `json:"cosmetic,omitempty" msgpack:"cosmetic,omitempty"`
	Visibility *ability.Visibility `json:"visibility,omitempty" msgpack:"visibility,omitempty"`

	Diff   *state.TickDiff  `json:"diff,omitempty" msgpack:"diff,omitempty"`
	Match  *match.Snapshot  `json:"match,omitempty" msgpack:"match,omitempty"`
	Tuning *tuning.Snapshot `json:"tuning,omitempty" msgpack:"tuning,omitempty"`
}

// Rejection names why the authority dropped a request. Rejections are logged, never broadcast.
type Rejection string

const (
	RejectUnknownActor      Rejection = "unknown_actor"
	RejectNotOwner          Rejection = "not_owner"
	RejectMatchOver         Rejection = "match_over"
	RejectNotStarted        Rejection = "not_started"
	RejectOnCooldown        Rejection = "on_cooldown"
	RejectNoAbility         Rejection = "no_ability"
	RejectUnknownVariant    Rejection = "unknown_variant"
	RejectUnknownProjectile Rejection = "unknown_projectile"
	RejectDefeated          Rejection = "defeated"
	RejectUnsupported       Rejection = "unsupported"
	RejectNotOver           Rejection = "not_over"
)

func (r Rejection) Error() string { return "request rejected: " + string(r) }
