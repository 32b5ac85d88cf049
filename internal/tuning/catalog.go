// Package tuning owns the variant catalog: the baked projectile and ability definitions plus
// the developer override panel that can replace them live.
package tuning

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	_ "embed"

	"arenaclash/server/internal/ability"
	"arenaclash/server/internal/motion"
	"arenaclash/server/internal/physics"
)

const (
	// DefaultProjectile is used whenever a selection names no known projectile.
	DefaultProjectile = "Bullet"
	// DefaultAbility is used whenever a selection names no known ability.
	DefaultAbility = "Blink"
)

// ProjectileSpec defines one selectable projectile.
type ProjectileSpec struct {
	Kind            string  `json:"kind" yaml:"kind"`
	Damage          int     `json:"damage" yaml:"damage"`
	Speed           float64 `json:"speed" yaml:"speed"`
	CooldownSeconds float64 `json:"cooldown_seconds" yaml:"cooldown_seconds"`

	Straight  *motion.StraightParams  `json:"straight,omitempty" yaml:"straight,omitempty"`
	Boomerang *motion.BoomerangParams `json:"boomerang,omitempty" yaml:"boomerang,omitempty"`
	Lob       *motion.LobParams       `json:"lob,omitempty" yaml:"lob,omitempty"`
	Homing    *motion.HomingParams    `json:"homing,omitempty" yaml:"homing,omitempty"`
	Swing     *motion.SwingParams     `json:"swing,omitempty" yaml:"swing,omitempty"`
}

// MotionKind resolves the trajectory family.
func (s ProjectileSpec) MotionKind() motion.Kind {
	kind, _ := motion.ParseKind(s.Kind)
	return kind
}

// Cooldown returns the shooter cooldown after firing this projectile.
func (s ProjectileSpec) Cooldown() time.Duration { return seconds(s.CooldownSeconds) }

// MotionParams expands the optional blocks, falling back to the variant defaults.
func (s ProjectileSpec) MotionParams() motion.Params {
	params := motion.Params{
		Straight:  motion.DefaultStraightParams(),
		Boomerang: motion.DefaultBoomerangParams(),
		Lob:       motion.DefaultLobParams(),
		Homing:    motion.DefaultHomingParams(),
		Swing:     motion.DefaultSwingParams(),
	}
	if s.Straight != nil {
		params.Straight = *s.Straight
	}
	if s.Boomerang != nil {
		params.Boomerang = *s.Boomerang
	}
	if s.Lob != nil {
		params.Lob = *s.Lob
	}
	if s.Homing != nil {
		params.Homing = *s.Homing
	}
	if s.Swing != nil {
		params.Swing = *s.Swing
	}
	return params
}

// Validate rejects specs the simulation cannot run.
func (s ProjectileSpec) Validate() error {
	if _, ok := motion.ParseKind(s.Kind); !ok {
		return fmt.Errorf("%w: projectile kind %q", ErrInvalidSpec, s.Kind)
	}
	if s.Damage < 0 || s.Speed < 0 || s.CooldownSeconds < 0 {
		return fmt.Errorf("%w: negative projectile values", ErrInvalidSpec)
	}
	return nil
}

func (s ProjectileSpec) clone() ProjectileSpec {
	out := s
	out.Straight = clonePtr(s.Straight)
	out.Boomerang = clonePtr(s.Boomerang)
	out.Homing = clonePtr(s.Homing)
	out.Swing = clonePtr(s.Swing)
	if s.Lob != nil {
		lob := *s.Lob
		lob.SpeedCurve = clonePtr(s.Lob.SpeedCurve)
		out.Lob = &lob
	}
	return out
}

// AbilitySpec defines one selectable ability.
type AbilitySpec struct {
	Kind            string  `json:"kind" yaml:"kind"`
	CooldownSeconds float64 `json:"cooldown_seconds" yaml:"cooldown_seconds"`

	Teleport *ability.TeleportParams `json:"teleport,omitempty" yaml:"teleport,omitempty"`
	Stealth  *ability.StealthParams  `json:"stealth,omitempty" yaml:"stealth,omitempty"`
	Parry    *ability.ParryParams    `json:"parry,omitempty" yaml:"parry,omitempty"`
	Haste    *ability.HasteParams    `json:"haste,omitempty" yaml:"haste,omitempty"`
}

// AbilityKind resolves the effect family.
func (s AbilitySpec) AbilityKind() ability.Kind {
	kind, _ := ability.ParseKind(s.Kind)
	return kind
}

// Cooldown returns the caster cooldown after using this ability.
func (s AbilitySpec) Cooldown() time.Duration { return seconds(s.CooldownSeconds) }

// EffectParams expands the optional blocks, falling back to the variant defaults.
func (s AbilitySpec) EffectParams() ability.Params {
	params := ability.Params{
		Teleport: ability.DefaultTeleportParams(),
		Stealth:  ability.DefaultStealthParams(),
		Parry:    ability.DefaultParryParams(),
		Haste:    ability.DefaultHasteParams(),
	}
	if s.Teleport != nil {
		params.Teleport = *s.Teleport
	}
	if s.Stealth != nil {
		params.Stealth = *s.Stealth
	}
	if s.Parry != nil {
		params.Parry = *s.Parry
	}
	if s.Haste != nil {
		params.Haste = *s.Haste
	}
	return params
}

// Validate rejects specs the simulation cannot run.
func (s AbilitySpec) Validate() error {
	if _, ok := ability.ParseKind(s.Kind); !ok {
		return fmt.Errorf("%w: ability kind %q", ErrInvalidSpec, s.Kind)
	}
	if s.CooldownSeconds < 0 {
		return fmt.Errorf("%w: negative ability cooldown", ErrInvalidSpec)
	}
	return nil
}

func (s AbilitySpec) clone() AbilitySpec {
	out := s
	out.Teleport = clonePtr(s.Teleport)
	out.Stealth = clonePtr(s.Stealth)
	out.Parry = clonePtr(s.Parry)
	out.Haste = clonePtr(s.Haste)
	return out
}

// PlayerSpec holds the per actor values the developer dashboard can push to every player.
type PlayerSpec struct {
	MoveSpeed      float64 `json:"move_speed" yaml:"move_speed"`
	ChannelSeconds float64 `json:"channel_seconds" yaml:"channel_seconds"`
	MaxHealth      int     `json:"max_health" yaml:"max_health"`
	HitRadius      float64 `json:"hit_radius" yaml:"hit_radius"`
	HitHeight      float64 `json:"hit_height" yaml:"hit_height"`
	FireHeight     float64 `json:"fire_height" yaml:"fire_height"`
}

// Channel returns the windup before a fire request is sent.
func (p PlayerSpec) Channel() time.Duration { return seconds(p.ChannelSeconds) }

// ArenaSpec describes the static arena layout.
type ArenaSpec struct {
	Ground           physics.Ground  `json:"ground" yaml:"ground"`
	TeamA            physics.NavArea `json:"team_a" yaml:"team_a"`
	TeamB            physics.NavArea `json:"team_b" yaml:"team_b"`
	SpawnA           physics.Vec3    `json:"spawn_a" yaml:"spawn_a"`
	SpawnB           physics.Vec3    `json:"spawn_b" yaml:"spawn_b"`
	HealCenter       physics.Vec3    `json:"heal_center" yaml:"heal_center"`
	HealRadius       float64         `json:"heal_radius" yaml:"heal_radius"`
	ProjectileRadius float64         `json:"projectile_radius" yaml:"projectile_radius"`
}

// NavMesh exposes both team areas as one walkable mesh.
func (a ArenaSpec) NavMesh() physics.NavMesh {
	return physics.NavMesh{Height: a.Ground.Height, Areas: []physics.NavArea{a.TeamA, a.TeamB}}
}

// Catalog mirrors the structure of catalog.json.
type Catalog struct {
	DefaultProjectile string                    `json:"default_projectile" yaml:"default_projectile"`
	DefaultAbility    string                    `json:"default_ability" yaml:"default_ability"`
	Projectiles       map[string]ProjectileSpec `json:"projectiles" yaml:"projectiles"`
	Abilities         map[string]AbilitySpec    `json:"abilities" yaml:"abilities"`
	Player            PlayerSpec                `json:"player" yaml:"player"`
	Arena             ArenaSpec                 `json:"arena" yaml:"arena"`
}

var (
	// ErrInvalidSpec reports a catalog entry the simulation cannot run.
	ErrInvalidSpec = errors.New("invalid tuning spec")
)

// Clone produces a deep copy to protect the cached catalog from mutation.
func (c Catalog) Clone() Catalog {
	out := c
	out.Projectiles = make(map[string]ProjectileSpec, len(c.Projectiles))
	for name, spec := range c.Projectiles {
		out.Projectiles[name] = spec.clone()
	}
	out.Abilities = make(map[string]AbilitySpec, len(c.Abilities))
	for name, spec := range c.Abilities {
		out.Abilities[name] = spec.clone()
	}
	return out
}

// ResolveProjectile returns name when the catalog knows it and the default otherwise.
func (c Catalog) ResolveProjectile(name string) string {
	if _, ok := c.Projectiles[name]; ok {
		return name
	}
	if c.DefaultProjectile != "" {
		return c.DefaultProjectile
	}
	return DefaultProjectile
}

// ResolveAbility returns name when the catalog knows it and the default otherwise.
func (c Catalog) ResolveAbility(name string) string {
	if _, ok := c.Abilities[name]; ok {
		return name
	}
	if c.DefaultAbility != "" {
		return c.DefaultAbility
	}
	return DefaultAbility
}

// Projectile looks a projectile up by name.
func (c Catalog) Projectile(name string) (ProjectileSpec, bool) {
	spec, ok := c.Projectiles[name]
	return spec, ok
}

// Ability looks an ability up by name.
func (c Catalog) Ability(name string) (AbilitySpec, bool) {
	spec, ok := c.Abilities[name]
	return spec, ok
}

// ProjectileNames lists the selectable projectiles in name order.
func (c Catalog) ProjectileNames() []string { return sortedNames(c.Projectiles) }

// AbilityNames lists the selectable abilities in name order.
func (c Catalog) AbilityNames() []string { return sortedNames(c.Abilities) }

// Validate checks every entry and that the defaults exist.
func (c Catalog) Validate() error {
	for name, spec := range c.Projectiles {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("projectile %s: %w", name, err)
		}
	}
	for name, spec := range c.Abilities {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("ability %s: %w", name, err)
		}
	}
	if _, ok := c.Projectiles[c.ResolveProjectile("")]; !ok {
		return fmt.Errorf("%w: default projectile missing", ErrInvalidSpec)
	}
	if _, ok := c.Abilities[c.ResolveAbility("")]; !ok {
		return fmt.Errorf("%w: default ability missing", ErrInvalidSpec)
	}
	return nil
}

var (
	catalogOnce sync.Once
	catalogData Catalog
	catalogErr  error
)

//go:embed catalog.json
var catalogPayload []byte

// Baked exposes the parsed catalog shipped with the server.
func Baked() Catalog {
	catalogOnce.Do(func() {
		//1.- Parse the embedded JSON payload once so concurrent callers share the same data.
		catalogErr = json.Unmarshal(catalogPayload, &catalogData)
		if catalogErr == nil {
			catalogErr = catalogData.Validate()
		}
	})
	//2.- Surface configuration errors immediately to keep the simulation deterministic.
	if catalogErr != nil {
		panic(catalogErr)
	}
	//3.- Return a clone so callers cannot accidentally mutate the cached catalog.
	return catalogData.Clone()
}

func seconds(value float64) time.Duration {
	return time.Duration(math.Round(value * float64(time.Second)))
}

func clonePtr[T any](value *T) *T {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
