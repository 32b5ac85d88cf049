package arena

import (
	"fmt"

	"arenaclash/server/internal/ability"
	"arenaclash/server/internal/motion"
	"arenaclash/server/internal/physics"
	"arenaclash/server/internal/state"
)

var _ ability.Host = (*World)(nil)

// RaycastGround implements ability.Host and motion.Env against the arena floor.
func (w *World) RaycastGround(ray physics.Ray) (physics.Vec3, bool) {
	return w.catalog.Arena.Ground.Raycast(ray)
}

// SampleNav implements ability.Host over both team areas.
func (w *World) SampleNav(point physics.Vec3, radius float64) (physics.Vec3, bool) {
	return w.catalog.Arena.NavMesh().Sample(point, radius)
}

// Position implements ability.Host.
func (w *World) Position(caster state.Handle) (physics.Vec3, bool) {
	a, ok := w.actors.Get(caster)
	if !ok {
		return physics.Vec3{}, false
	}
	return a.position, true
}

// Teleport implements ability.Host. Movement in progress is cancelled.
func (w *World) Teleport(caster state.Handle, to physics.Vec3) {
	a, ok := w.actors.Get(caster)
	if !ok {
		return
	}
	a.position = to
	a.moving = false
	w.syncActor(a)
	w.broadcast(Message{Kind: KindActorMoved, Actor: a.id(), Position: &to})
}

// SpawnDecoy implements ability.Host with a cosmetic copy of the caster's selected projectile.
func (w *World) SpawnDecoy(caster state.Handle, aim physics.Ray) error {
	a, ok := w.actors.Get(caster)
	if !ok {
		return ability.ErrCasterGone
	}
	spec, ok := w.catalog.Projectile(a.projectile)
	if !ok {
		return fmt.Errorf("decoy variant %q: %w", a.projectile, motion.ErrUnknownKind)
	}
	dir, found := aim.Direction.Flat().Normalize()
	if !found {
		dir = a.facing
	}
	origin := a.position.Add(physics.Up.Scale(w.catalog.Player.FireHeight))
	_, err := w.spawnProjectile(a, a.projectile, spec, motion.Launch{Origin: origin, Direction: dir, Aim: aim}, true)
	return err
}

// SetVisibility implements ability.Host. The caster's team is always stamped on the result.
func (w *World) SetVisibility(caster state.Handle, visibility ability.Visibility) {
	a, ok := w.actors.Get(caster)
	if !ok {
		return
	}
	visibility.Team = a.team
	a.visibility = visibility
	w.broadcast(Message{Kind: KindVisibilityChanged, Actor: a.id(), Visibility: &visibility})
}

// SetParry implements ability.Host.
func (w *World) SetParry(caster state.Handle, enabled bool) {
	a, ok := w.actors.Get(caster)
	if !ok {
		return
	}
	a.parrying = enabled
	w.syncActor(a)
}

// Speed implements ability.Host.
func (w *World) Speed(caster state.Handle) (float64, bool) {
	a, ok := w.actors.Get(caster)
	if !ok {
		return 0, false
	}
	return a.moveSpeed, true
}

// SetSpeed implements ability.Host.
func (w *World) SetSpeed(caster state.Handle, speed float64) {
	a, ok := w.actors.Get(caster)
	if !ok {
		return
	}
	a.moveSpeed = speed
	w.syncActor(a)
}

// projectileEnv is the world as seen by one projectile.
type projectileEnv struct {
	w     *World
	owner state.Handle
}

func (e projectileEnv) RaycastGround(ray physics.Ray) (physics.Vec3, bool) {
	return e.w.RaycastGround(ray)
}

func (e projectileEnv) ShooterPosition() (physics.Vec3, bool) {
	return e.w.Position(e.owner)
}
