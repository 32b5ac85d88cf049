package arena

import (
	"errors"
	"time"

	"arenaclash/server/internal/ability"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/motion"
	"arenaclash/server/internal/physics"
	"arenaclash/server/internal/state"
)

// moveSampleRadius bounds how far a move destination may snap onto the team area.
const moveSampleRadius = 50.0

// handle validates one request from the actor behind from and applies it.
func (w *World) handle(from state.Handle, msg Message) {
	a, ok := w.actors.Get(from)
	if !ok {
		w.reject(from, msg, RejectUnknownActor)
		return
	}
	//1.- Clients may only speak for themselves.
	if msg.Actor != "" && msg.Actor != a.id() {
		w.reject(from, msg, RejectNotOwner)
		return
	}
	var rejection Rejection
	switch msg.Kind {
	case KindSpawnProjectile:
		rejection = w.handleSpawn(a, msg)
	case KindUseAbility:
		rejection = w.handleAbility(a, msg)
	case KindSteer:
		rejection = w.handleSteer(a, msg)
	case KindFace:
		if msg.Direction != nil {
			if facing, ok := msg.Direction.Flat().Normalize(); ok {
				a.facing = facing
				w.syncActor(a)
			}
		}
	case KindMove:
		rejection = w.handleMove(a, msg)
	case KindSelect:
		rejection = w.handleSelect(a, msg)
	case KindRestart:
		//2.- Players may only return a finished match to the lobby; ops restart through HTTP.
		if w.session.State() != match.StateOver {
			rejection = RejectNotOver
			break
		}
		w.restartLocked()
	default:
		rejection = RejectUnsupported
	}
	if rejection != "" {
		w.reject(from, msg, rejection)
	}
}

func (w *World) reject(from state.Handle, msg Message, reason Rejection) {
	w.rejections++
	w.log.Debug("request rejected",
		logging.String("actor", from.String()),
		logging.String("kind", string(msg.Kind)),
		logging.String("reason", string(reason)),
	)
}

// combatGate enforces the match phase and the actor's life for combat requests.
func (w *World) combatGate(a *actor) Rejection {
	switch w.session.State() {
	case match.StateOver:
		return RejectMatchOver
	case match.StateWaiting:
		return RejectNotStarted
	}
	if a.target.Depleted() {
		return RejectDefeated
	}
	return ""
}

// ready reports whether a ledger slot allows another use, granting the configured grace.
func (w *World) ready(readyAt time.Duration) bool {
	if !w.cfg.ServerCooldowns {
		return true
	}
	return w.sched.Now()+w.cfg.CooldownGrace >= readyAt
}

func (w *World) handleSpawn(a *actor, msg Message) Rejection {
	if r := w.combatGate(a); r != "" {
		return r
	}
	variant := msg.Variant
	if variant == "" {
		variant = a.projectile
	}
	spec, ok := w.catalog.Projectile(variant)
	if !ok {
		return RejectUnknownVariant
	}
	if !w.ready(a.shotReadyAt) {
		return RejectOnCooldown
	}
	//1.- Resolve the flat fire direction from the request, the aim ray, then the facing.
	var dir physics.Vec3
	found := false
	if msg.Direction != nil {
		dir, found = msg.Direction.Flat().Normalize()
	}
	if !found && msg.Aim != nil {
		dir, found = msg.Aim.Direction.Flat().Normalize()
	}
	if !found {
		dir = a.facing
	}
	origin := a.position.Add(physics.Up.Scale(w.catalog.Player.FireHeight))
	aim := physics.Ray{Origin: origin, Direction: dir}
	if msg.Aim != nil {
		aim = *msg.Aim
	}
	if _, err := w.spawnProjectile(a, variant, spec, motion.Launch{Origin: origin, Direction: dir, Aim: aim}, false); err != nil {
		w.log.Warn("projectile spawn failed", logging.String("variant", variant), logging.Error(err))
		return RejectUnknownVariant
	}
	//2.- Charge the ledger only for an accepted spawn.
	a.shotReadyAt = w.sched.Now() + spec.Cooldown()
	a.facing = dir
	w.syncActor(a)
	return ""
}

func (w *World) handleAbility(a *actor, msg Message) Rejection {
	if r := w.combatGate(a); r != "" {
		return r
	}
	if a.effect == nil {
		return RejectNoAbility
	}
	if !w.ready(a.castReadyAt) {
		return RejectOnCooldown
	}
	spec, _ := w.catalog.Ability(a.ability)
	aim := physics.Ray{Origin: a.position.Add(physics.Up.Scale(w.catalog.Player.FireHeight)), Direction: a.facing}
	if msg.Aim != nil {
		aim = *msg.Aim
	}
	//1.- Consume before activating; a failed activation keeps the spent cooldown.
	a.castReadyAt = w.sched.Now() + spec.Cooldown()
	if err := a.effect.Activate(w, a.handle, ability.Activation{Aim: aim, Team: a.team}); err != nil {
		level := w.log.Debug
		if !errors.Is(err, ability.ErrNoGround) && !errors.Is(err, ability.ErrNoNavPoint) {
			level = w.log.Warn
		}
		level("ability activation failed", logging.String("actor", a.id()), logging.String("ability", a.ability), logging.Error(err))
		return ""
	}
	w.broadcast(Message{Kind: KindAbilityActivated, Actor: a.id(), Ability: a.ability, Aim: &aim})
	return ""
}

func (w *World) handleSteer(a *actor, msg Message) Rejection {
	if r := w.combatGate(a); r != "" {
		return r
	}
	p, ok := w.projectiles[msg.Target]
	if !ok {
		return RejectUnknownProjectile
	}
	if p.owner != a.handle {
		return RejectNotOwner
	}
	steerable, ok := p.policy.(motion.Steerable)
	if !ok {
		return RejectUnsupported
	}
	steerable.Steer(msg.Lateral)
	w.broadcast(Message{Kind: KindProjectileSteered, Actor: a.id(), Target: p.id, Lateral: steerable.Lateral()})
	return ""
}

func (w *World) handleMove(a *actor, msg Message) Rejection {
	if msg.Position == nil {
		return RejectUnsupported
	}
	if w.session.State() == match.StateInProgress && a.target.Depleted() {
		return RejectDefeated
	}
	area := w.teamArea(a.team)
	mesh := physics.NavMesh{Height: w.catalog.Arena.Ground.Height, Areas: []physics.NavArea{area}}
	destination, ok := mesh.Sample(*msg.Position, moveSampleRadius)
	if !ok {
		return RejectUnsupported
	}
	a.destination = destination
	a.moving = true
	return ""
}

func (w *World) handleSelect(a *actor, msg Message) Rejection {
	if w.session.State() == match.StateInProgress {
		return RejectUnsupported
	}
	player, err := w.session.Select(a.player, msg.Variant, msg.Ability)
	if err != nil {
		return RejectUnknownActor
	}
	a.projectile = player.Projectile
	w.equip(a, player.Ability)
	return ""
}
