package arena

import (
	"errors"
	"time"

	"arenaclash/server/internal/ability"
	"arenaclash/server/internal/combat"
	"arenaclash/server/internal/events"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/motion"
	"arenaclash/server/internal/physics"
	"arenaclash/server/internal/state"
	"arenaclash/server/internal/tuning"
)

// deflectAimDistance is how far ahead a counter projectile aims when the attacker is gone.
const deflectAimDistance = 10.0

// projectile is one live projectile entity owned by the authority.
type projectile struct {
	id       string
	variant  string
	spec     tuning.ProjectileSpec
	owner    state.Handle
	ownerID  string
	team     combat.Team
	policy   motion.Policy
	cosmetic bool
	// hit guards are per leg so a boomerang may strike the same target once each way.
	hitOut  map[state.Handle]struct{}
	hitBack map[state.Handle]struct{}
}

func (p *projectile) guard() map[state.Handle]struct{} {
	if p.policy.Returning() {
		return p.hitBack
	}
	return p.hitOut
}

// spawnProjectile creates and announces a projectile fired by owner.
func (w *World) spawnProjectile(owner *actor, variant string, spec tuning.ProjectileSpec, launch motion.Launch, cosmetic bool) (*projectile, error) {
	launch.Speed = spec.Speed
	policy, err := motion.New(spec.MotionKind(), launch, spec.MotionParams())
	if err != nil {
		return nil, err
	}
	p := &projectile{
		id:       w.newID(),
		variant:  variant,
		spec:     spec,
		owner:    owner.handle,
		ownerID:  owner.id(),
		team:     owner.team,
		policy:   policy,
		cosmetic: cosmetic,
		hitOut:   make(map[state.Handle]struct{}),
		hitBack:  make(map[state.Handle]struct{}),
	}
	w.projectiles[p.id] = p
	w.order = append(w.order, p.id)
	w.syncProjectile(p)
	origin := launch.Origin
	direction := launch.Direction
	aim := launch.Aim
	w.broadcast(Message{
		Kind:      KindProjectileSpawned,
		Actor:     p.ownerID,
		Target:    p.id,
		Variant:   variant,
		Team:      p.team.String(),
		Position:  &origin,
		Direction: &direction,
		Aim:       &aim,
		Cosmetic:  cosmetic,
	})
	return p, nil
}

func (w *World) despawn(p *projectile, reason string) {
	if _, ok := w.projectiles[p.id]; !ok {
		return
	}
	p.policy.Terminate()
	delete(w.projectiles, p.id)
	for i, id := range w.order {
		if id == p.id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	w.replicated.Projectiles.Remove(p.id)
	w.broadcast(Message{Kind: KindProjectileDespawned, Actor: p.ownerID, Target: p.id, Variant: p.variant, Reason: reason})
}

func (w *World) clearProjectiles(reason string) {
	for _, id := range append([]string(nil), w.order...) {
		if p, ok := w.projectiles[id]; ok {
			w.despawn(p, reason)
		}
	}
}

func (w *World) syncProjectile(p *projectile) {
	pose := p.policy.Pose()
	w.replicated.Projectiles.Upsert(&state.ProjectileState{
		ID:        p.id,
		Variant:   p.variant,
		Owner:     p.ownerID,
		Team:      p.team.String(),
		Position:  pose.Position,
		Velocity:  p.policy.Velocity(),
		Heading:   pose.Heading,
		Spin:      pose.Spin,
		Wobble:    pose.Wobble,
		Phase:     p.policy.Phase().String(),
		Cosmetic:  p.cosmetic,
		UpdatedAt: w.now().UnixMilli(),
	})
}

// stepProjectiles advances every trajectory and resolves its overlaps in spawn order.
func (w *World) stepProjectiles(dt float64) {
	for _, id := range append([]string(nil), w.order...) {
		p, ok := w.projectiles[id]
		if !ok {
			continue
		}
		//1.- Advance the trajectory; a ground miss has already terminated the policy.
		if err := p.policy.Step(projectileEnv{w: w, owner: p.owner}, dt); err != nil {
			if errors.Is(err, motion.ErrNoGround) {
				w.log.Debug("projectile missed the ground", logging.String("projectile", p.id), logging.String("variant", p.variant))
			} else {
				w.log.Warn("projectile step failed", logging.String("projectile", p.id), logging.Error(err))
			}
		}
		//2.- Area effects resolve before the terminal check so a landed shell still explodes.
		if blaster, ok := p.policy.(motion.Blaster); ok && !p.cosmetic {
			if center, radius, pending := blaster.PendingBlast(); pending {
				w.explode(p, blaster, center, radius)
				continue
			}
		}
		if p.policy.IsTerminal() {
			w.despawn(p, "expired")
			continue
		}
		if !p.cosmetic {
			w.collide(p)
		}
		if _, alive := w.projectiles[p.id]; alive {
			w.syncProjectile(p)
		}
	}
	if w.cfg.ProjectileClash {
		w.clash()
	}
}

// overlaps tests the projectile sphere against the actor's upright capsule.
func (w *World) overlaps(point physics.Vec3, a *actor) bool {
	spec := w.catalog.Player
	radius := w.catalog.Arena.ProjectileRadius
	if point.Flat().Distance(a.position.Flat()) > spec.HitRadius+radius {
		return false
	}
	return point.Y >= a.position.Y-radius && point.Y <= a.position.Y+spec.HitHeight+radius
}

func (w *World) collide(p *projectile) {
	point := p.policy.Pose().Position
	blaster, isBlaster := p.policy.(motion.Blaster)
	for _, h := range w.actors.Handles() {
		a, ok := w.actors.Get(h)
		if !ok || !a.target.Alive() || !w.overlaps(point, a) {
			continue
		}
		//1.- Own team: only a returning projectile interacts, and it is caught.
		if !combat.Hostile(p.team, a.team) {
			if p.policy.Returning() {
				w.catch(p)
				return
			}
			continue
		}
		//2.- Enemy parry colliders replace the hit collider for the whole window.
		if a.parrying {
			w.deflect(p, a)
			return
		}
		if isBlaster {
			blaster.Detonate()
			center, radius, _ := blaster.PendingBlast()
			w.explode(p, blaster, center, radius)
			return
		}
		guard := p.guard()
		if _, hit := guard[h]; hit {
			continue
		}
		guard[h] = struct{}{}
		w.damage(p, a, p.spec.Damage)
		if _, alive := w.projectiles[p.id]; !alive {
			return
		}
		if !p.policy.PierceOnHit() {
			w.despawn(p, "hit")
			return
		}
	}
}

// catch credits the shooter with the boomerang refund when a teammate intercepts the return leg.
func (w *World) catch(p *projectile) {
	w.despawn(p, "caught")
	owner, ok := w.actors.Get(p.owner)
	if !ok {
		return
	}
	refund := 0.0
	if b, ok := p.policy.(*motion.Boomerang); ok {
		refund = b.Params().CooldownRefundSeconds
	}
	if refund <= 0 {
		return
	}
	owner.shotReadyAt -= time.Duration(refund * float64(time.Second))
	if owner.shotReadyAt < 0 {
		owner.shotReadyAt = 0
	}
	w.broadcast(Message{Kind: KindCooldownAdjust, Audience: AudienceOwner, Actor: owner.id(), Slot: SlotProjectile, Mode: AdjustReduce, Seconds: refund})
}

// deflect destroys p and fires a projectile of the same variant back from the parrying actor.
func (w *World) deflect(p *projectile, parrier *actor) {
	incoming := p.policy.Velocity().Flat()
	w.despawn(p, "deflected")
	shooter, shooterLive := w.actors.Get(p.owner)
	//1.- Reverse the approach vector, falling back to pointing at the shooter.
	dir, ok := incoming.Scale(-1).Normalize()
	if !ok && shooterLive {
		dir, ok = shooter.position.Sub(parrier.position).Flat().Normalize()
	}
	if !ok {
		dir = parrier.facing
	}
	origin := parrier.position.Add(physics.Up.Scale(w.catalog.Player.FireHeight))
	aimPoint := origin.Add(dir.Scale(deflectAimDistance))
	if shooterLive {
		aimPoint = shooter.position
	}
	aim := physics.Ray{Origin: origin, Direction: aimPoint.Sub(origin).NormalizeOr(dir)}
	if _, err := w.spawnProjectile(parrier, p.variant, p.spec, motion.Launch{Origin: origin, Direction: dir, Aim: aim}, false); err != nil {
		w.log.Warn("deflect spawn failed", logging.String("variant", p.variant), logging.Error(err))
	}
	//2.- A successful parry fully resets the parrier and closes its window.
	parrier.shotReadyAt = 0
	w.broadcast(Message{Kind: KindCooldownAdjust, Audience: AudienceOwner, Actor: parrier.id(), Slot: SlotProjectile, Mode: AdjustReset})
	if parry, ok := parrier.effect.(*ability.Parry); ok {
		parry.Consume(w, parrier.handle)
	}
	w.log.Debug("projectile deflected", logging.String("actor", parrier.id()), logging.String("variant", p.variant))
}

// explode applies area damage to every hostile actor within radius of center.
func (w *World) explode(p *projectile, blaster motion.Blaster, center physics.Vec3, radius float64) {
	blaster.Resolve()
	w.despawn(p, "exploded")
	flat := center.Flat()
	for _, h := range w.actors.Handles() {
		a, ok := w.actors.Get(h)
		if !ok || !a.target.Alive() || !combat.Hostile(p.team, a.team) || a.parrying {
			continue
		}
		if a.position.Flat().Distance(flat) > radius {
			continue
		}
		w.damage(p, a, p.spec.Damage)
	}
}

// damage applies amount to victim on behalf of p and asks the director for a verdict.
func (w *World) damage(p *projectile, victim *actor, amount int) {
	applied, err := victim.target.ApplyDamage(amount)
	if err != nil || applied == 0 {
		return
	}
	current, max := victim.target.Health()
	w.syncActor(victim)
	w.broadcast(Message{Kind: KindHealthChanged, Actor: victim.id(), Target: p.ownerID, Variant: p.variant, Value: current, Max: max, Amount: applied})
	if w.stream != nil {
		telemetry := events.DamageTelemetry{
			EventID:    w.newID(),
			Type:       "damage",
			OccurredAt: w.now(),
			Attacker:   p.ownerID,
			Defender:   victim.id(),
			Variant:    p.variant,
			Amount:     applied,
			Remaining:  current,
			Position:   victim.position,
			Metadata:   map[string]string{"projectile": p.id, "team": p.team.String()},
		}
		if _, err := w.stream.PublishCombat(telemetry); err != nil {
			w.log.Warn("combat telemetry failed", logging.Error(err))
		}
	}
	if victim.target.Depleted() {
		victim.moving = false
		if victim.effect != nil {
			victim.effect.Deactivate(w, victim.handle)
		}
		w.log.Info("actor defeated", logging.String("actor", victim.id()), logging.String("by", p.ownerID))
	}
	if outcome := w.director.DamageResolved(); outcome.Over {
		w.finishLocked(outcome.Winner)
	}
}

// clash destroys every pair of overlapping projectiles from different shooters and resets both.
func (w *World) clash() {
	reach := 2 * w.catalog.Arena.ProjectileRadius
	ids := append([]string(nil), w.order...)
	for i, left := range ids {
		a, ok := w.projectiles[left]
		if !ok || a.cosmetic {
			continue
		}
		for _, right := range ids[i+1:] {
			b, ok := w.projectiles[right]
			if !ok || b.cosmetic || a.owner == b.owner {
				continue
			}
			if a.policy.Pose().Position.Distance(b.policy.Pose().Position) > reach {
				continue
			}
			w.despawn(a, "clash")
			w.despawn(b, "clash")
			w.resetShooter(a.owner)
			w.resetShooter(b.owner)
			break
		}
	}
}

func (w *World) resetShooter(h state.Handle) {
	a, ok := w.actors.Get(h)
	if !ok {
		return
	}
	a.shotReadyAt = 0
	w.broadcast(Message{Kind: KindCooldownAdjust, Audience: AudienceOwner, Actor: a.id(), Slot: SlotProjectile, Mode: AdjustReset})
}
