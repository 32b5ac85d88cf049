package physics

import "math"

// Ray is a half line used for aiming. Direction need not be normalised.
type Ray struct {
	Origin    Vec3 `json:"origin" msgpack:"origin"`
	Direction Vec3 `json:"direction" msgpack:"direction"`
}

// At returns the point reached after travelling distance along the normalised ray.
func (r Ray) At(distance float64) Vec3 {
	return r.Origin.Add(r.Direction.NormalizeOr(Forward).Scale(distance))
}

// Ground is the walkable plane of the arena together with its horizontal extent.
type Ground struct {
	Height float64 `json:"height" yaml:"height"`
	MinX   float64 `json:"min_x" yaml:"min_x"`
	MaxX   float64 `json:"max_x" yaml:"max_x"`
	MinZ   float64 `json:"min_z" yaml:"min_z"`
	MaxZ   float64 `json:"max_z" yaml:"max_z"`
}

// Contains reports whether the point lies inside the ground footprint.
func (g Ground) Contains(p Vec3) bool {
	return p.X >= g.MinX && p.X <= g.MaxX && p.Z >= g.MinZ && p.Z <= g.MaxZ
}

// Raycast intersects the ray with the ground plane. It fails when the ray runs parallel to
// or away from the plane, or lands outside the arena footprint.
func (g Ground) Raycast(ray Ray) (Vec3, bool) {
	dir, ok := ray.Direction.Normalize()
	if !ok {
		return Vec3{}, false
	}
	//1.- Reject rays that never descend toward the plane.
	if math.Abs(dir.Y) < 1e-9 {
		return Vec3{}, false
	}
	distance := (g.Height - ray.Origin.Y) / dir.Y
	if distance < 0 {
		return Vec3{}, false
	}
	//2.- Resolve the hit point and keep it only when it lands on the arena floor.
	hit := ray.Origin.Add(dir.Scale(distance))
	hit.Y = g.Height
	if !g.Contains(hit) {
		return Vec3{}, false
	}
	return hit, true
}
