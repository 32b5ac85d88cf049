package physics

import "math"

// NavArea is an axis aligned walkable rectangle on the ground plane.
type NavArea struct {
	MinX float64 `json:"min_x" yaml:"min_x"`
	MaxX float64 `json:"max_x" yaml:"max_x"`
	MinZ float64 `json:"min_z" yaml:"min_z"`
	MaxZ float64 `json:"max_z" yaml:"max_z"`
}

func (a NavArea) closest(p Vec3) Vec3 {
	return Vec3{
		X: math.Max(a.MinX, math.Min(a.MaxX, p.X)),
		Z: math.Max(a.MinZ, math.Min(a.MaxZ, p.Z)),
	}
}

// NavMesh is a set of walkable areas at a fixed floor height.
type NavMesh struct {
	Height float64   `json:"height" yaml:"height"`
	Areas  []NavArea `json:"areas" yaml:"areas"`
}

// Sample returns the navigable point nearest to p within radius, measured on the ground plane.
func (m NavMesh) Sample(p Vec3, radius float64) (Vec3, bool) {
	if radius <= 0 || len(m.Areas) == 0 {
		return Vec3{}, false
	}
	best := Vec3{}
	bestDist := math.Inf(1)
	flat := p.Flat()
	for _, area := range m.Areas {
		candidate := area.closest(flat)
		if d := candidate.Distance(flat); d < bestDist {
			bestDist = d
			best = candidate
		}
	}
	if bestDist > radius {
		return Vec3{}, false
	}
	best.Y = m.Height
	return best, true
}

// Contains reports whether p stands on a walkable area.
func (m NavMesh) Contains(p Vec3) bool {
	for _, area := range m.Areas {
		if p.X >= area.MinX && p.X <= area.MaxX && p.Z >= area.MinZ && p.Z <= area.MaxZ {
			return true
		}
	}
	return false
}
