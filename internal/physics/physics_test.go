package physics

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestGroundRaycastHitsFloorInsideArena(t *testing.T) {
	ground := Ground{MinX: -20, MaxX: 20, MinZ: -20, MaxZ: 20}
	hit, ok := ground.Raycast(Ray{Origin: Vec3{Y: 10}, Direction: Vec3{Z: 1, Y: -1}})
	if !ok {
		t.Fatal("expected the ray to reach the floor")
	}
	if math.Abs(hit.Z-10) > 1e-6 || hit.Y != 0 {
		t.Fatalf("unexpected hit point %+v", hit)
	}
	if _, ok := ground.Raycast(Ray{Origin: Vec3{Y: 1}, Direction: Vec3{Z: 1}}); ok {
		t.Fatal("horizontal ray must not hit the floor")
	}
	if _, ok := ground.Raycast(Ray{Origin: Vec3{Y: 1}, Direction: Vec3{Z: 50, Y: -1}}); ok {
		t.Fatal("ray landing outside the arena must miss")
	}
}

func TestQuadraticBezierEndpoints(t *testing.T) {
	start := Vec3{}
	end := Vec3{Z: 10}
	control := Vec3{X: 4, Z: 5}
	if got := QuadraticBezier(start, control, end, 0); got != start {
		t.Fatalf("t=0 should return start, got %+v", got)
	}
	if got := QuadraticBezier(start, control, end, 1); got != end {
		t.Fatalf("t=1 should return end, got %+v", got)
	}
	mid := QuadraticBezier(start, control, end, 0.5)
	if !almostEqual(mid.X, 2) || !almostEqual(mid.Z, 5) {
		t.Fatalf("unexpected midpoint %+v", mid)
	}
}

func TestEaseInOutIsFlatAtKeys(t *testing.T) {
	curve := EaseInOut{StartTime: 0, StartValue: 0.5, EndTime: 1, EndValue: 1.5}
	if curve.Evaluate(0) != 0.5 || curve.Evaluate(1) != 1.5 || !almostEqual(curve.Evaluate(0.5), 1) {
		t.Fatalf("unexpected curve values %v %v %v", curve.Evaluate(0), curve.Evaluate(0.5), curve.Evaluate(1))
	}
	if curve.Evaluate(-1) != 0.5 || curve.Evaluate(2) != 1.5 {
		t.Fatal("curve must clamp outside its keys")
	}
}

func TestNavMeshSampleRespectsRadius(t *testing.T) {
	mesh := NavMesh{Areas: []NavArea{{MinX: 0, MaxX: 4, MinZ: 0, MaxZ: 4}}}
	if _, ok := mesh.Sample(Vec3{X: 10, Z: 2}, 5); ok {
		t.Fatal("point six units away must not be found within radius five")
	}
	point, ok := mesh.Sample(Vec3{X: 6, Z: 2}, 5)
	if !ok || point.X != 4 || point.Z != 2 {
		t.Fatalf("expected edge point, got %+v ok=%v", point, ok)
	}
}

func TestClampLengthKeepsDirection(t *testing.T) {
	v := Vec3{X: 30, Z: 40}.ClampLength(10)
	if !almostEqual(v.Len(), 10) || !almostEqual(v.X, 6) {
		t.Fatalf("unexpected clamp %+v", v)
	}
}
