package vec

import (
	"fmt"
	"math"
)

// Vec2 представляет 2D координаты в сетке комнат
type Vec2 struct {
	X, Y int
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// String возвращает строковое представление координат
func (v Vec2) String() string {
	return fmt.Sprintf("(%d, %d)", v.X, v.Y)
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
