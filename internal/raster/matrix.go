package raster

import "math"

// Matrix is a PDF transformation matrix [a b c d e f].
type Matrix [6]float64

var identity = Matrix{1, 0, 0, 1, 0, 0}

// Mul returns m followed by n: points are transformed by m first.
func (m Matrix) Mul(n Matrix) Matrix {
	return Matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m Matrix) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

func (m Matrix) det() float64 {
	return m[0]*m[3] - m[1]*m[2]
}

// scale is the geometric mean of the axis scale factors.
func (m Matrix) scale() float64 {
	return math.Sqrt(math.Abs(m.det()))
}

func translate(tx, ty float64) Matrix {
	return Matrix{1, 0, 0, 1, tx, ty}
}
