// Package tensor holds the dense float32 matrix type and the kernels the
// local model runs on.
package tensor

import (
	"errors"
	"math/rand"
)

var (
	ErrNegativeDim  = errors.New("tensor: negative dimension")
	ErrDataMismatch = errors.New("tensor: data length does not match shape")
)

// Mat is a dense row-major matrix. Stride is the element distance between
// two consecutive rows and equals C for matrices built here.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a zeroed r x c matrix.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{R: r, C: c, Stride: c, Data: make([]float32, r*c)}
}

// FromData wraps data as an r x c matrix without copying.
func FromData(r, c int, data []float32) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, ErrNegativeDim
	}
	if r*c != len(data) {
		return Mat{}, ErrDataMismatch
	}
	return Mat{R: r, C: c, Stride: c, Data: data}, nil
}

// Row returns a view of row i. Writes go through to the matrix.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// FillRand fills m with reproducible values in roughly (-scale/2, scale/2).
func FillRand(m *Mat, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * scale
	}
}

// Axpy computes y += a*x over the first len(y) elements.
func Axpy(y []float32, a float32, x []float32) {
	if len(y) == 0 {
		return
	}
	_ = x[len(y)-1]
	for i := range y {
		y[i] += a * x[i]
	}
}
