// Package inference runs the soil-property models over a feature stack and
// turns their raw output into physical-unit rasters and statistics.
package inference

import (
	"fmt"

	"soilscope/internal/preprocess"
)

// Tensor is a dense row-major float tensor.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor allocates a zeroed tensor.
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return Tensor{Shape: s, Data: make([]float64, n)}
}

// Len returns the element count implied by Shape.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks that Data matches Shape.
func (t Tensor) Validate() error {
	if t.Len() != len(t.Data) {
		return fmt.Errorf("tensor shape %v implies %d elements, have %d", t.Shape, t.Len(), len(t.Data))
	}
	return nil
}

// FromStack converts a feature stack into a [1, C, H, W] tensor, dividing
// every value by scale.
func FromStack(stack *preprocess.FeatureStack, scale float64) (Tensor, error) {
	if stack == nil || stack.Channels() == 0 {
		return Tensor{}, fmt.Errorf("empty feature stack")
	}
	if scale == 0 {
		return Tensor{}, fmt.Errorf("normalization scale must be non-zero")
	}
	plane := stack.Width * stack.Height
	t := NewTensor(1, stack.Channels(), stack.Height, stack.Width)
	for c, b := range stack.Bands {
		if len(b.Data) != plane {
			return Tensor{}, fmt.Errorf("band %d (%s) has %d pixels, want %d", c, b.Label, len(b.Data), plane)
		}
		dst := t.Data[c*plane : (c+1)*plane]
		for i, v := range b.Data {
			dst[i] = v / scale
		}
	}
	return t, nil
}
