package dataset

import "fmt"

// #region tensor
// Tensor is a dense row-major array. The first axis indexes examples:
// (n, channels, times) or (n, channels, times, filters) for filter banks.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

// Len is the number of examples.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Channels is the size of the second axis, or 0 for 1-D tensors.
func (t Tensor) Channels() int {
	if len(t.Shape) < 2 {
		return 0
	}
	return t.Shape[1]
}

// Stride is the number of values per example.
func (t Tensor) Stride() int {
	s := 1
	for _, d := range t.Shape[1:] {
		s *= d
	}
	return s
}

// Example returns a view of example i.
func (t Tensor) Example(i int) []float64 {
	s := t.Stride()
	return t.Data[i*s : (i+1)*s]
}

// Take copies the examples at idx into a new tensor, preserving idx order.
func (t Tensor) Take(idx []int) Tensor {
	s := t.Stride()
	shape := append([]int{len(idx)}, t.Shape[1:]...)
	out := Tensor{Shape: shape, Data: make([]float64, 0, len(idx)*s)}
	for _, i := range idx {
		out.Data = append(out.Data, t.Example(i)...)
	}
	return out
}

// Validate checks that the data length matches the shape.
func (t Tensor) Validate() error {
	n := 1
	for _, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("negative dimension in shape %v", t.Shape)
		}
		n *= d
	}
	if n != len(t.Data) {
		return fmt.Errorf("shape %v wants %d values, have %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// #endregion tensor

// #region take-labels
// TakeLabels selects labels at idx.
func TakeLabels(labels []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = labels[j]
	}
	return out
}

// #endregion take-labels
