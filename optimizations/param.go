package optimizations

import "gonum.org/v1/gonum/mat"

// Param is one learned matrix together with its gradient accumulator and
// Adam moments. M and V are allocated on the first optimizer step.
type Param struct {
	Name  string
	W     *mat.Dense
	Grad  *mat.Dense
	M, V  *mat.Dense
	Decay bool // AdamW decay applies (weights yes, biases and norms no)
}

func NewParam(name string, w *mat.Dense, decay bool) *Param {
	return &Param{Name: name, W: w, Grad: zerosLike(w), Decay: decay}
}

func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// AddGrad accumulates g into the gradient.
func (p *Param) AddGrad(g mat.Matrix) {
	p.Grad.Add(p.Grad, g)
}

// CloneForGrads shares W (read-only for the clone) and allocates a private
// gradient. No optimizer state is copied.
func (p *Param) CloneForGrads() *Param {
	return &Param{Name: p.Name, W: p.W, Grad: zerosLike(p.W), Decay: p.Decay}
}

func (p *Param) Size() int {
	r, c := p.W.Dims()
	return r * c
}

func zerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}
