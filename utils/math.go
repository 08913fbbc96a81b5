package utils

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Matrix functions used throughout the model.

// r = rows of matrix
// c = columns of matrix
// o = output
// m = matrix input number 1
// n = matrix input number 2

func Dot(m, n mat.Matrix) mat.Matrix {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func Apply(fn func(i, j int, v float64) float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(fn, m)
	return o
}

func Multiply(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func ToDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

// AddBias broadcasts bias (r x 1) across every column of m.
func AddBias(m, bias *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	rb, cb := bias.Dims()
	if rb != r || cb != 1 {
		panic("addBias: bias must be (r x 1)")
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		b := bias.At(i, 0)
		src := m.RawRowView(i)
		dst := out.RawRowView(i)
		for j := range dst {
			dst[j] = src[j] + b
		}
	}
	return out
}

// RowSum returns the (r x 1) sum over columns, i.e. the bias gradient of m.
func RowSum(m *mat.Dense) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, floats.Sum(m.RawRowView(i)))
	}
	return out
}

// ClipGrads rescales grads in place so their joint L2 norm is at most maxNorm
// (maxNorm <= 0 disables clipping) and returns the norm before clipping.
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	total := 0.0
	for _, g := range grads {
		n := mat.Norm(g, 2)
		total += n * n
	}
	norm := math.Sqrt(total)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	s := maxNorm / norm
	for _, g := range grads {
		g.Scale(s, g)
	}
	return norm
}

// RandomArray returns 'size' samples from U(-1/sqrt(v), 1/sqrt(v)).
func RandomArray(size int, v float64, src rand.Source) []float64 {
	lim := 1 / math.Sqrt(v+1e-12)
	return UniformArray(size, lim, src)
}

// UniformArray returns 'size' samples from U(-lim, lim).
func UniformArray(size int, lim float64, src rand.Source) []float64 {
	dist := distuv.Uniform{Min: -lim, Max: lim, Src: src}
	data := make([]float64, size)
	for i := range data {
		data[i] = dist.Rand()
	}
	return data
}

// -------- Activations --------

func ReluApply(i, j int, x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func ReluPrime(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) > 0 {
				out.Set(i, j, 1)
			}
		}
	}
	return out
}

// gelu(x) = 0.5 * x * (1 + tanh( sqrt(2/pi) * (x + 0.044715*x^3) ))
func GeluApply(i, j int, x float64) float64 {
	const k = 0.7978845608028654 // sqrt(2/pi)
	t := k * (x + 0.044715*x*x*x)
	return 0.5 * x * (1.0 + math.Tanh(t))
}

func GeluPrime(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	const k = 0.7978845608028654 // sqrt(2/pi)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := m.At(i, j)
			t := k * (x + 0.044715*x*x*x)
			th := math.Tanh(t)
			sech2 := 1 - th*th
			dt := k * (1.0 + 3.0*0.044715*x*x)
			out.Set(i, j, 0.5*(1.0+th)+0.5*x*sech2*dt)
		}
	}
	return out
}

// ---------- Softmax variants ----------

// RowSoftmaxMaskedInPlace writes the row softmax of m into dst. Where mask is
// 0 the score is replaced by MaskPenalty first; mask may be nil.
func RowSoftmaxMaskedInPlace(dst, m, mask *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	if dr, dc := dst.Dims(); dr != r || dc != c {
		panic("RowSoftmaxMaskedInPlace: dst shape mismatch")
	}
	if mask != nil {
		if mr, mc := mask.Dims(); mr != r || mc != c {
			panic("RowSoftmaxMaskedInPlace: mask shape mismatch")
		}
	}
	for i := 0; i < r; i++ {
		row := dst.RawRowView(i)
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if mask != nil {
				v = v*mask.At(i, j) + MaskPenalty*(1-mask.At(i, j))
			}
			row[j] = v
		}
		softmaxInPlace(row)
	}
	return dst
}

// Softmax returns a stable softmax of x as a new slice.
func Softmax(x []float64) []float64 {
	out := append([]float64(nil), x...)
	softmaxInPlace(out)
	return out
}

func softmaxInPlace(x []float64) {
	if len(x) == 0 {
		return
	}
	mx := floats.Max(x)
	sum := 0.0
	for i, v := range x {
		e := math.Exp(v - mx)
		x[i] = e
		sum += e
	}
	floats.Scale(1/sum, x)
}

// Softmax backward for row-wise softmax used in attention.
// for each row i: s = sum_k dA[i,k] * A[i,k]; dS[i,j] = A[i,j] * (dA[i,j] - s)
func SoftmaxBackward(dA mat.Matrix, A *mat.Dense) *mat.Dense {
	r, c := A.Dims()
	dS := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		s := 0.0
		for k := 0; k < c; k++ {
			s += dA.At(i, k) * A.At(i, k)
		}
		for j := 0; j < c; j++ {
			aj := A.At(i, j)
			dS.Set(i, j, aj*(dA.At(i, j)-s))
		}
	}
	return dS
}

// ---------- Loss ----------

// CrossEntropyWithIndex is sparse categorical cross-entropy from logits for a
// single (r x 1) column. It returns the loss and dLoss/dLogits.
func CrossEntropyWithIndex(logits *mat.Dense, gold int) (float64, *mat.Dense) {
	r, c := logits.Dims()
	if c != 1 {
		panic("CrossEntropyWithIndex expects (r x 1) logits vector")
	}
	if gold < 0 || gold >= r {
		panic("CrossEntropyWithIndex: gold index out of range")
	}
	col := mat.Col(nil, 0, logits)
	loss := floats.LogSumExp(col) - col[gold]
	softmaxInPlace(col)
	col[gold] -= 1.0
	return loss, mat.NewDense(r, 1, col)
}
