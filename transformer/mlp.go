package transformer

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/minigpt/optimizations"
	"github.com/manningwu07/minigpt/utils"
)

// MLP is the position-wise feed-forward sublayer: W2 act(W1 x + b1) + b2.
type MLP struct {
	Inputs, Hiddens           int
	HiddenWeights, HiddenBias *optimizations.Param // (ff x d), (ff x 1)
	OutputWeights, OutputBias *optimizations.Param // (d x ff), (d x 1)
	Activation                string

	// cache for backprop
	lastInput, hiddenPreAct, hiddenOutputs *mat.Dense
}

func NewMLP(dModel, hidden int, activation string, src rand.Source) *MLP {
	return &MLP{
		Inputs:        dModel,
		Hiddens:       hidden,
		Activation:    activation,
		HiddenWeights: optimizations.NewParam("ffn.hidden.w", mat.NewDense(hidden, dModel, utils.RandomArray(dModel*hidden, float64(dModel), src)), true),
		HiddenBias:    optimizations.NewParam("ffn.hidden.b", mat.NewDense(hidden, 1, nil), false),
		OutputWeights: optimizations.NewParam("ffn.out.w", mat.NewDense(dModel, hidden, utils.RandomArray(hidden*dModel, float64(hidden), src)), true),
		OutputBias:    optimizations.NewParam("ffn.out.b", mat.NewDense(dModel, 1, nil), false),
	}
}

func (mlp *MLP) act() (func(i, j int, v float64) float64, func(mat.Matrix) *mat.Dense) {
	if mlp.Activation == "gelu" {
		return utils.GeluApply, utils.GeluPrime
	}
	return utils.ReluApply, utils.ReluPrime
}

func (mlp *MLP) Forward(X *mat.Dense) *mat.Dense {
	apply, _ := mlp.act()
	mlp.lastInput = X
	mlp.hiddenPreAct = utils.AddBias(utils.ToDense(utils.Dot(mlp.HiddenWeights.W, X)), mlp.HiddenBias.W) // (h x T)
	mlp.hiddenOutputs = utils.ToDense(utils.Apply(apply, mlp.hiddenPreAct))
	return utils.AddBias(utils.ToDense(utils.Dot(mlp.OutputWeights.W, mlp.hiddenOutputs)), mlp.OutputBias.W) // (d x T)
}

// Backward accumulates gradients and returns dX.
func (mlp *MLP) Backward(grad *mat.Dense) *mat.Dense {
	_, prime := mlp.act()
	mlp.OutputWeights.AddGrad(utils.Dot(grad, mlp.hiddenOutputs.T()))
	mlp.OutputBias.AddGrad(utils.RowSum(grad))

	hiddenGradOut := utils.Dot(mlp.OutputWeights.W.T(), grad) // dL/d(hidden_out)
	hiddenErrors := utils.ToDense(utils.Multiply(hiddenGradOut, prime(mlp.hiddenPreAct)))

	mlp.HiddenWeights.AddGrad(utils.Dot(hiddenErrors, mlp.lastInput.T()))
	mlp.HiddenBias.AddGrad(utils.RowSum(hiddenErrors))
	return utils.ToDense(utils.Dot(mlp.HiddenWeights.W.T(), hiddenErrors))
}

func (mlp *MLP) Params() []*optimizations.Param {
	return []*optimizations.Param{mlp.HiddenWeights, mlp.HiddenBias, mlp.OutputWeights, mlp.OutputBias}
}
