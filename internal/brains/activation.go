package brains

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrActivationNotFound = errors.New("activation not found")

// Activation names a node transfer function. Nodes sum their bias and
// weighted inputs, then apply it.
type Activation string

const (
	Linear  Activation = "linear"
	TanH    Activation = "tanh"
	Sigmoid Activation = "sigmoid"
	ReLU    Activation = "relu"
)

var activations = map[Activation]func(float64) float64{
	Linear:  func(x float64) float64 { return x },
	TanH:    math.Tanh,
	Sigmoid: func(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) },
	ReLU: func(x float64) float64 {
		if x < 0 {
			return 0
		}
		return x
	},
}

func (a Activation) Valid() bool {
	_, ok := activations[a]
	return ok
}

func (a Activation) apply(x float64) float64 {
	return activations[a](x)
}

func lookupActivation(name string) (Activation, error) {
	a := Activation(name)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
	return a, nil
}

// ListActivations returns registered activation names in sorted order.
func ListActivations() []string {
	names := make([]string, 0, len(activations))
	for name := range activations {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
