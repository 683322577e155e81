package brains

import (
	"fmt"
	"math/rand"
)

// Layer is a dense layer. Weights hold one row per node: the bias weight
// followed by one weight per input.
type Layer struct {
	Inputs      int          `json:"inputs"`
	Activations []Activation `json:"activations"`
	Weights     []float64    `json:"weights"`
}

func (l *Layer) rowLen() int { return l.Inputs + 1 }

// Node returns the weight row of node n, aliasing the layer storage.
func (l *Layer) Node(n int) []float64 {
	w := l.rowLen()
	return l.Weights[n*w : (n+1)*w]
}

func (l *Layer) evaluate(in, out []float64) {
	w := l.rowLen()
	for n, act := range l.Activations {
		row := l.Weights[n*w : (n+1)*w]
		sum := row[0]
		for i, v := range in {
			sum += row[i+1] * v
		}
		out[n] = act.apply(sum)
	}
}

// Network is a feed-forward stack of dense layers.
type Network struct {
	Layers []Layer `json:"layers"`
}

// NewNetwork builds a zero-weight network from a template.
func NewNetwork(t NetworkTemplate) (*Network, error) {
	if t.InputCount < 1 {
		return nil, &Error{Category: CategoryNetwork, Msg: "input_count must be > 0"}
	}
	if len(t.Layers) == 0 {
		return nil, &Error{Category: CategoryNetwork, Msg: "network needs at least one layer"}
	}
	n := &Network{Layers: make([]Layer, 0, len(t.Layers))}
	inputs := t.InputCount
	for i, acts := range t.Layers {
		if len(acts) == 0 {
			return nil, &Error{Category: CategoryNetwork, Msg: fmt.Sprintf("layer %d is empty", i)}
		}
		layer := Layer{Inputs: inputs, Activations: make([]Activation, len(acts))}
		for j, name := range acts {
			a, err := lookupActivation(name)
			if err != nil {
				return nil, &Error{Category: CategoryNetwork, Msg: fmt.Sprintf("layer %d node %d: %v", i, j, err)}
			}
			layer.Activations[j] = a
		}
		layer.Weights = make([]float64, (inputs+1)*len(acts))
		n.Layers = append(n.Layers, layer)
		inputs = len(acts)
	}
	return n, nil
}

func (n *Network) InputCount() int  { return n.Layers[0].Inputs }
func (n *Network) OutputCount() int { return len(n.Layers[len(n.Layers)-1].Activations) }

func (n *Network) TotalNodes() int {
	total := 0
	for i := range n.Layers {
		total += len(n.Layers[i].Activations)
	}
	return total
}

func (n *Network) TotalWeights() int {
	total := 0
	for i := range n.Layers {
		total += len(n.Layers[i].Weights)
	}
	return total
}

// Validate checks that layer shapes chain and weight rows are complete.
func (n *Network) Validate() error {
	if len(n.Layers) == 0 {
		return fmt.Errorf("network has no layers")
	}
	inputs := n.Layers[0].Inputs
	for i := range n.Layers {
		l := &n.Layers[i]
		if l.Inputs != inputs || l.Inputs < 1 {
			return fmt.Errorf("layer %d expects %d inputs, previous layer gives %d", i, l.Inputs, inputs)
		}
		if len(l.Activations) == 0 {
			return fmt.Errorf("layer %d is empty", i)
		}
		for _, a := range l.Activations {
			if !a.Valid() {
				return fmt.Errorf("layer %d: %w: %s", i, ErrActivationNotFound, a)
			}
		}
		if len(l.Weights) != l.rowLen()*len(l.Activations) {
			return fmt.Errorf("layer %d has %d weights, want %d", i, len(l.Weights), l.rowLen()*len(l.Activations))
		}
		inputs = len(l.Activations)
	}
	return nil
}

// SameShape reports whether both networks have identical layer layouts.
func (n *Network) SameShape(o *Network) bool {
	if len(n.Layers) != len(o.Layers) {
		return false
	}
	for i := range n.Layers {
		a, b := &n.Layers[i], &o.Layers[i]
		if a.Inputs != b.Inputs || len(a.Activations) != len(b.Activations) || len(a.Weights) != len(b.Weights) {
			return false
		}
	}
	return true
}

func (n *Network) Clone() *Network {
	out := &Network{Layers: make([]Layer, len(n.Layers))}
	for i, l := range n.Layers {
		out.Layers[i] = Layer{
			Inputs:      l.Inputs,
			Activations: append([]Activation(nil), l.Activations...),
			Weights:     append([]float64(nil), l.Weights...),
		}
	}
	return out
}

func (n *Network) randomize(rng *rand.Rand, min, max float64) {
	for i := range n.Layers {
		for j := range n.Layers[i].Weights {
			n.Layers[i].Weights[j] = min + rng.Float64()*(max-min)
		}
	}
}

// scratch holds one output buffer per layer so evaluation does not allocate.
type scratch [][]float64

func newScratch(n *Network) scratch {
	s := make(scratch, len(n.Layers))
	for i := range n.Layers {
		s[i] = make([]float64, len(n.Layers[i].Activations))
	}
	return s
}

// Evaluate runs inputs through the network and copies the last layer into
// outputs.
func (n *Network) Evaluate(inputs, outputs []float64) error {
	return n.evaluate(inputs, outputs, newScratch(n))
}

func (n *Network) evaluate(inputs, outputs []float64, s scratch) error {
	if len(inputs) != n.InputCount() || len(outputs) != n.OutputCount() {
		return fmt.Errorf("io shape mismatch: inputs=%d/%d outputs=%d/%d", len(inputs), n.InputCount(), len(outputs), n.OutputCount())
	}
	in := inputs
	for i := range n.Layers {
		n.Layers[i].evaluate(in, s[i])
		in = s[i]
	}
	copy(outputs, in)
	return nil
}
