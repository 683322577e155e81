package brains

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed brains.schema.json
var configSchemaJSON []byte

const configSchemaURL = "brains.schema.json"

// Selection method names.
const (
	SelectFitnessProportionate = "fitness_proportionate"
	SelectStochasticUniversal  = "stochastic_universal"
	SelectTournament           = "tournament"
	SelectTruncation           = "truncation"
)

// Crossover method names.
const (
	CrossSwapWholeNode   = "swap_whole_node"
	CrossSwapSomeWeights = "swap_some_weights"
)

// Mutation method names.
const (
	MutateInvert  = "invert"
	MutateReplace = "replace"
	MutateScale   = "scale"
	MutateShift   = "shift"
)

type NetworkTemplate struct {
	InputCount int        `yaml:"input_count" json:"input_count"`
	Layers     [][]string `yaml:"layers" json:"layers"`
}

type SelectionTemplate struct {
	Method          string  `yaml:"method" json:"method"`
	TournamentSize  int     `yaml:"tournament_size,omitempty" json:"tournament_size,omitempty"`
	TruncationRatio float64 `yaml:"truncation_ratio,omitempty" json:"truncation_ratio,omitempty"`
}

type CrossoverMethodTemplate struct {
	Method                 string  `yaml:"method" json:"method"`
	MinWeightsSwappedRatio float64 `yaml:"min_weights_swapped_ratio,omitempty" json:"min_weights_swapped_ratio,omitempty"`
	MaxWeightsSwappedRatio float64 `yaml:"max_weights_swapped_ratio,omitempty" json:"max_weights_swapped_ratio,omitempty"`
	RelativeProbability    float64 `yaml:"relative_probability" json:"relative_probability"`
}

type CrossoverTemplate struct {
	MinNodesAffectedRatio float64                   `yaml:"min_nodes_affected_ratio" json:"min_nodes_affected_ratio"`
	MaxNodesAffectedRatio float64                   `yaml:"max_nodes_affected_ratio" json:"max_nodes_affected_ratio"`
	Methods               []CrossoverMethodTemplate `yaml:"methods" json:"methods"`
}

type MutationMethodTemplate struct {
	Method              string  `yaml:"method" json:"method"`
	Min                 float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max                 float64 `yaml:"max,omitempty" json:"max,omitempty"`
	RelativeProbability float64 `yaml:"relative_probability" json:"relative_probability"`
}

type MutationTemplate struct {
	MutationProbability     float64                  `yaml:"mutation_probability" json:"mutation_probability"`
	MinWeightsAffectedRatio float64                  `yaml:"min_weights_affected_ratio" json:"min_weights_affected_ratio"`
	MaxWeightsAffectedRatio float64                  `yaml:"max_weights_affected_ratio" json:"max_weights_affected_ratio"`
	Methods                 []MutationMethodTemplate `yaml:"methods" json:"methods"`
}

// ConfigTemplate is the on-disk engine configuration.
type ConfigTemplate struct {
	PopulationSize int               `yaml:"population_size" json:"population_size"`
	MinWeight      float64           `yaml:"min_weight" json:"min_weight"`
	MaxWeight      float64           `yaml:"max_weight" json:"max_weight"`
	Elitism        float64           `yaml:"elitism" json:"elitism"`
	Seed           int64             `yaml:"seed,omitempty" json:"seed,omitempty"`
	Network        NetworkTemplate   `yaml:"network" json:"network"`
	Selection      SelectionTemplate `yaml:"selection" json:"selection"`
	Crossover      CrossoverTemplate `yaml:"crossover" json:"crossover"`
	Mutation       MutationTemplate  `yaml:"mutation" json:"mutation"`
}

// DefaultConfigTemplate returns a config for the six-sensor, two-control car.
func DefaultConfigTemplate() ConfigTemplate {
	hidden := make([]string, 10)
	for i := range hidden {
		hidden[i] = string(TanH)
	}
	return ConfigTemplate{
		PopulationSize: 100,
		MinWeight:      -1,
		MaxWeight:      1,
		Elitism:        0.02,
		Network: NetworkTemplate{
			InputCount: 6,
			Layers:     [][]string{hidden, {string(TanH), string(TanH)}},
		},
		Selection: SelectionTemplate{Method: SelectFitnessProportionate},
		Crossover: CrossoverTemplate{
			MinNodesAffectedRatio: 0.02,
			MaxNodesAffectedRatio: 0.3,
			Methods: []CrossoverMethodTemplate{
				{Method: CrossSwapWholeNode, RelativeProbability: 3},
				{Method: CrossSwapSomeWeights, MinWeightsSwappedRatio: 0.25, MaxWeightsSwappedRatio: 0.75, RelativeProbability: 1},
			},
		},
		Mutation: MutationTemplate{
			MutationProbability:     0.3,
			MinWeightsAffectedRatio: 0,
			MaxWeightsAffectedRatio: 0.2,
			Methods: []MutationMethodTemplate{
				{Method: MutateInvert, RelativeProbability: 0.5},
				{Method: MutateReplace, Min: -2, Max: 2, RelativeProbability: 1},
				{Method: MutateScale, Min: -2, Max: 2, RelativeProbability: 4},
				{Method: MutateShift, Min: -2, Max: 2, RelativeProbability: 2},
			},
		},
	}
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(configSchemaURL, bytes.NewReader(configSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(configSchemaURL)
	})
	return schema, schemaErr
}

// ParseConfig decodes a YAML or JSON document, checks it against the
// embedded schema and overlays it on the defaults.
func ParseConfig(data []byte) (ConfigTemplate, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ConfigTemplate{}, wrap(CategoryConfig, err, "decode config")
	}
	if doc != nil {
		// schema validation wants plain JSON values
		raw, err := json.Marshal(doc)
		if err != nil {
			return ConfigTemplate{}, wrap(CategoryConfig, err, "normalize config")
		}
		var plain any
		if err := json.Unmarshal(raw, &plain); err != nil {
			return ConfigTemplate{}, wrap(CategoryConfig, err, "normalize config")
		}
		s, err := configSchema()
		if err != nil {
			return ConfigTemplate{}, wrap(CategoryInternal, err, "compile config schema")
		}
		if err := s.Validate(plain); err != nil {
			return ConfigTemplate{}, wrap(CategoryConfig, err, "config does not match schema")
		}
	}

	tmpl := DefaultConfigTemplate()
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return ConfigTemplate{}, wrap(CategoryConfig, err, "decode config")
	}
	return tmpl, nil
}

func LoadConfig(path string) (ConfigTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConfigTemplate{}, wrap(CategoryConfig, err, fmt.Sprintf("read %s", path))
	}
	return ParseConfig(data)
}

// WriteConfig exports tmpl as YAML.
func WriteConfig(path string, tmpl ConfigTemplate) error {
	data, err := yaml.Marshal(tmpl)
	if err != nil {
		return wrap(CategoryExport, err, "encode config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return wrap(CategoryExport, err, fmt.Sprintf("write %s", path))
	}
	return nil
}

// weightedPick draws indices proportionally to non-negative weights.
type weightedPick struct {
	cumulative []float64
}

func newWeightedPick(weights []float64) (weightedPick, bool) {
	cum := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		if w < 0 {
			return weightedPick{}, false
		}
		total += w
		cum[i] = total
	}
	if total <= 0 {
		return weightedPick{}, false
	}
	return weightedPick{cumulative: cum}, true
}

func (p weightedPick) pick(r float64) int {
	target := r * p.cumulative[len(p.cumulative)-1]
	for i, c := range p.cumulative {
		if target < c {
			return i
		}
	}
	return len(p.cumulative) - 1
}

// settings is a validated template resolved against its network shape.
type settings struct {
	template  ConfigTemplate
	elitism   int
	network   *Network
	selector  Selector
	crossover crossoverSettings
	mutation  mutationSettings
}

type crossoverSettings struct {
	minNodes, maxNodes int
	methods            []CrossoverMethodTemplate
	pick               weightedPick
}

type mutationSettings struct {
	probability            float64
	minWeights, maxWeights int
	methods                []MutationMethodTemplate
	pick                   weightedPick
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }

// compile validates a template and resolves ratios into counts.
func compile(t ConfigTemplate) (*settings, error) {
	if t.PopulationSize < 1 {
		return nil, errorf(CategoryConfig, "population_size must be > 0")
	}
	if t.MaxWeight < t.MinWeight {
		return nil, errorf(CategoryConfig, "min_weight %f is larger than max_weight %f", t.MinWeight, t.MaxWeight)
	}
	if !inUnit(t.Elitism) {
		return nil, errorf(CategoryConfig, "elitism ratio %f outside [0, 1]", t.Elitism)
	}
	network, err := NewNetwork(t.Network)
	if err != nil {
		return nil, err
	}
	selector, err := newSelector(t.Selection)
	if err != nil {
		return nil, err
	}
	cross, err := compileCrossover(t.Crossover, network)
	if err != nil {
		return nil, err
	}
	mut, err := compileMutation(t.Mutation, network)
	if err != nil {
		return nil, err
	}
	return &settings{
		template:  t,
		elitism:   int(t.Elitism * float64(t.PopulationSize)),
		network:   network,
		selector:  selector,
		crossover: cross,
		mutation:  mut,
	}, nil
}

func compileCrossover(t CrossoverTemplate, n *Network) (crossoverSettings, error) {
	if !inUnit(t.MinNodesAffectedRatio) {
		return crossoverSettings{}, errorf(CategoryCrossover, "invalid min_nodes_affected_ratio %f", t.MinNodesAffectedRatio)
	}
	if t.MaxNodesAffectedRatio < t.MinNodesAffectedRatio || t.MaxNodesAffectedRatio > 1 {
		return crossoverSettings{}, errorf(CategoryCrossover, "invalid max_nodes_affected_ratio %f", t.MaxNodesAffectedRatio)
	}
	if len(t.Methods) == 0 {
		return crossoverSettings{}, errorf(CategoryCrossover, "no crossover methods")
	}
	weights := make([]float64, len(t.Methods))
	for i, m := range t.Methods {
		switch m.Method {
		case CrossSwapWholeNode:
		case CrossSwapSomeWeights:
			if !inUnit(m.MinWeightsSwappedRatio) || m.MaxWeightsSwappedRatio < m.MinWeightsSwappedRatio || m.MaxWeightsSwappedRatio > 1 {
				return crossoverSettings{}, errorf(CategoryCrossover, "invalid swap weights ratios [%f, %f]", m.MinWeightsSwappedRatio, m.MaxWeightsSwappedRatio)
			}
		default:
			return crossoverSettings{}, errorf(CategoryCrossover, "unknown crossover method %q", m.Method)
		}
		weights[i] = m.RelativeProbability
	}
	pick, ok := newWeightedPick(weights)
	if !ok {
		return crossoverSettings{}, errorf(CategoryCrossover, "invalid method probabilities")
	}
	total := float64(n.TotalNodes())
	return crossoverSettings{
		minNodes: int(t.MinNodesAffectedRatio * total),
		maxNodes: int(t.MaxNodesAffectedRatio*total) + 1,
		methods:  append([]CrossoverMethodTemplate(nil), t.Methods...),
		pick:     pick,
	}, nil
}

func compileMutation(t MutationTemplate, n *Network) (mutationSettings, error) {
	if !inUnit(t.MutationProbability) {
		return mutationSettings{}, errorf(CategoryMutation, "invalid mutation_probability %f", t.MutationProbability)
	}
	if !inUnit(t.MinWeightsAffectedRatio) {
		return mutationSettings{}, errorf(CategoryMutation, "invalid min_weights_affected_ratio %f", t.MinWeightsAffectedRatio)
	}
	if t.MaxWeightsAffectedRatio < t.MinWeightsAffectedRatio || t.MaxWeightsAffectedRatio > 1 {
		return mutationSettings{}, errorf(CategoryMutation, "invalid max_weights_affected_ratio %f", t.MaxWeightsAffectedRatio)
	}
	if len(t.Methods) == 0 {
		return mutationSettings{}, errorf(CategoryMutation, "no mutation methods")
	}
	weights := make([]float64, len(t.Methods))
	for i, m := range t.Methods {
		switch m.Method {
		case MutateInvert:
		case MutateReplace, MutateScale, MutateShift:
			if m.Max < m.Min {
				return mutationSettings{}, errorf(CategoryMutation, "%s: max %f below min %f", m.Method, m.Max, m.Min)
			}
		default:
			return mutationSettings{}, errorf(CategoryMutation, "unknown mutation method %q", m.Method)
		}
		weights[i] = m.RelativeProbability
	}
	pick, ok := newWeightedPick(weights)
	if !ok {
		return mutationSettings{}, errorf(CategoryMutation, "invalid method probabilities")
	}
	total := float64(n.TotalWeights())
	return mutationSettings{
		probability: t.MutationProbability,
		minWeights:  int(t.MinWeightsAffectedRatio * total),
		maxWeights:  int(t.MaxWeightsAffectedRatio*total) + 1,
		methods:     append([]MutationMethodTemplate(nil), t.Methods...),
		pick:        pick,
	}, nil
}
