package brains

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"carbrains/internal/population"
)

// MembersSchemaVersion is written into every members file.
const MembersSchemaVersion = 1

// MembersFile is the on-disk form of a saved population. Paths ending in
// ".zst" are zstd compressed.
type MembersFile struct {
	SchemaVersion int        `json:"schema_version"`
	Generation    int        `json:"generation"`
	Members       []*Network `json:"members"`
}

type pool struct {
	settings   *settings // nil for populations loaded without a config
	members    []*Network
	scratch    []scratch
	rng        *rand.Rand
	generation int
}

func (p *pool) info() population.Info {
	return population.Info{
		Size:       len(p.members),
		Inputs:     p.members[0].InputCount(),
		Outputs:    p.members[0].OutputCount(),
		Generation: p.generation,
	}
}

func (p *pool) resetScratch() {
	p.scratch = make([]scratch, len(p.members))
	for i, m := range p.members {
		p.scratch[i] = newScratch(m)
	}
}

// Engine is the in-process population engine. It is safe for concurrent use.
type Engine struct {
	mu    sync.Mutex
	next  population.Handle
	pools map[population.Handle]*pool
}

var _ population.Engine = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{pools: map[population.Handle]*pool{}}
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Create builds a random population from an in-memory template.
func (e *Engine) Create(tmpl ConfigTemplate) (population.Handle, population.Info, error) {
	s, err := compile(tmpl)
	if err != nil {
		return 0, population.Info{}, err
	}
	rng := newRand(tmpl.Seed)
	members := make([]*Network, tmpl.PopulationSize)
	for i := range members {
		n := s.network.Clone()
		n.randomize(rng, tmpl.MinWeight, tmpl.MaxWeight)
		members[i] = n
	}
	return e.register(&pool{settings: s, members: members, rng: rng})
}

func (e *Engine) CreateFromConfig(configPath string) (population.Handle, population.Info, error) {
	tmpl, err := LoadConfig(configPath)
	if err != nil {
		return 0, population.Info{}, err
	}
	return e.Create(tmpl)
}

// LoadExisting restores members saved by SaveTopN or SaveAll. With a
// config, every member must match its network shape and the population
// can evolve.
func (e *Engine) LoadExisting(membersPath, configPath string) (population.Handle, population.Info, error) {
	file, err := ReadMembers(membersPath)
	if err != nil {
		return 0, population.Info{}, err
	}
	p := &pool{members: file.Members, generation: file.Generation}
	if configPath != "" {
		tmpl, err := LoadConfig(configPath)
		if err != nil {
			return 0, population.Info{}, err
		}
		s, err := compile(tmpl)
		if err != nil {
			return 0, population.Info{}, err
		}
		for i, m := range file.Members {
			if !m.SameShape(s.network) {
				return 0, population.Info{}, errorf(CategoryImport, "member %d does not match the configured network", i)
			}
		}
		p.settings = s
		p.rng = newRand(tmpl.Seed)
	}
	return e.register(p)
}

func (e *Engine) register(p *pool) (population.Handle, population.Info, error) {
	p.resetScratch()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.pools[e.next] = p
	return e.next, p.info(), nil
}

func (e *Engine) lookup(h population.Handle) (*pool, error) {
	p, ok := e.pools[h]
	if !ok {
		return nil, errorf(CategoryPopulation, "unknown population handle %d", h)
	}
	return p, nil
}

func (e *Engine) Evaluate(h population.Handle, index int, inputs, outputs []float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.lookup(h)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(p.members) {
		return errorf(CategoryEvaluate, "member index %d out of range [0, %d)", index, len(p.members))
	}
	if err := p.members[index].evaluate(inputs, outputs, p.scratch[index]); err != nil {
		return wrap(CategoryEvaluate, err, fmt.Sprintf("member %d", index))
	}
	return nil
}

func (e *Engine) Evolve(h population.Handle, fitness []float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.lookup(h)
	if err != nil {
		return err
	}
	if p.settings == nil {
		return errorf(CategoryEvolution, "population was loaded without a config")
	}
	next, err := evolve(p.rng, p.settings, p.members, fitness)
	if err != nil {
		return err
	}
	p.members = next
	p.generation++
	p.resetScratch()
	return nil
}

// SaveTopN writes the n fittest members, best first.
func (e *Engine) SaveTopN(path string, h population.Handle, fitness []float64, n int) error {
	e.mu.Lock()
	p, err := e.lookup(h)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if len(fitness) != len(p.members) {
		e.mu.Unlock()
		return errorf(CategoryExport, "fitness length %d does not match population size %d", len(fitness), len(p.members))
	}
	if n < 1 {
		e.mu.Unlock()
		return errorf(CategoryExport, "n must be > 0")
	}
	if n > len(p.members) {
		n = len(p.members)
	}
	file := MembersFile{SchemaVersion: MembersSchemaVersion, Generation: p.generation}
	for _, idx := range rankByFitness(fitness)[:n] {
		file.Members = append(file.Members, p.members[idx].Clone())
	}
	e.mu.Unlock()
	return WriteMembers(path, file)
}

func (e *Engine) SaveAll(path string, h population.Handle) error {
	e.mu.Lock()
	p, err := e.lookup(h)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	file := MembersFile{SchemaVersion: MembersSchemaVersion, Generation: p.generation}
	for _, m := range p.members {
		file.Members = append(file.Members, m.Clone())
	}
	e.mu.Unlock()
	return WriteMembers(path, file)
}

func (e *Engine) Dispose(h population.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.lookup(h); err != nil {
		return err
	}
	delete(e.pools, h)
	return nil
}

// Member returns a copy of one network for inspection.
func (e *Engine) Member(h population.Handle, index int) (*Network, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(p.members) {
		return nil, errorf(CategoryPopulation, "member index %d out of range", index)
	}
	return p.members[index].Clone(), nil
}

func compressed(path string) bool { return strings.HasSuffix(path, ".zst") }

// WriteMembers encodes file as indented JSON.
func WriteMembers(path string, file MembersFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return wrap(CategoryExport, err, "encode members")
	}
	data = append(data, '\n')
	if compressed(path) {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return wrap(CategoryExport, err, "zstd writer")
		}
		data = enc.EncodeAll(data, nil)
		_ = enc.Close()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return wrap(CategoryExport, err, fmt.Sprintf("write %s", path))
	}
	return nil
}

// ReadMembers decodes a members file. A bare JSON array of networks is
// accepted as generation zero.
func ReadMembers(path string) (MembersFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return MembersFile{}, wrap(CategoryImport, err, fmt.Sprintf("open %s", path))
	}
	defer f.Close()

	var r io.Reader = f
	if compressed(path) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return MembersFile{}, wrap(CategoryImport, err, "zstd reader")
		}
		defer dec.Close()
		r = dec
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return MembersFile{}, wrap(CategoryImport, err, fmt.Sprintf("read %s", path))
	}

	var file MembersFile
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &file.Members); err != nil {
			return MembersFile{}, wrap(CategoryImport, err, "decode members")
		}
		file.SchemaVersion = MembersSchemaVersion
	} else if err := json.Unmarshal(trimmed, &file); err != nil {
		return MembersFile{}, wrap(CategoryImport, err, "decode members")
	}
	if file.SchemaVersion != MembersSchemaVersion {
		return MembersFile{}, errorf(CategoryImport, "unsupported schema version %d", file.SchemaVersion)
	}
	if err := validateMembers(file.Members); err != nil {
		return MembersFile{}, err
	}
	return file, nil
}

func validateMembers(members []*Network) error {
	if len(members) == 0 {
		return errorf(CategoryImport, "members file is empty")
	}
	for i, m := range members {
		if m == nil {
			return errorf(CategoryImport, "member %d is null", i)
		}
		if err := m.Validate(); err != nil {
			return wrap(CategoryImport, err, fmt.Sprintf("member %d", i))
		}
		if m.InputCount() != members[0].InputCount() || m.OutputCount() != members[0].OutputCount() {
			return errorf(CategoryImport, "member %d has io %d/%d, want %d/%d", i,
				m.InputCount(), m.OutputCount(), members[0].InputCount(), members[0].OutputCount())
		}
	}
	return nil
}
