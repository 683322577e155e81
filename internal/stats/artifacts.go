package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"carbrains/internal/model"
)

const runIndexFile = "run_index.json"

var artifactFiles = []string{"config.json", "generations.json", "fitness_history.csv", "track_records.json"}

// RunConfig is the resolved configuration a run was started with.
type RunConfig struct {
	RunID          string   `json:"run_id"`
	Seeds          []*int64 `json:"seeds"`
	PopulationSize int      `json:"population_size"`
	Inputs         int      `json:"inputs"`
	Outputs        int      `json:"outputs"`
	Evolves        bool     `json:"evolves"`
	EngineConfig   string   `json:"engine_config,omitempty"`
	Members        string   `json:"members,omitempty"`
	Settings       any      `json:"settings,omitempty"`
}

type RunArtifacts struct {
	Config       RunConfig                 `json:"config"`
	Generations  []model.GenerationSummary `json:"generations"`
	TrackRecords []model.TrackRecord       `json:"track_records"`
}

type RunIndexEntry struct {
	RunID            string   `json:"run_id"`
	Seeds            []*int64 `json:"seeds"`
	PopulationSize   int      `json:"population_size"`
	Generations      int      `json:"generations"`
	Evolves          bool     `json:"evolves"`
	FinalBestFitness float64  `json:"final_best_fitness"`
	CreatedAtUTC     string   `json:"created_at_utc"`
}

// SeedList renders seeds the way snapshot names do: random slots are "r".
func SeedList(seeds []*int64) string {
	parts := make([]string, len(seeds))
	for i, s := range seeds {
		if s == nil {
			parts[i] = "r"
			continue
		}
		parts[i] = strconv.FormatInt(*s, 10)
	}
	return strings.Join(parts, ",")
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	generations := artifacts.Generations
	if generations == nil {
		generations = []model.GenerationSummary{}
	}
	if err := writeJSON(filepath.Join(runDir, "generations.json"), generations); err != nil {
		return "", err
	}
	if err := WriteFitnessHistory(runDir, artifacts.Generations); err != nil {
		return "", err
	}
	records := artifacts.TrackRecords
	if records == nil {
		records = []model.TrackRecord{}
	}
	if err := writeJSON(filepath.Join(runDir, "track_records.json"), records); err != nil {
		return "", err
	}
	return runDir, nil
}

// WriteFitnessHistory writes one CSV row per generation.
func WriteFitnessHistory(runDir string, generations []model.GenerationSummary) error {
	path := filepath.Join(runDir, "fitness_history.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "best_fitness", "mean_fitness", "finishers", "evolve_skipped"}); err != nil {
		return err
	}
	for _, g := range generations {
		if err := writer.Write([]string{
			strconv.Itoa(g.Generation),
			strconv.FormatFloat(g.BestFitness, 'f', -1, 64),
			strconv.FormatFloat(g.MeanFitness, 'f', -1, 64),
			strconv.Itoa(g.Finishers),
			strconv.FormatBool(g.EvolveSkipped),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadFitnessHistory returns the best fitness column.
func ReadFitnessHistory(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "fitness_history.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("fitness history header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("fitness history row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory's artifacts, plus its event
// log when present, into outDir.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range artifactFiles {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	logs, err := filepath.Glob(filepath.Join(src, "events-*.jsonl.zst"))
	if err != nil {
		return "", err
	}
	for _, path := range logs {
		if err := copyFile(path, filepath.Join(dst, filepath.Base(path))); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func ReadGenerations(baseDir, runID string) ([]model.GenerationSummary, bool, error) {
	var generations []model.GenerationSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, "generations.json"), &generations)
	return generations, ok, err
}

func ReadTrackRecords(baseDir, runID string) ([]model.TrackRecord, bool, error) {
	var records []model.TrackRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, "track_records.json"), &records)
	return records, ok, err
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
