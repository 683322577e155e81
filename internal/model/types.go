package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Run describes one training session.
type Run struct {
	VersionedRecord
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Seeds          []*int64  `json:"seeds"`
	PopulationSize int       `json:"population_size"`
	Inputs         int       `json:"inputs"`
	Outputs        int       `json:"outputs"`
	Evolves        bool      `json:"evolves"`
	ConfigPath     string    `json:"config_path,omitempty"`
	MembersPath    string    `json:"members_path,omitempty"`
	Status         string    `json:"status"`
	Generations    int       `json:"generations"`
	BestFitness    float64   `json:"best_fitness"`
}

// TrackSummary is the outcome of one track within a set.
type TrackSummary struct {
	Index         int     `json:"index"`
	Seed          int64   `json:"seed"`
	Random        bool    `json:"random"`
	Finishers     int     `json:"finishers"`
	FastestLap    float64 `json:"fastest_lap,omitempty"`
	MeanProgress  float64 `json:"mean_progress"`
	Ticks         int     `json:"ticks"`
	Regenerations int     `json:"regenerations,omitempty"`
}

// GenerationSummary is written once per completed set.
type GenerationSummary struct {
	VersionedRecord
	Generation    int            `json:"generation"`
	BestFitness   float64        `json:"best_fitness"`
	MeanFitness   float64        `json:"mean_fitness"`
	Finishers     int            `json:"finishers"`
	EvolveSkipped bool           `json:"evolve_skipped,omitempty"`
	Tracks        []TrackSummary `json:"tracks"`
}

// TrackRecord is the fastest lap observed on a fixed seed slot.
type TrackRecord struct {
	Slot       int     `json:"slot"`
	Seed       int64   `json:"seed"`
	LapTime    float64 `json:"lap_time"`
	Generation int     `json:"generation"`
}
