// internal/storage/store.go
package storage

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"

	"github.com/icl-lab/promptdyn/internal/dynamics"
)

// ErrNotFound - no record with the requested id.
var ErrNotFound = errors.New("storage: not found")

// Config - storage location and read-cache sizing.
type Config struct {
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"`
}

// PromptRecord - one stored prompt version. ParentID links versions into a
// lineage; the root version has an empty parent.
type PromptRecord struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Body      string    `json:"body"`
	Task      string    `json:"task"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalysisRollup - the persisted summary of one analysis run. The full
// gradient-norm series rides along as a compressed blob; everything else is
// derived scalars.
type AnalysisRollup struct {
	ID                  string    `json:"id"`
	PromptID            string    `json:"prompt_id"`
	TotalUpdates        int       `json:"total_updates"`
	AvgUpdateNorm       float64   `json:"avg_update_norm"`
	ConvergenceAchieved bool      `json:"convergence_achieved"`
	ConvergenceType     string    `json:"convergence_type"`
	EffectivenessScore  float64   `json:"effectiveness_score"`
	GradientNorms       []float64 `json:"gradient_norms,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS prompts (
	id         TEXT PRIMARY KEY,
	parent_id  TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	task       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS analyses (
	id                   TEXT PRIMARY KEY,
	prompt_id            TEXT NOT NULL REFERENCES prompts(id),
	total_updates        INTEGER NOT NULL,
	avg_update_norm      REAL NOT NULL,
	convergence_achieved INTEGER NOT NULL,
	convergence_type     TEXT NOT NULL,
	effectiveness_score  REAL NOT NULL,
	norms_blob           BLOB,
	created_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_prompt ON analyses(prompt_id);
`

// Store - sqlite-backed prompt and analysis persistence with an LRU
// read-through cache for prompt records.
type Store struct {
	db    *sql.DB
	cache *lru.Cache[string, PromptRecord]
	zenc  *zstd.Encoder
	zdec  *zstd.Decoder
}

func Open(cfg Config) (*Store, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writes anyway; one connection keeps :memory: stores sane
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, PromptRecord](size)
	if err != nil {
		db.Close()
		return nil, err
	}

	zenc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, cache: cache, zenc: zenc, zdec: zdec}, nil
}

func (s *Store) Close() error {
	s.zenc.Close()
	s.zdec.Close()
	return s.db.Close()
}

// SavePrompt - stores a new prompt version and returns its record.
func (s *Store) SavePrompt(parentID, body, task string) (*PromptRecord, error) {
	rec := PromptRecord{
		ID:        uuid.New().String(),
		ParentID:  parentID,
		Body:      body,
		Task:      task,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO prompts (id, parent_id, body, task, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.ParentID, rec.Body, rec.Task, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert prompt: %w", err)
	}
	s.cache.Add(rec.ID, rec)
	return &rec, nil
}

// GetPrompt - fetches a prompt record, serving repeats from the LRU cache.
func (s *Store) GetPrompt(id string) (*PromptRecord, error) {
	if rec, ok := s.cache.Get(id); ok {
		return &rec, nil
	}

	var rec PromptRecord
	var created int64
	err := s.db.QueryRow(
		`SELECT id, parent_id, body, task, created_at FROM prompts WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.ParentID, &rec.Body, &rec.Task, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select prompt: %w", err)
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	s.cache.Add(rec.ID, rec)
	return &rec, nil
}

// Lineage - walks parent links from a version back to its root, newest first.
func (s *Store) Lineage(id string) ([]PromptRecord, error) {
	var chain []PromptRecord
	for id != "" {
		rec, err := s.GetPrompt(id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *rec)
		id = rec.ParentID
	}
	return chain, nil
}

// SaveAnalysis - derives the rollup for a finished analysis and persists it.
func (s *Store) SaveAnalysis(promptID string, a *dynamics.DetailedAnalysis) (*AnalysisRollup, error) {
	r := NewRollup(promptID, a)
	_, err := s.db.Exec(
		`INSERT INTO analyses
			(id, prompt_id, total_updates, avg_update_norm, convergence_achieved,
			 convergence_type, effectiveness_score, norms_blob, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PromptID, r.TotalUpdates, r.AvgUpdateNorm, r.ConvergenceAchieved,
		r.ConvergenceType, r.EffectivenessScore, s.packNorms(r.GradientNorms), r.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert analysis: %w", err)
	}
	return r, nil
}

// Analyses - all rollups recorded for a prompt, oldest first.
func (s *Store) Analyses(promptID string) ([]AnalysisRollup, error) {
	rows, err := s.db.Query(
		`SELECT id, prompt_id, total_updates, avg_update_norm, convergence_achieved,
		        convergence_type, effectiveness_score, norms_blob, created_at
		 FROM analyses WHERE prompt_id = ? ORDER BY created_at, id`, promptID,
	)
	if err != nil {
		return nil, fmt.Errorf("select analyses: %w", err)
	}
	defer rows.Close()

	var out []AnalysisRollup
	for rows.Next() {
		var r AnalysisRollup
		var blob []byte
		var created int64
		if err := rows.Scan(&r.ID, &r.PromptID, &r.TotalUpdates, &r.AvgUpdateNorm,
			&r.ConvergenceAchieved, &r.ConvergenceType, &r.EffectivenessScore,
			&blob, &created); err != nil {
			return nil, err
		}
		norms, err := s.unpackNorms(blob)
		if err != nil {
			return nil, err
		}
		r.GradientNorms = norms
		r.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// NewRollup - summarizes a detailed analysis into its persisted form.
func NewRollup(promptID string, a *dynamics.DetailedAnalysis) *AnalysisRollup {
	return &AnalysisRollup{
		ID:                  uuid.New().String(),
		PromptID:            promptID,
		TotalUpdates:        len(a.GradientNorms),
		AvgUpdateNorm:       mean(a.GradientNorms),
		ConvergenceAchieved: a.Converged,
		ConvergenceType:     string(a.ConvergenceType),
		EffectivenessScore:  mean(a.EffectivenessScores),
		GradientNorms:       a.GradientNorms,
		CreatedAt:           time.Now().UTC(),
	}
}

func (s *Store) packNorms(norms []float64) []byte {
	if len(norms) == 0 {
		return nil
	}
	raw := make([]byte, 8*len(norms))
	for i, n := range norms {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(n))
	}
	return s.zenc.EncodeAll(raw, nil)
}

func (s *Store) unpackNorms(blob []byte) ([]float64, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	raw, err := s.zdec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress norms: %w", err)
	}
	norms := make([]float64, len(raw)/8)
	for i := range norms {
		norms[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return norms, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
