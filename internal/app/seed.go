package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"classledger/internal/advisor"
	"classledger/internal/apperr"
	"classledger/internal/roster"
)

// Seed is the directory content loaded from SEED_FILE.
type Seed struct {
	Students []roster.Student  `json:"students"`
	Faculty  []advisor.Faculty `json:"faculty"`
}

// ReadSeed decodes and validates a seed document.
func ReadSeed(r io.Reader) (Seed, error) {
	var s Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	for _, st := range s.Students {
		if st.ID == "" || roster.NormalizeRoll(st.RollNo) == "" {
			return Seed{}, apperr.Invalid("seed student needs an id and a roll number").WithDetail(st.ID)
		}
		if err := roster.ValidateTuple(roster.Tuple{Class: st.Class, Department: st.Department}); err != nil {
			return Seed{}, fmt.Errorf("seed student %s: %w", st.ID, err)
		}
	}
	for _, f := range s.Faculty {
		if f.ID == "" || f.Department == "" {
			return Seed{}, apperr.Invalid("seed faculty needs an id and a department").WithDetail(f.ID)
		}
	}
	return s, nil
}

// Apply upserts the seed into the backends. Existing faculty caches are kept.
func (b *Backends) Apply(ctx context.Context, s Seed) error {
	for _, st := range s.Students {
		if err := b.Students.UpsertStudent(ctx, st); err != nil {
			return fmt.Errorf("seed student %s: %w", st.ID, err)
		}
	}
	for _, f := range s.Faculty {
		f.Assignments, f.CacheVersion = nil, 0
		if err := b.Faculty.UpsertFaculty(ctx, f); err != nil {
			return fmt.Errorf("seed faculty %s: %w", f.ID, err)
		}
	}
	return nil
}

// SeedFromFile loads path and applies it.
func (b *Backends) SeedFromFile(ctx context.Context, path string, log *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s, err := ReadSeed(f)
	if err != nil {
		return err
	}
	if err := b.Apply(ctx, s); err != nil {
		return err
	}
	log.Info("directory seeded", zap.String("file", path),
		zap.Int("students", len(s.Students)), zap.Int("faculty", len(s.Faculty)))
	return nil
}
