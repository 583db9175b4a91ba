// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
	"github.com/AleutianAI/AleutianFlow/services/flow/scheduler"
)

// ErrNotFound indicates no record exists under the key.
var ErrNotFound = errors.New("record not found")

// Key prefixes keep plans and runs in separate key spaces.
const (
	planPrefix = "plan:"
	runPrefix  = "run:"
)

// RunRecord is the persisted state of one run.
type RunRecord struct {
	// ID is the run id.
	ID string `json:"id"`

	// PlanID is the active plan of the run.
	PlanID string `json:"plan_id"`

	// Status mirrors the run's terminal or in-flight state.
	Status string `json:"status"`

	// Results holds the latest terminal result per node id.
	Results map[string]plan.ExecutionResult `json:"results,omitempty"`

	// Stats summarizes the most recent scheduling round.
	Stats scheduler.ExecutionStats `json:"stats"`

	// ReplanRounds counts accepted replans.
	ReplanRounds int `json:"replan_rounds"`

	// FinalAnswer is the joiner's answer, when complete.
	FinalAnswer string `json:"final_answer,omitempty"`

	// CreatedAt is when the run was submitted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the last persistence time.
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository persists plans and run records.
//
// The engine calls it best-effort: a failed save is logged and the run
// continues on in-memory state.
type Repository interface {
	// SavePlan stores a plan by id.
	SavePlan(ctx context.Context, p *plan.ExecutionPlan) error

	// LoadPlan fetches a plan by id. Returns ErrNotFound when absent.
	LoadPlan(ctx context.Context, id string) (*plan.ExecutionPlan, error)

	// SaveRun stores a run record by id, stamping UpdatedAt.
	SaveRun(ctx context.Context, rec *RunRecord) error

	// LoadRun fetches a run record by id. Returns ErrNotFound when absent.
	LoadRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns every stored run record.
	ListRuns(ctx context.Context) ([]RunRecord, error)

	// Close releases the underlying store.
	Close() error
}

// Store is the BadgerDB-backed Repository.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	db *DB
}

// NewStore opens a repository on an embedded database.
func NewStore(cfg Config) (*Store, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// SavePlan stores a plan by id.
func (s *Store) SavePlan(ctx context.Context, p *plan.ExecutionPlan) error {
	return s.put(ctx, planPrefix+p.ID, p)
}

// LoadPlan fetches a plan by id.
func (s *Store) LoadPlan(ctx context.Context, id string) (*plan.ExecutionPlan, error) {
	var p plan.ExecutionPlan
	if err := s.get(ctx, planPrefix+id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveRun stores a run record by id.
func (s *Store) SaveRun(ctx context.Context, rec *RunRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	return s.put(ctx, runPrefix+rec.ID, rec)
}

// LoadRun fetches a run record by id.
func (s *Store) LoadRun(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	if err := s.get(ctx, runPrefix+id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns returns every stored run record.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]RunRecord, 0)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec RunRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode run record: %w", err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close releases the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) get(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}
