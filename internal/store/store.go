// Package store persists jobs and dependency edges in a single-file SQLite
// database. It is the single source of truth for orchestration state: every
// operation is atomic, concurrent callers never observe a torn write, and
// state survives process restart.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"drover/internal/apperrors"
	"drover/internal/job"
)

// Store wraps the backing database. Correctness under concurrent access is
// delegated to SQLite's transaction isolation; the mutex serializes this
// process's own connections so they do not contend with each other.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// DSN renders a file path as a store DSN with the pragmas the store needs.
func DSN(path string) string {
	return fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

// Open opens the store at dsn, creating and migrating it if necessary.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperrors.Store("store.open", err)
	}
	if err := db.AutoMigrate(&job.Job{}, &job.Edge{}); err != nil {
		return nil, apperrors.Store("store.migrate", err)
	}
	return &Store{db: db}, nil
}

// Create inserts a job and its dependency edges in one transaction.
// A duplicate id fails with Conflict, an unknown predecessor with NotFound,
// and a cycle with CycleError; in every failure case nothing is persisted.
func (s *Store) Create(ctx context.Context, j *job.Job, edges []job.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&job.Job{}).Where("id = ?", j.ID).Count(&count).Error; err != nil {
			return apperrors.Store("store.create", err)
		}
		if count > 0 {
			return apperrors.Conflict("job", j.ID, fmt.Sprintf("job %s already exists", j.ID))
		}
		if err := tx.Create(j).Error; err != nil {
			return apperrors.Store("store.create", err)
		}
		return insertEdges(tx, edges)
	})
}

// Get returns the job with the given id.
func (s *Store) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var j job.Job
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("job", id)
		}
		return nil, apperrors.Store("store.get", err)
	}
	return &j, nil
}

// Update applies a partial field set to one job as a single UPDATE, so a
// state transition and its timestamp always land together. Unknown ids
// fail with NotFound.
func (s *Store) Update(ctx context.Context, id string, u job.Updates) error {
	cols := u.Columns()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j job.Job
		if err := tx.Select("id").Where("id = ?", id).First(&j).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("job", id)
			}
			return apperrors.Store("store.update", err)
		}
		if len(cols) == 0 {
			return nil
		}
		if err := tx.Model(&job.Job{}).Where("id = ?", id).Updates(cols).Error; err != nil {
			return apperrors.Store("store.update", err)
		}
		return nil
	})
}

// Filter narrows List results.
type Filter struct {
	States      []job.State
	ParentID    *string
	NewestFirst bool
	Limit       int
}

// List returns jobs matching the filter in creation order (newest first
// when requested).
func (s *Store) List(ctx context.Context, f Filter) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.db.WithContext(ctx).Model(&job.Job{})
	if len(f.States) > 0 {
		q = q.Where("state IN ?", f.States)
	}
	if f.ParentID != nil {
		q = q.Where("parent_id = ?", *f.ParentID)
	}
	if f.NewestFirst {
		q = q.Order("created_at DESC")
	} else {
		q = q.Order("created_at ASC")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var jobs []job.Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, apperrors.Store("store.list", err)
	}
	return jobs, nil
}

// AddDependencies inserts a batch of edges atomically. Insertion is
// idempotent per edge (the composite primary key absorbs duplicates); the
// whole batch is rejected, persisting nothing, if any edge references an
// unknown job or would close a cycle.
func (s *Store) AddDependencies(ctx context.Context, edges []job.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertEdges(tx, edges)
	})
}

// DependenciesOf returns the edges the given job depends on.
func (s *Store) DependenciesOf(ctx context.Context, id string) ([]job.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var edges []job.Edge
	err := s.db.WithContext(ctx).
		Where("job_id = ?", id).
		Order("depends_on ASC").
		Find(&edges).Error
	if err != nil {
		return nil, apperrors.Store("store.dependencies_of", err)
	}
	return edges, nil
}

// DependentsOf returns the edges that depend on the given job.
func (s *Store) DependentsOf(ctx context.Context, id string) ([]job.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var edges []job.Edge
	err := s.db.WithContext(ctx).
		Where("depends_on = ?", id).
		Order("job_id ASC").
		Find(&edges).Error
	if err != nil {
		return nil, apperrors.Store("store.dependents_of", err)
	}
	return edges, nil
}

// Delete removes a job and every edge touching it. Jobs are only ever
// deleted through this explicit call, never garbage-collected.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&job.Job{})
		if res.Error != nil {
			return apperrors.Store("store.delete", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFound("job", id)
		}
		if err := tx.Where("job_id = ? OR depends_on = ?", id, id).Delete(&job.Edge{}).Error; err != nil {
			return apperrors.Store("store.delete", err)
		}
		return nil
	})
}

// Snapshot returns every job in creation order, for state export.
func (s *Store) Snapshot(ctx context.Context) ([]job.Job, error) {
	return s.List(ctx, Filter{})
}

// Ping verifies the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperrors.Store("store.ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperrors.Store("store.ping", err)
	}
	return nil
}

// Close closes the backing database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperrors.Store("store.close", err)
	}
	return sqlDB.Close()
}

// insertEdges validates, cycle-checks, and inserts a batch inside tx.
func insertEdges(tx *gorm.DB, edges []job.Edge) error {
	if len(edges) == 0 {
		return nil
	}

	for i := range edges {
		e := &edges[i]
		if !e.Kind.Valid() {
			return apperrors.Validation("kind", fmt.Sprintf("unknown edge kind %q", e.Kind))
		}
		if e.JobID == e.DependsOn {
			return apperrors.Cycle(e.JobID, e.DependsOn)
		}
		for _, id := range []string{e.JobID, e.DependsOn} {
			var count int64
			if err := tx.Model(&job.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return apperrors.Store("store.add_dependencies", err)
			}
			if count == 0 {
				return apperrors.NotFound("job", id)
			}
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
	}

	if err := checkAcyclic(tx, edges); err != nil {
		return err
	}

	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edges).Error; err != nil {
		return apperrors.Store("store.add_dependencies", err)
	}
	return nil
}

// checkAcyclic rejects any batch edge that would close a cycle. The
// adjacency maps a predecessor to its dependents over the stored graph
// plus the whole batch; edge (d, p) is rejected when p is already
// reachable from d, because inserting it would also make p precede d.
func checkAcyclic(tx *gorm.DB, batch []job.Edge) error {
	var existing []job.Edge
	if err := tx.Find(&existing).Error; err != nil {
		return apperrors.Store("store.add_dependencies", err)
	}

	adj := make(map[string][]string, len(existing)+len(batch))
	for _, e := range existing {
		adj[e.DependsOn] = append(adj[e.DependsOn], e.JobID)
	}
	for _, e := range batch {
		adj[e.DependsOn] = append(adj[e.DependsOn], e.JobID)
	}

	for _, e := range batch {
		if reachable(adj, e.JobID, e.DependsOn) {
			return apperrors.Cycle(e.JobID, e.DependsOn)
		}
	}
	return nil
}

// reachable reports whether to can be reached from from over adj.
func reachable(adj map[string][]string, from, to string) bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range adj[n] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
