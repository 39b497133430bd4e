package engine

import (
	"context"
	"errors"

	"drover/internal/apperrors"
	"drover/internal/job"
	"drover/internal/store"
)

// The resolver decides when a pending job may go to the backend. An edge
// is judged against the current outcome of its predecessor's retry chain,
// not the predecessor row alone: a failed attempt that still has budget,
// or that already has a newer spawn, keeps the edge unsatisfied until the
// chain settles. Edge insertion rejects cycles, so the chain and edge
// walks here can assume an acyclic graph.

// eligible reports whether every dependency edge of a pending job is
// satisfied. A job with no edges is always eligible.
func (e *Engine) eligible(ctx context.Context, j *job.Job) (bool, error) {
	edges, err := e.store.DependenciesOf(ctx, j.ID)
	if err != nil {
		return false, err
	}
	for _, edge := range edges {
		ok, err := e.satisfied(ctx, edge)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// satisfied evaluates one edge against the terminal outcome of the
// predecessor's retry chain.
func (e *Engine) satisfied(ctx context.Context, edge job.Edge) (bool, error) {
	tail, err := e.chainTail(ctx, edge.DependsOn)
	if err != nil {
		return false, err
	}
	if !tail.Terminal() {
		return false, nil
	}

	switch edge.Kind {
	case job.AfterOK:
		return tail.State == job.StateCompleted, nil
	case job.AfterFail:
		return tail.State == job.StateFailed && tail.RetriesExhausted(), nil
	case job.AfterAny:
		switch tail.State {
		case job.StateCompleted, job.StateCancelled:
			return true, nil
		case job.StateFailed:
			return tail.RetriesExhausted(), nil
		}
	}
	return false, nil
}

// chainTail follows parent links forward to the latest attempt of a job.
// A job that was never retried is its own tail.
func (e *Engine) chainTail(ctx context.Context, id string) (*job.Job, error) {
	j, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for {
		kids, err := e.store.List(ctx, store.Filter{ParentID: &j.ID, NewestFirst: true, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(kids) == 0 {
			return j, nil
		}
		j = &kids[0]
	}
}

// resolveDependents dispatches every pending dependent of the given job
// whose edges are now all satisfied. Dependents with any unsatisfied edge
// are left pending; there is no partial submission.
func (e *Engine) resolveDependents(ctx context.Context, id string, res *TrackResult) error {
	edges, err := e.store.DependentsOf(ctx, id)
	if err != nil {
		return err
	}

	for _, edge := range edges {
		dep, err := e.store.Get(ctx, edge.JobID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return err
		}
		if dep.State != job.StatePending {
			continue
		}
		ready, err := e.eligible(ctx, dep)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		res.Submitted = append(res.Submitted, dep.ID)
		if err := e.dispatch(ctx, dep, res); err != nil {
			return err
		}
	}
	return nil
}
