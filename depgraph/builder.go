package depgraph

import (
	"context"
	"errors"

	"github.com/GoCodeAlone/cairn/task"
)

// GraphBuilder materializes the dependency graph around a proposed
// dependency edit, loading tasks through a Repository.
type GraphBuilder struct {
	repo Repository
}

// NewGraphBuilder returns a builder reading from repo.
func NewGraphBuilder(repo Repository) *GraphBuilder {
	return &GraphBuilder{repo: repo}
}

// Build loads the subject task and builds the graph for assigning
// candidates as its dependencies. See BuildFor.
func (b *GraphBuilder) Build(ctx context.Context, subjectID string, candidates []string) (*DependencyGraph, error) {
	subject, err := b.repo.GetTask(ctx, subjectID)
	if err != nil {
		return nil, wrapRepoErr("build graph", subjectID, err)
	}
	return b.BuildFor(ctx, subject, candidates)
}

// BuildFor builds the graph for assigning candidates to subject. The subject
// node carries the candidate list, not its committed one. Every candidate
// must resolve or the build fails with a TaskNotFoundError. From the
// candidates the build follows committed dependencies breadth-first, loading
// each task once; committed references to tasks that no longer exist are
// kept as dangling edges.
func (b *GraphBuilder) BuildFor(ctx context.Context, subject *task.Task, candidates []string) (*DependencyGraph, error) {
	g := NewGraph()
	g.AddNode(subject.ID, candidates)

	loaded := map[string]bool{subject.ID: true}
	var frontier []string

	for _, id := range candidates {
		if loaded[id] {
			continue
		}
		dep, err := b.repo.GetTask(ctx, id)
		if err != nil {
			return nil, wrapRepoErr("build graph", id, err)
		}
		loaded[id] = true
		g.AddNode(dep.ID, dep.Dependencies)
		frontier = append(frontier, dep.Dependencies...)
	}

	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if loaded[id] {
			continue
		}
		loaded[id] = true

		t, err := b.repo.GetTask(ctx, id)
		if err != nil {
			if errors.Is(err, task.ErrNotFound) {
				continue
			}
			return nil, wrapRepoErr("build graph", id, err)
		}
		g.AddNode(t.ID, t.Dependencies)
		frontier = append(frontier, t.Dependencies...)
	}
	return g, nil
}
