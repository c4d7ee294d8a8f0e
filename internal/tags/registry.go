// Package tags deduplicates tag labels against the set of known tags and
// drives the create-before-attach flow: labels without a backend-assigned id
// are created remotely and folded back into the known set before any
// transaction payload references them.
package tags

import (
	"context"
	"fmt"
	"sync"

	"thunes/internal/backend"
	"thunes/internal/core"
)

// Resolution splits candidate labels into tags that already exist and labels
// that still need remote creation.
type Resolution struct {
	// ToCreate lists unknown labels in first-seen order, de-duplicated.
	ToCreate []string
	// ToAttach lists the existing matches, in candidate order.
	ToAttach []core.Tag
}

// Registry caches the known tag set. Matching is by exact, case-sensitive
// label equality.
type Registry struct {
	mu    sync.Mutex
	known map[string]core.Tag // label -> tag
}

func NewRegistry(known []core.Tag) *Registry {
	r := &Registry{known: make(map[string]core.Tag, len(known))}
	r.Fold(known)
	return r
}

// Resolve splits the candidate labels against the known set. Resolving the
// same list twice yields the same split; a label never appears twice in
// ToCreate within one call.
func (r *Registry) Resolve(labels []string) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Resolution
	pending := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		if tag, ok := r.known[label]; ok {
			res.ToAttach = append(res.ToAttach, tag)
			continue
		}
		if _, dup := pending[label]; dup {
			continue
		}
		pending[label] = struct{}{}
		res.ToCreate = append(res.ToCreate, label)
	}
	return res
}

// Fold adds remotely created tags to the known set. Tags without an id are
// ignored: only backend-assigned identities enter the registry.
func (r *Registry) Fold(created []core.Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tag := range created {
		if tag.ID == "" {
			continue
		}
		r.known[tag.Label] = tag
	}
}

// Known returns the tag for a label, if registered.
func (r *Registry) Known(label string) (core.Tag, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tag, ok := r.known[label]
	return tag, ok
}

// Len returns the number of known tags.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.known)
}

// Ensure resolves the labels, creates the missing tags through the backend,
// folds the assigned ids into the registry and returns the full attach set in
// candidate order. The returned tags all carry a backend-assigned id.
func (r *Registry) Ensure(ctx context.Context, store backend.TagStore, labels []string) ([]core.Tag, error) {
	res := r.Resolve(labels)
	if len(res.ToCreate) > 0 {
		created, err := store.AddTags(ctx, res.ToCreate)
		if err != nil {
			return nil, fmt.Errorf("create tags: %w", err)
		}
		r.Fold(created)
	}

	out := make([]core.Tag, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		tag, ok := r.Known(label)
		if !ok {
			return nil, fmt.Errorf("tag %q has no assigned id", label)
		}
		if _, dup := seen[tag.ID]; dup {
			continue
		}
		seen[tag.ID] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}
