// Package resolver builds dependency chains over protocols (extends /
// requires / conflicts) and computes effective, priority-resolved
// constraint sets, using a post-order recursive-evaluation walk of the
// extends DAG (see DESIGN.md for its grounding).
package resolver

import (
	"fmt"
	"sync"

	"github.com/protocore/governor/pkg/protocol"
	"github.com/protocore/governor/pkg/registry"
)

// ResolutionErrorKind is the fixed taxonomy of resolution errors.
type ResolutionErrorKind string

const (
	ErrCircularDependency ResolutionErrorKind = "circular_dependency"
	ErrMissingProtocol    ResolutionErrorKind = "missing_protocol"
	ErrMissingRequired    ResolutionErrorKind = "missing_required"
	ErrConflictDetected   ResolutionErrorKind = "conflict_detected"
)

// ResolutionError is one collected error from a resolve pass. Errors never
// abort traversal; all are collected and returned with the chain.
type ResolutionError struct {
	Kind    ResolutionErrorKind
	Message string
	Details map[string]interface{}
}

// ResolvedChain is the deterministic post-order ancestor ordering for a
// requested protocol id, plus any errors encountered while building it.
type ResolvedChain struct {
	ProtocolID string
	Chain      []protocol.Protocol // root ancestor first, requested protocol last
	Errors     []ResolutionError
}

// IsValid reports whether the chain was built without errors.
func (c ResolvedChain) IsValid() bool {
	return len(c.Errors) == 0
}

// Override records that byProtocol's declaration of constraintId took
// precedence over fromProtocol's.
type Override struct {
	ConstraintID string
	FromProtocol string
	ByProtocol   string
}

// EffectiveConstraints is the merged, priority-resolved constraint set for a
// protocol chain.
type EffectiveConstraints struct {
	ProtocolID  string
	Constraints map[string]protocol.ProtocolConstraint // by constraint id
	Sources     map[string]string                      // constraint id -> owning protocol id
	Overridden  []Override
}

// Resolver computes resolved chains and effective constraint sets over a
// Registry view. Caches are flat and non-invalidating: callers MUST call
// ClearCache whenever the registry mutates.
type Resolver struct {
	reg registry.Registry

	mu          sync.Mutex
	chainCache  map[string]ResolvedChain
	constrCache map[string]EffectiveConstraints
}

// New creates a Resolver over the given registry view.
func New(reg registry.Registry) *Resolver {
	return &Resolver{
		reg:         reg,
		chainCache:  make(map[string]ResolvedChain),
		constrCache: make(map[string]EffectiveConstraints),
	}
}

// ClearCache discards all memoized chains and effective constraint sets.
// Every mutating registry operation must call this.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chainCache = make(map[string]ResolvedChain)
	r.constrCache = make(map[string]EffectiveConstraints)
}

// ResolveChain performs a DFS over the extends graph rooted at id, emitting
// nodes in post-order (root ancestor first, id last). Cycles and missing
// protocols are recorded as errors without aborting traversal. After
// traversal, requires across the whole chain are checked for presence in the
// registry and conflicts against the registry's active set.
func (r *Resolver) ResolveChain(id string) ResolvedChain {
	r.mu.Lock()
	if cached, ok := r.chainCache[id]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	visiting := map[string]bool{}
	visited := map[string]bool{}
	var order []protocol.Protocol
	var errs []ResolutionError
	var path []string

	var visit func(nodeID string)
	visit = func(nodeID string) {
		if visiting[nodeID] {
			cycle := append(append([]string{}, path[indexOf(path, nodeID):]...), nodeID)
			errs = append(errs, ResolutionError{
				Kind:    ErrCircularDependency,
				Message: fmt.Sprintf("circular dependency detected at %q", nodeID),
				Details: map[string]interface{}{"cycle": cycle},
			})
			return
		}
		if visited[nodeID] {
			return
		}
		p, ok := r.reg.GetProtocol(nodeID)
		if !ok {
			errs = append(errs, ResolutionError{
				Kind:    ErrMissingProtocol,
				Message: fmt.Sprintf("protocol %q not found", nodeID),
				Details: map[string]interface{}{"protocolId": nodeID},
			})
			return
		}

		visiting[nodeID] = true
		path = append(path, nodeID)
		for _, parent := range p.Extends {
			if parent == nodeID {
				errs = append(errs, ResolutionError{
					Kind:    ErrCircularDependency,
					Message: fmt.Sprintf("protocol %q extends itself", nodeID),
					Details: map[string]interface{}{"cycle": []string{nodeID, nodeID}},
				})
				continue
			}
			visit(parent)
		}
		path = path[:len(path)-1]
		delete(visiting, nodeID)
		visited[nodeID] = true

		order = append(order, *p)
	}
	visit(id)

	// requires/conflicts across the full chain, independent of cycle/missing errors.
	seen := map[string]bool{}
	for _, p := range order {
		for _, req := range p.Requires {
			if req == p.ID {
				errs = append(errs, ResolutionError{
					Kind:    ErrCircularDependency,
					Message: fmt.Sprintf("protocol %q requires itself", p.ID),
					Details: map[string]interface{}{"cycle": []string{p.ID, p.ID}},
				})
				continue
			}
			if seen[req] {
				continue
			}
			if _, ok := r.reg.GetProtocol(req); !ok {
				errs = append(errs, ResolutionError{
					Kind:    ErrMissingRequired,
					Message: fmt.Sprintf("protocol %q requires missing protocol %q", p.ID, req),
					Details: map[string]interface{}{"protocolId": p.ID, "requires": req},
				})
			}
			seen[req] = true
		}
		for _, conf := range p.Conflicts {
			if conf == p.ID {
				continue
			}
			for _, activeID := range r.reg.GetActive() {
				if activeID == conf {
					errs = append(errs, ResolutionError{
						Kind:    ErrConflictDetected,
						Message: fmt.Sprintf("protocol %q conflicts with active protocol %q", p.ID, conf),
						Details: map[string]interface{}{"protocolId": p.ID, "conflictsWith": conf},
					})
				}
			}
		}
	}

	result := ResolvedChain{ProtocolID: id, Chain: order, Errors: errs}

	r.mu.Lock()
	r.chainCache[id] = result
	r.mu.Unlock()
	return result
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return 0
}

// GetEffectiveConstraints iterates the resolved chain in order, merging
// constraints by id. Ties (equal priority) favor the later, more-derived
// protocol, since the chain is post-order.
func (r *Resolver) GetEffectiveConstraints(id string) EffectiveConstraints {
	r.mu.Lock()
	if cached, ok := r.constrCache[id]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	chain := r.ResolveChain(id)

	eff := EffectiveConstraints{
		ProtocolID:  id,
		Constraints: make(map[string]protocol.ProtocolConstraint),
		Sources:     make(map[string]string),
	}

	priorities := make(map[string]int)

	for _, p := range chain.Chain {
		for _, c := range p.Constraints {
			current, exists := eff.Constraints[c.ID]
			if !exists {
				eff.Constraints[c.ID] = c
				eff.Sources[c.ID] = p.ID
				priorities[c.ID] = p.Priority
				continue
			}
			storedPriority := priorities[c.ID]
			if p.Priority >= storedPriority {
				eff.Overridden = append(eff.Overridden, Override{
					ConstraintID: c.ID,
					FromProtocol: eff.Sources[c.ID],
					ByProtocol:   p.ID,
				})
				eff.Constraints[c.ID] = c
				eff.Sources[c.ID] = p.ID
				priorities[c.ID] = p.Priority
			}
			_ = current
		}
	}

	r.mu.Lock()
	r.constrCache[id] = eff
	r.mu.Unlock()
	return eff
}

// CheckActivationConflicts independently verifies direct conflicts against
// currently-active protocols (in both directions) and presence of all
// required protocols, without performing a full chain resolution.
func (r *Resolver) CheckActivationConflicts(id string) []ResolutionError {
	p, ok := r.reg.GetProtocol(id)
	if !ok {
		return []ResolutionError{{
			Kind:    ErrMissingProtocol,
			Message: fmt.Sprintf("protocol %q not found", id),
			Details: map[string]interface{}{"protocolId": id},
		}}
	}

	var errs []ResolutionError
	active := r.reg.GetActive()

	for _, req := range p.Requires {
		if req == id {
			continue
		}
		found := false
		for _, a := range active {
			if a == req {
				found = true
				break
			}
		}
		if !found {
			if _, ok := r.reg.GetProtocol(req); !ok {
				errs = append(errs, ResolutionError{Kind: ErrMissingRequired, Message: fmt.Sprintf("required protocol %q not found", req), Details: map[string]interface{}{"requires": req}})
			} else {
				errs = append(errs, ResolutionError{Kind: ErrMissingRequired, Message: fmt.Sprintf("required protocol %q is not active", req), Details: map[string]interface{}{"requires": req}})
			}
		}
	}

	for _, conf := range p.Conflicts {
		for _, a := range active {
			if a == conf {
				errs = append(errs, ResolutionError{Kind: ErrConflictDetected, Message: fmt.Sprintf("conflicts with active protocol %q", conf), Details: map[string]interface{}{"conflictsWith": conf}})
			}
		}
	}

	// Reverse direction: does any active protocol declare a conflict with id?
	for _, a := range active {
		ap, ok := r.reg.GetProtocol(a)
		if !ok {
			continue
		}
		for _, conf := range ap.Conflicts {
			if conf == id {
				errs = append(errs, ResolutionError{Kind: ErrConflictDetected, Message: fmt.Sprintf("active protocol %q conflicts with %q", a, id), Details: map[string]interface{}{"conflictsWith": a}})
			}
		}
	}

	return errs
}
