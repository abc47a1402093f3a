// Package contractregistry tracks contract IDs registered against services
// (spec.md §4.8's contracts_registering phase) and ingests service
// interface JSON blobs pre-fetched by the pipeline (spec.md §4.5 "pre-
// fetched by the pipeline and passed in as a JSON argument").
package contractregistry

import (
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/buildforge/buildforge/internal/errors"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

// Registry tracks which contract IDs belong to which service.
type Registry struct {
	mu        sync.Mutex
	byService map[string][]string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byService: make(map[string][]string)}
}

// Register attaches contractID to service. A contract ID registered twice
// for the same service is recorded once.
func (r *Registry) Register(service, contractID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byService[service] {
		if existing == contractID {
			return
		}
	}
	r.byService[service] = append(r.byService[service], contractID)
}

// ContractIDs returns a copy of the registered contract IDs for service, or an empty slice if none.
func (r *Registry) ContractIDs(service string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.byService[service]))
	copy(out, r.byService[service])
	return out
}

// ToStateMap renders the registry into PipelineState.ContractIDs' shape.
func (r *Registry) ToStateMap() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.byService))
	for k, v := range r.byService {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// FromStateMap restores a Registry from PipelineState.ContractIDs.
func FromStateMap(m map[string][]string) *Registry {
	r := New()
	for service, ids := range m {
		cp := make([]string, len(ids))
		copy(cp, ids)
		r.byService[service] = cp
	}
	return r
}

// ParseServiceInterface decodes a pipeline-prefetched service interface blob
// (spec.md §4.5, phase 1) into a typed ServiceInterface.
func ParseServiceInterface(raw []byte) (*types.ServiceInterface, error) {
	var iface types.ServiceInterface
	if err := json.Unmarshal(raw, &iface); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeUserError, "parsing service interface JSON")
	}
	return &iface, nil
}

// Query runs a jq expression against a raw service-interface-shaped JSON
// document, pulling specific fields (e.g. ".endpoints[].path") out of a
// pre-fetched blob without unmarshaling into a Go type first. No other
// package in this module calls it.
func Query(raw []byte, expr string) ([]interface{}, error) {
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeUserError, "parsing JSON for jq query")
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeUserError, "parsing jq expression %q", expr)
	}

	var results []interface{}
	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, errors.Wrapf(err, errors.ErrorTypeInternal, "evaluating jq expression %q", expr)
		}
		results = append(results, v)
	}
	return results, nil
}
