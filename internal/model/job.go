package model

import "encoding/json"

// Job describes one unit of computation, per spec section 3.
//
// Args and Kwargs are JSON blobs: any Promise embedded by the caller is
// encoded as {"$promise": "<job_id>"} by Promise's own JSON tag when
// internal/engine marshals the arguments; the argument rewriter only
// collects the referenced ids and does not alter the values.
type Job struct {
	ID          string `json:"id"`
	CallableRef string `json:"callable_ref"`
	Args        []byte `json:"args"`
	Kwargs      []byte `json:"kwargs"`

	// Children this job statically depends on (derived at definition time).
	Children map[string]struct{} `json:"children"`

	// DynamicChildren maps a dynamic parent job id (always this job's own
	// id, when IsDynamic) to the set of child ids it produced on its last
	// successful run.
	DynamicChildren map[string]map[string]struct{} `json:"dynamic_children"`

	// DefinedBy is the stack of enclosing dynamic jobs, root-most first;
	// ["root"] for top-level definitions.
	DefinedBy []string `json:"defined_by"`

	// Parents is the inverse of Children, maintained by internal/engine and
	// internal/housekeeping in the same commit as the forward edges.
	// DynamicParents is stored but never populated: the inverse of
	// DynamicChildren is not recorded.
	Parents        map[string]struct{} `json:"parents"`
	DynamicParents map[string]struct{} `json:"dynamic_parents"`

	// Defines is the set of job ids whose definition this job owns (i.e.
	// this job is somewhere in their DefinedBy stack, as direct definer).
	Defines map[string]struct{} `json:"defines"`

	NeedsContext bool `json:"needs_context"`
	IsDynamic    bool `json:"is_dynamic"`

	// DefinitionTimestamp bumps whenever a redefinition changes
	// (CallableRef, Args, Kwargs). It is informational only: no oracle rule
	// reads it; staleness propagates through the reset Cache instead.
	DefinitionTimestamp int64 `json:"definition_timestamp"`
}

// NewJob returns a Job with every set/map field initialised, so callers never
// need nil-guards before mutating Children/Parents/etc.
func NewJob(id string) *Job {
	return &Job{
		ID:              id,
		Children:        map[string]struct{}{},
		DynamicChildren: map[string]map[string]struct{}{},
		Parents:         map[string]struct{}{},
		DynamicParents:  map[string]struct{}{},
		Defines:         map[string]struct{}{},
	}
}

// SameDefinition reports whether two jobs share (callable_ref, args, kwargs),
// the equality spec section 4.3 uses to decide if a redefinition is a no-op.
func (j *Job) SameDefinition(other *Job) bool {
	if j.CallableRef != other.CallableRef {
		return false
	}
	return bytesEqualJSON(j.Args, other.Args) && bytesEqualJSON(j.Kwargs, other.Kwargs)
}

// bytesEqualJSON compares two JSON blobs by structural (not byte-for-byte)
// equality, so that key reordering in a map never manifests as a spurious
// redefinition.
func bytesEqualJSON(a, b []byte) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return string(a) == string(b)
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return string(ab) == string(bb)
}

// Clone returns a deep copy sufficient for safe mutation during a commit,
// mirroring the defensive-copy pattern the queue manager's job model used
// (JobModel.Clone) before any in-place edit.
func (j *Job) Clone() *Job {
	c := NewJob(j.ID)
	c.CallableRef = j.CallableRef
	c.Args = append([]byte(nil), j.Args...)
	c.Kwargs = append([]byte(nil), j.Kwargs...)
	c.DefinedBy = append([]string(nil), j.DefinedBy...)
	c.NeedsContext = j.NeedsContext
	c.IsDynamic = j.IsDynamic
	c.DefinitionTimestamp = j.DefinitionTimestamp
	for k := range j.Children {
		c.Children[k] = struct{}{}
	}
	for k := range j.Parents {
		c.Parents[k] = struct{}{}
	}
	for k := range j.DynamicParents {
		c.DynamicParents[k] = struct{}{}
	}
	for k := range j.Defines {
		c.Defines[k] = struct{}{}
	}
	for parent, kids := range j.DynamicChildren {
		cp := make(map[string]struct{}, len(kids))
		for k := range kids {
			cp[k] = struct{}{}
		}
		c.DynamicChildren[parent] = cp
	}
	return c
}
