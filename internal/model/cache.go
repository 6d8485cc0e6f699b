package model

import "time"

// CacheState is the run-time state of a Job (spec section 3).
type CacheState string

const (
	NotStarted CacheState = "NOT_STARTED"
	InProgress CacheState = "IN_PROGRESS"
	Done       CacheState = "DONE"
	Failed     CacheState = "FAILED"
	Blocked    CacheState = "BLOCKED"
)

// Cache is a job's run-time state, stored separately from its definition so
// that redefinitions that don't change semantics never touch it.
type Cache struct {
	JobID string `json:"job_id"`

	State     CacheState `json:"state"`
	Timestamp time.Time  `json:"timestamp"` // last transition to DONE

	Walltime time.Duration `json:"walltime"`
	Cputime  time.Duration `json:"cputime"`

	Exception string `json:"exception,omitempty"`
	Backtrace string `json:"backtrace,omitempty"`

	CapturedStdout string `json:"captured_stdout,omitempty"`
	CapturedStderr string `json:"captured_stderr,omitempty"`

	// HashesOfChildren freezes each child's DONE-timestamp at the moment
	// this job last ran; the oracle compares these against children's
	// *current* timestamps to decide staleness (spec section 4.4, rule 5).
	HashesOfChildren map[string]time.Time `json:"hashes_of_children"`
}

// NewCache returns a fresh NOT_STARTED cache record for jobID, as written by
// Define for every newly created job (spec section 4.3).
func NewCache(jobID string) *Cache {
	return &Cache{
		JobID:            jobID,
		State:            NotStarted,
		HashesOfChildren: map[string]time.Time{},
	}
}

// Clone returns a deep-enough copy for safe independent mutation.
func (c *Cache) Clone() *Cache {
	cp := *c
	cp.HashesOfChildren = make(map[string]time.Time, len(c.HashesOfChildren))
	for k, v := range c.HashesOfChildren {
		cp.HashesOfChildren[k] = v
	}
	return &cp
}
