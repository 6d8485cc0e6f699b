package model

// UserObject is the serialised return value of a DONE job, stored separately
// from Cache so result blobs can be garbage-collected without losing run
// history (spec section 3).
type UserObject struct {
	JobID string `json:"job_id"`

	// Encoding names the blob's serialisation — see SPEC_FULL.md section
	// 4.9. internal/userobject always writes "json"; there is no gob
	// fallback, and a value encoding/json cannot marshal fails the job as
	// JobFailedUnpickleable.
	Encoding string `json:"encoding"`

	// Compressed indicates Blob was run through zstd before storage. It is
	// set whenever the store's compress option is on, whatever the blob's
	// size (the store's "optional compression header" contract in spec
	// section 6).
	Compressed bool `json:"compressed"`

	Blob []byte `json:"blob"`
}
