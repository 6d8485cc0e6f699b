// Package userobject encodes and decodes the serialised return value of a
// DONE job (model.UserObject), optionally zstd-compressed, per spec
// section 6's "payload format: optional compression header + serialised
// record".
package userobject

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/model"
)

// Options controls how Encode stores a value.
type Options struct {
	Compress bool
}

// Encode marshals value to JSON and wraps it as a model.UserObject, applying
// zstd compression when requested.
func Encode(jobID string, value any, opts Options) (*model.UserObject, error) {
	blob, err := json.Marshal(value)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnpickleable, "encode user object", err)
	}

	if !opts.Compress {
		return &model.UserObject{JobID: jobID, Encoding: "json", Blob: blob}, nil
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindBug, "create zstd encoder", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(blob, nil)

	return &model.UserObject{JobID: jobID, Encoding: "json", Compressed: true, Blob: compressed}, nil
}

// Decode reverses Encode, returning the generic JSON value a caller decoded
// into at materialisation time (maps/slices/scalars).
func Decode(uo *model.UserObject) (any, error) {
	blob := uo.Blob
	if uo.Compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errs.Wrap(errs.KindBug, "create zstd decoder", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(blob, nil)
		if err != nil {
			return nil, errs.Wrap(errs.KindDB, "decompress user object", err)
		}
		blob = out
	}

	var v any
	if err := json.Unmarshal(blob, &v); err != nil {
		return nil, errs.Wrap(errs.KindDB, "decode user object", err)
	}
	return v, nil
}

// Copy streams src into a fresh byte slice, for a caller that wants a
// UserObject's raw blob as-is without round-tripping through Decode/Encode.
// Nothing in this module calls it; cmd/compute's dump goes through Decode.
func Copy(src io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, src); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
