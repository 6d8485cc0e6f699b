package shell

import (
	"encoding/json"
	"os"

	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/model"
)

func decodeCache(raw []byte, c *model.Cache) error {
	if err := json.Unmarshal(raw, c); err != nil {
		return errs.Wrap(errs.KindDB, "decode cache", err)
	}
	return nil
}

func decodeUserObject(raw []byte, uo *model.UserObject) error {
	if err := json.Unmarshal(raw, uo); err != nil {
		return errs.Wrap(errs.KindDB, "decode user object", err)
	}
	return nil
}

// newProcessCommand builds the argv used to re-invoke the current binary in
// ModeNewProcess's worker role, via cmd/compute's hidden --internal-run-job
// verb (spec section 4.6).
func newProcessCommand() []string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return []string{exe, "--internal-run-job"}
}
