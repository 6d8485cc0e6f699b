package selector

import (
	"iter"

	"github.com/compmake/engine/internal/model"
)

// Parse compiles expr (spec section 4.5's grammar) and evaluates it against
// universe/states, returning a lazy iterator over the matching job ids in
// first-seen order. Ill-formed input fails with errs.KindSyntax; well-formed
// input referencing an unknown literal id fails with errs.KindUser.
func Parse(expr string, universe []string, states map[string]model.CacheState) (iter.Seq[string], error) {
	ast, err := parse(expr)
	if err != nil {
		return nil, err
	}
	ev := newEvaluator(universe, states)
	ids, err := ev.eval(ast)
	if err != nil {
		return nil, err
	}
	return func(yield func(string) bool) {
		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}, nil
}
