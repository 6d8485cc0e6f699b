package selector

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/model"
)

// universe and states reproduce spec section 8 scenario 5's fixture:
// {a:DONE, b:FAILED, c:NOT_STARTED, d:DONE, e:DONE, g:DONE, h:FAILED,
// i:DONE, ii:DONE}.
func scenario5() ([]string, map[string]model.CacheState) {
	universe := []string{"a", "b", "c", "d", "e", "g", "h", "i", "ii"}
	states := map[string]model.CacheState{
		"a":  model.Done,
		"b":  model.Failed,
		"c":  model.NotStarted,
		"d":  model.Done,
		"e":  model.Done,
		"g":  model.Done,
		"h":  model.Failed,
		"i":  model.Done,
		"ii": model.Done,
	}
	return universe, states
}

func evalExpr(t *testing.T, expr string) []string {
	t.Helper()
	universe, states := scenario5()
	seq, err := Parse(expr, universe, states)
	require.NoError(t, err)
	out := []string{}
	for id := range seq {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func TestSelector_Scenario5(t *testing.T) {
	assert.Equal(t, []string{"a", "c", "d", "e", "g", "i", "ii"}, evalExpr(t, "all except failed"))
	assert.Equal(t, []string{"e"}, evalExpr(t, "not not e"))
	assert.Equal(t, []string{}, evalExpr(t, "not all"))
}

// test_intersection (original_source's test_syntax.py): juxtaposition
// (union) must bind tighter than "in" — "a b in a b c" is "(a b) in (a b
// c)", not a term-by-term interleaving of union and intersection.
func TestSelector_Intersection(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, evalExpr(t, "a b in a b c"))
}

// test_not (original_source's test_syntax.py): "not" applies to the whole
// following union run, so both sides of "except" cancel out exactly.
func TestSelector_NotExceptNot(t *testing.T) {
	assert.Equal(t, []string{}, evalExpr(t, "not e except not e"))
	assert.Equal(t, []string{}, evalExpr(t, "not a b c except not a b c"))
}

func TestSelector_UnknownJobIsUserError(t *testing.T) {
	universe, states := scenario5()
	_, err := Parse("nosuchjob", universe, states)
	assert.True(t, errs.Is(err, errs.KindUser))
}

func TestSelector_GlobMatch(t *testing.T) {
	universe := []string{"fd", "fd-gd", "fd-gd-g2", "hd"}
	states := map[string]model.CacheState{
		"fd": model.Done, "fd-gd": model.Done, "fd-gd-g2": model.Done, "hd": model.Done,
	}
	seq, err := Parse("fd*", universe, states)
	require.NoError(t, err)
	var out []string
	for id := range seq {
		out = append(out, id)
	}
	sort.Strings(out)
	assert.Equal(t, []string{"fd", "fd-gd", "fd-gd-g2"}, out)
}
