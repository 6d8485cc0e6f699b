package selector

import (
	"sort"
	"strings"

	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/model"
)

var wildcards = map[string]model.CacheState{
	"done":        model.Done,
	"failed":      model.Failed,
	"not-started": model.NotStarted,
	"blocked":     model.Blocked,
	"in-progress": model.InProgress,
}

// evaluator holds the job universe (sorted, for a deterministic "first seen"
// order on glob/wildcard expansion — the graph itself has no notion of
// definition sequence) and each job's current Cache state.
type evaluator struct {
	universe []string // sorted job ids
	states   map[string]model.CacheState
}

func newEvaluator(universe []string, states map[string]model.CacheState) *evaluator {
	sorted := append([]string(nil), universe...)
	sort.Strings(sorted)
	return &evaluator{universe: sorted, states: states}
}

func (ev *evaluator) eval(n node) ([]string, error) {
	return n.eval(ev)
}

func (a atomNode) eval(ev *evaluator) ([]string, error) {
	lower := strings.ToLower(a.text)
	if lower == "all" {
		return append([]string(nil), ev.universe...), nil
	}
	if state, ok := wildcards[lower]; ok {
		var out []string
		for _, id := range ev.universe {
			if ev.states[id] == state {
				out = append(out, id)
			}
		}
		return out, nil
	}

	if !strings.Contains(a.text, "*") {
		for _, id := range ev.universe {
			if id == a.text {
				return []string{id}, nil
			}
		}
		return nil, errs.New(errs.KindUser, "selector: no such job '"+a.text+"'")
	}

	match := globMatcher(a.text)
	var out []string
	for _, id := range ev.universe {
		if match(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (n notNode) eval(ev *evaluator) ([]string, error) {
	inner, err := n.inner.eval(ev)
	if err != nil {
		return nil, err
	}
	excluded := toSet(inner)
	var out []string
	for _, id := range ev.universe {
		if _, ok := excluded[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (n unionNode) eval(ev *evaluator) ([]string, error) {
	left, err := n.left.eval(ev)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(ev)
	if err != nil {
		return nil, err
	}
	seen := toSet(left)
	out := append([]string(nil), left...)
	for _, id := range right {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (n interNode) eval(ev *evaluator) ([]string, error) {
	left, err := n.left.eval(ev)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(ev)
	if err != nil {
		return nil, err
	}
	rightSet := toSet(right)
	var out []string
	for _, id := range left {
		if _, ok := rightSet[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (n diffNode) eval(ev *evaluator) ([]string, error) {
	left, err := n.left.eval(ev)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(ev)
	if err != nil {
		return nil, err
	}
	rightSet := toSet(right)
	var out []string
	for _, id := range left {
		if _, ok := rightSet[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// globMatcher compiles a job-id glob (only '*' is special, matching any run
// of characters) into a matcher function, anchored at both ends.
func globMatcher(pattern string) func(string) bool {
	parts := strings.Split(pattern, "*")
	return func(s string) bool {
		if len(parts) == 1 {
			return s == pattern
		}
		if !strings.HasPrefix(s, parts[0]) {
			return false
		}
		s = s[len(parts[0]):]
		if !strings.HasSuffix(s, parts[len(parts)-1]) {
			return false
		}
		s = s[:len(s)-len(parts[len(parts)-1])]
		for _, mid := range parts[1 : len(parts)-1] {
			idx := strings.Index(s, mid)
			if idx < 0 {
				return false
			}
			s = s[idx+len(mid):]
		}
		return true
	}
}
