package selector

// node is one term of the parsed selection expression. Eval returns the
// matching ids in first-seen order, deduplicated.
type node interface {
	eval(ev *evaluator) ([]string, error)
}

type atomNode struct {
	text string
}

type notNode struct {
	inner node
}

type unionNode struct {
	left, right node
}

type interNode struct { // "in"
	left, right node
}

type diffNode struct { // "except"
	left, right node
}
