package tree

import "strings"

// Render draws the subtree under root with box-drawing connectors.
func Render(root *EvidenceNode) string {
	var lines []string
	lines = append(lines, root.String())

	var walkQuestion func(q *QuestionNode, prefix string, last bool)
	var walkEvidence func(e *EvidenceNode, prefix string, last bool)

	line := func(prefix string, last bool, text string) string {
		if last {
			return prefix + "└── " + text
		}
		return prefix + "├── " + text
	}
	indent := func(prefix string, last bool) string {
		if last {
			return prefix + "    "
		}
		return prefix + "│   "
	}

	walkEvidence = func(e *EvidenceNode, prefix string, last bool) {
		lines = append(lines, line(prefix, last, e.String()))
		next := indent(prefix, last)
		for i, q := range e.Children {
			walkQuestion(q, next, i == len(e.Children)-1)
		}
	}
	walkQuestion = func(q *QuestionNode, prefix string, last bool) {
		lines = append(lines, line(prefix, last, q.String()))
		next := indent(prefix, last)
		for i, e := range q.Children {
			walkEvidence(e, next, i == len(q.Children)-1)
		}
	}

	for i, q := range root.Children {
		walkQuestion(q, "", i == len(root.Children)-1)
	}
	return strings.Join(lines, "\n")
}

// Count returns the number of evidence and question nodes under root,
// including root itself.
func Count(root *EvidenceNode) (evidence, questions int) {
	evidence = 1
	for _, q := range root.Children {
		questions++
		for _, e := range q.Children {
			ev, qs := Count(e)
			evidence += ev
			questions += qs
		}
	}
	return evidence, questions
}
