// Package ui holds the box drawing helpers used to render result trees.
package ui

import "strings"

const (
	TreeBranch     = "├── "
	TreeLastBranch = "└── "
	TreeContinue   = "│   " // ancestor has more siblings below
	TreeIndent     = "    " // ancestor was the last child
)

// BuildTreePrefix returns the connector for a node at depth (1 for children of the root).
// parentIsLast[i] tells whether the ancestor at depth i+1 was the last of its siblings.
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth <= 0 {
		return ""
	}

	var b strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			b.WriteString(TreeIndent)
		} else {
			b.WriteString(TreeContinue)
		}
	}
	if isLast {
		b.WriteString(TreeLastBranch)
	} else {
		b.WriteString(TreeBranch)
	}
	return b.String()
}
