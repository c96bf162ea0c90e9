package report

import (
	"fmt"
	"io"
	"path"
	"strings"
)

const indentWidth = 4

// treeWriter renders a path-ordered list of relative paths as an indented
// tree. stack holds the directories whose lines are open, outermost first;
// each one is an ancestor of the next.
type treeWriter struct {
	w     io.Writer
	stack []string
}

// place positions rel in the tree and returns its indent level and the label
// to print. Ancestor directories that were never printed themselves are
// emitted as a single structural line first.
func (t *treeWriter) place(rel string, isDir bool) (int, string, error) {
	label := rel
	for len(t.stack) > 0 {
		top := t.stack[len(t.stack)-1]
		if strings.HasPrefix(rel, top+"/") {
			label = rel[len(top)+1:]
			break
		}
		t.stack = t.stack[:len(t.stack)-1]
	}

	if !isDir {
		if dir := path.Dir(label); dir != "." {
			if _, err := fmt.Fprintf(t.w, "%s%s/\n", t.indent(len(t.stack)), dir); err != nil {
				return 0, "", err
			}
			t.stack = append(t.stack, path.Dir(rel))
			label = path.Base(label)
		}
	}

	level := len(t.stack)
	if isDir {
		t.stack = append(t.stack, rel)
		label += "/"
	}
	return level, label, nil
}

func (t *treeWriter) indent(level int) string {
	return strings.Repeat(" ", level*indentWidth)
}
