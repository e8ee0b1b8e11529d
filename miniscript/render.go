// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
)

// label returns the fragment name, its types and its leaf argument.
func (a *AstElem) label() string {
	var arg string
	switch a.kind {
	case KindPk, KindPkV, KindPkQ, KindPkW:
		arg = a.key.String()

	case KindMulti, KindMultiV, KindThresh, KindThreshV:
		arg = strconv.Itoa(a.k)

	case KindTimeT, KindTimeV, KindTimeF, KindTime, KindTimeW:
		arg = strconv.FormatUint(uint64(a.lockTime), 10)

	case KindHashT, KindHashV, KindHashW:
		arg = hex.EncodeToString(a.hash[:])
	}

	s := fmt.Sprintf("%v [%v]", a.kind, a.types)
	if arg != "" {
		s += " [" + arg + "]"
	}
	return s
}

func (a *AstElem) drawTree(w io.Writer, indent string) {
	_, _ = fmt.Fprintln(w, a.label())
	for i, sub := range a.subs {
		mark := ""
		delim := ""
		if i == len(a.subs)-1 {
			mark = "└──"
		} else {
			mark = "├──"
			delim = "|"
		}
		_, _ = fmt.Fprintf(w, "%s%s", indent, mark)
		padLen := len([]rune(sub.kind.String())) + len([]rune(mark)) -
			1 - len(delim)
		padding := strings.Repeat(" ", padLen)
		sub.drawTree(w, indent+delim+padding)
	}
}

// DrawTree renders the fragment tree as indented text.
func (a *AstElem) DrawTree() string {
	var b strings.Builder
	a.drawTree(&b, "")
	return b.String()
}

// graphName is the name of the graph emitted by Graphviz.
const graphName = "miniscript"

// Graphviz renders the fragment tree in the DOT language. Each node is
// labelled with its fragment name, types and argument.
func (a *AstElem) Graphviz() (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(graphName); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}

	var (
		next    int
		addNode func(node *AstElem) (string, error)
	)
	addNode = func(node *AstElem) (string, error) {
		name := "n" + strconv.Itoa(next)
		next++

		err := g.AddNode(graphName, name, map[string]string{
			"label": strconv.Quote(node.label()),
		})
		if err != nil {
			return "", err
		}
		for _, sub := range node.subs {
			child, err := addNode(sub)
			if err != nil {
				return "", err
			}
			if err := g.AddEdge(name, child, true, nil); err != nil {
				return "", err
			}
		}
		return name, nil
	}
	if _, err := addNode(a); err != nil {
		return "", err
	}

	return g.String(), nil
}
