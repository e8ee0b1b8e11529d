// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"fmt"
)

// Cost is a fragment together with its script size and the expected witness
// sizes when satisfying and dissatisfying it.
type Cost struct {
	Node       *AstElem
	PkCost     int
	SatCost    float64
	DissatCost float64
}

// weight is the cost of c given the probabilities that it will be satisfied
// and dissatisfied.
func (c Cost) weight(pSat, pDissat float64) float64 {
	return float64(c.PkCost) + pSat*c.SatCost + pDissat*c.DissatCost
}

func (c Cost) String() string {
	return fmt.Sprintf("%v (pk=%d sat=%.2f dissat=%.2f)", c.Node,
		c.PkCost, c.SatCost, c.DissatCost)
}

// costFromTerminal returns the cost of a leaf fragment.
func costFromTerminal(node *AstElem) Cost {
	c := Cost{Node: node}
	switch node.kind {
	case KindPk:
		c.PkCost, c.SatCost, c.DissatCost = 35, 72, 1

	case KindPkV:
		c.PkCost, c.SatCost = 35, 72

	case KindPkQ:
		c.PkCost, c.SatCost = 34, 72

	case KindPkW:
		c.PkCost, c.SatCost, c.DissatCost = 36, 72, 1

	case KindMulti, KindMultiV:
		n := len(node.keys)
		c.PkCost = scriptNumLen(int64(node.k)) +
			scriptNumLen(int64(n)) + pubKeyDataPushLen*n + 1
		c.SatCost = 1 + 72*float64(node.k)
		if node.kind == KindMulti {
			c.DissatCost = 1 + float64(node.k)
		}

	case KindTimeT:
		c.PkCost = scriptNumLen(int64(node.lockTime)) + 1

	case KindTimeV, KindTimeF:
		c.PkCost = scriptNumLen(int64(node.lockTime)) + 2

	case KindTime:
		c.PkCost = scriptNumLen(int64(node.lockTime)) + 5
		c.SatCost, c.DissatCost = 2, 1

	case KindTimeW:
		c.PkCost = scriptNumLen(int64(node.lockTime)) + 6
		c.SatCost, c.DissatCost = 2, 1

	case KindHashT, KindHashV:
		c.PkCost, c.SatCost = 39, 33

	case KindHashW:
		c.PkCost, c.SatCost, c.DissatCost = 45, 33, 1

	default:
		panic(AssertError(fmt.Sprintf("%v is not a terminal",
			node.kind)))
	}
	return c
}

// costTrue returns the cost of True(c).
func costTrue(c Cost) Cost {
	return Cost{
		Node:    mustNode(NewTrue(c.Node)),
		PkCost:  c.PkCost + 1,
		SatCost: c.SatCost,
	}
}

// costWrap returns the cost of Wrap(c).
func costWrap(c Cost) Cost {
	return Cost{
		Node:       mustNode(NewWrap(c.Node)),
		PkCost:     c.PkCost + 2,
		SatCost:    c.SatCost,
		DissatCost: c.DissatCost,
	}
}

// costLikely returns the cost of Likely(c).
func costLikely(c Cost) Cost {
	return Cost{
		Node:       mustNode(NewLikely(c.Node)),
		PkCost:     c.PkCost + 4,
		SatCost:    c.SatCost + 1,
		DissatCost: 2,
	}
}

// costUnlikely returns the cost of Unlikely(c).
func costUnlikely(c Cost) Cost {
	return Cost{
		Node:       mustNode(NewUnlikely(c.Node)),
		PkCost:     c.PkCost + 4,
		SatCost:    c.SatCost + 2,
		DissatCost: 1,
	}
}

// pairConstructors maps each binary fragment kind to its constructor.
var pairConstructors = map[Kind]func(l, r *AstElem) (*AstElem, error){
	KindAndCat:  NewAndCat,
	KindAndBool: NewAndBool,
	KindAndCasc: NewAndCasc,
	KindOrBool:  NewOrBool,
	KindOrCasc:  NewOrCasc,
	KindOrCont:  NewOrCont,
	KindOrKey:   NewOrKey,
	KindOrKeyV:  NewOrKeyV,
	KindOrIf:    NewOrIf,
	KindOrIfV:   NewOrIfV,
	KindOrNotIf: NewOrNotIf,
}

// costFromPair returns the cost of the binary fragment kind over l and r. lw
// and rw are the probabilities that the left and right branch of a
// disjunction is the one satisfied; conjunctions ignore them.
func costFromPair(l, r Cost, kind Kind, lw, rw float64) Cost {
	newPair, ok := pairConstructors[kind]
	if !ok {
		panic(AssertError(fmt.Sprintf("%v is not a binary fragment",
			kind)))
	}

	c := Cost{
		Node:   mustNode(newPair(l.Node, r.Node)),
		PkCost: l.PkCost + r.PkCost,
	}
	switch kind {
	case KindAndCat:
		c.SatCost = l.SatCost + r.SatCost

	case KindAndBool:
		c.PkCost++
		c.SatCost = l.SatCost + r.SatCost
		c.DissatCost = l.DissatCost + r.DissatCost

	case KindAndCasc:
		c.PkCost += 4
		c.SatCost = l.SatCost + r.SatCost
		c.DissatCost = l.DissatCost

	case KindOrBool:
		c.PkCost++
		c.SatCost = lw*(l.SatCost+r.DissatCost) +
			rw*(r.SatCost+l.DissatCost)
		c.DissatCost = l.DissatCost + r.DissatCost

	case KindOrCasc:
		c.PkCost += 3
		c.SatCost = lw*l.SatCost + rw*(r.SatCost+l.DissatCost)
		c.DissatCost = l.DissatCost + r.DissatCost

	case KindOrCont:
		c.PkCost += 2
		c.SatCost = lw*l.SatCost + rw*(r.SatCost+l.DissatCost)

	case KindOrKey, KindOrKeyV:
		c.PkCost += 3
		if kind == KindOrKeyV {
			c.PkCost++
		}
		c.SatCost = lw*(l.SatCost+2) + rw*(r.SatCost+1)

	case KindOrIf:
		c.PkCost += 3
		c.SatCost = lw*(l.SatCost+2) + rw*(r.SatCost+1)
		c.DissatCost = r.DissatCost + 1

	case KindOrIfV:
		c.PkCost += 4
		c.SatCost = lw*(l.SatCost+2) + rw*(r.SatCost+1)

	case KindOrNotIf:
		c.PkCost += 3
		c.SatCost = lw*(l.SatCost+1) + rw*(r.SatCost+2)
		c.DissatCost = r.DissatCost + 2
	}
	return c
}

// costFromThresh returns the cost of a k-of-n threshold whose first leg is e
// and whose remaining legs are ws.
func costFromThresh(k int, e Cost, ws []Cost, verify bool) Cost {
	n := len(ws) + 1
	avg := float64(k) / float64(n)

	subs := make([]*AstElem, 0, n)
	c := Cost{PkCost: (n - 1) + scriptNumLen(int64(k)) + 1}
	for _, leg := range append([]Cost{e}, ws...) {
		subs = append(subs, leg.Node)
		c.PkCost += leg.PkCost
		c.SatCost += avg*leg.SatCost + (1-avg)*leg.DissatCost
		c.DissatCost += leg.DissatCost
	}

	if verify {
		c.Node = mustNode(NewThreshV(k, subs))
		c.DissatCost = 0
	} else {
		c.Node = mustNode(NewThresh(k, subs))
	}
	return c
}

// minCost returns the candidate with the lowest weight. Ties go to the lower
// satisfaction cost, then to the earlier candidate.
func minCost(pSat, pDissat float64, candidates ...Cost) Cost {
	if len(candidates) == 0 {
		panic(AssertError("no candidates to choose from"))
	}

	best := candidates[0]
	bestWeight := best.weight(pSat, pDissat)
	for _, c := range candidates[1:] {
		w := c.weight(pSat, pDissat)
		if w < bestWeight || (w == bestWeight &&
			c.SatCost < best.SatCost) {

			best, bestWeight = c, w
		}
	}
	return best
}
