// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcpolicy/policy"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// asymmetricOrLeftWeight and asymmetricOrRightWeight are the branch
	// probabilities of AsymmetricOr.
	asymmetricOrLeftWeight  = 127.0 / 128.0
	asymmetricOrRightWeight = 1.0 / 128.0
)

// contentKind identifies the policy construct a compiledNode stands for.
type contentKind uint8

const (
	contentPk contentKind = iota
	contentMulti
	contentTime
	contentHash
	contentAnd
	contentOr
	contentThresh
)

// probKey identifies a (pSat, pDissat) pair by the exact bit patterns of the
// two probabilities.
type probKey struct {
	sat, dissat uint64
}

func newProbKey(pSat, pDissat float64) probKey {
	return probKey{
		sat:    math.Float64bits(pSat),
		dissat: math.Float64bits(pDissat),
	}
}

// compiledNode is a policy node annotated with memo tables of the best
// fragment of each type found so far, per probability pair. W is never
// memoised since it is always derived from E.
type compiledNode struct {
	content  contentKind
	key      policy.PubKey
	keys     []policy.PubKey
	k        int
	lockTime uint32
	hash     chainhash.Hash
	subs     []*compiledNode

	// lw and rw are the branch probabilities of an or.
	lw, rw float64

	bestEs map[probKey]Cost
	bestQs map[probKey]Cost
	bestFs map[probKey]Cost
	bestVs map[probKey]Cost
	bestTs map[probKey]Cost
}

// newCompiledNode mirrors p as a compiledNode tree.
func newCompiledNode(p policy.Policy) (*compiledNode, error) {
	node := &compiledNode{
		bestEs: make(map[probKey]Cost),
		bestQs: make(map[probKey]Cost),
		bestFs: make(map[probKey]Cost),
		bestVs: make(map[probKey]Cost),
		bestTs: make(map[probKey]Cost),
	}

	addSubs := func(subs ...policy.Policy) error {
		for _, sub := range subs {
			c, err := newCompiledNode(sub)
			if err != nil {
				return err
			}
			node.subs = append(node.subs, c)
		}
		return nil
	}

	var err error
	switch p := p.(type) {
	case *policy.CheckSig:
		node.content = contentPk
		node.key = p.Key()

	case *policy.Multi:
		node.content = contentMulti
		node.k = p.K()
		node.keys = p.Keys()

	case *policy.Time:
		node.content = contentTime
		node.lockTime = p.LockTime()

	case *policy.Hash:
		node.content = contentHash
		node.hash = p.Digest()

	case *policy.And:
		node.content = contentAnd
		err = addSubs(p.Left(), p.Right())

	case *policy.Or:
		node.content = contentOr
		node.lw, node.rw = 0.5, 0.5
		err = addSubs(p.Left(), p.Right())

	case *policy.AsymmetricOr:
		node.content = contentOr
		node.lw = asymmetricOrLeftWeight
		node.rw = asymmetricOrRightWeight
		err = addSubs(p.Left(), p.Right())

	case *policy.Threshold:
		node.content = contentThresh
		node.k = p.K()
		err = addSubs(p.Subs()...)

	default:
		return nil, AssertError(fmt.Sprintf("unknown policy type %T", p))
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Compile returns the cheapest top level fragment for p, optimising for a
// single satisfaction and no dissatisfaction.
func Compile(p policy.Policy) (node *AstElem, err error) {
	root, err := newCompiledNode(p)
	if err != nil {
		return nil, err
	}

	// The candidate builders panic with an AssertError when a fragment of
	// the wrong type slips through. Surface that as an error.
	defer func() {
		if r := recover(); r != nil {
			assertErr, ok := r.(AssertError)
			if !ok {
				panic(r)
			}
			node, err = nil, assertErr
		}
	}()

	best := root.bestT(1, 0)
	log.Debugf("Compiled %v into %v", p, newLogClosure(func() string {
		return best.String()
	}))
	return best.Node, nil
}

// checkType asserts that the chosen candidate has the requested type.
func checkType(c Cost, want string, has func(*AstElem) bool) Cost {
	if !has(c.Node) {
		panic(AssertError(fmt.Sprintf("best %s candidate %v has type "+
			"%s", want, c.Node, c.Node.Types())))
	}
	return c
}

func (n *compiledNode) bestE(pSat, pDissat float64) Cost {
	key := newProbKey(pSat, pDissat)
	if c, ok := n.bestEs[key]; ok {
		return c
	}

	var candidates []Cost
	switch n.content {
	case contentPk:
		candidates = append(candidates, costFromTerminal(NewPk(n.key)))

	case contentMulti:
		candidates = append(candidates, costFromTerminal(
			mustNode(NewMulti(n.k, n.keys)),
		))

	case contentTime:
		candidates = append(candidates, costFromTerminal(
			NewTime(n.lockTime),
		))

	case contentHash:
		f := costTrue(costFromTerminal(NewHashV(n.hash)))
		candidates = append(candidates, costLikely(f), costUnlikely(f))

	case contentAnd:
		l, r := n.subs[0], n.subs[1]
		candidates = append(candidates,
			costFromPair(
				l.bestE(pSat, pDissat), r.bestW(pSat, pDissat),
				KindAndBool, 1, 1,
			),
			costFromPair(
				r.bestE(pSat, pDissat), l.bestW(pSat, pDissat),
				KindAndBool, 1, 1,
			),
			costFromPair(
				l.bestE(pSat, pDissat), r.bestF(pSat, 0),
				KindAndCasc, 1, 1,
			),
			costFromPair(
				r.bestE(pSat, pDissat), l.bestF(pSat, 0),
				KindAndCasc, 1, 1,
			),
		)

	case contentOr:
		n.forEachOrder(func(a, b *compiledNode, wa, wb float64) {
			ae := a.bestE(pSat*wa, pDissat+pSat*wb)
			af := a.bestF(pSat*wa, 0)
			be := b.bestE(pSat*wb, pDissat)
			candidates = append(candidates,
				costFromPair(
					ae, b.bestW(pSat*wb, pDissat+pSat*wa),
					KindOrBool, wa, wb,
				),
				costFromPair(ae, be, KindOrCasc, wa, wb),
				costFromPair(af, be, KindOrIf, wa, wb),
				costFromPair(af, be, KindOrNotIf, wa, wb),
			)
		})
		f := n.bestF(pSat, 0)
		candidates = append(candidates, costLikely(f), costUnlikely(f))

	case contentThresh:
		candidates = append(candidates, n.threshCost(pSat, pDissat,
			false))
		f := n.bestF(pSat, 0)
		candidates = append(candidates, costLikely(f), costUnlikely(f))
	}

	best := checkType(minCost(pSat, pDissat, candidates...), "E",
		(*AstElem).IsE)
	n.bestEs[key] = best
	log.Tracef("Best E at (%v, %v): %v", pSat, pDissat, best)
	return best
}

func (n *compiledNode) bestQ(pSat, pDissat float64) fn.Option[Cost] {
	key := newProbKey(pSat, pDissat)
	if c, ok := n.bestQs[key]; ok {
		return fn.Some(c)
	}

	var candidates []Cost
	switch n.content {
	case contentPk:
		candidates = append(candidates, costFromTerminal(NewPkQ(n.key)))

	case contentAnd:
		l, r := n.subs[0], n.subs[1]
		r.bestQ(pSat, 0).WhenSome(func(rq Cost) {
			candidates = append(candidates, costFromPair(
				l.bestV(pSat, 0), rq, KindAndCat, 1, 1,
			))
		})
		l.bestQ(pSat, 0).WhenSome(func(lq Cost) {
			candidates = append(candidates, costFromPair(
				r.bestV(pSat, 0), lq, KindAndCat, 1, 1,
			))
		})

	case contentOr:
		n.forEachOrder(func(a, b *compiledNode, wa, wb float64) {
			aq := a.bestQ(pSat*wa, 0)
			bq := b.bestQ(pSat*wb, 0)
			if aq.IsSome() && bq.IsSome() {
				candidates = append(candidates, costFromPair(
					aq.UnsafeFromSome(), bq.UnsafeFromSome(),
					KindOrKey, wa, wb,
				))
			}
		})
	}

	if len(candidates) == 0 {
		return fn.None[Cost]()
	}

	best := checkType(minCost(pSat, pDissat, candidates...), "Q",
		(*AstElem).IsQ)
	n.bestQs[key] = best
	return fn.Some(best)
}

func (n *compiledNode) bestW(pSat, pDissat float64) Cost {
	var candidates []Cost
	switch n.content {
	case contentPk:
		candidates = append(candidates, costFromTerminal(NewPkW(n.key)))

	case contentTime:
		candidates = append(candidates, costFromTerminal(
			NewTimeW(n.lockTime),
		))

	case contentHash:
		candidates = append(candidates,
			costFromTerminal(NewHashW(n.hash)),
			costWrap(n.bestE(pSat, pDissat)),
		)

	default:
		candidates = append(candidates, costWrap(n.bestE(pSat, pDissat)))
	}

	return checkType(minCost(pSat, pDissat, candidates...), "W",
		(*AstElem).IsW)
}

func (n *compiledNode) bestF(pSat, pDissat float64) Cost {
	key := newProbKey(pSat, pDissat)
	if c, ok := n.bestFs[key]; ok {
		return c
	}

	var candidates []Cost
	switch n.content {
	case contentPk:
		candidates = append(candidates, costTrue(costFromTerminal(
			NewPkV(n.key),
		)))

	case contentMulti:
		candidates = append(candidates, costTrue(costFromTerminal(
			mustNode(NewMultiV(n.k, n.keys)),
		)))

	case contentTime:
		candidates = append(candidates, costFromTerminal(
			NewTimeF(n.lockTime),
		))

	case contentHash:
		candidates = append(candidates, costTrue(costFromTerminal(
			NewHashV(n.hash),
		)))

	case contentAnd:
		l, r := n.subs[0], n.subs[1]
		candidates = append(candidates,
			costFromPair(
				l.bestV(pSat, 0), r.bestF(pSat, 0),
				KindAndCat, 1, 1,
			),
			costFromPair(
				r.bestV(pSat, 0), l.bestF(pSat, 0),
				KindAndCat, 1, 1,
			),
		)

	case contentOr:
		n.forEachOrder(func(a, b *compiledNode, wa, wb float64) {
			af := a.bestF(pSat*wa, 0)
			bf := b.bestF(pSat*wb, 0)
			candidates = append(candidates,
				costFromPair(af, bf, KindOrIf, wa, wb),
				costFromPair(af, bf, KindOrNotIf, wa, wb),
			)
		})
		candidates = append(candidates, costTrue(n.bestV(pSat, 0)))

	case contentThresh:
		candidates = append(candidates, costTrue(n.bestV(pSat, 0)))
	}

	best := checkType(minCost(pSat, pDissat, candidates...), "F",
		(*AstElem).IsF)
	n.bestFs[key] = best
	return best
}

func (n *compiledNode) bestV(pSat, pDissat float64) Cost {
	key := newProbKey(pSat, pDissat)
	if c, ok := n.bestVs[key]; ok {
		return c
	}

	var candidates []Cost
	switch n.content {
	case contentPk:
		candidates = append(candidates, costFromTerminal(NewPkV(n.key)))

	case contentMulti:
		candidates = append(candidates, costFromTerminal(
			mustNode(NewMultiV(n.k, n.keys)),
		))

	case contentTime:
		candidates = append(candidates, costFromTerminal(
			NewTimeV(n.lockTime),
		))

	case contentHash:
		candidates = append(candidates, costFromTerminal(
			NewHashV(n.hash),
		))

	case contentAnd:
		l, r := n.subs[0], n.subs[1]
		candidates = append(candidates,
			costFromPair(
				l.bestV(pSat, 0), r.bestV(pSat, 0),
				KindAndCat, 1, 1,
			),
			costFromPair(
				r.bestV(pSat, 0), l.bestV(pSat, 0),
				KindAndCat, 1, 1,
			),
		)

	case contentOr:
		n.forEachOrder(func(a, b *compiledNode, wa, wb float64) {
			candidates = append(candidates,
				costFromPair(
					a.bestE(pSat*wa, pSat*wb),
					b.bestV(pSat*wb, 0),
					KindOrCont, wa, wb,
				),
				costFromPair(
					a.bestV(pSat*wa, 0), b.bestV(pSat*wb, 0),
					KindOrIf, wa, wb,
				),
				costFromPair(
					a.bestT(pSat*wa, 0), b.bestT(pSat*wb, 0),
					KindOrIfV, wa, wb,
				),
			)

			aq := a.bestQ(pSat*wa, 0)
			bq := b.bestQ(pSat*wb, 0)
			if aq.IsSome() && bq.IsSome() {
				candidates = append(candidates, costFromPair(
					aq.UnsafeFromSome(), bq.UnsafeFromSome(),
					KindOrKeyV, wa, wb,
				))
			}
		})

	case contentThresh:
		candidates = append(candidates, n.threshCost(pSat, pDissat,
			true))
	}

	best := checkType(minCost(pSat, pDissat, candidates...), "V",
		(*AstElem).IsV)
	n.bestVs[key] = best
	return best
}

func (n *compiledNode) bestT(pSat, pDissat float64) Cost {
	key := newProbKey(pSat, pDissat)
	if c, ok := n.bestTs[key]; ok {
		return c
	}

	var candidates []Cost
	switch n.content {
	case contentPk:
		candidates = append(candidates, costFromTerminal(NewPk(n.key)))

	case contentMulti:
		candidates = append(candidates, costFromTerminal(
			mustNode(NewMulti(n.k, n.keys)),
		))

	case contentTime:
		candidates = append(candidates, costFromTerminal(
			NewTimeT(n.lockTime),
		))

	case contentHash:
		candidates = append(candidates, costFromTerminal(
			NewHashT(n.hash),
		))

	case contentAnd:
		l, r := n.subs[0], n.subs[1]
		candidates = append(candidates,
			costFromPair(
				l.bestV(pSat, 0), r.bestT(pSat, 0),
				KindAndCat, 1, 1,
			),
			costFromPair(
				r.bestV(pSat, 0), l.bestT(pSat, 0),
				KindAndCat, 1, 1,
			),
			n.bestE(pSat, pDissat),
		)

	case contentOr:
		n.forEachOrder(func(a, b *compiledNode, wa, wb float64) {
			candidates = append(candidates,
				costFromPair(
					a.bestE(pSat*wa, pSat*wb),
					b.bestT(pSat*wb, 0),
					KindOrCasc, wa, wb,
				),
				costFromPair(
					a.bestT(pSat*wa, 0), b.bestT(pSat*wb, 0),
					KindOrIf, wa, wb,
				),
			)
		})
		candidates = append(candidates, n.bestE(pSat, pDissat))

	case contentThresh:
		candidates = append(candidates, n.bestE(pSat, pDissat),
			n.bestF(pSat, 0))
	}

	best := checkType(minCost(pSat, pDissat, candidates...), "T",
		(*AstElem).IsT)
	n.bestTs[key] = best
	return best
}

// forEachOrder calls f with the branches of an or in both orders, along with
// their probabilities.
func (n *compiledNode) forEachOrder(f func(a, b *compiledNode,
	wa, wb float64)) {

	f(n.subs[0], n.subs[1], n.lw, n.rw)
	f(n.subs[1], n.subs[0], n.rw, n.lw)
}

// threshCost returns the threshold fragment whose first leg is compiled as E
// and the others as W. Each leg is satisfied with probability k/n of the
// node's own satisfaction probability.
func (n *compiledNode) threshCost(pSat, pDissat float64, verify bool) Cost {
	avg := float64(n.k) / float64(len(n.subs))
	legSat := pSat * avg
	legDissat := pDissat + pSat*(1-avg)

	e := n.subs[0].bestE(legSat, legDissat)
	ws := make([]Cost, 0, len(n.subs)-1)
	for _, sub := range n.subs[1:] {
		ws = append(ws, sub.bestW(legSat, legDissat))
	}
	return costFromThresh(n.k, e, ws, verify)
}
