// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"sort"
	"strings"
	"testing"

	"github.com/btcsuite/btcpolicy/policy"
	"github.com/stretchr/testify/require"
)

// compilerTestPolicies is a mix of policies exercising every policy kind and
// combinator.
var compilerTestPolicies = []string{
	"pk(A)",
	"multi(2,A,B,C)",
	"hash(H1)",
	"time(144)",
	"and(pk(A),pk(B))",
	"or(pk(A),pk(B))",
	"aor(pk(A),pk(B))",
	"and(pk(A),or(pk(B),time(1000)))",
	"or(pk(A),and(pk(B),time(144)))",
	"aor(pk(A),and(pk(B),time(144)))",
	"aor(and(pk(B),time(144)),pk(A))",
	"thresh(2,pk(A),pk(B),pk(C))",
	"thresh(1,pk(A),time(10),hash(H1))",
	"thresh(3,pk(A),pk(B),pk(C),time(100),hash(H2))",
	"and(or(pk(A),pk(B)),or(pk(C),time(20)))",
	"or(and(pk(A),pk(B)),and(pk(C),pk(D)))",
	"or(multi(2,A,B),and(pk(C),pk(D)))",
	"and(hash(H1),or(pk(A),hash(H2)))",
	"or(or(pk(A),pk(B)),or(pk(C),pk(D)))",
	"aor(or(pk(A),pk(B)),time(4194305))",
	"thresh(2,and(pk(A),pk(B)),or(pk(C),pk(D)),time(50))",
	"and(and(pk(A),pk(B)),and(pk(C),time(7)))",
	"or(time(10),time(20))",
	"or(hash(H1),hash(H2))",
}

// policyLeaves returns the sorted leaf policies of p.
func policyLeaves(p policy.Policy) []string {
	var leaves []string
	var walk func(p policy.Policy)
	walk = func(p policy.Policy) {
		switch p := p.(type) {
		case *policy.And:
			walk(p.Left())
			walk(p.Right())
		case *policy.Or:
			walk(p.Left())
			walk(p.Right())
		case *policy.AsymmetricOr:
			walk(p.Left())
			walk(p.Right())
		case *policy.Threshold:
			for _, sub := range p.Subs() {
				walk(sub)
			}
		default:
			leaves = append(leaves, p.String())
		}
	}
	walk(p)
	sort.Strings(leaves)
	return leaves
}

// TestCompileExpected checks the fragments chosen for simple policies.
func TestCompileExpected(t *testing.T) {
	t.Parallel()

	a, b, c := testKey("A"), testKey("B"), testKey("C")
	_, h := testPreimage("H1")

	testCases := []struct {
		policy   string
		expected *AstElem
	}{
		{
			policy:   "pk(A)",
			expected: NewPk(a),
		},
		{
			policy:   "time(144)",
			expected: NewTimeT(144),
		},
		{
			policy:   "hash(H1)",
			expected: NewHashT(h),
		},
		{
			policy: "multi(2,A,B,C)",
			expected: mustNode(NewMulti(
				2, []policy.PubKey{a, b, c},
			)),
		},
		{
			policy:   "and(pk(A),pk(B))",
			expected: mustNode(NewAndCat(NewPkV(a), NewPk(b))),
		},
		{
			policy:   "and(pk(A),time(144))",
			expected: mustNode(NewAndCat(NewPkV(a), NewTimeT(144))),
		},
		{
			policy:   "or(pk(A),pk(B))",
			expected: mustNode(NewOrBool(NewPk(a), NewPkW(b))),
		},
		{
			policy: "or(pk(A),and(pk(B),time(144)))",
			expected: mustNode(NewOrCasc(NewPk(a), mustNode(
				NewAndCat(NewPkV(b), NewTimeT(144)),
			))),
		},
	}

	for _, tc := range testCases {
		node, err := Compile(mustParsePolicy(t, tc.policy))
		require.NoError(t, err, tc.policy)
		require.True(t, tc.expected.Equal(node), "%s: expected %v, "+
			"got %v", tc.policy, tc.expected, node)
	}
}

// TestCompileInvariants checks, for a range of policies, that the compiled
// fragment is top level, that its script size is the one the cost model
// predicted, that the script parses back to the same fragment and that no
// spending condition is lost.
func TestCompileInvariants(t *testing.T) {
	t.Parallel()

	for _, text := range compilerTestPolicies {
		p := mustParsePolicy(t, text)

		root, err := newCompiledNode(p)
		require.NoError(t, err)
		best := root.bestT(1, 0)
		require.True(t, best.Node.IsT(), text)

		node, err := Compile(p)
		require.NoError(t, err, text)
		require.True(t, best.Node.Equal(node), text)

		script, err := node.Script()
		require.NoError(t, err, text)
		require.Len(t, script, best.PkCost, "%s compiled to %v", text,
			node)

		parsed, err := ParseScript(script)
		require.NoError(t, err, "%s: %v", text, node.ScriptString())
		require.True(t, node.Equal(parsed), "%v != %v", node, parsed)

		recovered, err := node.ToPolicy()
		require.NoError(t, err, text)
		require.Equal(t, policyLeaves(p), policyLeaves(recovered), text)

		// Lifting loses the weights of aor, which may change the
		// choice of fragments. Every other policy compiles back to
		// the same script.
		if strings.Contains(text, "aor") {
			continue
		}
		recompiled, err := Compile(recovered)
		require.NoError(t, err, text)
		recompiledScript, err := recompiled.Script()
		require.NoError(t, err, text)
		require.Equal(t, script, recompiledScript, "%s recompiled to %v",
			text, recompiled)
	}
}

// orBranch is one ordering of the branches of an or.
type orBranch struct {
	a, b   *compiledNode
	wa, wb float64
}

func orBranches(n *compiledNode) []orBranch {
	return []orBranch{
		{n.subs[0], n.subs[1], n.lw, n.rw},
		{n.subs[1], n.subs[0], n.rw, n.lw},
	}
}

// candidatesE builds by hand every E fragment the search considers for an
// and, or or thresh node.
func candidatesE(n *compiledNode, pSat, pDissat float64) []Cost {
	var cands []Cost
	switch n.content {
	case contentAnd:
		l, r := n.subs[0], n.subs[1]
		cands = append(cands,
			costFromPair(l.bestE(pSat, pDissat),
				r.bestW(pSat, pDissat), KindAndBool, 1, 1),
			costFromPair(r.bestE(pSat, pDissat),
				l.bestW(pSat, pDissat), KindAndBool, 1, 1),
			costFromPair(l.bestE(pSat, pDissat), r.bestF(pSat, 0),
				KindAndCasc, 1, 1),
			costFromPair(r.bestE(pSat, pDissat), l.bestF(pSat, 0),
				KindAndCasc, 1, 1),
		)

	case contentOr:
		for _, o := range orBranches(n) {
			ae := o.a.bestE(pSat*o.wa, pDissat+pSat*o.wb)
			aw := o.b.bestW(pSat*o.wb, pDissat+pSat*o.wa)
			af := o.a.bestF(pSat*o.wa, 0)
			be := o.b.bestE(pSat*o.wb, pDissat)
			cands = append(cands,
				costFromPair(ae, aw, KindOrBool, o.wa, o.wb),
				costFromPair(ae, be, KindOrCasc, o.wa, o.wb),
				costFromPair(af, be, KindOrIf, o.wa, o.wb),
				costFromPair(af, be, KindOrNotIf, o.wa, o.wb),
			)
		}
		f := n.bestF(pSat, 0)
		cands = append(cands, costLikely(f), costUnlikely(f))

	case contentThresh:
		avg := float64(n.k) / float64(len(n.subs))
		legSat, legDissat := pSat*avg, pDissat+pSat*(1-avg)
		var ws []Cost
		for _, sub := range n.subs[1:] {
			ws = append(ws, sub.bestW(legSat, legDissat))
		}
		f := n.bestF(pSat, 0)
		cands = append(cands,
			costFromThresh(n.k, n.subs[0].bestE(legSat, legDissat),
				ws, false),
			costLikely(f), costUnlikely(f),
		)
	}
	return cands
}

// candidatesV builds by hand every V fragment the search considers for an
// and or or node.
func candidatesV(n *compiledNode, pSat float64) []Cost {
	var cands []Cost
	switch n.content {
	case contentAnd:
		l, r := n.subs[0], n.subs[1]
		cands = append(cands,
			costFromPair(l.bestV(pSat, 0), r.bestV(pSat, 0),
				KindAndCat, 1, 1),
			costFromPair(r.bestV(pSat, 0), l.bestV(pSat, 0),
				KindAndCat, 1, 1),
		)

	case contentOr:
		for _, o := range orBranches(n) {
			cands = append(cands,
				costFromPair(o.a.bestE(pSat*o.wa, pSat*o.wb),
					o.b.bestV(pSat*o.wb, 0), KindOrCont,
					o.wa, o.wb),
				costFromPair(o.a.bestV(pSat*o.wa, 0),
					o.b.bestV(pSat*o.wb, 0), KindOrIf,
					o.wa, o.wb),
				costFromPair(o.a.bestT(pSat*o.wa, 0),
					o.b.bestT(pSat*o.wb, 0), KindOrIfV,
					o.wa, o.wb),
			)
			aq := o.a.bestQ(pSat*o.wa, 0)
			bq := o.b.bestQ(pSat*o.wb, 0)
			if aq.IsSome() && bq.IsSome() {
				cands = append(cands, costFromPair(
					aq.UnsafeFromSome(), bq.UnsafeFromSome(),
					KindOrKeyV, o.wa, o.wb,
				))
			}
		}
	}
	return cands
}

// candidatesT builds by hand every T fragment the search considers for an
// and, or or thresh node.
func candidatesT(n *compiledNode, pSat, pDissat float64) []Cost {
	var cands []Cost
	switch n.content {
	case contentAnd:
		l, r := n.subs[0], n.subs[1]
		cands = append(cands,
			costFromPair(l.bestV(pSat, 0), r.bestT(pSat, 0),
				KindAndCat, 1, 1),
			costFromPair(r.bestV(pSat, 0), l.bestT(pSat, 0),
				KindAndCat, 1, 1),
		)

	case contentOr:
		for _, o := range orBranches(n) {
			cands = append(cands,
				costFromPair(o.a.bestE(pSat*o.wa, pSat*o.wb),
					o.b.bestT(pSat*o.wb, 0), KindOrCasc,
					o.wa, o.wb),
				costFromPair(o.a.bestT(pSat*o.wa, 0),
					o.b.bestT(pSat*o.wb, 0), KindOrIf,
					o.wa, o.wb),
			)
		}

	case contentThresh:
		cands = append(cands, n.bestF(pSat, 0))
	}
	return append(cands, candidatesE(n, pSat, pDissat)...)
}

// requireCheapest checks that best weighs no more than any candidate and is
// one of them.
func requireCheapest(t *testing.T, name string, best Cost, cands []Cost,
	pSat, pDissat float64) {

	t.Helper()

	require.NotEmpty(t, cands, name)
	found := false
	for _, c := range cands {
		require.LessOrEqual(t, best.weight(pSat, pDissat),
			c.weight(pSat, pDissat), "%s: %v beats %v", name, c,
			best)
		if c.Node.Equal(best.Node) {
			found = true
		}
	}
	require.True(t, found, "%s: %v is not a candidate", name, best)
}

// TestCompileCheapest checks that the search returns the cheapest of the
// candidate fragments of each type, at the top level and in a context where
// dissatisfaction matters.
func TestCompileCheapest(t *testing.T) {
	t.Parallel()

	policies := []string{
		"and(pk(A),pk(B))",
		"and(pk(A),or(pk(B),time(1000)))",
		"and(hash(H1),or(pk(A),hash(H2)))",
		"or(pk(A),pk(B))",
		"or(pk(A),and(pk(B),time(144)))",
		"aor(pk(A),and(pk(B),time(144)))",
		"or(hash(H1),hash(H2))",
		"or(multi(2,A,B),and(pk(C),pk(D)))",
		"thresh(2,pk(A),pk(B),pk(C))",
		"thresh(1,pk(A),time(10),hash(H1))",
	}
	probabilities := [][2]float64{{1, 0}, {0.5, 0.5}, {0.25, 1}}

	for _, text := range policies {
		root, err := newCompiledNode(mustParsePolicy(t, text))
		require.NoError(t, err)

		for _, prob := range probabilities {
			pSat, pDissat := prob[0], prob[1]

			requireCheapest(t, text+" E", root.bestE(pSat, pDissat),
				candidatesE(root, pSat, pDissat), pSat, pDissat)
			requireCheapest(t, text+" T", root.bestT(pSat, pDissat),
				candidatesT(root, pSat, pDissat), pSat, pDissat)

			if root.content != contentThresh {
				requireCheapest(t, text+" V", root.bestV(pSat, 0),
					candidatesV(root, pSat), pSat, 0)
			}
		}
	}
}

// TestCompileDeterministic checks that compiling the same policy twice
// yields the same fragment.
func TestCompileDeterministic(t *testing.T) {
	t.Parallel()

	for _, text := range compilerTestPolicies {
		first, err := Compile(mustParsePolicy(t, text))
		require.NoError(t, err)
		second, err := Compile(mustParsePolicy(t, text))
		require.NoError(t, err)
		require.Equal(t, first.Hash(), second.Hash(), text)
	}
}

// TestCompileMemo checks that results are memoised per probability pair.
func TestCompileMemo(t *testing.T) {
	t.Parallel()

	root, err := newCompiledNode(mustParsePolicy(
		t, "or(pk(A),and(pk(B),time(144)))",
	))
	require.NoError(t, err)

	first := root.bestT(1, 0)
	require.Len(t, root.bestTs, 1)
	second := root.bestT(1, 0)
	require.Same(t, first.Node, second.Node)

	// The children were asked for fragments at the branch probabilities.
	require.NotEmpty(t, root.subs[0].bestEs)
	require.NotEmpty(t, root.subs[1].bestTs)

	// A leaf has no Q for time locks and nothing is cached for it.
	timeNode := root.subs[1].subs[1]
	require.True(t, timeNode.bestQ(1, 0).IsNone())
	require.Empty(t, timeNode.bestQs)
}

// TestCompileInvalid checks that a nil policy is refused.
func TestCompileInvalid(t *testing.T) {
	t.Parallel()

	_, err := Compile(nil)
	require.Error(t, err)
}

// TestMinCost checks candidate selection and its tie breaking.
func TestMinCost(t *testing.T) {
	t.Parallel()

	a, b := NewPk(testKey("A")), NewPk(testKey("B"))

	cheap := Cost{Node: a, PkCost: 10, SatCost: 5, DissatCost: 1}
	costly := Cost{Node: b, PkCost: 20, SatCost: 5, DissatCost: 1}
	require.Same(t, a, minCost(1, 0, costly, cheap).Node)

	// Equal weight, the lower satisfaction cost wins.
	lowSat := Cost{Node: b, PkCost: 12, SatCost: 3}
	require.Same(t, b, minCost(1, 0, cheap, lowSat).Node)

	// Equal in every respect, the first candidate wins.
	same := Cost{Node: b, PkCost: 10, SatCost: 5, DissatCost: 1}
	require.Same(t, a, minCost(1, 0.5, cheap, same).Node)

	// The dissatisfaction probability weighs in.
	noDissat := Cost{Node: b, PkCost: 11, SatCost: 5}
	require.Same(t, a, minCost(1, 0, cheap, noDissat).Node)
	require.Same(t, b, minCost(1, 2, cheap, noDissat).Node)

	require.Panics(t, func() { minCost(1, 0) })
}

// TestTerminalCosts checks the cost of leaf fragments against their scripts.
func TestTerminalCosts(t *testing.T) {
	t.Parallel()

	a, b, c := testKey("A"), testKey("B"), testKey("C")
	_, h := testPreimage("H1")

	terminals := []*AstElem{
		NewPk(a), NewPkV(a), NewPkQ(a), NewPkW(a),
		mustNode(NewMulti(2, []policy.PubKey{a, b, c})),
		mustNode(NewMultiV(1, []policy.PubKey{a})),
		NewTimeT(16), NewTimeT(17), NewTimeV(128), NewTimeF(1 << 30),
		NewTime(255), NewTimeW(65536),
		NewHashT(h), NewHashV(h), NewHashW(h),
	}
	for _, node := range terminals {
		script, err := node.Script()
		require.NoError(t, err)
		require.Len(t, script, costFromTerminal(node).PkCost,
			node.String())
	}

	require.Panics(t, func() {
		costFromTerminal(mustNode(NewTrue(NewPkV(a))))
	})
}
