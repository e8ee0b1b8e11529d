// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"testing"

	"github.com/btcsuite/btcpolicy/policy"
	"github.com/stretchr/testify/require"
)

// TestFragmentTypes checks the correctness types assigned by each
// constructor.
func TestFragmentTypes(t *testing.T) {
	t.Parallel()

	a, b, c := testKey("A"), testKey("B"), testKey("C")
	_, h := testPreimage("H1")

	pk, pkV, pkW := NewPk(a), NewPkV(b), NewPkW(b)
	fv := mustNode(NewTrue(NewPkV(a)))

	testCases := []struct {
		node  *AstElem
		types string
	}{
		{NewPk(a), "ET"},
		{NewPkV(a), "V"},
		{NewPkQ(a), "Q"},
		{NewPkW(a), "W"},
		{mustNode(NewMulti(2, []policy.PubKey{a, b, c})), "ET"},
		{mustNode(NewMultiV(2, []policy.PubKey{a, b, c})), "V"},
		{NewTimeT(10), "T"},
		{NewTimeV(10), "V"},
		{NewTimeF(10), "FT"},
		{NewTime(10), "ET"},
		{NewTimeW(10), "W"},
		{NewHashT(h), "T"},
		{NewHashV(h), "V"},
		{NewHashW(h), "W"},
		{fv, "FT"},
		{mustNode(NewWrap(pk)), "W"},
		{mustNode(NewLikely(fv)), "ET"},
		{mustNode(NewUnlikely(fv)), "ET"},
		{mustNode(NewAndCat(pkV, pk)), "T"},
		{mustNode(NewAndCat(pkV, NewPkV(c))), "V"},
		{mustNode(NewAndCat(pkV, fv)), "FT"},
		{mustNode(NewAndCat(pkV, NewPkQ(c))), "Q"},
		{mustNode(NewAndBool(pk, pkW)), "ET"},
		{mustNode(NewAndCasc(pk, fv)), "ET"},
		{mustNode(NewOrBool(pk, pkW)), "ET"},
		{mustNode(NewOrCasc(pk, NewPk(b))), "ET"},
		{mustNode(NewOrCasc(pk, NewTimeT(10))), "T"},
		{mustNode(NewOrCont(pk, pkV)), "V"},
		{mustNode(NewOrKey(NewPkQ(a), NewPkQ(b))), "Q"},
		{mustNode(NewOrKeyV(NewPkQ(a), NewPkQ(b))), "V"},
		{mustNode(NewOrIf(fv, mustNode(NewTrue(pkV)))), "FT"},
		{mustNode(NewOrIf(pkV, NewPkV(c))), "V"},
		{mustNode(NewOrIf(fv, pk)), "ET"},
		{mustNode(NewOrIf(pk, NewTimeT(10))), "T"},
		{mustNode(NewOrIfV(pk, NewTimeT(10))), "V"},
		{mustNode(NewOrNotIf(fv, pk)), "ET"},
		{mustNode(NewThresh(1, []*AstElem{pk, pkW})), "ET"},
		{mustNode(NewThreshV(2, []*AstElem{pk, pkW})), "V"},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.types, tc.node.Types(), tc.node.String())
	}
}

// TestFragmentTypeMismatch checks that constructors reject children of the
// wrong type.
func TestFragmentTypeMismatch(t *testing.T) {
	t.Parallel()

	a, b := testKey("A"), testKey("B")
	pk, pkV, pkW, pkQ := NewPk(a), NewPkV(b), NewPkW(b), NewPkQ(b)

	testCases := []struct {
		name  string
		build func() (*AstElem, error)
		code  ErrorCode
	}{
		{"true of E", func() (*AstElem, error) {
			return NewTrue(pk)
		}, ErrTypeMismatch},
		{"wrap of V", func() (*AstElem, error) {
			return NewWrap(pkV)
		}, ErrTypeMismatch},
		{"likely of E", func() (*AstElem, error) {
			return NewLikely(pk)
		}, ErrTypeMismatch},
		{"and_cat of E first", func() (*AstElem, error) {
			return NewAndCat(pk, pk)
		}, ErrTypeMismatch},
		{"and_cat of W second", func() (*AstElem, error) {
			return NewAndCat(pkV, pkW)
		}, ErrTypeMismatch},
		{"and_bool of E, E", func() (*AstElem, error) {
			return NewAndBool(pk, pk)
		}, ErrTypeMismatch},
		{"and_casc of E, E", func() (*AstElem, error) {
			return NewAndCasc(pk, NewPk(b))
		}, ErrTypeMismatch},
		{"or_casc of E, V", func() (*AstElem, error) {
			return NewOrCasc(pk, pkV)
		}, ErrTypeMismatch},
		{"or_cont of E, T", func() (*AstElem, error) {
			return NewOrCont(pk, NewTimeT(10))
		}, ErrTypeMismatch},
		{"or_key of Q, E", func() (*AstElem, error) {
			return NewOrKey(pkQ, pk)
		}, ErrTypeMismatch},
		{"or_if of E, E", func() (*AstElem, error) {
			return NewOrIf(NewTime(10), NewPkW(a))
		}, ErrTypeMismatch},
		{"or_if_v of V, V", func() (*AstElem, error) {
			return NewOrIfV(pkV, pkV)
		}, ErrTypeMismatch},
		{"or_notif of V, V", func() (*AstElem, error) {
			return NewOrNotIf(pkV, pkV)
		}, ErrTypeMismatch},
		{"thresh with W first", func() (*AstElem, error) {
			return NewThresh(1, []*AstElem{pkW, pkW})
		}, ErrTypeMismatch},
		{"thresh with E second", func() (*AstElem, error) {
			return NewThresh(1, []*AstElem{pk, pk})
		}, ErrTypeMismatch},
		{"thresh above n", func() (*AstElem, error) {
			return NewThresh(3, []*AstElem{pk, pkW})
		}, ErrInvalidThreshold},
		{"thresh of zero", func() (*AstElem, error) {
			return NewThreshV(0, []*AstElem{pk})
		}, ErrInvalidThreshold},
		{"multi above n", func() (*AstElem, error) {
			return NewMulti(3, []policy.PubKey{a, b})
		}, ErrInvalidThreshold},
		{"multi without keys", func() (*AstElem, error) {
			return NewMultiV(1, nil)
		}, ErrTooManyKeys},
		{"multi with 21 keys", func() (*AstElem, error) {
			return NewMulti(1, make([]policy.PubKey, 21))
		}, ErrTooManyKeys},
	}

	for _, tc := range testCases {
		_, err := tc.build()
		require.True(t, IsErrorCode(err, tc.code), "%s: %v", tc.name,
			err)
	}
}

// TestSequenceCanonicalForm checks that sequences are kept right associated
// and that True attaches to the last element of a sequence.
func TestSequenceCanonicalForm(t *testing.T) {
	t.Parallel()

	a, b, c := NewPkV(testKey("A")), NewPkV(testKey("B")),
		NewPkV(testKey("C"))

	left := mustNode(NewAndCat(mustNode(NewAndCat(a, b)), c))
	right := mustNode(NewAndCat(a, mustNode(NewAndCat(b, c))))
	require.True(t, left.Equal(right), "%v != %v", left, right)
	require.Equal(t, left.Hash(), right.Hash())
	require.Equal(t, KindAndCat, left.Subs()[1].Kind())

	f := mustNode(NewTrue(right))
	require.Equal(t, KindAndCat, f.Kind())
	require.Equal(t, "FT", f.Types())
	last := f.Subs()[1].Subs()[1]
	require.Equal(t, KindTrue, last.Kind())

	// Both build the same script.
	script, err := f.Script()
	require.NoError(t, err)
	expected, err := mustNode(NewAndCat(a, mustNode(NewAndCat(b,
		mustNode(NewTrue(c)))))).Script()
	require.NoError(t, err)
	require.Equal(t, expected, script)
}

// TestFragmentEqual checks structural equality and hashing.
func TestFragmentEqual(t *testing.T) {
	t.Parallel()

	a, b := testKey("A"), testKey("B")

	x := mustNode(NewOrBool(NewPk(a), NewPkW(b)))
	y := mustNode(NewOrBool(NewPk(a), NewPkW(b)))
	z := mustNode(NewOrBool(NewPk(b), NewPkW(a)))

	require.True(t, x.Equal(y))
	require.Equal(t, x.Hash(), y.Hash())
	require.False(t, x.Equal(z))
	require.NotEqual(t, x.Hash(), z.Hash())

	require.False(t, NewTimeT(10).Equal(NewTimeT(11)))
	require.False(t, NewTimeT(10).Equal(NewTimeV(10)))
	require.False(t, mustNode(NewThresh(1, []*AstElem{NewPk(a),
		NewPkW(b)})).Equal(mustNode(NewThresh(2, []*AstElem{NewPk(a),
		NewPkW(b)}))))

	// Accessors return copies.
	keys := []policy.PubKey{a, b}
	multi := mustNode(NewMulti(1, keys))
	keys[0] = b
	require.Equal(t, a, multi.Keys()[0])
}

// TestFragmentString checks the functional notation of fragments.
func TestFragmentString(t *testing.T) {
	t.Parallel()

	a, b := testKey("A"), testKey("B")

	require.Equal(t, "pk("+a.String()+")", NewPk(a).String())
	require.Equal(t, "time_t(144)", NewTimeT(144).String())
	require.Equal(t,
		"thresh(1,pk("+a.String()+"),pk_w("+b.String()+"))",
		mustNode(NewThresh(1, []*AstElem{NewPk(a), NewPkW(b)})).String(),
	)
	require.Equal(t, "multi(1,"+a.String()+","+b.String()+")",
		mustNode(NewMulti(1, []policy.PubKey{a, b})).String())
	require.Equal(t, "Unknown Kind (200)", Kind(200).String())
}
