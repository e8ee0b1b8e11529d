// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcpolicy/policy"
	"github.com/stretchr/testify/require"
)

// TestScriptRoundTrip checks that every fragment parses back from its
// script.
func TestScriptRoundTrip(t *testing.T) {
	t.Parallel()

	a, b, c := testKey("A"), testKey("B"), testKey("C")
	_, h := testPreimage("H1")

	pk, pkV, pkW := NewPk(a), NewPkV(b), NewPkW(b)
	fv := mustNode(NewTrue(NewPkV(c)))
	multi := mustNode(NewMulti(1, []policy.PubKey{a, b}))

	nodes := []*AstElem{
		pk,
		pkV,
		NewPkQ(a),
		multi,
		mustNode(NewMultiV(2, []policy.PubKey{a, b, c})),
		NewTimeT(1),
		NewTimeT(144),
		NewTimeV(1000),
		NewTimeF(1 << 22),
		NewTime(16),
		NewHashT(h),
		NewHashV(h),
		fv,
		mustNode(NewAndCat(pkV, pk)),
		mustNode(NewAndCat(pkV, mustNode(NewAndCat(NewTimeV(10),
			NewHashT(h))))),
		mustNode(NewTrue(mustNode(NewAndCat(pkV, NewTimeV(10))))),
		mustNode(NewAndBool(pk, pkW)),
		mustNode(NewAndBool(NewTime(10), NewTimeW(20))),
		mustNode(NewAndBool(pk, NewHashW(h))),
		mustNode(NewAndBool(pk, mustNode(NewWrap(multi)))),
		mustNode(NewAndCasc(pk, fv)),
		mustNode(NewAndCasc(pk, NewTimeF(10))),
		mustNode(NewOrBool(pk, pkW)),
		mustNode(NewOrBool(pk, mustNode(NewWrap(mustNode(
			NewOrBool(NewPk(b), NewPkW(c)),
		))))),
		mustNode(NewOrCasc(pk, NewPk(b))),
		mustNode(NewOrCasc(pk, NewTimeT(10))),
		mustNode(NewOrCont(pk, pkV)),
		mustNode(NewOrKey(NewPkQ(a), mustNode(NewAndCat(pkV,
			NewPkQ(c))))),
		mustNode(NewOrKeyV(NewPkQ(a), NewPkQ(b))),
		mustNode(NewOrIf(fv, pk)),
		mustNode(NewOrIf(pk, NewTimeT(10))),
		mustNode(NewOrIf(pkV, NewPkV(c))),
		mustNode(NewOrIf(fv, mustNode(NewTrue(pkV)))),
		mustNode(NewOrIfV(pk, NewTimeT(10))),
		mustNode(NewOrNotIf(fv, pk)),
		mustNode(NewLikely(fv)),
		mustNode(NewUnlikely(NewTimeF(10))),
		mustNode(NewThresh(1, []*AstElem{pk})),
		mustNode(NewThresh(2, []*AstElem{
			pk, pkW, mustNode(NewWrap(NewTime(10))), NewHashW(h),
		})),
		mustNode(NewThreshV(1, []*AstElem{multi, NewTimeW(10)})),
	}

	for _, node := range nodes {
		script, err := node.Script()
		require.NoError(t, err, node.String())

		parsed, err := ParseScript(script)
		require.NoError(t, err, "%v: %v", node, node.ScriptString())
		require.True(t, node.Equal(parsed), "%v != %v", node, parsed)
		require.Equal(t, node.Types(), parsed.Types())
	}
}

// TestScriptString checks the opcode listing of fragments.
func TestScriptString(t *testing.T) {
	t.Parallel()

	a := testKey("A")
	node := mustNode(NewAndCat(NewPkV(a), NewTimeT(144)))
	require.Equal(t, "<"+a.String()+"> CHECKSIGVERIFY 144 CSV",
		node.ScriptString())

	likely := mustNode(NewLikely(NewTimeF(10)))
	require.Equal(t, "NOTIF 10 CSV 0NOTEQUAL ELSE 0 ENDIF",
		likely.ScriptString())
}

// TestParseScriptErrors checks that malformed scripts are rejected with the
// expected error code.
func TestParseScriptErrors(t *testing.T) {
	t.Parallel()

	a, b := testKey("A"), testKey("B")

	testCases := []struct {
		name   string
		script func(b *txscript.ScriptBuilder)
		code   ErrorCode
	}{
		{
			name:   "empty",
			script: func(*txscript.ScriptBuilder) {},
			code:   ErrUnexpectedEnd,
		},
		{
			name: "checksig without key",
			script: func(s *txscript.ScriptBuilder) {
				s.AddOp(txscript.OP_CHECKSIG)
			},
			code: ErrUnexpectedEnd,
		},
		{
			name: "key before pk",
			script: func(s *txscript.ScriptBuilder) {
				s.AddData(a[:]).AddData(b[:])
				s.AddOp(txscript.OP_CHECKSIG)
			},
			code: ErrTypeMismatch,
		},
		{
			name: "leading if",
			script: func(s *txscript.ScriptBuilder) {
				s.AddOp(txscript.OP_IF).AddData(a[:])
				s.AddOp(txscript.OP_CHECKSIG)
			},
			code: ErrTrailingTokens,
		},
		{
			name: "drop without csv",
			script: func(s *txscript.ScriptBuilder) {
				s.AddData(a[:]).AddOp(txscript.OP_CHECKSIGVERIFY)
				s.AddOp(txscript.OP_DROP)
			},
			code: ErrUnexpectedToken,
		},
		{
			name: "threshold above legs",
			script: func(s *txscript.ScriptBuilder) {
				s.AddData(a[:]).AddOp(txscript.OP_CHECKSIG)
				s.AddInt64(2).AddOp(txscript.OP_EQUAL)
			},
			code: ErrInvalidThreshold,
		},
		{
			name: "multisig without keys",
			script: func(s *txscript.ScriptBuilder) {
				s.AddInt64(0).AddInt64(0)
				s.AddOp(txscript.OP_CHECKMULTISIG)
			},
			code: ErrTooManyKeys,
		},
		{
			name: "multisig short of keys",
			script: func(s *txscript.ScriptBuilder) {
				s.AddInt64(1).AddData(a[:]).AddInt64(2)
				s.AddOp(txscript.OP_CHECKMULTISIG)
			},
			code: ErrUnexpectedToken,
		},
		{
			name: "wrong preimage size",
			script: func(s *txscript.ScriptBuilder) {
				s.AddOp(txscript.OP_SIZE).AddInt64(33)
				s.AddOp(txscript.OP_EQUALVERIFY)
				s.AddOp(txscript.OP_SHA256)
				s.AddData(make([]byte, 32))
				s.AddOp(txscript.OP_EQUAL)
			},
			code: ErrUnexpectedToken,
		},
		{
			name: "constant zero in both branches",
			script: func(s *txscript.ScriptBuilder) {
				s.AddOp(txscript.OP_IF).AddOp(txscript.OP_0)
				s.AddOp(txscript.OP_ELSE).AddOp(txscript.OP_0)
				s.AddOp(txscript.OP_ENDIF)
			},
			code: ErrUnexpectedToken,
		},
		{
			name: "if without else that is not a time lock",
			script: func(s *txscript.ScriptBuilder) {
				s.AddOp(txscript.OP_DUP).AddOp(txscript.OP_IF)
				s.AddData(a[:]).AddOp(txscript.OP_CHECKSIGVERIFY)
				s.AddOp(txscript.OP_ENDIF)
			},
			code: ErrUnexpectedToken,
		},
	}

	for _, tc := range testCases {
		s := txscript.NewScriptBuilder()
		tc.script(s)
		script, err := s.Script()
		require.NoError(t, err, tc.name)

		_, err = ParseScript(script)
		require.True(t, IsErrorCode(err, tc.code), "%s: %v", tc.name,
			err)
	}

	// Pushes are checked before parsing.
	_, err := ParseScript([]byte{
		txscript.OP_DATA_1, 0x05, txscript.OP_CHECKSEQUENCEVERIFY,
	})
	require.True(t, IsErrorCode(err, ErrMalformedPush), err)
}
