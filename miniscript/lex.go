// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcpolicy/policy"
)

// tokenKind identifies a lexed script element.
type tokenKind uint8

const (
	tokBoolAnd tokenKind = iota
	tokBoolOr
	tokAdd
	tokEqual
	tokEqualVerify
	tokCheckSig
	tokCheckSigVerify
	tokCheckMultiSig
	tokCheckMultiSigVerify
	tokCheckSequenceVerify
	tokFromAltStack
	tokToAltStack
	tokDrop
	tokDup
	tokIf
	tokIfDup
	tokNotIf
	tokElse
	tokEndIf
	tokZeroNotEqual
	tokSize
	tokSwap
	tokVerify
	tokSha256
	tokNumber
	tokHash32
	tokPubKey
)

// opcodeTokens maps the supported non-push opcodes to their token kind.
var opcodeTokens = map[byte]tokenKind{
	txscript.OP_BOOLAND:             tokBoolAnd,
	txscript.OP_BOOLOR:              tokBoolOr,
	txscript.OP_ADD:                 tokAdd,
	txscript.OP_EQUAL:               tokEqual,
	txscript.OP_EQUALVERIFY:         tokEqualVerify,
	txscript.OP_CHECKSIG:            tokCheckSig,
	txscript.OP_CHECKSIGVERIFY:      tokCheckSigVerify,
	txscript.OP_CHECKMULTISIG:       tokCheckMultiSig,
	txscript.OP_CHECKMULTISIGVERIFY: tokCheckMultiSigVerify,
	txscript.OP_CHECKSEQUENCEVERIFY: tokCheckSequenceVerify,
	txscript.OP_FROMALTSTACK:        tokFromAltStack,
	txscript.OP_TOALTSTACK:          tokToAltStack,
	txscript.OP_DROP:                tokDrop,
	txscript.OP_DUP:                 tokDup,
	txscript.OP_IF:                  tokIf,
	txscript.OP_IFDUP:               tokIfDup,
	txscript.OP_NOTIF:               tokNotIf,
	txscript.OP_ELSE:                tokElse,
	txscript.OP_ENDIF:               tokEndIf,
	txscript.OP_0NOTEQUAL:           tokZeroNotEqual,
	txscript.OP_SIZE:                tokSize,
	txscript.OP_SWAP:                tokSwap,
	txscript.OP_VERIFY:              tokVerify,
	txscript.OP_SHA256:              tokSha256,
}

// token is a lexed script element. num is set for tokNumber, hash for
// tokHash32 and key for tokPubKey.
type token struct {
	kind tokenKind
	num  int64
	hash chainhash.Hash
	key  policy.PubKey
}

func (t token) String() string {
	switch t.kind {
	case tokNumber:
		return fmt.Sprintf("number(%d)", t.num)
	case tokHash32:
		return fmt.Sprintf("hash(%x)", t.hash[:])
	case tokPubKey:
		return fmt.Sprintf("pubkey(%v)", t.key)
	}
	for op, kind := range opcodeTokens {
		if kind == t.kind {
			return opcodeName(op)
		}
	}
	return fmt.Sprintf("token(%d)", t.kind)
}

// opcodeName returns the disassembly name of a single opcode.
func opcodeName(op byte) string {
	s, err := txscript.DisasmString([]byte{op})
	if err != nil {
		return fmt.Sprintf("0x%02x", op)
	}
	return s
}

// lex splits a script into tokens. Only the opcodes of the fragment
// vocabulary, minimal non-negative numbers, 32 byte hashes and 33 byte
// compressed keys are accepted.
func lex(script []byte) ([]token, error) {
	var tokens []token
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		data := tokenizer.Data()

		switch {
		case op == txscript.OP_0:
			tokens = append(tokens, token{kind: tokNumber})

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			tokens = append(tokens, token{
				kind: tokNumber,
				num:  int64(op - (txscript.OP_1 - 1)),
			})

		case op >= txscript.OP_DATA_1 && op <= txscript.OP_DATA_4:
			n, err := decodeScriptNum(data)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokNumber, num: n})

		case op == txscript.OP_DATA_32:
			var h chainhash.Hash
			copy(h[:], data)
			tokens = append(tokens, token{kind: tokHash32, hash: h})

		case op == txscript.OP_DATA_33:
			key, err := policy.NewPubKey(data)
			if err != nil {
				return nil, scriptError(ErrInvalidPubKey,
					err.Error())
			}
			tokens = append(tokens, token{kind: tokPubKey, key: key})

		default:
			kind, ok := opcodeTokens[op]
			if !ok {
				return nil, scriptError(ErrUnsupportedOpcode,
					fmt.Sprintf("unsupported opcode %s at "+
						"offset %d", opcodeName(op),
						tokenizer.ByteIndex()))
			}
			tokens = append(tokens, token{kind: kind})
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, scriptError(ErrMalformedPush, err.Error())
	}
	return tokens, nil
}

// decodeScriptNum decodes a minimally encoded, non-negative script number
// pushed with OP_DATA_1 to OP_DATA_4. Values that have a dedicated small
// integer opcode are rejected as non-minimal.
func decodeScriptNum(data []byte) (int64, error) {
	last := data[len(data)-1]
	if last&0x7f == 0 &&
		(len(data) == 1 || data[len(data)-2]&0x80 == 0) {

		return 0, scriptError(ErrMalformedPush, fmt.Sprintf("non-"+
			"minimal number push %x", data))
	}
	if last&0x80 != 0 {
		return 0, scriptError(ErrMalformedPush, fmt.Sprintf("negative "+
			"number push %x", data))
	}

	var n int64
	for i, b := range data {
		n |= int64(b) << uint(8*i)
	}
	if n <= 16 {
		return 0, scriptError(ErrMalformedPush, fmt.Sprintf("number %d "+
			"must use a small integer opcode", n))
	}
	return n, nil
}
