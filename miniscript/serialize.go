// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

const (
	// pubKeyDataPushLen is the length of a public key data push, which is
	// 1+33 (1 byte for the OP_DATA_33 opcode).
	pubKeyDataPushLen = 34

	// hashDataPushLen is the length of a 32 byte hash data push.
	hashDataPushLen = 33

	// hashPreimageLen is the required size of a hash preimage.
	hashPreimageLen = 32

	// maxStandardP2WSHScriptSize is the maximum size in bytes of a
	// standard witnessScript.
	maxStandardP2WSHScriptSize = 3600
)

// Script serializes the fragment.
func (a *AstElem) Script() ([]byte, error) {
	b := txscript.NewScriptBuilder()
	buildScript(a, b)
	return b.Script()
}

// buildScript appends the opcodes of node to b.
func buildScript(node *AstElem, b *txscript.ScriptBuilder) {
	switch node.kind {
	case KindPk:
		b.AddData(node.key[:]).AddOp(txscript.OP_CHECKSIG)

	case KindPkV:
		b.AddData(node.key[:]).AddOp(txscript.OP_CHECKSIGVERIFY)

	case KindPkQ:
		b.AddData(node.key[:])

	case KindPkW:
		b.AddOp(txscript.OP_SWAP)
		b.AddData(node.key[:]).AddOp(txscript.OP_CHECKSIG)

	case KindMulti, KindMultiV:
		b.AddInt64(int64(node.k))
		for _, key := range node.keys {
			b.AddData(key[:])
		}
		b.AddInt64(int64(len(node.keys)))
		if node.kind == KindMulti {
			b.AddOp(txscript.OP_CHECKMULTISIG)
		} else {
			b.AddOp(txscript.OP_CHECKMULTISIGVERIFY)
		}

	case KindTimeT:
		b.AddInt64(int64(node.lockTime))
		b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)

	case KindTimeV:
		b.AddInt64(int64(node.lockTime))
		b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY).AddOp(txscript.OP_DROP)

	case KindTimeF:
		b.AddInt64(int64(node.lockTime))
		b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
		b.AddOp(txscript.OP_0NOTEQUAL)

	case KindTime, KindTimeW:
		if node.kind == KindTimeW {
			b.AddOp(txscript.OP_SWAP)
		}
		b.AddOp(txscript.OP_DUP).AddOp(txscript.OP_IF)
		b.AddInt64(int64(node.lockTime))
		b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY).AddOp(txscript.OP_DROP)
		b.AddOp(txscript.OP_ENDIF)

	case KindHashT, KindHashV:
		b.AddOp(txscript.OP_SIZE).AddInt64(hashPreimageLen)
		b.AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_SHA256)
		b.AddData(node.hash[:])
		if node.kind == KindHashT {
			b.AddOp(txscript.OP_EQUAL)
		} else {
			b.AddOp(txscript.OP_EQUALVERIFY)
		}

	case KindHashW:
		b.AddOp(txscript.OP_SWAP).AddOp(txscript.OP_SIZE)
		b.AddOp(txscript.OP_0NOTEQUAL).AddOp(txscript.OP_IF)
		b.AddOp(txscript.OP_SIZE).AddInt64(hashPreimageLen)
		b.AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_SHA256)
		b.AddData(node.hash[:]).AddOp(txscript.OP_EQUALVERIFY)
		b.AddOp(txscript.OP_1).AddOp(txscript.OP_ENDIF)

	case KindTrue:
		buildScript(node.subs[0], b)
		b.AddOp(txscript.OP_1)

	case KindWrap:
		b.AddOp(txscript.OP_TOALTSTACK)
		buildScript(node.subs[0], b)
		b.AddOp(txscript.OP_FROMALTSTACK)

	case KindLikely, KindUnlikely:
		if node.kind == KindLikely {
			b.AddOp(txscript.OP_NOTIF)
		} else {
			b.AddOp(txscript.OP_IF)
		}
		buildScript(node.subs[0], b)
		b.AddOp(txscript.OP_ELSE).AddOp(txscript.OP_0)
		b.AddOp(txscript.OP_ENDIF)

	case KindAndCat:
		buildScript(node.subs[0], b)
		buildScript(node.subs[1], b)

	case KindAndBool:
		buildScript(node.subs[0], b)
		buildScript(node.subs[1], b)
		b.AddOp(txscript.OP_BOOLAND)

	case KindAndCasc:
		buildScript(node.subs[0], b)
		b.AddOp(txscript.OP_NOTIF).AddOp(txscript.OP_0)
		b.AddOp(txscript.OP_ELSE)
		buildScript(node.subs[1], b)
		b.AddOp(txscript.OP_ENDIF)

	case KindOrBool:
		buildScript(node.subs[0], b)
		buildScript(node.subs[1], b)
		b.AddOp(txscript.OP_BOOLOR)

	case KindOrCasc:
		buildScript(node.subs[0], b)
		b.AddOp(txscript.OP_IFDUP).AddOp(txscript.OP_NOTIF)
		buildScript(node.subs[1], b)
		b.AddOp(txscript.OP_ENDIF)

	case KindOrCont:
		buildScript(node.subs[0], b)
		b.AddOp(txscript.OP_NOTIF)
		buildScript(node.subs[1], b)
		b.AddOp(txscript.OP_ENDIF)

	case KindOrKey, KindOrKeyV, KindOrIf, KindOrIfV, KindOrNotIf:
		if node.kind == KindOrNotIf {
			b.AddOp(txscript.OP_NOTIF)
		} else {
			b.AddOp(txscript.OP_IF)
		}
		buildScript(node.subs[0], b)
		b.AddOp(txscript.OP_ELSE)
		buildScript(node.subs[1], b)
		b.AddOp(txscript.OP_ENDIF)
		switch node.kind {
		case KindOrKeyV:
			b.AddOp(txscript.OP_CHECKSIGVERIFY)
		case KindOrIfV:
			b.AddOp(txscript.OP_VERIFY)
		}

	case KindThresh, KindThreshV:
		for i, sub := range node.subs {
			buildScript(sub, b)
			if i > 0 {
				b.AddOp(txscript.OP_ADD)
			}
		}
		b.AddInt64(int64(node.k))
		if node.kind == KindThresh {
			b.AddOp(txscript.OP_EQUAL)
		} else {
			b.AddOp(txscript.OP_EQUALVERIFY)
		}

	default:
		panic(AssertError(fmt.Sprintf("unknown fragment kind %v",
			node.kind)))
	}
}

// ScriptString returns a human-readable opcode listing of the fragment for
// debugging purposes.
func (a *AstElem) ScriptString() string {
	return strings.Join(scriptStr(a, nil), " ")
}

// scriptStr appends the opcode names of node to words.
func scriptStr(node *AstElem, words []string) []string {
	num := func(n int64) string {
		return strconv.FormatInt(n, 10)
	}
	key := func() string {
		return "<" + node.key.String() + ">"
	}
	hash := func() string {
		return "<" + hex.EncodeToString(node.hash[:]) + ">"
	}
	sub := func(i int) {
		words = scriptStr(node.subs[i], words)
	}

	switch node.kind {
	case KindPk:
		words = append(words, key(), "CHECKSIG")

	case KindPkV:
		words = append(words, key(), "CHECKSIGVERIFY")

	case KindPkQ:
		words = append(words, key())

	case KindPkW:
		words = append(words, "SWAP", key(), "CHECKSIG")

	case KindMulti, KindMultiV:
		words = append(words, num(int64(node.k)))
		for _, k := range node.keys {
			words = append(words, "<"+k.String()+">")
		}
		words = append(words, num(int64(len(node.keys))))
		if node.kind == KindMulti {
			words = append(words, "CHECKMULTISIG")
		} else {
			words = append(words, "CHECKMULTISIGVERIFY")
		}

	case KindTimeT:
		words = append(words, num(int64(node.lockTime)), "CSV")

	case KindTimeV:
		words = append(words, num(int64(node.lockTime)), "CSV", "DROP")

	case KindTimeF:
		words = append(words, num(int64(node.lockTime)), "CSV",
			"0NOTEQUAL")

	case KindTime:
		words = append(words, "DUP", "IF", num(int64(node.lockTime)),
			"CSV", "DROP", "ENDIF")

	case KindTimeW:
		words = append(words, "SWAP", "DUP", "IF",
			num(int64(node.lockTime)), "CSV", "DROP", "ENDIF")

	case KindHashT:
		words = append(words, "SIZE", "32", "EQUALVERIFY", "SHA256",
			hash(), "EQUAL")

	case KindHashV:
		words = append(words, "SIZE", "32", "EQUALVERIFY", "SHA256",
			hash(), "EQUALVERIFY")

	case KindHashW:
		words = append(words, "SWAP", "SIZE", "0NOTEQUAL", "IF", "SIZE",
			"32", "EQUALVERIFY", "SHA256", hash(), "EQUALVERIFY",
			"1", "ENDIF")

	case KindTrue:
		sub(0)
		words = append(words, "1")

	case KindWrap:
		words = append(words, "TOALTSTACK")
		sub(0)
		words = append(words, "FROMALTSTACK")

	case KindLikely:
		words = append(words, "NOTIF")
		sub(0)
		words = append(words, "ELSE", "0", "ENDIF")

	case KindUnlikely:
		words = append(words, "IF")
		sub(0)
		words = append(words, "ELSE", "0", "ENDIF")

	case KindAndCat:
		sub(0)
		sub(1)

	case KindAndBool:
		sub(0)
		sub(1)
		words = append(words, "BOOLAND")

	case KindAndCasc:
		sub(0)
		words = append(words, "NOTIF", "0", "ELSE")
		sub(1)
		words = append(words, "ENDIF")

	case KindOrBool:
		sub(0)
		sub(1)
		words = append(words, "BOOLOR")

	case KindOrCasc:
		sub(0)
		words = append(words, "IFDUP", "NOTIF")
		sub(1)
		words = append(words, "ENDIF")

	case KindOrCont:
		sub(0)
		words = append(words, "NOTIF")
		sub(1)
		words = append(words, "ENDIF")

	case KindOrKey, KindOrKeyV, KindOrIf, KindOrIfV, KindOrNotIf:
		if node.kind == KindOrNotIf {
			words = append(words, "NOTIF")
		} else {
			words = append(words, "IF")
		}
		sub(0)
		words = append(words, "ELSE")
		sub(1)
		words = append(words, "ENDIF")
		switch node.kind {
		case KindOrKeyV:
			words = append(words, "CHECKSIGVERIFY")
		case KindOrIfV:
			words = append(words, "VERIFY")
		}

	case KindThresh, KindThreshV:
		for i := range node.subs {
			sub(i)
			if i > 0 {
				words = append(words, "ADD")
			}
		}
		words = append(words, num(int64(node.k)))
		if node.kind == KindThresh {
			words = append(words, "EQUAL")
		} else {
			words = append(words, "EQUALVERIFY")
		}

	default:
		words = append(words, "<unknown>")
	}
	return words
}

// scriptNumLen returns the length of the minimal push of n as added by
// txscript.ScriptBuilder.AddInt64.
func scriptNumLen(n int64) int {
	if n >= 0 && n <= 16 {
		return 1
	}
	size := 0
	for v := n; v != 0; v >>= 8 {
		size++
	}
	// A set high bit in the last byte would read as the sign, so an extra
	// byte is pushed.
	if n>>(8*(size-1))&0x80 != 0 {
		size++
	}
	return 1 + size
}
