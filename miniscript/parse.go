// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"fmt"

	"github.com/btcsuite/btcpolicy/policy"
)

// ParseScript reads a serialized program back into its fragment tree. The
// script is read from its last opcode backwards, as every fragment is
// identified by its trailing opcodes. Any fragment type is accepted at the
// top level; FromScript additionally requires type T.
func ParseScript(script []byte) (*AstElem, error) {
	tokens, err := lex(script)
	if err != nil {
		return nil, err
	}
	p := &scriptParser{tokens: tokens, pos: len(tokens)}
	node, err := p.parseSeq()
	if err != nil {
		return nil, err
	}
	if p.pos != 0 {
		return nil, scriptError(ErrTrailingTokens, fmt.Sprintf("%d "+
			"unparsed tokens before %v", p.pos, node))
	}
	return node, nil
}

// scriptParser consumes tokens from the end. pos is the number of tokens not
// yet consumed, so the next token to read is tokens[pos-1].
type scriptParser struct {
	tokens []token
	pos    int
}

// peek returns the next token without consuming it.
func (p *scriptParser) peek() (token, bool) {
	if p.pos == 0 {
		return token{}, false
	}
	return p.tokens[p.pos-1], true
}

// peekIs reports whether the next token is of the given kind.
func (p *scriptParser) peekIs(kind tokenKind) bool {
	tok, ok := p.peek()
	return ok && tok.kind == kind
}

// peekIsZero reports whether the next token is the number 0 and the token
// before it is a branch boundary, which makes it a constant 0 branch.
func (p *scriptParser) peekIsZero() bool {
	tok, ok := p.peek()
	if !ok || tok.kind != tokNumber || tok.num != 0 || p.pos < 2 {
		return false
	}
	return isBoundary(p.tokens[p.pos-2].kind)
}

func (p *scriptParser) next() (token, error) {
	if p.pos == 0 {
		return token{}, scriptError(ErrUnexpectedEnd, "unexpected "+
			"start of script")
	}
	p.pos--
	return p.tokens[p.pos], nil
}

func (p *scriptParser) expect(kind tokenKind) (token, error) {
	tok, err := p.next()
	if err != nil {
		return tok, err
	}
	if tok.kind != kind {
		return tok, p.unexpected(tok)
	}
	return tok, nil
}

func (p *scriptParser) expectNumber(n int64) error {
	tok, err := p.expect(tokNumber)
	if err != nil {
		return err
	}
	if tok.num != n {
		return p.unexpected(tok)
	}
	return nil
}

func (p *scriptParser) unexpected(tok token) error {
	return scriptError(ErrUnexpectedToken, fmt.Sprintf("unexpected %v "+
		"at token %d", tok, p.pos))
}

// isBoundary reports whether a token separates branches, which ends a
// sequence.
func isBoundary(kind tokenKind) bool {
	switch kind {
	case tokIf, tokNotIf, tokElse, tokToAltStack:
		return true
	}
	return false
}

// parseSeq reads a run of fragments up to a branch boundary and chains them
// with AndCat.
func (p *scriptParser) parseSeq() (*AstElem, error) {
	node, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || isBoundary(tok.kind) {
			return node, nil
		}
		prev, err := p.parseSingle()
		if err != nil {
			return nil, err
		}
		if node, err = NewAndCat(prev, node); err != nil {
			return nil, err
		}
	}
}

// parseBranch reads the contents of an IF or ELSE branch. A constant 0 branch
// is reported with a nil node.
func (p *scriptParser) parseBranch() (*AstElem, error) {
	if p.peekIsZero() {
		p.pos--
		return nil, nil
	}
	return p.parseSeq()
}

// parseSingle reads one fragment ending at the current position.
func (p *scriptParser) parseSingle() (*AstElem, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}

	switch tok.kind {
	case tokPubKey:
		return NewPkQ(tok.key), nil

	case tokCheckSig:
		key, err := p.expect(tokPubKey)
		if err != nil {
			return nil, err
		}
		return NewPk(key.key), nil

	case tokCheckSigVerify:
		switch {
		case p.peekIs(tokPubKey):
			key, _ := p.next()
			return NewPkV(key.key), nil

		case p.peekIs(tokEndIf):
			inner, err := p.parseSingle()
			if err != nil {
				return nil, err
			}
			if inner.kind != KindOrKey {
				return nil, mismatch(KindOrKeyV, inner.subs...)
			}
			return NewOrKeyV(inner.subs[0], inner.subs[1])
		}

	case tokCheckMultiSig, tokCheckMultiSigVerify:
		return p.parseMulti(tok.kind == tokCheckMultiSigVerify)

	case tokCheckSequenceVerify:
		n, err := p.parseLockTime()
		if err != nil {
			return nil, err
		}
		return NewTimeT(n), nil

	case tokDrop:
		if _, err := p.expect(tokCheckSequenceVerify); err != nil {
			return nil, err
		}
		n, err := p.parseLockTime()
		if err != nil {
			return nil, err
		}
		return NewTimeV(n), nil

	case tokZeroNotEqual:
		if _, err := p.expect(tokCheckSequenceVerify); err != nil {
			return nil, err
		}
		n, err := p.parseLockTime()
		if err != nil {
			return nil, err
		}
		return NewTimeF(n), nil

	case tokEqual, tokEqualVerify:
		verify := tok.kind == tokEqualVerify
		switch {
		case p.peekIs(tokHash32):
			return p.parseHash(verify)
		case p.peekIs(tokNumber):
			return p.parseThresh(verify)
		}

	case tokNumber:
		if tok.num != 1 {
			break
		}
		v, err := p.parseSingle()
		if err != nil {
			return nil, err
		}
		return NewTrue(v)

	case tokBoolAnd, tokBoolOr:
		w, err := p.parseW()
		if err != nil {
			return nil, err
		}
		e, err := p.parseSingle()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokBoolAnd {
			return NewAndBool(e, w)
		}
		return NewOrBool(e, w)

	case tokVerify:
		if !p.peekIs(tokEndIf) {
			break
		}
		inner, err := p.parseSingle()
		if err != nil {
			return nil, err
		}
		if inner.kind != KindOrIf {
			return nil, mismatch(KindOrIfV, inner.subs...)
		}
		return NewOrIfV(inner.subs[0], inner.subs[1])

	case tokEndIf:
		return p.parseEndIf()
	}

	return nil, p.unexpected(tok)
}

// parseEndIf reads a conditional fragment whose ENDIF was just consumed.
func (p *scriptParser) parseEndIf() (*AstElem, error) {
	last, err := p.parseBranch()
	if err != nil {
		return nil, err
	}

	tok, err := p.next()
	if err != nil {
		return nil, err
	}

	switch tok.kind {
	case tokElse:
		first, err := p.parseBranch()
		if err != nil {
			return nil, err
		}
		opener, err := p.next()
		if err != nil {
			return nil, err
		}
		if first == nil && last == nil {
			return nil, p.unexpected(opener)
		}

		switch opener.kind {
		case tokNotIf:
			switch {
			case first == nil:
				e, err := p.parseSingle()
				if err != nil {
					return nil, err
				}
				return NewAndCasc(e, last)

			case last == nil:
				return NewLikely(first)
			}
			return NewOrNotIf(first, last)

		case tokIf:
			switch {
			case first == nil:
				return nil, p.unexpected(opener)

			case last == nil:
				return NewUnlikely(first)

			case first.IsQ() && last.IsQ():
				return NewOrKey(first, last)
			}
			return NewOrIf(first, last)
		}
		return nil, p.unexpected(opener)

	case tokIf:
		// DUP IF <n> CSV DROP ENDIF
		if last == nil || last.kind != KindTimeV {
			return nil, p.unexpected(tok)
		}
		if _, err := p.expect(tokDup); err != nil {
			return nil, err
		}
		return NewTime(last.lockTime), nil

	case tokNotIf:
		if last == nil {
			return nil, p.unexpected(tok)
		}
		if p.peekIs(tokIfDup) {
			p.pos--
			e, err := p.parseSingle()
			if err != nil {
				return nil, err
			}
			return NewOrCasc(e, last)
		}
		e, err := p.parseSingle()
		if err != nil {
			return nil, err
		}
		return NewOrCont(e, last)
	}

	return nil, p.unexpected(tok)
}

// parseW reads a fragment of type W.
func (p *scriptParser) parseW() (*AstElem, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}

	switch tok.kind {
	case tokCheckSig:
		// SWAP <key> CHECKSIG
		key, err := p.expect(tokPubKey)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokSwap); err != nil {
			return nil, err
		}
		return NewPkW(key.key), nil

	case tokFromAltStack:
		e, err := p.parseSeq()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokToAltStack); err != nil {
			return nil, err
		}
		return NewWrap(e)

	case tokEndIf:
		inner, err := p.parseSeq()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokIf); err != nil {
			return nil, err
		}

		switch {
		// SWAP DUP IF <n> CSV DROP ENDIF
		case inner.kind == KindTimeV && p.peekIs(tokDup):
			p.pos--
			if _, err := p.expect(tokSwap); err != nil {
				return nil, err
			}
			return NewTimeW(inner.lockTime), nil

		// SWAP SIZE 0NOTEQUAL IF <hash_v> 1 ENDIF
		case inner.kind == KindTrue &&
			inner.subs[0].kind == KindHashV:

			for _, kind := range []tokenKind{
				tokZeroNotEqual, tokSize, tokSwap,
			} {
				if _, err := p.expect(kind); err != nil {
					return nil, err
				}
			}
			return NewHashW(inner.subs[0].hash), nil
		}
	}

	return nil, p.unexpected(tok)
}

// parseMulti reads `<k> <key>... <n>` before a CHECKMULTISIG(VERIFY).
func (p *scriptParser) parseMulti(verify bool) (*AstElem, error) {
	n, err := p.expect(tokNumber)
	if err != nil {
		return nil, err
	}
	if n.num < 1 || n.num > policy.MaxMultiKeys {
		return nil, scriptError(ErrTooManyKeys, fmt.Sprintf("multisig "+
			"with %d keys", n.num))
	}

	keys := make([]policy.PubKey, n.num)
	for i := len(keys) - 1; i >= 0; i-- {
		key, err := p.expect(tokPubKey)
		if err != nil {
			return nil, err
		}
		keys[i] = key.key
	}

	k, err := p.expect(tokNumber)
	if err != nil {
		return nil, err
	}
	if verify {
		return NewMultiV(int(k.num), keys)
	}
	return NewMulti(int(k.num), keys)
}

// parseLockTime reads the number in front of a CHECKSEQUENCEVERIFY.
func (p *scriptParser) parseLockTime() (uint32, error) {
	tok, err := p.expect(tokNumber)
	if err != nil {
		return 0, err
	}
	return uint32(tok.num), nil
}

// parseHash reads `SIZE 32 EQUALVERIFY SHA256 <h>` before an EQUAL or
// EQUALVERIFY.
func (p *scriptParser) parseHash(verify bool) (*AstElem, error) {
	h, _ := p.next()
	if _, err := p.expect(tokSha256); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokEqualVerify); err != nil {
		return nil, err
	}
	if err := p.expectNumber(hashPreimageLen); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokSize); err != nil {
		return nil, err
	}
	if verify {
		return NewHashV(h.hash), nil
	}
	return NewHashT(h.hash), nil
}

// parseThresh reads `<e> (<w> ADD)... <k>` before an EQUAL or EQUALVERIFY.
func (p *scriptParser) parseThresh(verify bool) (*AstElem, error) {
	k, _ := p.next()

	var ws []*AstElem
	for p.peekIs(tokAdd) {
		p.pos--
		w, err := p.parseW()
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	e, err := p.parseSingle()
	if err != nil {
		return nil, err
	}

	// The W legs were read last to first.
	subs := make([]*AstElem, 0, len(ws)+1)
	subs = append(subs, e)
	for i := len(ws) - 1; i >= 0; i-- {
		subs = append(subs, ws[i])
	}
	if verify {
		return NewThreshV(int(k.num), subs)
	}
	return NewThresh(int(k.num), subs)
}
