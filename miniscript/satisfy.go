// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcpolicy/policy"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// maxSigItemSize is the witness size of a signature item: up to 72
	// bytes of DER signature, a sighash byte and the length prefix.
	maxSigItemSize = 74

	// preimageItemSize is the witness size of a hash preimage item.
	preimageItemSize = hashPreimageLen + 1
)

// SignFunc returns a signature, including the sighash byte, for pubKey or
// false if no signer is available.
type SignFunc func(pubKey policy.PubKey) (signature []byte, available bool)

// PreimageFunc returns the SHA256 preimage of hash or false if it is unknown.
type PreimageFunc func(hash chainhash.Hash) (preimage []byte, available bool)

// Satisfier provides the secrets and context needed to satisfy a program.
type Satisfier struct {
	// Sign returns a signature for the pubkey or false if a signer is not
	// available.
	Sign SignFunc

	// Preimage returns the preimage of a hash commitment.
	Preimage PreimageFunc

	// Age is the BIP68 relative lock time of the spending input, i.e. its
	// nSequence value.
	Age fn.Option[uint32]
}

var (
	// witnessOne is the selector that takes an IF branch.
	witnessOne = []byte{1}

	// witnessEmpty pushes an empty vector, which is false.
	witnessEmpty = []byte{}
)

// concat joins witnesses in order. The witness is listed bottom of the stack
// first, so fragments that execute later come earlier in the list.
func concat(witnesses ...wire.TxWitness) wire.TxWitness {
	var size int
	for _, w := range witnesses {
		size += len(w)
	}
	out := make(wire.TxWitness, 0, size)
	for _, w := range witnesses {
		out = append(out, w...)
	}
	return out
}

// witnessSize is the serialized size of the witness items, a length prefix
// plus the data for each.
func witnessSize(w wire.TxWitness) int {
	var size int
	for _, item := range w {
		size += len(item) + 1
	}
	return size
}

// Satisfy returns a witness, listed bottom of the stack first, that makes
// the fragment succeed, or a *SatisfyError explaining why none could be
// built. Where several witnesses exist the smallest is returned.
func (a *AstElem) Satisfy(s *Satisfier) (wire.TxWitness, error) {
	if s == nil {
		s = &Satisfier{}
	}
	w, serr := satisfy(a, s)
	if serr != nil {
		return nil, serr
	}
	return w, nil
}

// Dissatisfy returns the witness that makes an E or W fragment push false.
// It needs no secrets.
func (a *AstElem) Dissatisfy() (wire.TxWitness, error) {
	w, serr := dissatisfy(a)
	if serr != nil {
		return nil, serr
	}
	return w, nil
}

// satisfy returns a *SatisfyError rather than error so that callers can
// collect the failures of sub-fragments without type assertions.
func satisfy(node *AstElem, s *Satisfier) (wire.TxWitness, *SatisfyError) {
	switch node.kind {
	case KindPk, KindPkV, KindPkQ, KindPkW:
		sig, serr := sign(node, node.key, s)
		if serr != nil {
			return nil, serr
		}
		return wire.TxWitness{sig}, nil

	case KindMulti, KindMultiV:
		return satisfyMulti(node, s)

	case KindTime, KindTimeW:
		if serr := checkAge(node, s); serr != nil {
			return nil, serr
		}
		return wire.TxWitness{witnessOne}, nil

	case KindTimeT, KindTimeV, KindTimeF:
		if serr := checkAge(node, s); serr != nil {
			return nil, serr
		}
		return wire.TxWitness{}, nil

	case KindHashT, KindHashV, KindHashW:
		preimage, serr := findPreimage(node, s)
		if serr != nil {
			return nil, serr
		}
		return wire.TxWitness{preimage}, nil

	case KindTrue, KindWrap:
		return satisfy(node.subs[0], s)

	case KindLikely, KindUnlikely:
		w, serr := satisfy(node.subs[0], s)
		if serr != nil {
			return nil, serr
		}
		selector := witnessEmpty
		if node.kind == KindUnlikely {
			selector = witnessOne
		}
		return concat(w, wire.TxWitness{selector}), nil

	case KindAndCat, KindAndBool, KindAndCasc:
		l, serr := satisfy(node.subs[0], s)
		if serr != nil {
			return nil, serr
		}
		r, serr := satisfy(node.subs[1], s)
		if serr != nil {
			return nil, serr
		}
		return concat(r, l), nil

	case KindOrBool:
		return satisfyOr(node,
			func() (wire.TxWitness, *SatisfyError) {
				l, serr := satisfy(node.subs[0], s)
				if serr != nil {
					return nil, serr
				}
				r, serr := dissatisfy(node.subs[1])
				if serr != nil {
					return nil, serr
				}
				return concat(r, l), nil
			},
			func() (wire.TxWitness, *SatisfyError) {
				r, serr := satisfy(node.subs[1], s)
				if serr != nil {
					return nil, serr
				}
				l, serr := dissatisfy(node.subs[0])
				if serr != nil {
					return nil, serr
				}
				return concat(r, l), nil
			},
		)

	case KindOrCasc, KindOrCont:
		return satisfyOr(node,
			func() (wire.TxWitness, *SatisfyError) {
				return satisfy(node.subs[0], s)
			},
			func() (wire.TxWitness, *SatisfyError) {
				r, serr := satisfy(node.subs[1], s)
				if serr != nil {
					return nil, serr
				}
				l, serr := dissatisfy(node.subs[0])
				if serr != nil {
					return nil, serr
				}
				return concat(r, l), nil
			},
		)

	case KindOrKey, KindOrKeyV, KindOrIf, KindOrIfV, KindOrNotIf:
		leftSelector, rightSelector := witnessOne, witnessEmpty
		if node.kind == KindOrNotIf {
			leftSelector, rightSelector = witnessEmpty, witnessOne
		}
		return satisfyOr(node,
			func() (wire.TxWitness, *SatisfyError) {
				l, serr := satisfy(node.subs[0], s)
				if serr != nil {
					return nil, serr
				}
				return concat(l, wire.TxWitness{leftSelector}), nil
			},
			func() (wire.TxWitness, *SatisfyError) {
				r, serr := satisfy(node.subs[1], s)
				if serr != nil {
					return nil, serr
				}
				return concat(r, wire.TxWitness{rightSelector}), nil
			},
		)

	case KindThresh, KindThreshV:
		return satisfyThresh(node, s)

	default:
		panic(AssertError(fmt.Sprintf("unknown fragment kind %v",
			node.kind)))
	}
}

// satisfyOr tries both branches of a disjunction and keeps the smaller
// witness, preferring the left one on a tie.
func satisfyOr(node *AstElem, left,
	right func() (wire.TxWitness, *SatisfyError)) (wire.TxWitness,
	*SatisfyError) {

	l, lerr := left()
	r, rerr := right()
	switch {
	case lerr != nil && rerr != nil:
		return nil, satisfyError(ErrOrExpressionBothNotMet, node, "",
			lerr, rerr)

	case lerr != nil:
		return r, nil

	case rerr != nil:
		return l, nil

	case witnessSize(r) < witnessSize(l):
		return r, nil
	}
	return l, nil
}

// legWitness is the outcome of one leg of a threshold.
type legWitness struct {
	index  int
	sat    wire.TxWitness
	dissat wire.TxWitness
}

// satisfyThresh satisfies exactly k legs. When more than k legs can be
// satisfied, the ones whose satisfaction is the largest compared to their
// dissatisfaction are dissatisfied instead.
func satisfyThresh(node *AstElem, s *Satisfier) (wire.TxWitness,
	*SatisfyError) {

	var (
		legs     = make([]legWitness, len(node.subs))
		usable   []int
		failures []*SatisfyError
	)
	for i, sub := range node.subs {
		dissat, serr := dissatisfy(sub)
		if serr != nil {
			return nil, serr
		}
		legs[i] = legWitness{index: i, dissat: dissat}

		sat, serr := satisfy(sub, s)
		if serr != nil {
			failures = append(failures, serr)
			continue
		}
		legs[i].sat = sat
		usable = append(usable, i)
	}

	if len(usable) < node.k {
		return nil, satisfyError(ErrThresholdNotMet, node,
			fmt.Sprintf("%d of %d legs satisfiable, %d required",
				len(usable), len(node.subs), node.k),
			failures...)
	}

	// Keep the k legs that add the fewest bytes over their
	// dissatisfaction.
	sort.SliceStable(usable, func(i, j int) bool {
		li, lj := legs[usable[i]], legs[usable[j]]
		return witnessSize(li.sat)-witnessSize(li.dissat) <
			witnessSize(lj.sat)-witnessSize(lj.dissat)
	})
	chosen := make([]bool, len(legs))
	for _, i := range usable[:node.k] {
		chosen[i] = true
	}

	// The last leg executes last, so its witness goes deepest.
	parts := make([]wire.TxWitness, 0, len(legs))
	for i := len(legs) - 1; i >= 0; i-- {
		if chosen[i] {
			parts = append(parts, legs[i].sat)
		} else {
			parts = append(parts, legs[i].dissat)
		}
	}
	return concat(parts...), nil
}

// dissatisfy returns the witness making an E or W fragment push false.
func dissatisfy(node *AstElem) (wire.TxWitness, *SatisfyError) {
	if !node.IsE() && !node.IsW() {
		return nil, satisfyError(ErrNotDissatisfiable, node,
			fmt.Sprintf("type %s has no dissatisfaction",
				node.types))
	}

	switch node.kind {
	case KindPk, KindPkW, KindTime, KindTimeW, KindHashW:
		return wire.TxWitness{witnessEmpty}, nil

	case KindMulti:
		// The extra element is consumed by the off-by-one bug of
		// OP_CHECKMULTISIG.
		w := make(wire.TxWitness, node.k+1)
		for i := range w {
			w[i] = witnessEmpty
		}
		return w, nil

	case KindWrap:
		return dissatisfy(node.subs[0])

	case KindLikely:
		return wire.TxWitness{witnessOne}, nil

	case KindUnlikely:
		return wire.TxWitness{witnessEmpty}, nil

	case KindAndBool, KindOrBool, KindOrCasc:
		l, serr := dissatisfy(node.subs[0])
		if serr != nil {
			return nil, serr
		}
		r, serr := dissatisfy(node.subs[1])
		if serr != nil {
			return nil, serr
		}
		return concat(r, l), nil

	case KindAndCasc:
		return dissatisfy(node.subs[0])

	case KindOrIf, KindOrNotIf:
		r, serr := dissatisfy(node.subs[1])
		if serr != nil {
			return nil, serr
		}
		selector := witnessEmpty
		if node.kind == KindOrNotIf {
			selector = witnessOne
		}
		return concat(r, wire.TxWitness{selector}), nil

	case KindThresh:
		parts := make([]wire.TxWitness, 0, len(node.subs))
		for i := len(node.subs) - 1; i >= 0; i-- {
			w, serr := dissatisfy(node.subs[i])
			if serr != nil {
				return nil, serr
			}
			parts = append(parts, w)
		}
		return concat(parts...), nil
	}

	panic(AssertError(fmt.Sprintf("no dissatisfaction rule for %v",
		node.kind)))
}

// sign asks the satisfier for a signature by key.
func sign(node *AstElem, key policy.PubKey, s *Satisfier) ([]byte,
	*SatisfyError) {

	if s.Sign == nil {
		return nil, satisfyError(ErrNoSignatureProvider, node, "")
	}
	sig, ok := s.Sign(key)
	if !ok {
		return nil, satisfyError(ErrCanNotProvideSignature, node,
			fmt.Sprintf("no signature for %v", key))
	}
	return sig, nil
}

// satisfyMulti collects signatures for the first k keys that can be signed
// for, in key order, behind the dummy element CHECKMULTISIG pops.
func satisfyMulti(node *AstElem, s *Satisfier) (wire.TxWitness,
	*SatisfyError) {

	if s.Sign == nil {
		return nil, satisfyError(ErrNoSignatureProvider, node, "")
	}
	w := wire.TxWitness{witnessEmpty}
	for _, key := range node.keys {
		if len(w) == node.k+1 {
			break
		}
		if sig, ok := s.Sign(key); ok {
			w = append(w, sig)
		}
	}
	if len(w) < node.k+1 {
		return nil, satisfyError(
			ErrCanNotProvideEnoughSignatureForMulti, node,
			fmt.Sprintf("%d of %d signatures available", len(w)-1,
				node.k),
		)
	}
	return w, nil
}

// findPreimage asks the satisfier for the preimage of a hash fragment and
// checks it against the commitment.
func findPreimage(node *AstElem, s *Satisfier) ([]byte, *SatisfyError) {
	if s.Preimage == nil {
		return nil, satisfyError(ErrNoPreimageProvider, node, "")
	}
	preimage, ok := s.Preimage(node.hash)
	if !ok {
		return nil, satisfyError(ErrCanNotProvidePreimage, node, "")
	}
	digest := sha256.Sum256(preimage)
	if len(preimage) != hashPreimageLen ||
		!bytes.Equal(digest[:], node.hash[:]) {

		return nil, satisfyError(ErrCanNotProvidePreimage, node,
			"preimage does not match commitment")
	}
	return preimage, nil
}

// checkAge checks the satisfier's input age against a relative lock time the
// way OP_CHECKSEQUENCEVERIFY does.
func checkAge(node *AstElem, s *Satisfier) *SatisfyError {
	if s.Age.IsNone() {
		return satisfyError(ErrNoAgeProvided, node, "")
	}
	age := s.Age.UnsafeFromSome()

	if age&wire.SequenceLockTimeDisabled != 0 {
		return satisfyError(ErrRelativeLockDisabled, node,
			fmt.Sprintf("sequence %#x has the disable flag set", age))
	}

	// Only block based relative locks are supported, on both sides.
	if age&wire.SequenceLockTimeIsSeconds != 0 ||
		node.lockTime&wire.SequenceLockTimeIsSeconds != 0 {

		return satisfyError(ErrRelativeLockNotBlockBased, node,
			fmt.Sprintf("sequence %#x or lock time %#x is time "+
				"based", age, node.lockTime))
	}

	// See BIP68. Mask off non-consensus bits before doing comparisons.
	have := age & wire.SequenceLockTimeMask
	want := node.lockTime & wire.SequenceLockTimeMask
	if have < want {
		return satisfyError(ErrLockTimeNotMet, node,
			fmt.Sprintf("age %d below lock time %d", have, want))
	}
	return nil
}

// satisfactionSizes returns the largest witness size of a satisfaction and of
// a dissatisfaction of node. Fragments without a dissatisfaction report 0.
func satisfactionSizes(node *AstElem) (int, int) {
	switch node.kind {
	case KindPk, KindPkW:
		return maxSigItemSize, 1

	case KindPkV, KindPkQ:
		return maxSigItemSize, 0

	case KindMulti, KindMultiV:
		dissat := 0
		if node.kind == KindMulti {
			dissat = node.k + 1
		}
		return 1 + maxSigItemSize*node.k, dissat

	case KindTimeT, KindTimeV, KindTimeF:
		return 0, 0

	case KindTime, KindTimeW:
		return 2, 1

	case KindHashT, KindHashV:
		return preimageItemSize, 0

	case KindHashW:
		return preimageItemSize, 1

	case KindTrue, KindWrap:
		return satisfactionSizes(node.subs[0])

	case KindLikely:
		sat, _ := satisfactionSizes(node.subs[0])
		return sat + 1, 2

	case KindUnlikely:
		sat, _ := satisfactionSizes(node.subs[0])
		return sat + 2, 1
	}

	if node.kind == KindThresh || node.kind == KindThreshV {
		var (
			dissat int
			diffs  = make([]int, 0, len(node.subs))
		)
		for _, sub := range node.subs {
			s, d := satisfactionSizes(sub)
			dissat += d
			diffs = append(diffs, s-d)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(diffs)))
		sat := dissat
		for _, diff := range diffs[:node.k] {
			sat += diff
		}
		if node.kind == KindThreshV {
			dissat = 0
		}
		return sat, dissat
	}

	ls, ld := satisfactionSizes(node.subs[0])
	rs, rd := satisfactionSizes(node.subs[1])
	switch node.kind {
	case KindAndCat:
		return ls + rs, 0

	case KindAndBool:
		return ls + rs, ld + rd

	case KindAndCasc:
		return ls + rs, ld

	case KindOrBool:
		return max(ls+rd, rs+ld), ld + rd

	case KindOrCasc:
		return max(ls, rs+ld), ld + rd

	case KindOrCont:
		return max(ls, rs+ld), 0

	case KindOrKey, KindOrKeyV, KindOrIfV:
		return max(ls+2, rs+1), 0

	case KindOrIf:
		return max(ls+2, rs+1), rd + 1

	case KindOrNotIf:
		return max(ls+1, rs+2), rd + 2
	}

	panic(AssertError(fmt.Sprintf("unknown fragment kind %v", node.kind)))
}

// MaxSatisfactionSize returns an upper bound of the witness size, excluding
// the witness script itself, of any satisfaction Satisfy can produce.
func (a *AstElem) MaxSatisfactionSize() int {
	sat, _ := satisfactionSizes(a)
	return sat
}
