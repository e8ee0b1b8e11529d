// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcpolicy/policy"
)

// Kind identifies a script fragment.
type Kind uint8

const (
	// All fragment kinds. The comment shows the script each one
	// serializes to.

	KindPk       Kind = iota // <key> CHECKSIG
	KindPkV                  // <key> CHECKSIGVERIFY
	KindPkQ                  // <key>
	KindPkW                  // SWAP <key> CHECKSIG
	KindMulti                // <k> <key>... <n> CHECKMULTISIG
	KindMultiV               // <k> <key>... <n> CHECKMULTISIGVERIFY
	KindTimeT                // <n> CSV
	KindTimeV                // <n> CSV DROP
	KindTimeF                // <n> CSV 0NOTEQUAL
	KindTime                 // DUP IF <n> CSV DROP ENDIF
	KindTimeW                // SWAP DUP IF <n> CSV DROP ENDIF
	KindHashT                // SIZE 32 EQUALVERIFY SHA256 <h> EQUAL
	KindHashV                // SIZE 32 EQUALVERIFY SHA256 <h> EQUALVERIFY
	KindHashW                // SWAP SIZE 0NOTEQUAL IF SIZE 32 EQUALVERIFY SHA256 <h> EQUALVERIFY 1 ENDIF
	KindTrue                 // <V> 1
	KindWrap                 // TOALTSTACK <E> FROMALTSTACK
	KindLikely               // NOTIF <F> ELSE 0 ENDIF
	KindUnlikely             // IF <F> ELSE 0 ENDIF
	KindAndCat               // <V> <X>
	KindAndBool              // <E> <W> BOOLAND
	KindAndCasc              // <E> NOTIF 0 ELSE <F> ENDIF
	KindOrBool               // <E> <W> BOOLOR
	KindOrCasc               // <E> IFDUP NOTIF <X> ENDIF
	KindOrCont               // <E> NOTIF <V> ENDIF
	KindOrKey                // IF <Q> ELSE <Q> ENDIF
	KindOrKeyV               // IF <Q> ELSE <Q> ENDIF CHECKSIGVERIFY
	KindOrIf                 // IF <X> ELSE <Y> ENDIF
	KindOrIfV                // IF <T> ELSE <T> ENDIF VERIFY
	KindOrNotIf              // NOTIF <X> ELSE <Y> ENDIF
	KindThresh               // <E> <W> ADD ... <W> ADD <k> EQUAL
	KindThreshV              // <E> <W> ADD ... <W> ADD <k> EQUALVERIFY

	numKinds
)

var kindStrings = [numKinds]string{
	KindPk:       "pk",
	KindPkV:      "pk_v",
	KindPkQ:      "pk_q",
	KindPkW:      "pk_w",
	KindMulti:    "multi",
	KindMultiV:   "multi_v",
	KindTimeT:    "time_t",
	KindTimeV:    "time_v",
	KindTimeF:    "time_f",
	KindTime:     "time",
	KindTimeW:    "time_w",
	KindHashT:    "hash_t",
	KindHashV:    "hash_v",
	KindHashW:    "hash_w",
	KindTrue:     "true",
	KindWrap:     "wrap",
	KindLikely:   "likely",
	KindUnlikely: "unlikely",
	KindAndCat:   "and_cat",
	KindAndBool:  "and_bool",
	KindAndCasc:  "and_casc",
	KindOrBool:   "or_bool",
	KindOrCasc:   "or_casc",
	KindOrCont:   "or_cont",
	KindOrKey:    "or_key",
	KindOrKeyV:   "or_key_v",
	KindOrIf:     "or_if",
	KindOrIfV:    "or_if_v",
	KindOrNotIf:  "or_notif",
	KindThresh:   "thresh",
	KindThreshV:  "thresh_v",
}

// String returns the fragment name.
func (k Kind) String() string {
	if k < numKinds {
		return kindStrings[k]
	}
	return fmt.Sprintf("Unknown Kind (%d)", int(k))
}

// typeSet is the set of correctness types of a fragment.
type typeSet uint8

const (
	// typeE: consumes its inputs, pushes nonzero on satisfaction and
	// exactly zero on dissatisfaction.
	typeE typeSet = 1 << iota

	// typeW: like E, but operates one stack element below the top,
	// leaving the top in place.
	typeW

	// typeQ: pushes a public key for a following CHECKSIG.
	typeQ

	// typeF: pushes exactly 1 when satisfied, cannot be dissatisfied.
	typeF

	// typeV: pushes nothing, aborts the script when not satisfied.
	typeV

	// typeT: pushes nonzero when satisfied, cannot be dissatisfied.
	typeT
)

func (t typeSet) String() string {
	var b strings.Builder
	for i, c := range "EWQFVT" {
		if t&(1<<i) != 0 {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// AstElem is a typed script fragment. Nodes are immutable after
// construction; a subtree may be shared by several parents.
type AstElem struct {
	kind     Kind
	key      policy.PubKey
	keys     []policy.PubKey
	k        int
	lockTime uint32
	hash     chainhash.Hash
	subs     []*AstElem
	types    typeSet
}

// Kind returns the fragment kind.
func (a *AstElem) Kind() Kind { return a.kind }

// Key returns the key of a Pk, PkV, PkQ or PkW fragment.
func (a *AstElem) Key() policy.PubKey { return a.key }

// Keys returns a copy of the keys of a Multi or MultiV fragment.
func (a *AstElem) Keys() []policy.PubKey {
	return append([]policy.PubKey(nil), a.keys...)
}

// K returns the threshold of a Multi, MultiV, Thresh or ThreshV fragment.
func (a *AstElem) K() int { return a.k }

// LockTime returns the relative lock time of a time fragment.
func (a *AstElem) LockTime() uint32 { return a.lockTime }

// Digest returns the hash commitment of a hash fragment.
func (a *AstElem) Digest() chainhash.Hash { return a.hash }

// Subs returns a copy of the child fragments in script order.
func (a *AstElem) Subs() []*AstElem {
	return append([]*AstElem(nil), a.subs...)
}

// IsE reports whether the fragment has type E.
func (a *AstElem) IsE() bool { return a.types&typeE != 0 }

// IsW reports whether the fragment has type W.
func (a *AstElem) IsW() bool { return a.types&typeW != 0 }

// IsQ reports whether the fragment has type Q.
func (a *AstElem) IsQ() bool { return a.types&typeQ != 0 }

// IsF reports whether the fragment has type F.
func (a *AstElem) IsF() bool { return a.types&typeF != 0 }

// IsV reports whether the fragment has type V.
func (a *AstElem) IsV() bool { return a.types&typeV != 0 }

// IsT reports whether the fragment has type T.
func (a *AstElem) IsT() bool { return a.types&typeT != 0 }

// Types returns the correctness types as a string such as "ET".
func (a *AstElem) Types() string { return a.types.String() }

// mismatch returns the error for a combinator given children of the wrong
// type.
func mismatch(kind Kind, subs ...*AstElem) error {
	types := make([]string, len(subs))
	for i, sub := range subs {
		types[i] = fmt.Sprintf("%v[%v]", sub.kind, sub.types)
	}
	return scriptError(ErrTypeMismatch, fmt.Sprintf("%v does not accept "+
		"(%s)", kind, strings.Join(types, ", ")))
}

// NewPk returns `<key> CHECKSIG`.
func NewPk(key policy.PubKey) *AstElem {
	return &AstElem{kind: KindPk, key: key, types: typeE | typeT}
}

// NewPkV returns `<key> CHECKSIGVERIFY`.
func NewPkV(key policy.PubKey) *AstElem {
	return &AstElem{kind: KindPkV, key: key, types: typeV}
}

// NewPkQ returns `<key>`.
func NewPkQ(key policy.PubKey) *AstElem {
	return &AstElem{kind: KindPkQ, key: key, types: typeQ}
}

// NewPkW returns `SWAP <key> CHECKSIG`.
func NewPkW(key policy.PubKey) *AstElem {
	return &AstElem{kind: KindPkW, key: key, types: typeW}
}

func newMulti(kind Kind, k int, keys []policy.PubKey) (*AstElem, error) {
	if len(keys) == 0 || len(keys) > policy.MaxMultiKeys {
		return nil, scriptError(ErrTooManyKeys, fmt.Sprintf("%v with "+
			"%d keys", kind, len(keys)))
	}
	if k < 1 || k > len(keys) {
		return nil, scriptError(ErrInvalidThreshold, fmt.Sprintf("%v "+
			"threshold %d of %d", kind, k, len(keys)))
	}
	types := typeE | typeT
	if kind == KindMultiV {
		types = typeV
	}
	return &AstElem{
		kind:  kind,
		k:     k,
		keys:  append([]policy.PubKey(nil), keys...),
		types: types,
	}, nil
}

// NewMulti returns `<k> <keys...> <n> CHECKMULTISIG`.
func NewMulti(k int, keys []policy.PubKey) (*AstElem, error) {
	return newMulti(KindMulti, k, keys)
}

// NewMultiV returns `<k> <keys...> <n> CHECKMULTISIGVERIFY`.
func NewMultiV(k int, keys []policy.PubKey) (*AstElem, error) {
	return newMulti(KindMultiV, k, keys)
}

// NewTimeT returns `<n> CSV`.
func NewTimeT(n uint32) *AstElem {
	return &AstElem{kind: KindTimeT, lockTime: n, types: typeT}
}

// NewTimeV returns `<n> CSV DROP`.
func NewTimeV(n uint32) *AstElem {
	return &AstElem{kind: KindTimeV, lockTime: n, types: typeV}
}

// NewTimeF returns `<n> CSV 0NOTEQUAL`.
func NewTimeF(n uint32) *AstElem {
	return &AstElem{kind: KindTimeF, lockTime: n, types: typeF | typeT}
}

// NewTime returns `DUP IF <n> CSV DROP ENDIF`.
func NewTime(n uint32) *AstElem {
	return &AstElem{kind: KindTime, lockTime: n, types: typeE | typeT}
}

// NewTimeW returns `SWAP DUP IF <n> CSV DROP ENDIF`.
func NewTimeW(n uint32) *AstElem {
	return &AstElem{kind: KindTimeW, lockTime: n, types: typeW}
}

// NewHashT returns `SIZE 32 EQUALVERIFY SHA256 <h> EQUAL`.
func NewHashT(h chainhash.Hash) *AstElem {
	return &AstElem{kind: KindHashT, hash: h, types: typeT}
}

// NewHashV returns `SIZE 32 EQUALVERIFY SHA256 <h> EQUALVERIFY`.
func NewHashV(h chainhash.Hash) *AstElem {
	return &AstElem{kind: KindHashV, hash: h, types: typeV}
}

// NewHashW returns
// `SWAP SIZE 0NOTEQUAL IF SIZE 32 EQUALVERIFY SHA256 <h> EQUALVERIFY 1 ENDIF`.
func NewHashW(h chainhash.Hash) *AstElem {
	return &AstElem{kind: KindHashW, hash: h, types: typeW}
}

// NewTrue returns `<v> 1`. A sequence argument is rewritten so that the
// constant attaches to its last element, which serializes identically.
func NewTrue(v *AstElem) (*AstElem, error) {
	if !v.IsV() {
		return nil, mismatch(KindTrue, v)
	}
	if v.kind == KindAndCat {
		last, err := NewTrue(v.subs[1])
		if err != nil {
			return nil, err
		}
		return NewAndCat(v.subs[0], last)
	}
	return &AstElem{
		kind:  KindTrue,
		subs:  []*AstElem{v},
		types: typeF | typeT,
	}, nil
}

// NewWrap returns `TOALTSTACK <e> FROMALTSTACK`.
func NewWrap(e *AstElem) (*AstElem, error) {
	if !e.IsE() {
		return nil, mismatch(KindWrap, e)
	}
	return &AstElem{kind: KindWrap, subs: []*AstElem{e}, types: typeW}, nil
}

// NewLikely returns `NOTIF <f> ELSE 0 ENDIF`.
func NewLikely(f *AstElem) (*AstElem, error) {
	if !f.IsF() {
		return nil, mismatch(KindLikely, f)
	}
	return &AstElem{
		kind:  KindLikely,
		subs:  []*AstElem{f},
		types: typeE | typeT,
	}, nil
}

// NewUnlikely returns `IF <f> ELSE 0 ENDIF`.
func NewUnlikely(f *AstElem) (*AstElem, error) {
	if !f.IsF() {
		return nil, mismatch(KindUnlikely, f)
	}
	return &AstElem{
		kind:  KindUnlikely,
		subs:  []*AstElem{f},
		types: typeE | typeT,
	}, nil
}

// NewAndCat returns `<v> <x>`, which takes the V, F, T or Q types of x.
// Sequences are kept right associated.
func NewAndCat(v, x *AstElem) (*AstElem, error) {
	types := x.types & (typeV | typeF | typeT | typeQ)
	if !v.IsV() || types == 0 {
		return nil, mismatch(KindAndCat, v, x)
	}
	if v.kind == KindAndCat {
		rest, err := NewAndCat(v.subs[1], x)
		if err != nil {
			return nil, err
		}
		return NewAndCat(v.subs[0], rest)
	}
	return &AstElem{
		kind:  KindAndCat,
		subs:  []*AstElem{v, x},
		types: types,
	}, nil
}

func newPair(kind Kind, l, r *AstElem, types typeSet) *AstElem {
	return &AstElem{kind: kind, subs: []*AstElem{l, r}, types: types}
}

// NewAndBool returns `<e> <w> BOOLAND`.
func NewAndBool(e, w *AstElem) (*AstElem, error) {
	if !e.IsE() || !w.IsW() {
		return nil, mismatch(KindAndBool, e, w)
	}
	return newPair(KindAndBool, e, w, typeE|typeT), nil
}

// NewAndCasc returns `<e> NOTIF 0 ELSE <f> ENDIF`.
func NewAndCasc(e, f *AstElem) (*AstElem, error) {
	if !e.IsE() || !f.IsF() {
		return nil, mismatch(KindAndCasc, e, f)
	}
	return newPair(KindAndCasc, e, f, typeE|typeT), nil
}

// NewOrBool returns `<e> <w> BOOLOR`.
func NewOrBool(e, w *AstElem) (*AstElem, error) {
	if !e.IsE() || !w.IsW() {
		return nil, mismatch(KindOrBool, e, w)
	}
	return newPair(KindOrBool, e, w, typeE|typeT), nil
}

// NewOrCasc returns `<e> IFDUP NOTIF <x> ENDIF`. It is E and T when x is E,
// and only T when x is T.
func NewOrCasc(e, x *AstElem) (*AstElem, error) {
	if !e.IsE() {
		return nil, mismatch(KindOrCasc, e, x)
	}
	switch {
	case x.IsE():
		return newPair(KindOrCasc, e, x, typeE|typeT), nil
	case x.IsT():
		return newPair(KindOrCasc, e, x, typeT), nil
	default:
		return nil, mismatch(KindOrCasc, e, x)
	}
}

// NewOrCont returns `<e> NOTIF <v> ENDIF`.
func NewOrCont(e, v *AstElem) (*AstElem, error) {
	if !e.IsE() || !v.IsV() {
		return nil, mismatch(KindOrCont, e, v)
	}
	return newPair(KindOrCont, e, v, typeV), nil
}

// NewOrKey returns `IF <q> ELSE <q> ENDIF`.
func NewOrKey(l, r *AstElem) (*AstElem, error) {
	if !l.IsQ() || !r.IsQ() {
		return nil, mismatch(KindOrKey, l, r)
	}
	return newPair(KindOrKey, l, r, typeQ), nil
}

// NewOrKeyV returns `IF <q> ELSE <q> ENDIF CHECKSIGVERIFY`.
func NewOrKeyV(l, r *AstElem) (*AstElem, error) {
	if !l.IsQ() || !r.IsQ() {
		return nil, mismatch(KindOrKeyV, l, r)
	}
	return newPair(KindOrKeyV, l, r, typeV), nil
}

// orIfTypes returns the types of IF <l> ELSE <r> ENDIF: F for (F, F), V for
// (V, V), E for (F, E) and T for (T, T).
func orIfTypes(l, r *AstElem) typeSet {
	var types typeSet
	if l.IsF() && r.IsF() {
		types |= typeF
	}
	if l.IsV() && r.IsV() {
		types |= typeV
	}
	if l.IsF() && r.IsE() {
		types |= typeE
	}
	if l.IsT() && r.IsT() {
		types |= typeT
	}
	return types
}

// NewOrIf returns `IF <l> ELSE <r> ENDIF`.
func NewOrIf(l, r *AstElem) (*AstElem, error) {
	types := orIfTypes(l, r)
	if types == 0 {
		return nil, mismatch(KindOrIf, l, r)
	}
	return newPair(KindOrIf, l, r, types), nil
}

// NewOrIfV returns `IF <t> ELSE <t> ENDIF VERIFY`.
func NewOrIfV(l, r *AstElem) (*AstElem, error) {
	if !l.IsT() || !r.IsT() {
		return nil, mismatch(KindOrIfV, l, r)
	}
	return newPair(KindOrIfV, l, r, typeV), nil
}

// NewOrNotIf returns `NOTIF <l> ELSE <r> ENDIF`. It is F for (F, F), E for
// (F, E) and T for (T, T).
func NewOrNotIf(l, r *AstElem) (*AstElem, error) {
	types := orIfTypes(l, r) &^ typeV
	if types == 0 {
		return nil, mismatch(KindOrNotIf, l, r)
	}
	return newPair(KindOrNotIf, l, r, types), nil
}

func newThresh(kind Kind, k int, subs []*AstElem) (*AstElem, error) {
	if len(subs) == 0 || k < 1 || k > len(subs) {
		return nil, scriptError(ErrInvalidThreshold, fmt.Sprintf("%v "+
			"threshold %d of %d", kind, k, len(subs)))
	}
	if !subs[0].IsE() {
		return nil, mismatch(kind, subs...)
	}
	for _, sub := range subs[1:] {
		if !sub.IsW() {
			return nil, mismatch(kind, subs...)
		}
	}
	types := typeE | typeT
	if kind == KindThreshV {
		types = typeV
	}
	return &AstElem{
		kind:  kind,
		k:     k,
		subs:  append([]*AstElem(nil), subs...),
		types: types,
	}, nil
}

// NewThresh returns `<e> <w> ADD ... <w> ADD <k> EQUAL`. The first sub must
// be E and the rest W.
func NewThresh(k int, subs []*AstElem) (*AstElem, error) {
	return newThresh(KindThresh, k, subs)
}

// NewThreshV returns `<e> <w> ADD ... <w> ADD <k> EQUALVERIFY`.
func NewThreshV(k int, subs []*AstElem) (*AstElem, error) {
	return newThresh(KindThreshV, k, subs)
}

// mustNode unwraps the result of a constructor whose arguments are known to
// be well typed.
func mustNode(node *AstElem, err error) *AstElem {
	if err != nil {
		panic(AssertError(err.Error()))
	}
	return node
}

// Equal reports whether a and b are structurally identical.
func (a *AstElem) Equal(b *AstElem) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.kind != b.kind || a.key != b.key || a.k != b.k ||
		a.lockTime != b.lockTime || a.hash != b.hash ||
		len(a.keys) != len(b.keys) || len(a.subs) != len(b.subs) {

		return false
	}
	for i := range a.keys {
		if a.keys[i] != b.keys[i] {
			return false
		}
	}
	for i := range a.subs {
		if !a.subs[i].Equal(b.subs[i]) {
			return false
		}
	}
	return true
}

// encode writes a canonical encoding of the fragment. Two fragments have the
// same encoding exactly when they are Equal.
func (a *AstElem) encode(b *bytes.Buffer) {
	var scratch [4]byte
	b.WriteByte(byte(a.kind))
	switch a.kind {
	case KindPk, KindPkV, KindPkQ, KindPkW:
		b.Write(a.key[:])

	case KindMulti, KindMultiV:
		b.WriteByte(byte(a.k))
		b.WriteByte(byte(len(a.keys)))
		for _, key := range a.keys {
			b.Write(key[:])
		}

	case KindTimeT, KindTimeV, KindTimeF, KindTime, KindTimeW:
		binary.LittleEndian.PutUint32(scratch[:], a.lockTime)
		b.Write(scratch[:])

	case KindHashT, KindHashV, KindHashW:
		b.Write(a.hash[:])

	case KindThresh, KindThreshV:
		binary.LittleEndian.PutUint32(scratch[:], uint32(a.k))
		b.Write(scratch[:])
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(a.subs)))
		b.Write(scratch[:])
	}
	for _, sub := range a.subs {
		sub.encode(b)
	}
}

// Hash returns a structural hash of the fragment, consistent with Equal.
func (a *AstElem) Hash() chainhash.Hash {
	var b bytes.Buffer
	a.encode(&b)
	return chainhash.HashH(b.Bytes())
}

// String returns the fragment in functional notation, e.g.
// `or_bool(pk(02..),pk_w(03..))`.
func (a *AstElem) String() string {
	var b strings.Builder
	a.writeString(&b)
	return b.String()
}

func (a *AstElem) writeString(b *strings.Builder) {
	b.WriteString(a.kind.String())
	b.WriteByte('(')
	switch a.kind {
	case KindPk, KindPkV, KindPkQ, KindPkW:
		b.WriteString(a.key.String())

	case KindMulti, KindMultiV:
		b.WriteString(strconv.Itoa(a.k))
		for _, key := range a.keys {
			b.WriteByte(',')
			b.WriteString(key.String())
		}

	case KindTimeT, KindTimeV, KindTimeF, KindTime, KindTimeW:
		b.WriteString(strconv.FormatUint(uint64(a.lockTime), 10))

	case KindHashT, KindHashV, KindHashW:
		b.WriteString(hex.EncodeToString(a.hash[:]))

	default:
		if a.kind == KindThresh || a.kind == KindThreshV {
			b.WriteString(strconv.Itoa(a.k))
			b.WriteByte(',')
		}
		for i, sub := range a.subs {
			if i > 0 {
				b.WriteByte(',')
			}
			sub.writeString(b)
		}
	}
	b.WriteByte(')')
}
