// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// PubKeyLen is the length of a compressed public key.
	PubKeyLen = 33

	// MaxMultiKeys is the maximum number of keys OP_CHECKMULTISIG accepts.
	MaxMultiKeys = 20

	// MaxLockTime is the exclusive upper bound of a relative lock time.
	// Values at or above it would be interpreted as a negative script
	// number by OP_CHECKSEQUENCEVERIFY.
	MaxLockTime = 1 << 31
)

var (
	// ErrNilPolicy is returned when a combinator receives a nil
	// sub-policy.
	ErrNilPolicy = errors.New("nil sub-policy")
)

// PubKey is a 33 byte compressed secp256k1 public key.
type PubKey [PubKeyLen]byte

// NewPubKey validates that b is a compressed public key on the curve and
// returns it as a PubKey.
func NewPubKey(b []byte) (PubKey, error) {
	var pk PubKey
	if len(b) != PubKeyLen {
		return pk, fmt.Errorf("public key must be %d bytes, got %d",
			PubKeyLen, len(b))
	}
	if _, err := btcec.ParsePubKey(b); err != nil {
		return pk, fmt.Errorf("invalid public key %x: %w", b, err)
	}
	copy(pk[:], b)
	return pk, nil
}

// PubKeyFromBtcec returns the compressed serialization of key.
func PubKeyFromBtcec(key *btcec.PublicKey) PubKey {
	var pk PubKey
	copy(pk[:], key.SerializeCompressed())
	return pk
}

// String returns the hex encoding of the key.
func (p PubKey) String() string {
	return hex.EncodeToString(p[:])
}

// Policy is a spending condition tree. The concrete types are CheckSig,
// Multi, Hash, Time, Threshold, Or, And and AsymmetricOr.
type Policy interface {
	// String returns the policy in its textual form, which Parse accepts.
	String() string

	isPolicy()
}

// CheckSig requires a signature for a single key.
type CheckSig struct {
	key PubKey
}

// NewCheckSig returns a policy requiring a signature from key.
func NewCheckSig(key PubKey) *CheckSig {
	return &CheckSig{key: key}
}

// Key returns the public key that must sign.
func (c *CheckSig) Key() PubKey { return c.key }

func (c *CheckSig) String() string {
	return "pk(" + c.key.String() + ")"
}

func (*CheckSig) isPolicy() {}

// Multi requires k signatures out of a list of keys.
type Multi struct {
	k    int
	keys []PubKey
}

// NewMulti returns a k-of-n multisignature policy.
func NewMulti(k int, keys []PubKey) (*Multi, error) {
	if len(keys) == 0 || len(keys) > MaxMultiKeys {
		return nil, fmt.Errorf("multi requires between 1 and %d "+
			"keys, got %d", MaxMultiKeys, len(keys))
	}
	if k < 1 || k > len(keys) {
		return nil, fmt.Errorf("multi threshold %d out of range "+
			"[1, %d]", k, len(keys))
	}
	return &Multi{k: k, keys: append([]PubKey(nil), keys...)}, nil
}

// K returns the number of required signatures.
func (m *Multi) K() int { return m.k }

// Keys returns a copy of the key list.
func (m *Multi) Keys() []PubKey {
	return append([]PubKey(nil), m.keys...)
}

func (m *Multi) String() string {
	var b strings.Builder
	b.WriteString("multi(")
	b.WriteString(strconv.Itoa(m.k))
	for _, key := range m.keys {
		b.WriteByte(',')
		b.WriteString(key.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (*Multi) isPolicy() {}

// Hash requires the SHA256 preimage of a 32 byte commitment.
type Hash struct {
	digest chainhash.Hash
}

// NewHash returns a policy requiring the preimage of digest.
func NewHash(digest chainhash.Hash) *Hash {
	return &Hash{digest: digest}
}

// Digest returns the hash commitment.
func (h *Hash) Digest() chainhash.Hash { return h.digest }

// String prints the digest in byte order, not the reversed order
// chainhash.Hash uses for block and transaction ids.
func (h *Hash) String() string {
	return "hash(" + hex.EncodeToString(h.digest[:]) + ")"
}

func (*Hash) isPolicy() {}

// Time requires a relative lock time of at least the given BIP68 value.
type Time struct {
	lockTime uint32
}

// NewTime returns a relative time lock policy.
func NewTime(lockTime uint32) (*Time, error) {
	if lockTime < 1 || lockTime >= MaxLockTime {
		return nil, fmt.Errorf("lock time %d out of range [1, %d)",
			lockTime, uint32(MaxLockTime))
	}
	return &Time{lockTime: lockTime}, nil
}

// LockTime returns the relative lock time.
func (t *Time) LockTime() uint32 { return t.lockTime }

func (t *Time) String() string {
	return "time(" + strconv.FormatUint(uint64(t.lockTime), 10) + ")"
}

func (*Time) isPolicy() {}

// Threshold requires k of its sub-policies.
type Threshold struct {
	k    int
	subs []Policy
}

// NewThreshold returns a k-of-n threshold over subs.
func NewThreshold(k int, subs []Policy) (*Threshold, error) {
	if len(subs) == 0 {
		return nil, errors.New("threshold requires at least one " +
			"sub-policy")
	}
	if k < 1 || k > len(subs) {
		return nil, fmt.Errorf("threshold %d out of range [1, %d]", k,
			len(subs))
	}
	for _, sub := range subs {
		if sub == nil {
			return nil, ErrNilPolicy
		}
	}
	return &Threshold{k: k, subs: append([]Policy(nil), subs...)}, nil
}

// K returns the number of sub-policies that must be met.
func (t *Threshold) K() int { return t.k }

// Subs returns a copy of the sub-policies.
func (t *Threshold) Subs() []Policy {
	return append([]Policy(nil), t.subs...)
}

func (t *Threshold) String() string {
	var b strings.Builder
	b.WriteString("thresh(")
	b.WriteString(strconv.Itoa(t.k))
	for _, sub := range t.subs {
		b.WriteByte(',')
		b.WriteString(sub.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (*Threshold) isPolicy() {}

// binary holds the two operands shared by And, Or and AsymmetricOr.
type binary struct {
	left, right Policy
}

func newBinary(left, right Policy) (binary, error) {
	if left == nil || right == nil {
		return binary{}, ErrNilPolicy
	}
	return binary{left: left, right: right}, nil
}

// Left returns the first operand.
func (b *binary) Left() Policy { return b.left }

// Right returns the second operand.
func (b *binary) Right() Policy { return b.right }

func (b *binary) format(name string) string {
	return name + "(" + b.left.String() + "," + b.right.String() + ")"
}

// And requires both operands.
type And struct {
	binary
}

// NewAnd returns a policy requiring both left and right.
func NewAnd(left, right Policy) (*And, error) {
	b, err := newBinary(left, right)
	if err != nil {
		return nil, err
	}
	return &And{b}, nil
}

func (a *And) String() string { return a.format("and") }

func (*And) isPolicy() {}

// Or requires either operand, both being equally likely.
type Or struct {
	binary
}

// NewOr returns a policy requiring left or right.
func NewOr(left, right Policy) (*Or, error) {
	b, err := newBinary(left, right)
	if err != nil {
		return nil, err
	}
	return &Or{b}, nil
}

func (o *Or) String() string { return o.format("or") }

func (*Or) isPolicy() {}

// AsymmetricOr requires either operand, the left one being 127 times as
// likely to be used.
type AsymmetricOr struct {
	binary
}

// NewAsymmetricOr returns a policy requiring left or right, weighted towards
// left.
func NewAsymmetricOr(left, right Policy) (*AsymmetricOr, error) {
	b, err := newBinary(left, right)
	if err != nil {
		return nil, err
	}
	return &AsymmetricOr{b}, nil
}

func (o *AsymmetricOr) String() string { return o.format("aor") }

func (*AsymmetricOr) isPolicy() {}

// Equal reports whether a and b are structurally identical.
func Equal(a, b Policy) bool {
	switch a := a.(type) {
	case *CheckSig:
		b, ok := b.(*CheckSig)
		return ok && a.key == b.key

	case *Multi:
		b, ok := b.(*Multi)
		if !ok || a.k != b.k || len(a.keys) != len(b.keys) {
			return false
		}
		for i := range a.keys {
			if a.keys[i] != b.keys[i] {
				return false
			}
		}
		return true

	case *Hash:
		b, ok := b.(*Hash)
		return ok && a.digest == b.digest

	case *Time:
		b, ok := b.(*Time)
		return ok && a.lockTime == b.lockTime

	case *Threshold:
		b, ok := b.(*Threshold)
		if !ok || a.k != b.k || len(a.subs) != len(b.subs) {
			return false
		}
		for i := range a.subs {
			if !Equal(a.subs[i], b.subs[i]) {
				return false
			}
		}
		return true

	case *And:
		b, ok := b.(*And)
		return ok && equalBinary(&a.binary, &b.binary)

	case *Or:
		b, ok := b.(*Or)
		return ok && equalBinary(&a.binary, &b.binary)

	case *AsymmetricOr:
		b, ok := b.(*AsymmetricOr)
		return ok && equalBinary(&a.binary, &b.binary)

	default:
		return false
	}
}

func equalBinary(a, b *binary) bool {
	return Equal(a.left, b.left) && Equal(a.right, b.right)
}
