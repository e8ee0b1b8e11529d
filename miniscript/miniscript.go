// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcpolicy/policy"
)

// Miniscript is a spending program known by its policy, its fragment tree or
// both. Whichever form it was not built from is derived on first use and
// cached. A Miniscript is safe for concurrent use.
type Miniscript struct {
	policyOnce sync.Once
	policy     policy.Policy
	policyErr  error

	nodeOnce sync.Once
	node     *AstElem
	nodeErr  error

	scriptOnce sync.Once
	script     []byte
	scriptErr  error
}

// FromPolicy returns the program for p. Compilation happens on the first call
// that needs the fragment tree.
func FromPolicy(p policy.Policy) *Miniscript {
	ms := &Miniscript{policy: p}
	ms.policyOnce.Do(func() {})
	return ms
}

// FromNode returns the program for a fragment tree, which must be of type T.
func FromNode(node *AstElem) (*Miniscript, error) {
	if node == nil {
		return nil, scriptError(ErrNotTopLevel, "program has no "+
			"fragment")
	}
	if !node.IsT() {
		return nil, scriptError(ErrNotTopLevel, fmt.Sprintf("program "+
			"%v has type %s, need T", node, node.types))
	}
	ms := &Miniscript{node: node}
	ms.nodeOnce.Do(func() {})
	return ms, nil
}

// FromScript parses a serialized program, which must be of type T.
func FromScript(script []byte) (*Miniscript, error) {
	node, err := ParseScript(script)
	if err != nil {
		return nil, err
	}
	ms, err := FromNode(node)
	if err != nil {
		return nil, err
	}
	ms.script = append([]byte(nil), script...)
	ms.scriptOnce.Do(func() {})
	return ms, nil
}

// Policy returns the policy the program enforces.
func (m *Miniscript) Policy() (policy.Policy, error) {
	m.policyOnce.Do(func() {
		m.policy, m.policyErr = m.node.ToPolicy()
	})
	return m.policy, m.policyErr
}

// Node returns the fragment tree, compiling the policy if needed.
func (m *Miniscript) Node() (*AstElem, error) {
	m.nodeOnce.Do(func() {
		m.node, m.nodeErr = Compile(m.policy)
	})
	return m.node, m.nodeErr
}

// Script returns the serialized program.
func (m *Miniscript) Script() ([]byte, error) {
	m.scriptOnce.Do(func() {
		node, err := m.Node()
		if err != nil {
			m.scriptErr = err
			return
		}
		m.script, m.scriptErr = node.Script()
	})
	return m.script, m.scriptErr
}

// WitnessScriptHash returns the SHA256 of the script, the commitment of a
// P2WSH output.
func (m *Miniscript) WitnessScriptHash() ([]byte, error) {
	script, err := m.Script()
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(script)
	return h[:], nil
}

// Address returns the P2WSH address paying to the program.
func (m *Miniscript) Address(params *chaincfg.Params) (
	*btcutil.AddressWitnessScriptHash, error) {

	h, err := m.WitnessScriptHash()
	if err != nil {
		return nil, err
	}
	return btcutil.NewAddressWitnessScriptHash(h, params)
}

// CheckStandard checks that the script does not exceed the maximum size of a
// standard P2WSH witness script.
func (m *Miniscript) CheckStandard() error {
	script, err := m.Script()
	if err != nil {
		return err
	}
	if len(script) > maxStandardP2WSHScriptSize {
		return scriptError(ErrScriptTooLarge, fmt.Sprintf("script size "+
			"%d exceeds %d", len(script),
			maxStandardP2WSHScriptSize))
	}
	return nil
}

// MaxSatisfactionSize returns an upper bound of the witness size of a
// satisfaction, excluding the witness script.
func (m *Miniscript) MaxSatisfactionSize() (int, error) {
	node, err := m.Node()
	if err != nil {
		return 0, err
	}
	return node.MaxSatisfactionSize(), nil
}

// Satisfy returns the witness stack, without the trailing witness script,
// spending the program.
func (m *Miniscript) Satisfy(s *Satisfier) (wire.TxWitness, error) {
	node, err := m.Node()
	if err != nil {
		return nil, err
	}
	return node.Satisfy(s)
}

// Equal reports whether both programs enforce the same policy.
func (m *Miniscript) Equal(other *Miniscript) bool {
	if m == nil || other == nil {
		return m == other
	}
	p, err := m.Policy()
	if err != nil {
		return false
	}
	q, err := other.Policy()
	if err != nil {
		return false
	}
	return policy.Equal(p, q)
}

// String returns the fragment tree in functional notation.
func (m *Miniscript) String() string {
	node, err := m.Node()
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}
	return node.String()
}

// ScriptString returns the opcode listing of the program.
func (m *Miniscript) ScriptString() string {
	node, err := m.Node()
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}
	return node.ScriptString()
}
