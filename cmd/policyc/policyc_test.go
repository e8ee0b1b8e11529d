// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcpolicy/miniscript"
	"github.com/btcsuite/btcpolicy/policy"
	"github.com/stretchr/testify/require"
)

// keyHex returns the hex encoded public key derived from seed.
func keyHex(seed string) string {
	_, pub := btcec.PrivKeyFromBytes(chainhash.HashB([]byte(seed)))
	return hex.EncodeToString(pub.SerializeCompressed())
}

// testDefinitions returns definitions for the keys A, B and C.
func testDefinitions(t *testing.T) *config {
	t.Helper()

	definitions, err := parseDefines([]string{
		"A=" + keyHex("A"), "B=" + keyHex("B"), "C=" + keyHex("C"),
	})
	require.NoError(t, err)
	return &config{definitions: definitions}
}

func TestParseDefines(t *testing.T) {
	t.Parallel()

	definitions, err := parseDefines([]string{"A=00ff", "B="})
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0xff}, definitions["A"])
	require.Empty(t, definitions["B"])

	invalid := [][]string{
		{"A"},
		{"=00"},
		{"A=zz"},
		{"A=00", "A=01"},
	}
	for _, defines := range invalid {
		_, err := parseDefines(defines)
		require.Error(t, err, defines)
	}

	// Unknown identifiers fall back to hex.
	cfg := &config{definitions: definitions}
	value, err := cfg.lookup("C")
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestWriteProgram(t *testing.T) {
	t.Parallel()

	cfg := testDefinitions(t)
	p, err := policy.Parse("or(pk(A),and(pk(B),time(144)))", cfg.lookup)
	require.NoError(t, err)

	var out bytes.Buffer
	opts := &outputOptions{params: &chaincfg.TestNet3Params, tree: true,
		dot: true}
	require.NoError(t, writeProgram(&out, miniscript.FromPolicy(p), opts))

	output := out.String()
	require.Contains(t, output, "Policy:                "+p.String())
	require.Contains(t, output, "Miniscript:            or_casc(")
	require.Contains(t, output, "Address:               tb1q")
	require.Contains(t, output, "Max satisfaction size: ")
	require.Contains(t, output, "or_casc [T]\n")
	require.Contains(t, output, "digraph miniscript")

	// The same program decompiled from its script.
	ms := miniscript.FromPolicy(p)
	script, err := ms.Script()
	require.NoError(t, err)
	decompiled, err := miniscript.FromScript(script)
	require.NoError(t, err)

	var scriptOut bytes.Buffer
	opts = &outputOptions{params: &chaincfg.MainNetParams, dump: true}
	require.NoError(t, writeProgram(&scriptOut, decompiled, opts))
	require.Contains(t, scriptOut.String(), "Address:               bc1q")
	require.Contains(t, scriptOut.String(),
		"Script:                "+hex.EncodeToString(script))
}

func TestProcessPolicies(t *testing.T) {
	t.Parallel()

	cfg := testDefinitions(t)
	input := strings.Join([]string{
		"# policies",
		"pk(A)",
		"",
		"thresh(2,pk(A),pk(B),pk(C))",
		"pk(A)",
	}, "\n")

	var out bytes.Buffer
	opts := &outputOptions{params: &chaincfg.MainNetParams}
	err := processPolicies(strings.NewReader(input), &out, cfg.lookup, 10,
		opts)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(out.String(), "Policy:"))

	// Errors carry the line they were found on.
	out.Reset()
	err = processPolicies(strings.NewReader("pk(A)\npk(D)\n"), &out,
		cfg.lookup, 10, opts)
	require.ErrorContains(t, err, "line 2:")
	require.Equal(t, 1, strings.Count(out.String(), "Policy:"))
}
