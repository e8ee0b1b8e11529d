// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcpolicy/internal/log"
	"github.com/btcsuite/btcpolicy/miniscript"
	"github.com/btcsuite/btcpolicy/policy"
	"github.com/davecgh/go-spew/spew"
)

var cfg *config

// outputOptions selects the optional renderings of a program.
type outputOptions struct {
	params *chaincfg.Params
	tree   bool
	dot    bool
	dump   bool
}

// writeProgram writes the description of a program to w.
func writeProgram(w io.Writer, ms *miniscript.Miniscript,
	opts *outputOptions) error {

	node, err := ms.Node()
	if err != nil {
		return err
	}
	p, err := ms.Policy()
	if err != nil {
		return err
	}
	script, err := ms.Script()
	if err != nil {
		return err
	}
	addr, err := ms.Address(opts.params)
	if err != nil {
		return err
	}
	satSize, err := ms.MaxSatisfactionSize()
	if err != nil {
		return err
	}

	if err := ms.CheckStandard(); err != nil {
		log.PolicyLog.Warnf("Program is not standard: %v", err)
	}

	fmt.Fprintf(w, "Policy:                %v\n", p)
	fmt.Fprintf(w, "Miniscript:            %v\n", node)
	fmt.Fprintf(w, "Script:                %x\n", script)
	fmt.Fprintf(w, "Asm:                   %s\n", node.ScriptString())
	fmt.Fprintf(w, "Script size:           %d\n", len(script))
	fmt.Fprintf(w, "Max satisfaction size: %d\n", satSize)
	fmt.Fprintf(w, "Address:               %s\n", addr.EncodeAddress())

	if opts.tree {
		fmt.Fprintf(w, "\n%s", node.DrawTree())
	}
	if opts.dot {
		dot, err := node.Graphviz()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%s", dot)
	}
	if opts.dump {
		fmt.Fprintln(w)
		spew.Fdump(w, node)
	}
	return nil
}

// processPolicies compiles every policy read from r, one per line, and writes
// each program to w.  Blank lines and lines starting with # are skipped.
// Repeated policies are served from the cache.
func processPolicies(r io.Reader, w io.Writer, lookup policy.LookupFunc,
	cacheSize uint64, opts *outputOptions) error {

	compileCache := miniscript.NewCompileCache(cacheSize)

	scanner := bufio.NewScanner(r)
	lineNum, numPolicies := 0, 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p, err := policy.Parse(line, lookup)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
		ms, err := compileCache.Compile(p)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}

		if numPolicies > 0 {
			fmt.Fprintln(w)
		}
		if err := writeProgram(w, ms, opts); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
		numPolicies++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	log.PolicyLog.Infof("Compiled %d policies (%d distinct)", numPolicies,
		compileCache.Len())
	return nil
}

// realMain is the real main function for the utility.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is called.
func realMain() error {
	// Load configuration and parse command line.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if log.LogRotator != nil {
			log.LogRotator.Close()
		}
	}()

	opts := &outputOptions{
		params: activeNetParams,
		tree:   cfg.Tree,
		dot:    cfg.Dot,
		dump:   cfg.Dump,
	}

	switch {
	case cfg.Policy != "":
		p, err := policy.Parse(cfg.Policy, cfg.lookup)
		if err != nil {
			log.PolicyLog.Errorf("Unable to parse policy: %v", err)
			return err
		}
		log.PolicyLog.Debugf("Compiling %v", p)
		err = writeProgram(os.Stdout, miniscript.FromPolicy(p), opts)
		if err != nil {
			log.PolicyLog.Errorf("Unable to compile policy: %v", err)
		}
		return err

	case cfg.Script != "":
		script, err := hex.DecodeString(cfg.Script)
		if err != nil {
			log.PolicyLog.Errorf("Unable to decode script: %v", err)
			return err
		}
		ms, err := miniscript.FromScript(script)
		if err != nil {
			log.PolicyLog.Errorf("Unable to parse script: %v", err)
			return err
		}
		err = writeProgram(os.Stdout, ms, opts)
		if err != nil {
			log.PolicyLog.Errorf("Unable to describe script: %v", err)
		}
		return err

	default:
		f, err := os.Open(cfg.InFile)
		if err != nil {
			log.PolicyLog.Errorf("Unable to open policy file: %v", err)
			return err
		}
		defer f.Close()

		log.PolicyLog.Infof("Processing policies from %s", cfg.InFile)
		err = processPolicies(f, os.Stdout, cfg.lookup, cfg.CacheSize,
			opts)
		if err != nil {
			log.PolicyLog.Errorf("Unable to process policies: %v", err)
		}
		return err
	}
}

func main() {
	if err := realMain(); err != nil {
		os.Exit(1)
	}
}
