// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcpolicy/internal/log"
	"github.com/btcsuite/btcpolicy/internal/version"
	"github.com/btcsuite/btcpolicy/miniscript"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultLogFilename = "policyc.log"
	defaultLogLevel    = "info"
)

var (
	policycHomeDir  = btcutil.AppDataDir("policyc", false)
	defaultLogDir   = filepath.Join(policycHomeDir, "logs")
	activeNetParams = &chaincfg.MainNetParams
)

// config defines the configuration options for policyc.
//
// See loadConfig for details on the configuration load process.
type config struct {
	Policy         string   `short:"p" long:"policy" description:"Policy to compile"`
	Script         string   `short:"s" long:"script" description:"Hex encoded witness script to decompile"`
	InFile         string   `short:"i" long:"infile" description:"File holding one policy per line to compile"`
	Defines        []string `short:"d" long:"define" description:"Define an identifier usable in place of a key or hash as NAME=HEX -- may be repeated"`
	Tree           bool     `short:"t" long:"tree" description:"Draw the fragment tree"`
	Dot            bool     `long:"dot" description:"Output the fragment tree as a Graphviz graph"`
	Dump           bool     `long:"dump" description:"Dump the internal structure of the fragment tree"`
	CacheSize      uint64   `long:"cachesize" description:"Number of compiled policies kept while processing a file"`
	LogDir         string   `long:"logdir" description:"Directory to log output"`
	NoFileLogging  bool     `long:"nofilelogging" description:"Disable file logging"`
	DebugLevel     string   `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	RegressionTest bool     `long:"regtest" description:"Show addresses for the regression test network"`
	SimNet         bool     `long:"simnet" description:"Show addresses for the simulation test network"`
	TestNet3       bool     `long:"testnet" description:"Show addresses for the test network"`
	ShowVersion    bool     `short:"V" long:"version" description:"Display version information and exit"`

	definitions map[string][]byte
}

// lookup resolves identifiers defined on the command line.  Unknown
// identifiers resolve to nil so they are decoded as hex.
func (c *config) lookup(identifier string) ([]byte, error) {
	return c.definitions[identifier], nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// parseDefines parses NAME=HEX definitions into a map of identifiers.
func parseDefines(defines []string) (map[string][]byte, error) {
	definitions := make(map[string][]byte, len(defines))
	for _, define := range defines {
		name, value, ok := strings.Cut(define, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("definition [%v] is not of the "+
				"form NAME=HEX", define)
		}
		if _, exists := definitions[name]; exists {
			return nil, fmt.Errorf("identifier [%v] is defined "+
				"more than once", name)
		}
		data, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("definition of [%v] is not "+
				"hex: %w", name, err)
		}
		definitions[name] = data
	}
	return definitions, nil
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		CacheSize:  miniscript.DefaultCompileCacheSize,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
	}

	// Parse command line options.
	parser := flags.NewParser(&cfg, flags.Default)
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	if cfg.ShowVersion {
		fmt.Printf("%s version %s\n", filepath.Base(os.Args[0]),
			version.String())
		os.Exit(0)
	}

	funcName := "loadConfig"
	usageError := func(err error) (*config, []string, error) {
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	// Count number of network flags passed; assign active network params
	// while we're at it
	if cfg.TestNet3 {
		numNets++
		activeNetParams = &chaincfg.TestNet3Params
	}
	if cfg.RegressionTest {
		numNets++
		activeNetParams = &chaincfg.RegressionNetParams
	}
	if cfg.SimNet {
		numNets++
		activeNetParams = &chaincfg.SimNetParams
	}
	if numNets > 1 {
		str := "%s: The testnet, regtest, and simnet params can't be " +
			"used together -- choose one of the three"
		return usageError(fmt.Errorf(str, funcName))
	}

	// Exactly one input must be given.
	numInputs := 0
	for _, input := range []string{cfg.Policy, cfg.Script, cfg.InFile} {
		if input != "" {
			numInputs++
		}
	}
	if numInputs != 1 {
		str := "%s: Exactly one of --policy, --script, and --infile " +
			"must be specified"
		return usageError(fmt.Errorf(str, funcName))
	}

	// Ensure the specified policy file exists.
	if cfg.InFile != "" && !fileExists(cfg.InFile) {
		str := "%s: The specified policy file [%v] does not exist"
		return usageError(fmt.Errorf(str, funcName, cfg.InFile))
	}

	if cfg.CacheSize == 0 {
		str := "%s: The cache size must be positive"
		return usageError(fmt.Errorf(str, funcName))
	}

	cfg.definitions, err = parseDefines(cfg.Defines)
	if err != nil {
		return usageError(fmt.Errorf("%s: %w", funcName, err))
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	if !cfg.NoFileLogging {
		logFile := filepath.Join(cleanAndExpandPath(cfg.LogDir),
			defaultLogFilename)
		if err := log.InitLogRotator(logFile); err != nil {
			return usageError(fmt.Errorf("%s: %w", funcName, err))
		}
	}

	// Parse, validate, and set debug log level(s).
	if err := log.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return usageError(fmt.Errorf("%s: %w", funcName, err))
	}

	return &cfg, remainingArgs, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(policycHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
