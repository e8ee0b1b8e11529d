// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miniscript

import (
	"errors"

	"github.com/btcsuite/btcpolicy/policy"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
)

// DefaultCompileCacheSize is the default number of compiled programs kept by
// a CompileCache.
const DefaultCompileCacheSize = 1000

// cachedMiniscript wraps a compiled program so it can be stored in the LRU
// cache.
type cachedMiniscript struct {
	ms *Miniscript
}

// Size returns the "size" of an entry. We return 1 as we just want to limit
// the total number of entries rather than do accurate size accounting.
func (c *cachedMiniscript) Size() (uint64, error) {
	return 1, nil
}

// CompileCache keeps the most recently compiled programs keyed by the text of
// their policy. It is safe for concurrent use.
type CompileCache struct {
	programs *lru.Cache[string, *cachedMiniscript]
}

// NewCompileCache returns a cache holding up to capacity programs.
func NewCompileCache(capacity uint64) *CompileCache {
	return &CompileCache{
		programs: lru.NewCache[string, *cachedMiniscript](capacity),
	}
}

// Compile returns the compiled program for p, reusing an earlier compilation
// of an equal policy when one is cached.
func (c *CompileCache) Compile(p policy.Policy) (*Miniscript, error) {
	key := p.String()

	cached, err := c.programs.Get(key)
	switch {
	case err == nil:
		log.Tracef("Compile cache hit for %v", key)
		return cached.ms, nil

	case !errors.Is(err, cache.ErrElementNotFound):
		return nil, err
	}

	ms := FromPolicy(p)
	if _, err := ms.Node(); err != nil {
		return nil, err
	}

	// Caching is best effort, a failed insert only means the next lookup
	// compiles again.
	if _, err := c.programs.Put(key, &cachedMiniscript{ms: ms}); err != nil {
		log.Debugf("Unable to cache program for %v: %v", key, err)
	}
	return ms, nil
}

// Len returns the number of cached programs.
func (c *CompileCache) Len() int {
	return c.programs.Len()
}
