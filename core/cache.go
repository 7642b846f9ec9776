package core

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/combiql/combiql/core/internal/qcode"
)

const defaultCacheSize = 512

// cache memoizes compiled statements keyed by a structural hash of the
// syntax tree.
type cache struct {
	c *lru.TwoQueueCache[uint64, compiled]
}

func newCache(size int) (*cache, error) {
	if size == 0 {
		size = defaultCacheSize
	}
	c, err := lru.New2Q[uint64, compiled](size)
	if err != nil {
		return nil, err
	}
	return &cache{c: c}, nil
}

// key hashes the serialized syntax tree; hashing the dump rather than
// the tree keeps literal payloads (dates, JSON) part of the key.
func (c *cache) key(syn qcode.Syn) (uint64, error) {
	return hashstructure.Hash(qcode.DumpSyn(syn), hashstructure.FormatV2, nil)
}

func (c *cache) get(key uint64) (compiled, bool) {
	return c.c.Get(key)
}

func (c *cache) set(key uint64, st compiled) {
	c.c.Add(key, st)
}
