// This file is part of the GOfax.IP project - https://github.com/gonicus/gofaxip
// Copyright (C) 2014 GONICUS GmbH, Germany - http://www.gonicus.de
//
// This program is free software; you can redistribute it and/or
// modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2
// of the License.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program; if not, write to the Free Software
// Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package machinfo

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

// Store caches records of recently called destinations. Records are
// written back when they expire from the cache, when released and when
// the store is closed.
type Store struct {
	dir   string
	cache *ttlcache.Cache[string, *Info]
}

// NewStore returns a store for the records in dir
func NewStore(dir string, ttl time.Duration) *Store {
	s := &Store{
		dir:   dir,
		cache: ttlcache.New(ttlcache.WithTTL[string, *Info](ttl)),
	}
	// Runs in its own goroutine
	s.cache.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *Info]) {
		s.save(item.Value())
	})
	go s.cache.Start()
	return s
}

// Dir returns the info directory
func (s *Store) Dir() string {
	return s.dir
}

// Get returns the record for number, loading it on first use
func (s *Store) Get(number string) *Info {
	key := gofaxlib.Canonicalize(number)
	if key == "" {
		return New(number)
	}
	if item := s.cache.Get(key); item != nil {
		return item.Value()
	}
	info := Load(s.dir, key)
	s.cache.Set(key, info, ttlcache.DefaultTTL)
	return info
}

// Release writes a record back after a call. It stays cached.
func (s *Store) Release(info *Info) {
	s.save(info)
}

// Close writes back all changed records and stops expiry
func (s *Store) Close() {
	s.cache.Stop()
	for _, item := range s.cache.Items() {
		s.save(item.Value())
	}
	s.cache.DeleteAll()
}

func (s *Store) save(info *Info) {
	if info == nil {
		return
	}
	if err := info.Save(); err != nil {
		logger.Logger.Warnf("Cannot save machine info: %v", err)
	}
}
