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

package main

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

const reloadDelay = 500 * time.Millisecond

// ConfigWatcher reloads the configuration file when it changes
type ConfigWatcher struct {
	filename string
	watcher  *fsnotify.Watcher
	reload   func(cfg *gofaxlib.Config)
	delay    time.Duration

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// NewConfigWatcher watches filename and passes every successfully
// loaded new version to reload. The directory is watched so files
// replaced by editors are noticed too.
func NewConfigWatcher(filename string, reload func(cfg *gofaxlib.Config)) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create file watcher")
	}
	filename = filepath.Clean(filename)
	if err = w.Add(filepath.Dir(filename)); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "cannot watch %s", filename)
	}
	cw := &ConfigWatcher{
		filename: filename,
		watcher:  w,
		reload:   reload,
		delay:    reloadDelay,
		done:     make(chan struct{}),
	}
	return cw, nil
}

// Run handles file events until Close is called
func (cw *ConfigWatcher) Run() error {
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != cw.filename {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				cw.schedule()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Logger.Warnf("Config file watcher: %v", err)
		case <-cw.done:
			return nil
		}
	}
}

// schedule debounces bursts of writes into one reload
func (cw *ConfigWatcher) schedule() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.delay, cw.load)
}

func (cw *ConfigWatcher) load() {
	cfg, err := gofaxlib.LoadConfig(cw.filename)
	if err != nil {
		logger.Logger.Warnf("Not reloading configuration: %v", err)
		return
	}
	cw.reload(cfg)
}

// Close stops watching
func (cw *ConfigWatcher) Close() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	select {
	case <-cw.done:
		return
	default:
		close(cw.done)
	}
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.watcher.Close()
}
