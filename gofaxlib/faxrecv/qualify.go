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

package faxrecv

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/grafana/regexp"

	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

type qualifyRule struct {
	re   *regexp.Regexp
	deny bool
}

// Qualifier screens remote identities (TSI or caller id) against a list
// of patterns, one per line. A leading ! rejects matching identities.
// The first matching pattern decides, identities matching no pattern are
// rejected.
type Qualifier struct {
	mu       sync.Mutex
	filename string
	mtime    time.Time
	rules    []qualifyRule
}

// NewQualifier returns a qualifier reading filename, which is reread
// when modified.
func NewQualifier(filename string) *Qualifier {
	return &Qualifier{filename: filename}
}

// ParseQualifier returns a qualifier for the patterns read from r
func ParseQualifier(r io.Reader) *Qualifier {
	return &Qualifier{rules: parseRules(r, "")}
}

// Accept reports whether id is acceptable
func (q *Qualifier) Accept(id string) bool {
	if q == nil {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refresh()
	for _, r := range q.rules {
		if r.re.MatchString(id) {
			return !r.deny
		}
	}
	return false
}

func (q *Qualifier) refresh() {
	if q.filename == "" {
		return
	}
	fi, err := os.Stat(q.filename)
	if err != nil {
		logger.Logger.Warnf("%s: %v", q.filename, err)
		q.rules = nil
		q.mtime = time.Time{}
		return
	}
	if !fi.ModTime().After(q.mtime) {
		return
	}
	f, err := os.Open(q.filename)
	if err != nil {
		logger.Logger.Warnf("%s: %v", q.filename, err)
		return
	}
	defer f.Close()
	q.rules = parseRules(f, q.filename)
	q.mtime = fi.ModTime()
}

func parseRules(r io.Reader, filename string) []qualifyRule {
	var rules []qualifyRule
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		deny := false
		if line[0] == '!' {
			deny = true
			line = line[1:]
		}
		re, err := regexp.CompilePOSIX(line)
		if err != nil {
			logger.Logger.Warnf("%s line %d: bad pattern %q: %v", filename, lineno, line, err)
			continue
		}
		rules = append(rules, qualifyRule{re, deny})
	}
	return rules
}
