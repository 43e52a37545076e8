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

// Package destctl implements per-destination scheduling policy read
// from a destination controls file:
//
//	# regex              tag value ...
//	^49421               MaxConcurrentJobs 2  TimeOfDay "Wk0800-1800"
//	^1900                RejectNotice "Premium numbers are not allowed"
//	^44.*                MaxDials: 4
//	                     Class1ECMSupport no
//
// Records are matched against canonical numbers in file order, the
// first match wins.
package destctl

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"

	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

// Defaults are the server-wide settings used where a record has no
// override.
type Defaults struct {
	MaxConcurrentJobs int
	MaxSendPages      int
	MaxDials          int
	MaxTries          int
}

// Info is one destination record
type Info struct {
	pattern  *regexp.Regexp
	defaults *Defaults

	maxConcurrentJobs *int
	maxSendPages      *int
	maxDials          *int
	maxTries          *int
	rejectNotice      string
	tod               *TimeOfDay
	args              []Arg
}

// Arg is a tag the policy does not interpret itself. It is passed on
// as a configuration override.
type Arg struct {
	Tag   string
	Value string
}

// Pattern returns the source of the record's pattern, empty for the
// default record
func (i *Info) Pattern() string {
	if i.pattern == nil {
		return ""
	}
	return i.pattern.String()
}

func orDefault(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func (i *Info) MaxConcurrentJobs() int {
	return orDefault(i.maxConcurrentJobs, i.defaults.MaxConcurrentJobs)
}

func (i *Info) MaxSendPages() int {
	return orDefault(i.maxSendPages, i.defaults.MaxSendPages)
}

func (i *Info) MaxDials() int {
	return orDefault(i.maxDials, i.defaults.MaxDials)
}

func (i *Info) MaxTries() int {
	return orDefault(i.maxTries, i.defaults.MaxTries)
}

// RejectNotice is non-empty if jobs to the destination must be rejected
func (i *Info) RejectNotice() string {
	return i.rejectNotice
}

// TimeOfDay returns the sending window, AnyTime if none is set
func (i *Info) TimeOfDay() *TimeOfDay {
	if i.tod == nil {
		return AnyTime
	}
	return i.tod
}

// Args returns the uninterpreted tags in file order
func (i *Info) Args() []Arg {
	return i.args
}

// DestControl holds the parsed controls file
type DestControl struct {
	mu       sync.Mutex
	filename string
	mtime    time.Time
	defaults Defaults
	def      *Info
	records  []*Info
}

// New returns the controls for filename. The file is read lazily and
// again whenever its modification time advances.
func New(filename string, defaults Defaults) *DestControl {
	dc := &DestControl{
		filename: filename,
		defaults: defaults,
	}
	dc.def = &Info{defaults: &dc.defaults}
	return dc
}

// Default returns the record used for unmatched numbers
func (dc *DestControl) Default() *Info {
	return dc.def
}

// Lookup returns the first record whose pattern matches the canonical
// number, or the default record.
func (dc *DestControl) Lookup(canon string) *Info {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.refresh()
	for _, r := range dc.records {
		if r.pattern.MatchString(canon) {
			logger.Trace(logger.TraceDestControl).Debugf("DestControl: %s matches %q", canon, r.pattern)
			return r
		}
	}
	return dc.def
}

func (dc *DestControl) refresh() {
	if dc.filename == "" {
		return
	}
	fi, err := os.Stat(dc.filename)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Logger.Warnf("DestControl: %v", err)
		}
		dc.records = nil
		dc.mtime = time.Time{}
		return
	}
	if !fi.ModTime().After(dc.mtime) {
		return
	}
	f, err := os.Open(dc.filename)
	if err != nil {
		logger.Logger.Warnf("DestControl: %v", err)
		return
	}
	defer f.Close()
	dc.records = dc.parse(f)
	dc.mtime = fi.ModTime()
	logger.Trace(logger.TraceDestControl).Infof("DestControl: read %d records from %s", len(dc.records), dc.filename)
}

// Parse reads records from r, replacing those held
func (dc *DestControl) Parse(r io.Reader) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.records = dc.parse(r)
	dc.filename = ""
}

type recordText struct {
	lineno int
	tokens []string
}

// parse splits r into records. A line continues the record before it
// when it starts with whitespace or when the previous line ended in
// whitespace or a comment. Blank and comment-only lines end a record.
func (dc *DestControl) parse(r io.Reader) []*Info {
	var texts []*recordText
	var cur *recordText
	open := false

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		raw := strings.TrimSuffix(scanner.Text(), "\r")
		tokens, trailing, err := tokenize(raw)
		if err != nil {
			logger.Logger.Warnf("DestControl: %s line %d: %v", dc.filename, lineno, err)
			open = false
			continue
		}
		if len(tokens) == 0 {
			open = false
			continue
		}
		indented := raw[0] == ' ' || raw[0] == '\t'
		if cur != nil && (indented || open) {
			cur.tokens = append(cur.tokens, tokens...)
		} else {
			cur = &recordText{lineno: lineno, tokens: tokens}
			texts = append(texts, cur)
		}
		open = trailing
	}
	if err := scanner.Err(); err != nil {
		logger.Logger.Warnf("DestControl: %s: %v", dc.filename, err)
	}

	var records []*Info
	for _, t := range texts {
		info, err := dc.compile(t.tokens)
		if err != nil {
			logger.Logger.Warnf("DestControl: %s line %d: %v", dc.filename, t.lineno, err)
			continue
		}
		records = append(records, info)
	}
	return records
}

func (dc *DestControl) compile(tokens []string) (*Info, error) {
	re, err := regexp.CompilePOSIX(tokens[0])
	if err != nil {
		return nil, errors.Wrapf(err, "bad pattern %q", tokens[0])
	}
	info := &Info{pattern: re, defaults: &dc.defaults}

	rest := tokens[1:]
	for len(rest) > 0 {
		tag, value := rest[0], ""
		if t, v, ok := strings.Cut(tag, ":"); ok && v != "" {
			tag, value = t, v
			rest = rest[1:]
		} else {
			tag = strings.TrimSuffix(tag, ":")
			if len(rest) < 2 {
				return nil, errors.Errorf("missing value for %q", tag)
			}
			value = rest[1]
			rest = rest[2:]
		}
		if err := info.set(tag, value); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func (i *Info) set(tag string, value string) error {
	atoi := func(p **int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Errorf("bad %s value %q", tag, value)
		}
		*p = &n
		return nil
	}
	switch strings.ToLower(tag) {
	case "maxconcurrentjobs", "maxconcurrentcalls":
		return atoi(&i.maxConcurrentJobs)
	case "maxsendpages":
		return atoi(&i.maxSendPages)
	case "maxdials":
		return atoi(&i.maxDials)
	case "maxtries":
		return atoi(&i.maxTries)
	case "rejectnotice":
		i.rejectNotice = value
	case "timeofday":
		tod, err := ParseTimeOfDay(value)
		if err != nil {
			return err
		}
		i.tod = tod
	default:
		i.args = append(i.args, Arg{Tag: tag, Value: value})
	}
	return nil
}

// tokenize splits a line into whitespace separated words. Double quotes
// group words, # outside quotes starts a comment. trailing is set when
// the line ends in whitespace or a comment.
func tokenize(line string) (tokens []string, trailing bool, err error) {
	var sb strings.Builder
	inWord, inQuote := false, false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuote:
			switch c {
			case '"':
				inQuote = false
			case '\\':
				if i+1 < len(line) {
					i++
					sb.WriteByte(line[i])
				}
			default:
				sb.WriteByte(c)
			}
		case c == '"':
			inQuote, inWord = true, true
		case c == '#':
			trailing = true
			i = len(line)
		case c == ' ' || c == '\t':
			if inWord {
				tokens = append(tokens, sb.String())
				sb.Reset()
				inWord = false
			}
		default:
			sb.WriteByte(c)
			inWord = true
		}
	}
	if inQuote {
		return nil, false, errors.New("unterminated quoted string")
	}
	if inWord {
		tokens = append(tokens, sb.String())
	}
	if n := len(line); n > 0 && (line[n-1] == ' ' || line[n-1] == '\t') {
		trailing = true
	}
	return tokens, trailing, nil
}
