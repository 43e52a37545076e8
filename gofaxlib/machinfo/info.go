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

// Package machinfo keeps what was learned about remote fax machines and
// pagers between calls. Each destination has a small tag:value file in
// the info directory, named after its canonical number.
package machinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/class2"
	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

// Field identifies a value of the record
type Field int

const (
	SupportsHighRes Field = iota
	SupportsVRes
	Supports2DEncoding
	SupportsMMR
	HasV34Trouble
	HasV17Trouble
	SupportsPostScript
	SupportsBatching
	CalledBefore
	MaxPageWidthInPixels
	MaxPageLengthInMM
	MaxSignallingRate
	MinScanlineTime
	RemoteCSI
	RemoteNSF
	RemoteDIS
	SendFailures
	DialFailures
	LastSendFailure
	LastDialFailure
	PagerMaxMsgLength
	PagerPassword
	PagerTTYParity
	PagingProtocol
	PageSource
	PagerSetupCmds

	numFields
)

// Unlimited page length
const Unlimited = ^uint(0)

// Info is the record of one destination
type Info struct {
	mu      sync.Mutex
	number  string
	file    string
	locked  [numFields]bool
	changed bool

	supportsHighRes    bool
	supportsVRes       uint
	supports2D         bool
	supportsMMR        bool
	hasV34Trouble      bool
	hasV17Trouble      bool
	supportsPostScript bool
	supportsBatching   bool
	calledBefore       bool
	maxPageWidth       uint
	maxPageLength      uint
	maxSignallingRate  uint
	minScanlineTime    uint
	csi                string
	nsf                string
	dis                string
	sendFailures       int
	dialFailures       int
	lastSendFailure    string
	lastDialFailure    string
	pagerMaxMsgLength  int
	pagerPassword      string
	pagerTTYParity     string
	pagingProtocol     string
	pageSource         string
	pagerSetupCmds     string
}

// New returns the default record for a number: a machine supporting only
// what T.30 makes mandatory.
func New(number string) *Info {
	i := &Info{number: gofaxlib.Canonicalize(number)}
	i.reset()
	return i
}

func (i *Info) reset() {
	i.locked = [numFields]bool{}
	i.supportsHighRes = false
	i.supportsVRes = 1 << class2.VR_NORMAL
	i.supports2D = false
	i.supportsMMR = false
	i.hasV34Trouble = false
	i.hasV17Trouble = false
	i.supportsPostScript = false
	i.supportsBatching = true
	i.calledBefore = false
	i.maxPageWidth = 1728
	i.maxPageLength = Unlimited
	i.maxSignallingRate = class2.BR_14400
	i.minScanlineTime = class2.ST_0MS
	i.csi, i.nsf, i.dis = "", "", ""
	i.sendFailures, i.dialFailures = 0, 0
	i.lastSendFailure, i.lastDialFailure = "", ""
	i.pagerMaxMsgLength = 128
	i.pagerPassword = ""
	i.pagerTTYParity = "even"
	i.pagingProtocol = "ixo"
	i.pageSource = ""
	i.pagerSetupCmds = ""
	i.changed = false
}

// Load reads the record for number from dir. A missing or unreadable
// file yields the default record.
func Load(dir string, number string) *Info {
	i := New(number)
	if i.number == "" {
		return i
	}
	i.file = filepath.Join(dir, i.number)
	f, err := os.Open(i.file)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Logger.Warnf("%s: %v", i.file, err)
		}
		return i
	}
	defer f.Close()
	if err = i.Parse(f); err != nil {
		logger.Logger.Warnf("%s: %v", i.file, err)
		i.reset()
	}
	return i
}

// Number returns the canonical number of the destination
func (i *Info) Number() string {
	return i.number
}

// File returns the backing file, empty for records not tied to one
func (i *Info) File() string {
	return i.file
}

// Changed reports whether the record differs from its file
func (i *Info) Changed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.changed
}

// IsLocked reports whether field f is pinned by the operator
func (i *Info) IsLocked(f Field) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.locked[f]
}

// SetLocked pins or releases a field
func (i *Info) SetLocked(f Field, locked bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.locked[f] != locked {
		i.locked[f] = locked
		i.changed = true
	}
}

func get[T any](i *Info, p *T) T {
	i.mu.Lock()
	defer i.mu.Unlock()
	return *p
}

// set updates an unlocked field
func set[T comparable](i *Info, f Field, p *T, v T) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.locked[f] || *p == v {
		return
	}
	*p = v
	i.changed = true
	logger.Trace(logger.TraceMachineInfo).Debugf("%s: %s = %v", i.number, descs[f].tag, v)
}

// update sets a field regardless of its lock, used for the call history
func update[T comparable](i *Info, p *T, v T) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if *p != v {
		*p = v
		i.changed = true
	}
}

// Capabilities learned from the remote's DIS. Each setter leaves a
// locked field untouched.

// SupportsHighRes reports whether the remote accepts fine resolution
func (i *Info) SupportsHighRes() bool { return get(i, &i.supportsHighRes) }
func (i *Info) SetSupportsHighRes(v bool) { set(i, SupportsHighRes, &i.supportsHighRes, v) }

// SupportsVRes returns a bit set of the accepted class2 VR codes
func (i *Info) SupportsVRes() uint { return get(i, &i.supportsVRes) }
func (i *Info) SetSupportsVRes(v uint) { set(i, SupportsVRes, &i.supportsVRes, v) }

// Supports2DEncoding reports whether the remote accepts 2D MR data
func (i *Info) Supports2DEncoding() bool { return get(i, &i.supports2D) }
func (i *Info) SetSupports2DEncoding(v bool) { set(i, Supports2DEncoding, &i.supports2D, v) }

// SupportsMMR reports whether the remote accepts 2D MMR data
func (i *Info) SupportsMMR() bool { return get(i, &i.supportsMMR) }
func (i *Info) SetSupportsMMR(v bool) { set(i, SupportsMMR, &i.supportsMMR, v) }

// HasV34Trouble marks remotes that fail V.34 negotiation
func (i *Info) HasV34Trouble() bool { return get(i, &i.hasV34Trouble) }
func (i *Info) SetHasV34Trouble(v bool) { set(i, HasV34Trouble, &i.hasV34Trouble, v) }

// HasV17Trouble marks remotes that fail at V.17 rates
func (i *Info) HasV17Trouble() bool { return get(i, &i.hasV17Trouble) }
func (i *Info) SetHasV17Trouble(v bool) { set(i, HasV17Trouble, &i.hasV17Trouble, v) }

// SupportsPostScript reports whether the remote takes PostScript transfer
func (i *Info) SupportsPostScript() bool { return get(i, &i.supportsPostScript) }
func (i *Info) SetSupportsPostScript(v bool) { set(i, SupportsPostScript, &i.supportsPostScript, v) }

// SupportsBatching reports whether several jobs may share one call
func (i *Info) SupportsBatching() bool { return get(i, &i.supportsBatching) }
func (i *Info) SetSupportsBatching(v bool) { set(i, SupportsBatching, &i.supportsBatching, v) }

// CalledBefore is set once the number answered as something other than
// a voice or dead line
func (i *Info) CalledBefore() bool { return get(i, &i.calledBefore) }
func (i *Info) SetCalledBefore(v bool) { set(i, CalledBefore, &i.calledBefore, v) }

// MaxPageWidthInPixels returns the widest page the remote accepts
func (i *Info) MaxPageWidthInPixels() uint { return get(i, &i.maxPageWidth) }
func (i *Info) SetMaxPageWidthInPixels(v uint) { set(i, MaxPageWidthInPixels, &i.maxPageWidth, v) }

// MaxPageLengthInMM returns the longest page the remote accepts, or
// Unlimited
func (i *Info) MaxPageLengthInMM() uint { return get(i, &i.maxPageLength) }
func (i *Info) SetMaxPageLengthInMM(v uint) { set(i, MaxPageLengthInMM, &i.maxPageLength, v) }

// MaxSignallingRate returns the fastest signalling rate as class2 BR code
func (i *Info) MaxSignallingRate() uint { return get(i, &i.maxSignallingRate) }
func (i *Info) SetMaxSignallingRate(v uint) { set(i, MaxSignallingRate, &i.maxSignallingRate, v) }

// MinScanlineTime returns the scanline time as class2 ST code
func (i *Info) MinScanlineTime() uint { return get(i, &i.minScanlineTime) }
func (i *Info) SetMinScanlineTime(v uint) { set(i, MinScanlineTime, &i.minScanlineTime, v) }

// RemoteCSI returns the identity the remote announced last
func (i *Info) RemoteCSI() string { return get(i, &i.csi) }
func (i *Info) SetRemoteCSI(v string) { set(i, RemoteCSI, &i.csi, v) }

// RemoteNSF returns the last non-standard facilities frame as the
// driver reported it
func (i *Info) RemoteNSF() string { return get(i, &i.nsf) }
func (i *Info) SetRemoteNSF(v string) { set(i, RemoteNSF, &i.nsf, v) }

// RemoteDIS returns the session parameters last offered by the remote,
// as hex encoded class2 params
func (i *Info) RemoteDIS() string { return get(i, &i.dis) }
func (i *Info) SetRemoteDIS(v string) { set(i, RemoteDIS, &i.dis, v) }

// Call history. These setters ignore the lock so failures are always
// recorded.

// SendFailures counts consecutive failed calls
func (i *Info) SendFailures() int { return get(i, &i.sendFailures) }
func (i *Info) SetSendFailures(v int) { update(i, &i.sendFailures, v) }

// DialFailures counts consecutive failed dials
func (i *Info) DialFailures() int { return get(i, &i.dialFailures) }
func (i *Info) SetDialFailures(v int) { update(i, &i.dialFailures, v) }

// LastSendFailure is the notice of the last failed call
func (i *Info) LastSendFailure() string { return get(i, &i.lastSendFailure) }
func (i *Info) SetLastSendFailure(v string) { update(i, &i.lastSendFailure, v) }

// LastDialFailure is the reason the last dial failed
func (i *Info) LastDialFailure() string { return get(i, &i.lastDialFailure) }
func (i *Info) SetLastDialFailure(v string) { update(i, &i.lastDialFailure, v) }

// Pager settings, usually pinned by the operator

// PagerMaxMsgLength caps the text of one pager message, 0 or less for
// the server default
func (i *Info) PagerMaxMsgLength() int { return get(i, &i.pagerMaxMsgLength) }
func (i *Info) SetPagerMaxMsgLength(v int) { set(i, PagerMaxMsgLength, &i.pagerMaxMsgLength, v) }

// PagerPassword is sent in the IXO login
func (i *Info) PagerPassword() string { return get(i, &i.pagerPassword) }
func (i *Info) SetPagerPassword(v string) { set(i, PagerPassword, &i.pagerPassword, v) }

// PagerTTYParity is the line parity the paging central expects
func (i *Info) PagerTTYParity() string { return get(i, &i.pagerTTYParity) }
func (i *Info) SetPagerTTYParity(v string) { set(i, PagerTTYParity, &i.pagerTTYParity, v) }

// PagingProtocol is "ixo" or "ucp"
func (i *Info) PagingProtocol() string { return get(i, &i.pagingProtocol) }
func (i *Info) SetPagingProtocol(v string) { set(i, PagingProtocol, &i.pagingProtocol, v) }

// PageSource is the originator address sent with UCP messages
func (i *Info) PageSource() string { return get(i, &i.pageSource) }
func (i *Info) SetPageSource(v string) { set(i, PageSource, &i.pageSource, v) }

// PagerSetupCmds are AT commands, separated by ";", sent before dialing
func (i *Info) PagerSetupCmds() string { return get(i, &i.pagerSetupCmds) }
func (i *Info) SetPagerSetupCmds(v string) { set(i, PagerSetupCmds, &i.pagerSetupCmds, v) }

// Encodings of the file format. Callers hold the mutex.

type fieldDesc struct {
	tag    string
	format func(i *Info) string
	parse  func(i *Info, v string) error
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "true", "on", "1":
		return true, nil
	case "no", "false", "off", "0":
		return false, nil
	}
	return false, errors.Errorf("bad boolean %q", v)
}

func boolField(tag string, p func(i *Info) *bool) fieldDesc {
	return fieldDesc{
		tag:    tag,
		format: func(i *Info) string { return yesNo(*p(i)) },
		parse: func(i *Info, v string) (err error) {
			*p(i), err = parseBool(v)
			return
		},
	}
}

func uintField(tag string, p func(i *Info) *uint) fieldDesc {
	return fieldDesc{
		tag:    tag,
		format: func(i *Info) string { return strconv.FormatUint(uint64(*p(i)), 10) },
		parse: func(i *Info, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			*p(i) = uint(n)
			return err
		},
	}
}

func intField(tag string, p func(i *Info) *int) fieldDesc {
	return fieldDesc{
		tag:    tag,
		format: func(i *Info) string { return strconv.Itoa(*p(i)) },
		parse: func(i *Info, v string) (err error) {
			*p(i), err = strconv.Atoi(v)
			return
		},
	}
}

func stringField(tag string, p func(i *Info) *string) fieldDesc {
	return fieldDesc{
		tag:    tag,
		format: func(i *Info) string { return strconv.Quote(*p(i)) },
		parse: func(i *Info, v string) error {
			*p(i) = v
			return nil
		},
	}
}

var descs [numFields]fieldDesc

func init() {
	descs = [numFields]fieldDesc{
		SupportsHighRes:    boolField("supportsHighRes", func(i *Info) *bool { return &i.supportsHighRes }),
		SupportsVRes:       uintField("supportsVRes", func(i *Info) *uint { return &i.supportsVRes }),
		Supports2DEncoding: boolField("supports2DEncoding", func(i *Info) *bool { return &i.supports2D }),
		SupportsMMR:        boolField("supportsMMR", func(i *Info) *bool { return &i.supportsMMR }),
		HasV34Trouble:      boolField("hasV34Trouble", func(i *Info) *bool { return &i.hasV34Trouble }),
		HasV17Trouble:      boolField("hasV17Trouble", func(i *Info) *bool { return &i.hasV17Trouble }),
		SupportsPostScript: boolField("supportsPostScript", func(i *Info) *bool { return &i.supportsPostScript }),
		SupportsBatching:   boolField("supportsBatching", func(i *Info) *bool { return &i.supportsBatching }),
		CalledBefore:       boolField("calledBefore", func(i *Info) *bool { return &i.calledBefore }),
		MaxPageWidthInPixels: uintField("maxPageWidth", func(i *Info) *uint { return &i.maxPageWidth }),
		MaxPageLengthInMM: {
			tag: "maxPageLength",
			format: func(i *Info) string {
				if i.maxPageLength == Unlimited {
					return "-1"
				}
				return strconv.FormatUint(uint64(i.maxPageLength), 10)
			},
			parse: func(i *Info, v string) error {
				if v == "-1" {
					i.maxPageLength = Unlimited
					return nil
				}
				n, err := strconv.ParseUint(v, 10, 32)
				i.maxPageLength = uint(n)
				return err
			},
		},
		MaxSignallingRate: {
			tag:    "maxSignallingRate",
			format: func(i *Info) string { return strconv.Itoa(int(class2.BitRate(i.maxSignallingRate))) },
			parse: func(i *Info, v string) error {
				n, err := strconv.ParseUint(v, 10, 32)
				i.maxSignallingRate = class2.RateFromBitRate(uint(n))
				return err
			},
		},
		MinScanlineTime: {
			tag:    "minScanlineTime",
			format: func(i *Info) string { return class2.ScanlineTimeName(i.minScanlineTime) },
			parse: func(i *Info, v string) error {
				st, ok := class2.ParseScanlineTime(v)
				if !ok {
					return errors.Errorf("bad scanline time %q", v)
				}
				i.minScanlineTime = st
				return nil
			},
		},
		RemoteCSI:         stringField("remoteCSI", func(i *Info) *string { return &i.csi }),
		RemoteNSF:         stringField("remoteNSF", func(i *Info) *string { return &i.nsf }),
		RemoteDIS:         stringField("remoteDIS", func(i *Info) *string { return &i.dis }),
		SendFailures:      intField("sendFailures", func(i *Info) *int { return &i.sendFailures }),
		DialFailures:      intField("dialFailures", func(i *Info) *int { return &i.dialFailures }),
		LastSendFailure:   stringField("lastSendFailure", func(i *Info) *string { return &i.lastSendFailure }),
		LastDialFailure:   stringField("lastDialFailure", func(i *Info) *string { return &i.lastDialFailure }),
		PagerMaxMsgLength: intField("pagerMaxMsgLength", func(i *Info) *int { return &i.pagerMaxMsgLength }),
		PagerPassword:     stringField("pagerPassword", func(i *Info) *string { return &i.pagerPassword }),
		PagerTTYParity:    stringField("pagerTTYParity", func(i *Info) *string { return &i.pagerTTYParity }),
		PagingProtocol:    stringField("pagingProtocol", func(i *Info) *string { return &i.pagingProtocol }),
		PageSource:        stringField("pageSource", func(i *Info) *string { return &i.pageSource }),
		PagerSetupCmds:    stringField("pagerSetupCmds", func(i *Info) *string { return &i.pagerSetupCmds }),
	}
}

func fieldByTag(tag string) (Field, bool) {
	for f := Field(0); f < numFields; f++ {
		if strings.EqualFold(descs[f].tag, tag) {
			return f, true
		}
	}
	return 0, false
}

func (f Field) String() string {
	if f >= 0 && f < numFields {
		return descs[f].tag
	}
	return fmt.Sprintf("field%d", int(f))
}

// Parse reads "[&]tag:value" lines. A leading & marks the field locked.
// Unknown tags are ignored.
func (i *Info) Parse(r io.Reader) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		locked := false
		if line[0] == '&' {
			locked = true
			line = line[1:]
		}
		tag, value, ok := strings.Cut(line, ":")
		if !ok {
			return errors.Errorf("line %d: missing ':'", lineno)
		}
		tag = strings.TrimSpace(tag)
		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, `"`) {
			uq, err := strconv.Unquote(value)
			if err != nil {
				return errors.Wrapf(err, "line %d: bad string", lineno)
			}
			value = uq
		}
		f, ok := fieldByTag(tag)
		if !ok {
			logger.Trace(logger.TraceMachineInfo).Warnf("%s: line %d: unknown tag %q", i.number, lineno, tag)
			continue
		}
		if err := descs[f].parse(i, value); err != nil {
			return errors.Wrapf(err, "line %d: %s", lineno, tag)
		}
		i.locked[f] = locked
	}
	i.changed = false
	return scanner.Err()
}

// Write serializes the record with locked fields flagged
func (i *Info) Write(w io.Writer) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	bw := bufio.NewWriter(w)
	for f := Field(0); f < numFields; f++ {
		if i.locked[f] {
			bw.WriteByte('&')
		}
		fmt.Fprintf(bw, "%s:%s\n", descs[f].tag, descs[f].format(i))
	}
	return bw.Flush()
}

// Save writes the record to its file if it changed
func (i *Info) Save() error {
	if i.file == "" || !i.Changed() {
		return nil
	}
	dir := filepath.Dir(i.file)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "%s: cannot create directory", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+i.number+".")
	if err != nil {
		return errors.Wrapf(err, "%s: cannot create temporary file", i.file)
	}
	err = i.Write(tmp)
	if err == nil {
		err = tmp.Chmod(0644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), i.file)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "%s: write", i.file)
	}
	i.mu.Lock()
	i.changed = false
	i.mu.Unlock()
	return nil
}
