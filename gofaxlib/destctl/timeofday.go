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

package destctl

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	allDays  = 0x7f
	weekDays = 0x3e
)

var dayNames = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

type todSegment struct {
	days  uint8 // bit n set for time.Weekday(n)
	start int   // minutes since midnight
	end   int   // exclusive
}

// TimeOfDay is a set of weekly sending windows such as
// "Wk0800-1800,Sat0900-1200" or "Any2200-0600".
type TimeOfDay struct {
	spec string
	segs []todSegment
}

// AnyTime is the window that is always open
var AnyTime = &TimeOfDay{spec: "Any", segs: []todSegment{{days: allDays, start: 0, end: 24 * 60}}}

// ParseTimeOfDay parses a comma separated list of windows. Each window
// is a run of day names (Any, Wk, Sun...Sat) followed by an optional
// hhmm-hhmm range. Ranges ending before they start span midnight.
func ParseTimeOfDay(s string) (*TimeOfDay, error) {
	tod := &TimeOfDay{spec: s}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		days, rest, err := parseDays(item)
		if err != nil {
			return nil, err
		}
		start, end := 0, 24*60
		rest = strings.TrimSpace(rest)
		if rest != "" {
			from, to, ok := strings.Cut(rest, "-")
			if !ok {
				return nil, errors.Errorf("time of day %q: missing '-' in %q", s, rest)
			}
			if start, err = parseHHMM(from); err != nil {
				return nil, errors.Wrapf(err, "time of day %q", s)
			}
			if end, err = parseHHMM(to); err != nil {
				return nil, errors.Wrapf(err, "time of day %q", s)
			}
		}
		switch {
		case start < end:
			tod.segs = append(tod.segs, todSegment{days, start, end})
		case start > end:
			tod.segs = append(tod.segs, todSegment{days, start, 24 * 60})
			if end > 0 {
				tod.segs = append(tod.segs, todSegment{nextDays(days), 0, end})
			}
		default:
			tod.segs = append(tod.segs, todSegment{days, 0, 24 * 60})
		}
	}
	if len(tod.segs) == 0 {
		return nil, errors.Errorf("time of day %q: no windows", s)
	}
	return tod, nil
}

func parseDays(item string) (uint8, string, error) {
	var days uint8
	rest := item
	for rest != "" && !isDigit(rest[0]) {
		lower := strings.ToLower(rest)
		switch {
		case strings.HasPrefix(lower, "any"):
			days |= allDays
			rest = rest[3:]
		case strings.HasPrefix(lower, "wk"):
			days |= weekDays
			rest = rest[2:]
		default:
			found := false
			for d, name := range dayNames {
				if strings.HasPrefix(lower, name) {
					days |= 1 << d
					rest = rest[3:]
					found = true
					break
				}
			}
			if !found {
				if rest[0] == ' ' || rest[0] == '\t' {
					rest = rest[1:]
					continue
				}
				return 0, "", errors.Errorf("time of day: unknown day in %q", item)
			}
		}
	}
	if days == 0 {
		days = allDays
	}
	return days, rest, nil
}

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 4 {
		return 0, errors.Errorf("bad time %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Errorf("bad time %q", s)
	}
	h, m := n/100, n%100
	if h > 24 || m > 59 || (h == 24 && m != 0) {
		return 0, errors.Errorf("bad time %q", s)
	}
	return h*60 + m, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func nextDays(days uint8) uint8 {
	return ((days << 1) | (days >> 6)) & allDays
}

func (tod *TimeOfDay) String() string {
	return tod.spec
}

// NextTimeToSend returns t if a window is open at t, otherwise the start
// of the next window.
func (tod *TimeOfDay) NextTimeToSend(t time.Time) time.Time {
	now := t.Hour()*60 + t.Minute()
	for offset := 0; offset <= 7; offset++ {
		day := (int(t.Weekday()) + offset) % 7
		best := -1
		for _, seg := range tod.segs {
			if seg.days&(1<<day) == 0 {
				continue
			}
			if offset == 0 {
				if now >= seg.start && now < seg.end {
					return t
				}
				if now > seg.start {
					continue
				}
			}
			if best < 0 || seg.start < best {
				best = seg.start
			}
		}
		if best >= 0 {
			return time.Date(t.Year(), t.Month(), t.Day()+offset, best/60, best%60, 0, 0, t.Location())
		}
	}
	return t
}
