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

package gofaxlib

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"

	"github.com/gonicus/gofaxmodem/gofaxlib/logger"
)

// Names of the rule sets consulted by the servers
const (
	RulesCanonicalNumber = "CanonicalNumber"
	RulesDialString      = "DialString"
	RulesDisplayNumber   = "DisplayNumber"
)

var (
	nonDigits = regexp.MustCompile(`[^0-9]`)
	varRef    = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// Canonicalize strips everything but digits from a phone number
func Canonicalize(number string) string {
	return nonDigits.ReplaceAllString(number, "")
}

type dialRule struct {
	pattern *regexp.Regexp
	replace string
}

// DialRules holds named sets of regex rewrite rules in the format of
// HylaFAX's dialrules file:
//
//	Area=421
//	DialString := [
//	"^\+49${Area}" = ""
//	"^\+49" = "0"
//	]
type DialRules struct {
	vars map[string]string
	sets map[string][]dialRule
}

// LoadDialRules parses a dial rules file. A missing file yields empty rules.
func LoadDialRules(filename string) (*DialRules, error) {
	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return &DialRules{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return ParseDialRules(f)
}

// ParseDialRules parses dial rules from r
func ParseDialRules(r io.Reader) (*DialRules, error) {
	d := &DialRules{
		vars: make(map[string]string),
		sets: make(map[string][]dialRule),
	}

	var set string
	var inSet bool
	lineno := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(stripComment(scanner.Text()))
		if line == "" {
			continue
		}
		switch {
		case inSet && line == "]":
			inSet = false
		case inSet:
			pat, repl, err := d.parseRule(line)
			if err != nil {
				return nil, errors.Wrapf(err, "dialrules line %d", lineno)
			}
			re, err := regexp.CompilePOSIX(pat)
			if err != nil {
				return nil, errors.Wrapf(err, "dialrules line %d", lineno)
			}
			d.sets[set] = append(d.sets[set], dialRule{re, convertReplacement(repl)})
		case strings.Contains(line, ":="):
			parts := strings.SplitN(line, ":=", 2)
			set = strings.TrimSpace(parts[0])
			if strings.TrimSpace(parts[1]) != "[" {
				return nil, errors.Errorf("dialrules line %d: expected '[' after %s :=", lineno, set)
			}
			inSet = true
			d.sets[set] = nil
		case strings.Contains(line, "="):
			parts := strings.SplitN(line, "=", 2)
			d.vars[strings.TrimSpace(parts[0])] = d.expand(unquote(strings.TrimSpace(parts[1])))
		default:
			return nil, errors.Errorf("dialrules line %d: syntax error", lineno)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if inSet {
		return nil, errors.Errorf("dialrules: unterminated rule set %s", set)
	}
	return d, nil
}

func stripComment(line string) string {
	inQuote := false
	for i, c := range line {
		switch c {
		case '"':
			inQuote = !inQuote
		case '!':
			if !inQuote {
				return line[:i]
			}
		case '#':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func (d *DialRules) expand(s string) string {
	return varRef.ReplaceAllStringFunc(s, func(ref string) string {
		return d.vars[ref[2:len(ref)-1]]
	})
}

func (d *DialRules) parseRule(line string) (string, string, error) {
	// the pattern may contain '=' when quoted
	var pat, rest string
	if strings.HasPrefix(line, "\"") {
		end := strings.Index(line[1:], "\"")
		if end < 0 {
			return "", "", errors.New("unterminated pattern")
		}
		pat = line[1 : end+1]
		rest = strings.TrimSpace(line[end+2:])
	} else {
		i := strings.IndexByte(line, '=')
		if i < 0 {
			return "", "", errors.New("missing '='")
		}
		pat = strings.TrimSpace(line[:i])
		rest = line[i:]
	}
	if !strings.HasPrefix(rest, "=") {
		return "", "", errors.New("missing '='")
	}
	repl := unquote(strings.TrimSpace(rest[1:]))
	return d.expand(pat), d.expand(repl), nil
}

// convertReplacement maps HylaFAX replacement syntax (& and \N) to Go's.
func convertReplacement(repl string) string {
	var b strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		switch {
		case c == '$':
			b.WriteString("$$")
		case c == '&':
			b.WriteString("${0}")
		case c == '\\' && i+1 < len(repl):
			i++
			if n := repl[i]; n >= '0' && n <= '9' {
				b.WriteString("${" + string(n) + "}")
			} else {
				b.WriteByte(n)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Apply runs the named rule set over a number. Unknown sets return the
// number unchanged.
func (d *DialRules) Apply(set string, number string) string {
	rules := d.sets[set]
	result := number
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replace)
	}
	if len(rules) > 0 {
		logger.Trace(logger.TraceDialRules).Debugf("%s: %q -> %q", set, number, result)
	}
	return result
}

// CanonicalNumber converts a number to its canonical, digits only form
func (d *DialRules) CanonicalNumber(number string) string {
	if d != nil && len(d.sets[RulesCanonicalNumber]) > 0 {
		return Canonicalize(d.Apply(RulesCanonicalNumber, number))
	}
	return Canonicalize(number)
}

// DialString converts a number into the string handed to the modem
func (d *DialRules) DialString(number string) string {
	if d == nil {
		return number
	}
	return d.Apply(RulesDialString, number)
}

// Var returns the value of a variable defined in the rules file
func (d *DialRules) Var(name string) string {
	if d == nil {
		return ""
	}
	return d.vars[name]
}
