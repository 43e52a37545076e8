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

// HylaFAX DynamicConfig support: an external command is run with
// details about a call and prints "Tag: value" lines that override
// settings for just this call.

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const dynamicConfigTimeout = 30 * time.Second

type param struct {
	Tag   string
	Value string
}

// HylaConfig holds a set of HylaFAX configuration parameters
type HylaConfig struct {
	params []param
}

// GetString returns the first Value found matching given Tag
func (h *HylaConfig) GetString(tag string) string {
	if h == nil {
		return ""
	}
	tag = strings.ToLower(tag)
	for _, param := range h.params {
		if param.Tag == tag {
			return param.Value
		}
	}
	return ""
}

// GetInt returns the first value of given Tag as int
func (h *HylaConfig) GetInt(tag string) (int, bool) {
	v := h.GetString(tag)
	if v == "" {
		return 0, false
	}
	i, err := strconv.ParseInt(v, 0, 0)
	if err != nil {
		return 0, false
	}
	return int(i), true
}

// GetBool interprets the first value of given Tag as truth value
func (h *HylaConfig) GetBool(tag string) bool {
	return DynamicConfigBool(h.GetString(tag))
}

// ParseHylaConfig reads "Tag: value" lines, skipping anything else.
// Values may be double quoted.
func ParseHylaConfig(r io.Reader) (*HylaConfig, error) {
	h := &HylaConfig{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		value := strings.TrimSpace(parts[1])
		if uq, err := strconv.Unquote(value); err == nil {
			value = uq
		}
		h.params = append(h.params, param{strings.ToLower(strings.TrimSpace(parts[0])), value})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return h, nil
}

// DynamicConfig executes the given command and parses the output compatible to HylaFAX' DynamicConfig
func DynamicConfig(command string, args ...string) (*HylaConfig, error) {

	if command == "" {
		return nil, errors.New("No DynamicConfig command provided")
	}

	ctx, cancel := context.WithTimeout(context.Background(), dynamicConfigTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "DynamicConfig %s", command)
	}

	return ParseHylaConfig(bytes.NewBuffer(out))
}

// DynamicConfigBool interprets a DynamicConfig string value as truth value
func DynamicConfigBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	}

	return false
}
