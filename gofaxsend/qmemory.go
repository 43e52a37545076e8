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

package gofaxsend

import (
	"strconv"
)

// Qmemory is a queue file held in memory, used for jobs that do not
// come from the HylaFAX queue and in tests.
type Qmemory struct {
	params map[string][]string
}

// NewQmemory returns a queue backed by parameters, which may be nil
func NewQmemory(parameters map[string][]string) *Qmemory {
	if parameters == nil {
		parameters = make(map[string][]string)
	}
	return &Qmemory{
		params: parameters,
	}
}

func (q Qmemory) Write() error {
	// no-op
	return nil
}

func (q Qmemory) GetAll(tag string) []string {
	res, ok := q.params[tag]
	if !ok {
		return []string{}
	}

	return res
}

func (q Qmemory) GetString(tag string) string {
	res, ok := q.params[tag]
	if !ok || len(res) == 0 {
		return ""
	}

	return res[0]
}

func (q Qmemory) GetInt(tag string) (int, error) {
	v := q.GetString(tag)
	if v == "" {
		return 0, ErrTagNotFound
	}

	return strconv.Atoi(v)
}

func (q Qmemory) Set(tag, value string) {
	q.params[tag] = []string{value}
}

func (q Qmemory) SetAll(tag string, values []string) {
	if len(values) == 0 {
		delete(q.params, tag)
		return
	}
	q.params[tag] = append([]string(nil), values...)
}

func (q Qmemory) Add(tag, value string) {
	q.params[tag] = append(q.params[tag], value)
}
