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
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Item operations found in queue files
const (
	OpFax  = "fax"
	OpPoll = "poll"
	OpPage = "page"
	OpData = "data"
)

// doneMark prefixes the tag of items that were completely transferred
const doneMark = "!"

var itemOps = []string{OpFax, OpPoll, OpPage, OpData}

// FaxItem is one request of a job. For fax and data items Item is the
// document file, for polls Addr is the selective polling address and
// Item the password, for pages Item is the pager id.
type FaxItem struct {
	Op string
	// First directory in the file to transmit
	Dirnum int
	// T.30 subaddress
	Addr string
	Item string
	Done bool
}

// ParseItem parses a queue file entry of the form dirnum:addr:item
func ParseItem(op string, entry string) (*FaxItem, error) {
	parts := strings.SplitN(entry, ":", 3)
	if len(parts) != 3 {
		return nil, errors.Errorf("Error parsing %s entry %q", op, entry)
	}

	item := &FaxItem{
		Op:   op,
		Addr: parts[1],
		Item: parts[2],
	}
	if parts[0] != "" {
		dirnum, err := strconv.ParseUint(parts[0], 10, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "%s entry %q", op, entry)
		}
		item.Dirnum = int(dirnum)
	}
	return item, nil
}

// Encode formats the item for the queue file
func (i *FaxItem) Encode() string {
	return fmt.Sprintf("%d:%s:%s", i.Dirnum, i.Addr, i.Item)
}

// Tag returns the queue file tag of the item
func (i *FaxItem) Tag() string {
	if i.Done {
		return doneMark + i.Op
	}
	return i.Op
}

// Path resolves a document item relative to the spool directory
func (i *FaxItem) Path(spooldir string) string {
	if filepath.IsAbs(i.Item) {
		return i.Item
	}
	return filepath.Join(spooldir, i.Item)
}

func loadItems(qf Qfiler) ([]*FaxItem, error) {
	var items []*FaxItem
	for _, op := range itemOps {
		for _, done := range []bool{false, true} {
			tag := op
			if done {
				tag = doneMark + op
			}
			for _, entry := range qf.GetAll(tag) {
				item, err := ParseItem(op, entry)
				if err != nil {
					return nil, err
				}
				item.Done = done
				items = append(items, item)
			}
		}
	}
	return items, nil
}

func saveItems(qf Qfiler, items []*FaxItem) {
	byTag := make(map[string][]string)
	for _, i := range items {
		byTag[i.Tag()] = append(byTag[i.Tag()], i.Encode())
	}
	for _, op := range itemOps {
		qf.SetAll(op, byTag[op])
		qf.SetAll(doneMark+op, byTag[doneMark+op])
	}
}
