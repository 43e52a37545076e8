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

// Package pagesend delivers pager messages from HylaFAX queue files
// through a modem to an IXO/TAP or UCP paging central.
package pagesend

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/machinfo"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
	"github.com/gonicus/gofaxmodem/gofaxsend"
)

const (
	ProtocolIXO = "ixo"
	ProtocolUCP = "ucp"

	msgAborted   = "Job aborted by user"
	setupTimeout = 3 * time.Second
)

// Options tie a PageServer to its surroundings
type Options = gofaxsend.Options

// protocol is a paging protocol spoken on a connected call
type protocol interface {
	Login() (modem.SendStatus, string)
	Send(pin, msg string) (modem.SendStatus, string)
	Logout()
}

type atCommander interface {
	AtCmd(cmd string, timeout time.Duration) modem.Result
}

// PageServer sends pager jobs through the modem managed by a
// modem.Server.
type PageServer struct {
	*gofaxsend.Call
	cfg *gofaxlib.Config
}

// NewPageServer returns a pager sender for the modem of srv
func NewPageServer(cfg *gofaxlib.Config, srv *modem.Server, opts Options) *PageServer {
	return &PageServer{
		Call: gofaxsend.NewCall(cfg, srv, opts),
		cfg:  cfg,
	}
}

// Message is one pager id with the files holding its text
type Message struct {
	Page *gofaxsend.FaxItem
	Data []*gofaxsend.FaxItem
}

// Messages pairs the pending page items of req with the pending data
// items in order. Data items left over belong to the last page.
func Messages(req *gofaxsend.FaxRequest) []Message {
	pages := req.Pending(gofaxsend.OpPage)
	data := req.Pending(gofaxsend.OpData)
	msgs := make([]Message, len(pages))
	for i, p := range pages {
		msgs[i].Page = p
		if i < len(data) {
			msgs[i].Data = data[i : i+1]
		}
	}
	if n := len(pages); n > 0 && len(data) > n {
		msgs[n-1].Data = append(msgs[n-1].Data, data[n:]...)
	}
	return msgs
}

// messageText reads and prepares the text of m
func (s *PageServer) messageText(m Message, info *machinfo.Info) (string, error) {
	var text []byte
	for _, item := range m.Data {
		b, err := os.ReadFile(item.Path(s.cfg.Hylafax.Spooldir))
		if err != nil {
			return "", errors.Wrapf(err, "Can not read message file %s", item.Item)
		}
		if len(text) > 0 {
			text = append(text, ' ')
		}
		text = append(text, b...)
	}
	limit := info.PagerMaxMsgLength()
	if limit <= 0 {
		limit = s.cfg.Page.DefaultMaxMsgLength
	}
	return PagerText(text, limit), nil
}

// SendPage runs one job: it locks and sets up the modem, calls the
// paging central at number and delivers all pending messages. The
// outcome is left in req.
func (s *PageServer) SendPage(req *gofaxsend.FaxRequest, info *machinfo.Info, number string) {
	s.Run("PAGE", req, info, func() {
		s.sendPage(req, info, number)
	})
}

// setupLine switches the line to the parity of the central and sends
// its extra setup commands
func (s *PageServer) setupLine(info *machinfo.Info) error {
	parity, err := modem.ParseParity(info.PagerTTYParity())
	if err != nil {
		return err
	}
	if err = s.Srv.ConfigureLine(parity); err != nil {
		return errors.Wrap(err, "cannot set line parity")
	}
	cmds := info.PagerSetupCmds()
	if cmds == "" {
		return nil
	}
	at, ok := s.Srv.Modem().(atCommander)
	if !ok {
		return errors.New("modem driver does not take setup commands")
	}
	for _, cmd := range strings.Split(cmds, ";") {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if r := at.AtCmd(cmd, setupTimeout); r != modem.ResultOK {
			return errors.Errorf("setup command %q failed", cmd)
		}
	}
	return nil
}

func (s *PageServer) sendPage(req *gofaxsend.FaxRequest, info *machinfo.Info, number string) {
	m := s.Srv.Modem()
	proto := strings.ToLower(info.PagingProtocol())
	if proto != ProtocolIXO && proto != ProtocolUCP {
		req.Fail(gofaxsend.SendFailed, fmt.Sprintf("Unknown paging protocol %q", info.PagingProtocol()))
		return
	}
	if err := s.setupLine(info); err != nil {
		s.Logf("SETUP: %v", err)
		req.Fail(gofaxsend.SendRetry, "Unable to configure modem for paging")
		req.Requeue = s.Policy.RequeueProto
		return
	}

	if !s.Dial(m, req, info, number) {
		return
	}

	var p protocol
	if proto == ProtocolUCP {
		p = NewUCP(m.Transport(), UCPConfigFor(s.cfg, info.PageSource()), s.Logf)
	} else {
		p = NewIXO(m.Transport(), IXOConfigFor(s.cfg, info.PagerPassword()), s.Logf)
	}
	s.pageSession(req, info, p)
	s.Hangup("PAGE", m)
}

func (s *PageServer) pageSession(req *gofaxsend.FaxRequest, info *machinfo.Info, p protocol) {
	if status, emsg := p.Login(); status != gofaxsend.SendOK {
		s.ProtocolError(req, info, status, emsg)
		return
	}
	info.SetCalledBefore(true)

	for _, msg := range Messages(req) {
		if s.Aborted() {
			p.Logout()
			s.Decide(req, gofaxsend.Decision{Status: gofaxsend.SendFailed, Notice: msgAborted})
			return
		}
		text, err := s.messageText(msg, info)
		if err != nil {
			p.Logout()
			req.Fail(gofaxsend.SendFailed, err.Error())
			return
		}
		s.Logf("SEND MESSAGE: PIN %s %q", msg.Page.Item, text)
		if status, emsg := p.Send(msg.Page.Item, text); status != gofaxsend.SendOK {
			s.ProtocolError(req, info, status, emsg)
			return
		}
		msg.Page.Done = true
		for _, d := range msg.Data {
			d.Done = true
		}
		req.NPages++
		s.Result().AddPage(gofaxlib.PageResult{})
		s.JobStatus(req, gofaxlib.JobPageSent, strconv.Itoa(req.NPages))
		s.Update(req)
	}
	p.Logout()
	req.Fail(gofaxsend.SendDone, "")
}
