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
	"strconv"
	"time"

	"github.com/gonicus/gofaxmodem/gofaxlib"
	"github.com/gonicus/gofaxmodem/gofaxlib/class2"
	"github.com/gonicus/gofaxmodem/gofaxlib/faxrecv"
	"github.com/gonicus/gofaxmodem/gofaxlib/machinfo"
	"github.com/gonicus/gofaxmodem/gofaxlib/modem"
	"github.com/gonicus/gofaxmodem/gofaxlib/tiff"
)

// SendStatus is the outcome of a job or of a phase of it
type SendStatus = modem.SendStatus

// Return codes for Hylafax.
const (
	SendRetry    = modem.SendRetry
	SendFailed   = modem.SendFailed
	SendDone     = modem.SendDone
	SendReformat = modem.SendReformat
	SendOK       = modem.SendOK
)

// Give up on a page after this many calls without progress
const maxSamePageTries = 3

// FaxServer sends facsimile jobs through the modem managed by a
// modem.Server.
type FaxServer struct {
	*Call
	cfg *gofaxlib.Config
	fax modem.FaxModem

	// Call state
	req        *FaxRequest
	info       *machinfo.Info
	clientCaps class2.Params
	params     class2.Params
	item       *FaxItem
	pageParams class2.Params
	pageDir    *tiff.Directory
	pageStart  time.Time
	// Pages sent of the current document in this call
	docPages int
}

// NewFaxServer returns a fax sender for the modem of srv
func NewFaxServer(cfg *gofaxlib.Config, srv *modem.Server, opts Options) *FaxServer {
	return &FaxServer{
		Call: NewCall(cfg, srv, opts),
		cfg:  cfg,
	}
}

// SendFax runs one job: it locks and sets up the modem, sends to number
// and leaves the outcome in req. The remote's capabilities and failure
// history are kept in info.
func (s *FaxServer) SendFax(req *FaxRequest, info *machinfo.Info, number string) {
	s.req = req
	s.info = info
	s.Run("FAX", req, info, func() {
		fax, ok := s.Srv.Modem().(modem.FaxModem)
		if !ok {
			req.Fail(SendFailed, "Modem does not support facsimile transmission")
			return
		}
		s.fax = fax
		s.sendFax(req, info, number)
	})
}

func (s *FaxServer) sendFax(req *FaxRequest, info *machinfo.Info, number string) {
	fax := s.fax
	if !fax.FaxService() {
		req.Fail(SendRetry, "Unable to configure modem for fax use")
		req.Requeue = s.Policy.RequeueProto
		return
	}
	pollOnly := !req.HasPending(OpFax) && req.HasPending(OpPoll)
	if pollOnly && !fax.RequestToPoll() {
		req.Fail(SendFailed, "Unable to configure modem for polling")
		return
	}
	if !pollOnly {
		s.params = s.desiredParams(req, info)
	}

	if !s.Dial(fax, req, info, number) {
		return
	}
	s.sendSession(req, info, pollOnly)
	s.Hangup("FAX", fax)
}

func (s *FaxServer) sendSession(req *FaxRequest, info *machinfo.Info, pollOnly bool) {
	fax := s.fax
	if !fax.SendBegin() {
		s.ProtocolError(req, info, SendRetry, "Unable to begin fax transmission")
		return
	}
	defer fax.SendEnd()

	dis, hasDoc, status, emsg := fax.GetPrologue()
	if status != SendOK {
		s.ProtocolError(req, info, status, emsg)
		return
	}
	info.SetCalledBefore(true)
	req.CSI = fax.RemoteID()
	info.SetRemoteCSI(req.CSI)
	info.SetRemoteNSF(fax.RemoteNSF())
	info.SetRemoteDIS(fmt.Sprintf("%x", dis.Encode()))
	s.Logf("REMOTE CSI \"%s\"", req.CSI)

	if !pollOnly {
		if status, emsg = s.SendClientCapabilitiesOK(req, info, dis); status != SendOK {
			s.ProtocolError(req, info, status, emsg)
			return
		}
		s.result.Negotiate(req.CSI, s.params)
		req.SignalRate = fmt.Sprintf("%d", class2.BitRate(s.params.BR))
		req.DataFormat = s.params.DataFormatName()

		for _, item := range req.Pending(OpFax) {
			if s.Aborted() {
				s.Decide(req, Decision{Status: SendFailed, Notice: msgAborted})
				return
			}
			if !fax.SendSetupPhaseB(req.Passwd, item.Addr) {
				s.ProtocolError(req, info, SendRetry, "Unable to set up subaddress or password")
				return
			}
			if status, emsg = s.SendFaxPhaseB(req, item, info); status != SendOK {
				s.ProtocolError(req, info, status, emsg)
				return
			}
		}
	}

	if req.HasPending(OpPoll) {
		if !hasDoc {
			s.Decide(req, Decision{Status: SendFailed, Notice: "Unable to poll: remote has no document to send"})
			return
		}
		if status, emsg = s.SendPoll(req); status != SendOK {
			s.ProtocolError(req, info, status, emsg)
			return
		}
	}
	req.Fail(SendDone, "")
}

// desiredParams intersects the job's wishes with what the modem and the
// remote as known from earlier calls can do.
func (s *FaxServer) desiredParams(req *FaxRequest, info *machinfo.Info) class2.Params {
	caps := s.fax.FaxCaps()
	p := class2.Params{
		VR: class2.VR_NORMAL,
		BR: caps.MaxBR(),
		WD: caps.MaxWD(),
		LN: caps.MaxLN(),
		DF: caps.BestDF(),
		EC: class2.EC_DISABLE,
		BF: class2.BF_DISABLE,
		ST: caps.MinST(),
	}
	if caps.SupportsVR(class2.VR_FINE) && info.SupportsHighRes() {
		p.VR = class2.VR_FINE
	}
	if br := req.DesiredBR; br >= 0 && uint(br) < p.BR {
		p.BR = uint(br)
	}
	if br := info.MaxSignallingRate(); br < p.BR {
		p.BR = br
	}
	if st := req.DesiredST; st >= 0 && uint(st) > p.ST {
		p.ST = uint(st)
	}
	if df := req.DesiredDF; df >= 0 && uint(df) < p.DF {
		p.DF = uint(df)
	}
	if req.DesiredEC != 0 && caps.SupportsECM() {
		p.EC = class2.EC_ENABLE
	}
	return p
}

// SendClientCapabilitiesOK records the remote's capabilities into info
// and narrows the session parameters to them.
func (s *FaxServer) SendClientCapabilitiesOK(req *FaxRequest, info *machinfo.Info, dis class2.Params) (SendStatus, string) {
	s.clientCaps = dis
	info.SetSupportsHighRes(dis.VR >= class2.VR_FINE)
	info.SetSupportsVRes(1<<dis.VR | 1<<class2.VR_NORMAL)
	info.SetSupports2DEncoding(dis.DF >= class2.DF_2DMR)
	info.SetSupportsMMR(dis.DF >= class2.DF_2DMMR)
	info.SetMaxPageWidthInPixels(dis.PageWidth())
	info.SetMaxPageLengthInMM(dis.PageLength())
	info.SetMinScanlineTime(dis.ST)

	caps := s.fax.FaxCaps()
	p := s.params
	if dis.BR < p.BR {
		p.BR = dis.BR
	}
	for p.BR > 0 && caps.BR&(1<<p.BR) == 0 {
		p.BR--
	}
	if caps.BR&(1<<p.BR) == 0 {
		return SendRetry, "Modem does not support negotiated signalling rate"
	}
	if dis.ST > p.ST {
		p.ST = dis.ST
	}
	if dis.DF < p.DF {
		p.DF = dis.DF
	}
	if p.DF == class2.DF_2DMRUN {
		p.DF = class2.DF_2DMR
	}
	if dis.VR < p.VR {
		p.VR = dis.VR
	}
	if dis.WD < p.WD {
		p.WD = dis.WD
	}
	if dis.LN < p.LN {
		p.LN = dis.LN
	}
	if dis.EC == class2.EC_DISABLE {
		p.EC = class2.EC_DISABLE
	}
	s.params = p
	s.Logf("USE %s", p)
	return SendOK, ""
}

// SendFaxPhaseB sends the pages of one document item. Calls that make
// no progress on the same page count against the job; the third one
// fails it.
func (s *FaxServer) SendFaxPhaseB(req *FaxRequest, item *FaxItem, info *machinfo.Info) (SendStatus, string) {
	filename := item.Path(s.cfg.Hylafax.Spooldir)
	doc, err := tiff.Open(filename)
	if err != nil {
		return SendFailed, fmt.Sprintf("Can not open document file %s", item.Item)
	}
	defer doc.Close()

	s.item = item
	s.docPages = 0
	s.pageStart = time.Now()
	status, emsg := SendOK, ""
	if item.Dirnum < doc.NumDirectories() {
		status, emsg = s.fax.SendPhaseB(doc, item.Dirnum, s.params, req.PageHandling, s)
	}
	if status != SendOK {
		if s.docPages == 0 {
			req.NTries++
			if req.NTries >= maxSamePageTries {
				emsg = appendNotice(emsg, fmt.Sprintf("Giving up after %d attempts to send same page", maxSamePageTries))
				status = SendFailed
			}
		} else {
			req.NTries = 0
		}
		s.Update(req)
		return status, emsg
	}
	req.NTries = 0
	item.Done = true
	s.JobStatus(req, gofaxlib.JobDocumentSent, item.Item)
	s.Update(req)
	return SendOK, ""
}

// SetupPage implements modem.SendHooks
func (s *FaxServer) SetupPage(doc *tiff.File, page int, params *class2.Params) (SendStatus, string) {
	status, emsg := s.SendSetupParams(doc, page, params, s.info)
	if status == SendOK {
		s.pageParams = *params
	}
	return status, emsg
}

// PageSent implements modem.SendHooks
func (s *FaxServer) PageSent(page int) {
	req := s.req
	now := time.Now()
	req.NPages++
	s.docPages++
	s.item.Dirnum = page + 1
	pr := gofaxlib.PageResult{
		Ts:       now,
		Params:   s.pageParams,
		Duration: now.Sub(s.pageStart),
	}
	if d := s.pageDir; d != nil {
		pr.Width = uint(d.Width)
		pr.Length = uint(d.Length)
		for _, n := range d.StripByteCounts {
			pr.Size += uint(n)
		}
	}
	s.result.AddPage(pr)
	s.pageStart = now
	s.JobStatus(req, gofaxlib.JobPageSent, strconv.Itoa(req.NPages))
	s.Update(req)
}

// SendSetupParams checks page of doc against the session parameters
// and adapts them to the page. Pages the remote cannot take need to be
// reformatted.
func (s *FaxServer) SendSetupParams(doc *tiff.File, page int, params *class2.Params, info *machinfo.Info) (SendStatus, string) {
	dir, err := doc.Directory(page)
	if err != nil {
		return SendFailed, fmt.Sprintf("Problem reading document directory %d: %v", page, err)
	}
	s.pageDir = dir

	switch dir.Compression {
	case tiff.CompressionCCITTFAX3, tiff.CompressionCCITTFAX4:
	default:
		return SendFailed, fmt.Sprintf("Document is not in a Group 3 or Group 4 compatible format (compression %d)", dir.Compression)
	}
	if dir.Compression == tiff.CompressionCCITTFAX4 && s.params.DF != class2.DF_2DMMR {
		return SendReformat, "Document was encoded with 2DMMR, but client does not support this data format"
	}
	if dir.Is2D() && s.params.DF == class2.DF_1DMH {
		return SendReformat, "Document was encoded with 2DMR, but client does not support this data format"
	}
	switch {
	case dir.Compression == tiff.CompressionCCITTFAX4:
		params.DF = class2.DF_2DMMR
	case dir.Is2D():
		params.DF = class2.DF_2DMR
	default:
		params.DF = class2.DF_1DMH
	}

	maxWidth := s.clientCaps.PageWidth()
	if info != nil && info.MaxPageWidthInPixels() < maxWidth {
		maxWidth = info.MaxPageWidthInPixels()
	}
	if w := uint(dir.Width); w > maxWidth {
		return SendReformat, fmt.Sprintf("Client does not support document page width, max remote page width %d pixels, image width %d pixels", maxWidth, w)
	}
	params.SetPageWidthInPixels(uint(dir.Width))

	lengthMM := dir.LengthMM()
	maxLength := s.clientCaps.PageLength()
	if info != nil && info.MaxPageLengthInMM() < maxLength {
		maxLength = info.MaxPageLengthInMM()
	}
	// Allow a little slop for pages that are just a bit long
	if maxLength != machinfo.Unlimited && uint(lengthMM) > maxLength+30 {
		return SendReformat, fmt.Sprintf("Client does not support document page length, max remote page length %d mm, image length %d rows (%.2f mm)", maxLength, dir.Length, lengthMM)
	}
	params.SetPageLengthInMM(uint(lengthMM))

	yres := dir.VerticalRes()
	if yres >= 150 && s.clientCaps.VR < class2.VR_FINE {
		return SendReformat, fmt.Sprintf("Client does not support document vertical resolution (%.0f lines/inch)", yres)
	}
	params.SetVerticalRes(yres)
	return SendOK, ""
}

// SendPoll receives the documents requested by the job's poll items
func (s *FaxServer) SendPoll(req *FaxRequest) (SendStatus, string) {
	r := faxrecv.NewReceiver(s.cfg, s.fax, faxrecv.Options{
		DeviceID: s.Srv.DeviceID(),
		Jobid:    req.Jobid,
		Faxq:     s.Opts.Faxq,
		Session:  s.session,
	})
	for _, item := range req.Pending(OpPoll) {
		if s.Aborted() {
			return SendFailed, msgAborted
		}
		docs := r.RecvPoll(s.cfg.Send.LocalIdentifier, item.Addr, item.Item)
		var emsg string
		for _, ri := range docs {
			if ri.Pages > 0 {
				s.JobStatus(req, gofaxlib.JobPollRecvd, ri.Encode())
			}
			if ri.Reason != "" {
				emsg = ri.Reason
			}
		}
		if emsg != "" || len(docs) == 0 {
			if emsg == "" {
				emsg = "Unable to allocate receive file"
			}
			return SendRetry, emsg
		}
		item.Done = true
		s.JobStatus(req, gofaxlib.JobPollDone, item.Addr)
		s.Update(req)
	}
	return SendOK, ""
}

var _ modem.SendHooks = (*FaxServer)(nil)
