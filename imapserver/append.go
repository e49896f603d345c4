package imapserver

import (
	"bytes"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/oxidemail/imapd/internal/mlog"
	"github.com/oxidemail/imapd/maildir"
	"github.com/oxidemail/imapd/midb"
)

// cmdAppend implements the two-phase APPEND flow: a scratch file in
// maildir/tmp/ is written while the literal arrives, then on success
// the bytes are moved into maildir/eml/ and MIDB is told about the new
// message. Any failure past the scratch-file-open point unlinks
// whatever was written so far. c.inflightAppend is set while the scratch
// file exists and is cleared only when the command returns, after the
// scratch file has been removed.
func (c *conn) cmdAppend(tag, cmd string, p *parser) {
	p.xspace()
	mailbox := p.xmailbox()
	p.xspace()

	var flagstrs []string
	if p.hasPrefix("(") {
		flagstrs = p.xflagList()
		p.xspace()
	}

	var tm time.Time
	if p.hasPrefix(`"`) {
		tm = p.xdateTime()
		p.xspace()
	} else {
		tm = time.Now()
	}

	size, sync := p.xliteralSize(0, false)

	internal := wireToInternal(mailbox)
	if _, st, err := opts.MIDB.SummaryFolder(c.ctx(), c.maildir.Dir, internal); err != nil || st != midb.StatusOK {
		xusercodeErrorf("TRYCREATE", "mailbox does not exist")
	}

	if sync {
		c.writelinef("+ ")
	}

	mid := maildir.NewMidWithDate(opts.Config.HostID, tm)
	hdr := maildir.ScratchHeader{Mailbox: internal, FlagsRaw: strings.Join(flagstrs, " "), InternalDateRaw: tm.Format(time.RFC3339)}
	scratch, err := c.maildir.BeginAppend(mid, hdr)
	if err != nil {
		// Still must drain the literal bytes even though we can't keep them.
		io.CopyN(io.Discard, c.br, size)
		xuserErrorf("could not begin append: %v", err)
	}
	c.inflightAppend = &appendState{mid: mid}
	defer func() { c.inflightAppend = nil }()

	defer c.xtrace(mlog.LevelTracedata)()
	n, cerr := io.Copy(scratch.File, io.LimitReader(c.br, size))
	c.xtrace(mlog.LevelTrace)
	scratch.File.Close()
	if cerr != nil || n != size {
		c.maildir.RemoveScratch(mid)
		xuserErrorf("reading literal: %v", cerr)
	}
	p.xempty()

	_, rawMsg, rf, rerr := c.maildir.ReadScratch(mid)
	if rerr != nil {
		c.maildir.RemoveScratch(mid)
		xuserErrorf("reading back scratch file: %v", rerr)
	}
	msg, merr := io.ReadAll(rawMsg)
	rf.Close()
	if merr != nil {
		c.maildir.RemoveScratch(mid)
		xuserErrorf("reading back scratch file: %v", merr)
	}

	if _, perr := mail.ReadMessage(bytes.NewReader(msg)); perr != nil {
		c.maildir.RemoveScratch(mid)
		xuserErrorf("cannot parse body")
	}

	if err := c.maildir.FinalizeAppend(mid, msg); err != nil {
		c.maildir.RemoveScratch(mid)
		c.maildir.RemoveEML(mid)
		xuserErrorf("writing message: %v", err)
	}
	c.maildir.RemoveScratch(mid)

	flags := flagsFromStrings(flagstrs)
	st, ierr := opts.MIDB.InsertMail(c.ctx(), c.maildir.Dir, internal, mid, flags)
	if ierr != nil || st != midb.StatusOK {
		c.maildir.RemoveEML(mid)
		c.xcheckMIDB(st, ierr)
	}

	c.broadcast(Event{Kind: EventExists, Account: c.account, Folder: internal})
	if c.selected != nil && c.selected.folder == internal {
		c.refreshSelected(true)
	}

	// insert_mail applies asynchronously; poll get_uid for the UID MIDB
	// assigned rather than assuming it is visible the instant this call
	// returns OK.
	uid, ok := c.pollUID(internal, mid, 10, 50*time.Millisecond)
	summary, st, serr := opts.MIDB.SummaryFolder(c.ctx(), c.maildir.Dir, internal)
	if ok && serr == nil && st == midb.StatusOK && summary.UIDValidity != 0 {
		c.writeresultf("%s OK [APPENDUID %d %d] appended", tag, summary.UIDValidity, uid)
	} else {
		c.writeresultf("%s OK appended", tag)
	}
}
