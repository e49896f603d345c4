package imapserver

import (
	"time"

	"github.com/oxidemail/imapd/midb"
)

func (c *conn) cmdCopy(tag, cmd string, p *parser) {
	c.cmdxCopy(false, tag, cmd, p)
}

func (c *conn) cmdUIDCopy(tag, cmd string, p *parser) {
	c.cmdxCopy(true, tag, cmd, p)
}

// cmdxCopy implements COPY/UID COPY. MIDB's copy_mail verb copies one
// message at a time and, like insert_mail, assigns the destination UID
// asynchronously, so each message is copied and its destination UID
// polled for individually. If any copy in the set fails or its
// destination UID never shows up, the messages already copied to dst
// are removed before the error is reported, so a failed COPY never
// leaves a partial result behind.
func (c *conn) cmdxCopy(isUID bool, tag, cmd string, p *parser) {
	if c.selected == nil {
		xuserErrorf("no mailbox selected")
	}

	p.xspace()
	nums := p.xnumSet()
	p.xspace()
	mailbox := p.xmailbox()
	p.xempty()

	dst := wireToInternal(mailbox)
	if dst == c.selected.folder {
		xuserErrorf("cannot copy to currently selected mailbox")
	}

	uids := c.xnumSetUIDs(isUID, nums)
	if len(uids) == 0 {
		xuserErrorf("no matching messages to copy")
	}

	if _, st, err := opts.MIDB.SummaryFolder(c.ctx(), c.maildir.Dir, dst); err != nil || st != midb.StatusOK {
		xusercodeErrorf("TRYCREATE", "destination mailbox does not exist")
	}

	var srcUIDs, dstUIDs []UID
	rollback := func() {
		if len(dstUIDs) == 0 {
			return
		}
		raw := make([]uint32, len(dstUIDs))
		for i, u := range dstUIDs {
			raw[i] = uint32(u)
		}
		opts.MIDB.RemoveMail(c.ctx(), c.maildir.Dir, dst, raw)
	}

	for _, uid := range uids {
		seq := c.xsequence(uid)
		mid := c.selected.items[seq-1].mid

		st, err := opts.MIDB.CopyMail(c.ctx(), c.maildir.Dir, c.selected.folder, uint32(uid), dst)
		if err != nil || st != midb.StatusOK {
			rollback()
			c.xcheckMIDB(st, err)
		}

		dstUID, ok := c.pollUID(dst, mid, 10, 500*time.Millisecond)
		if !ok {
			rollback()
			xuserErrorf("copy failed: destination message %s never appeared in %s", mid, dst)
		}
		srcUIDs = append(srcUIDs, uid)
		dstUIDs = append(dstUIDs, dstUID)
	}

	summary, st, err := opts.MIDB.SummaryFolder(c.ctx(), c.maildir.Dir, dst)
	c.xcheckMIDB(st, err)

	c.broadcast(Event{Kind: EventExists, Account: c.account, Folder: dst})

	c.writeresultf("%s OK [COPYUID %d %s %s] copied", tag, summary.UIDValidity, compactUIDSet(srcUIDs).String(), compactUIDSet(dstUIDs).String())
}
