package imapserver

import "strings"

func (c *conn) cmdCreate(tag, cmd string, p *parser) {
	p.xspace()
	mailbox := p.xmailbox()
	p.xempty()

	if strings.ContainsAny(mailbox, "*%") {
		xsyntaxErrorf("mailbox name must not contain * or %%")
	}
	if mailbox == "" {
		xsyntaxErrorf("empty mailbox name")
	}

	internal := wireToInternal(mailbox)
	if isSpecialInternal(internal) {
		xuserErrorf("mailbox already exists")
	}

	st, err := opts.MIDB.MakeFolder(c.ctx(), c.maildir.Dir, internal)
	c.xcheckMIDB(st, err)

	c.broadcast(Event{Kind: EventMailbox, Account: c.account, Folder: internal})
	c.ok(tag, cmd)
}

func (c *conn) cmdDelete(tag, cmd string, p *parser) {
	p.xspace()
	mailbox := p.xmailbox()
	p.xempty()

	internal := wireToInternal(mailbox)
	if internal == "inbox" {
		xuserErrorf("cannot delete INBOX")
	}
	if c.selected != nil && c.selected.folder == internal {
		xuserErrorf("cannot delete the selected mailbox")
	}

	st, err := opts.MIDB.RemoveFolder(c.ctx(), c.maildir.Dir, internal)
	c.xcheckMIDB(st, err)

	c.broadcast(Event{Kind: EventMailbox, Account: c.account, Folder: internal})
	c.ok(tag, cmd)
}

func (c *conn) cmdRename(tag, cmd string, p *parser) {
	p.xspace()
	src := p.xmailbox()
	p.xspace()
	dst := p.xmailbox()
	p.xempty()

	if strings.ContainsAny(dst, "*%") {
		xsyntaxErrorf("mailbox name must not contain * or %%")
	}

	srcInternal := wireToInternal(src)
	dstInternal := wireToInternal(dst)
	if srcInternal == "inbox" {
		xuserErrorf("cannot rename INBOX")
	}
	if isSpecialInternal(dstInternal) {
		xuserErrorf("mailbox already exists")
	}

	st, err := opts.MIDB.RenameFolder(c.ctx(), c.maildir.Dir, srcInternal, dstInternal)
	c.xcheckMIDB(st, err)

	if c.selected != nil && c.selected.folder == srcInternal {
		c.selected.folder = dstInternal
	}

	c.broadcast(Event{Kind: EventMailbox, Account: c.account, Folder: srcInternal})
	c.broadcast(Event{Kind: EventMailbox, Account: c.account, Folder: dstInternal})
	c.ok(tag, cmd)
}
