package imapserver

import "github.com/oxidemail/imapd/internal/mlog"

func (c *conn) cmdSelect(tag, cmd string, p *parser) {
	c.cmdSelectExamine(tag, cmd, p, false)
}

func (c *conn) cmdExamine(tag, cmd string, p *parser) {
	c.cmdSelectExamine(tag, cmd, p, true)
}

func (c *conn) cmdSelectExamine(tag, cmd string, p *parser, readonly bool) {
	p.xspace()
	mailbox := p.xmailbox()
	p.xempty()

	internal := wireToInternal(mailbox)

	summary, st, err := opts.MIDB.SummaryFolder(c.ctx(), c.maildir.Dir, internal)
	c.xcheckMIDB(st, err)

	items, st, err := opts.MIDB.FetchSimpleUID(c.ctx(), c.maildir.Dir, internal, "1:*")
	c.xcheckMIDB(st, err)

	c.unselect()

	view := newSelectedView(internal, readonly)
	mitems := make([]mitem, len(items))
	for i, it := range items {
		mitems[i] = mitem{uid: UID(it.UID), mid: it.Mid, flags: it.Flags}
	}
	view.reset(mitems)
	view.uidvalidity = summary.UIDValidity
	view.uidnext = summary.UIDNext

	c.selected = view
	c.events = opts.Hub.Register(c, c.account, internal)
	c.state = stateSelected

	c.bwritelinef("* %d EXISTS", len(view.items))
	c.bwritelinef("* %d RECENT", view.nRecent)
	if view.firstUnseen > 0 {
		c.bwritelinef("* OK [UNSEEN %d] first unseen message", view.firstUnseen)
	}
	c.bwritelinef("* OK [UIDVALIDITY %d] uids valid", view.uidvalidity)
	c.bwritelinef("* OK [UIDNEXT %d] next uid", view.uidnext)
	c.bwritelinef(`* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`)

	code := "READ-WRITE"
	if readonly {
		code = "READ-ONLY"
	}
	c.writelinef("%s OK [%s] %s done", tag, code, cmd)
}

func (c *conn) cmdClose(tag, cmd string, p *parser) {
	p.xempty()
	c.xexpungeSelected()
	c.unselect()
	c.state = stateAuthenticated
	c.ok(tag, cmd)
}

func (c *conn) cmdUnselect(tag, cmd string, p *parser) {
	p.xempty()
	c.unselect()
	c.state = stateAuthenticated
	c.ok(tag, cmd)
}

func (c *conn) cmdCheck(tag, cmd string, p *parser) {
	p.xempty()
	if c.selected != nil {
		c.refreshSelected(false)
	}
	c.ok(tag, cmd)
}

// xexpungeSelected permanently removes every \Deleted message in the
// selected folder without reporting untagged EXPUNGE responses, per
// CLOSE's "silent expunge" semantics.
func (c *conn) xexpungeSelected() {
	if c.selected == nil || c.selected.readonly {
		return
	}
	deleted, st, err := opts.MIDB.ListDeleted(c.ctx(), c.maildir.Dir, c.selected.folder)
	c.xcheckMIDB(st, err)
	if len(deleted) == 0 {
		return
	}
	uids := make([]uint32, len(deleted))
	for i, it := range deleted {
		uids[i] = it.UID
	}
	st, err = opts.MIDB.RemoveMail(c.ctx(), c.maildir.Dir, c.selected.folder, uids)
	c.xcheckMIDB(st, err)
	for _, it := range deleted {
		if err := c.maildir.RemoveEML(it.Mid); err != nil {
			c.log.Errorx("removing expunged message file", err, mlog.Field("mid", it.Mid))
		}
		c.broadcast(Event{Kind: EventExpunge, Account: c.account, Folder: c.selected.folder, UID: UID(it.UID)})
	}
}
