package imapserver

import "github.com/oxidemail/imapd/internal/mlog"

func (c *conn) cmdExpunge(tag, cmd string, p *parser) {
	p.xempty()
	c.xdoExpunge(tag, cmd, nil)
}

// cmdUIDExpunge implements UID EXPUNGE (RFC 4315): like EXPUNGE, but only
// messages in the given UID set are eligible even if others are also
// \Deleted.
func (c *conn) cmdUIDExpunge(tag, cmd string, p *parser) {
	p.xspace()
	nums := p.xnumSet()
	p.xempty()
	only := c.xnumSetUIDs(true, nums)
	c.xdoExpunge(tag, cmd, only)
}

// xdoExpunge removes every \Deleted message in the selected folder
// (restricted to only, if non-nil), reporting untagged EXPUNGE responses
// in strictly decreasing sequence-number order, per the expunge-ordering
// invariant.
func (c *conn) xdoExpunge(tag, cmd string, only []UID) {
	if c.selected == nil {
		xuserErrorf("no mailbox selected")
	}
	if c.selected.readonly {
		xuserErrorf("mailbox opened read-only")
	}

	deleted, st, err := opts.MIDB.ListDeleted(c.ctx(), c.maildir.Dir, c.selected.folder)
	c.xcheckMIDB(st, err)

	var onlySet map[UID]bool
	if only != nil {
		onlySet = make(map[UID]bool, len(only))
		for _, u := range only {
			onlySet[u] = true
		}
	}

	var uids []uint32
	var mids []string
	for _, it := range deleted {
		if onlySet != nil && !onlySet[UID(it.UID)] {
			continue
		}
		uids = append(uids, it.UID)
		mids = append(mids, it.Mid)
	}
	if len(uids) == 0 {
		c.ok(tag, cmd)
		return
	}

	st, err = opts.MIDB.RemoveMail(c.ctx(), c.maildir.Dir, c.selected.folder, uids)
	c.xcheckMIDB(st, err)

	// Sequence numbers shift down as each message is removed, so report
	// and apply removals from the highest sequence number to the lowest.
	type removal struct {
		seq msgseq
		mid string
	}
	var removals []removal
	for i, u := range uids {
		seq := c.sequence(UID(u))
		if seq > 0 {
			removals = append(removals, removal{seq, mids[i]})
		}
	}
	for i := 0; i < len(removals); i++ {
		for j := i + 1; j < len(removals); j++ {
			if removals[j].seq > removals[i].seq {
				removals[i], removals[j] = removals[j], removals[i]
			}
		}
	}

	for _, r := range removals {
		c.selected.removeSeq(r.seq)
		c.bwritelinef("* %d EXPUNGE", r.seq)
		if err := c.maildir.RemoveEML(r.mid); err != nil {
			c.log.Errorx("removing expunged message file", err, mlog.Field("mid", r.mid))
		}
	}
	for _, u := range uids {
		c.broadcast(Event{Kind: EventExpunge, Account: c.account, Folder: c.selected.folder, UID: UID(u)})
	}

	c.ok(tag, cmd)
}
