package imapserver

import (
	"strings"

	"github.com/oxidemail/imapd/midb"
)

func (c *conn) cmdStore(tag, cmd string, p *parser) {
	c.cmdxStore(false, tag, cmd, p)
}

func (c *conn) cmdUIDStore(tag, cmd string, p *parser) {
	c.cmdxStore(true, tag, cmd, p)
}

// cmdxStore implements STORE/UID STORE. UNCHANGEDSINCE (CONDSTORE) is
// not accepted; this server carries no per-message modseq.
func (c *conn) cmdxStore(isUID bool, tag, cmd string, p *parser) {
	if c.selected == nil {
		xuserErrorf("no mailbox selected")
	}
	if c.selected.readonly {
		xuserErrorf("mailbox open in read-only mode")
	}

	p.xspace()
	nums := p.xnumSet()
	p.xspace()
	var plus, minus bool
	if p.take("+") {
		plus = true
	} else if p.take("-") {
		minus = true
	}
	p.xtake("FLAGS")
	silent := p.take(".SILENT")
	p.xspace()
	var flagstrs []string
	if p.hasPrefix("(") {
		flagstrs = p.xflagList()
	} else {
		flagstrs = append(flagstrs, p.xflag())
		for p.space() {
			flagstrs = append(flagstrs, p.xflag())
		}
	}
	p.xempty()

	uids := c.xnumSetUIDs(isUID, nums)
	wantFlags := flagsFromStrings(flagstrs)

	for _, uid := range uids {
		seq := c.xsequence(uid)

		if minus {
			st, err := opts.MIDB.UnsetFlags(c.ctx(), c.maildir.Dir, c.selected.folder, []uint32{uint32(uid)}, wantFlags)
			c.xcheckMIDB(st, err)
		} else if plus {
			st, err := opts.MIDB.SetFlags(c.ctx(), c.maildir.Dir, c.selected.folder, []uint32{uint32(uid)}, wantFlags)
			c.xcheckMIDB(st, err)
		} else {
			// Replace: unset everything not requested, set what is.
			st, err := opts.MIDB.UnsetFlags(c.ctx(), c.maildir.Dir, c.selected.folder, []uint32{uint32(uid)}, midb.Flags{
				Answered: true, Flagged: true, Deleted: true, Seen: true, Draft: true, Recent: true,
			})
			c.xcheckMIDB(st, err)
			st, err = opts.MIDB.SetFlags(c.ctx(), c.maildir.Dir, c.selected.folder, []uint32{uint32(uid)}, wantFlags)
			c.xcheckMIDB(st, err)
		}

		newFlags, st, err := opts.MIDB.GetFlags(c.ctx(), c.maildir.Dir, c.selected.folder, uint32(uid))
		c.xcheckMIDB(st, err)

		c.selected.items[seq-1].flags = newFlags
		c.broadcast(Event{Kind: EventFlags, Account: c.account, Folder: c.selected.folder, UID: uid, Flags: newFlags})

		if !silent {
			if isUID {
				c.bwritelinef("* %d FETCH (UID %d FLAGS (%s))", seq, uid, flagsList(newFlags))
			} else {
				c.bwritelinef("* %d FETCH (FLAGS (%s))", seq, flagsList(newFlags))
			}
		}
	}
	c.ok(tag, cmd)
}

// flagsFromStrings turns a parsed STORE/APPEND flag-name list into a
// midb.Flags, treating the six system flags specially and everything
// else as a keyword.
func flagsFromStrings(names []string) midb.Flags {
	var f midb.Flags
	for _, name := range names {
		switch strings.ToLower(name) {
		case `\answered`:
			f.Answered = true
		case `\flagged`:
			f.Flagged = true
		case `\deleted`:
			f.Deleted = true
		case `\seen`:
			f.Seen = true
		case `\draft`:
			f.Draft = true
		case `\recent`:
			f.Recent = true
		default:
			f.Keywords = append(f.Keywords, name)
		}
	}
	return f
}
