package imapserver

import (
	"fmt"
	"strings"
)

func (c *conn) cmdSubscribe(tag, cmd string, p *parser) {
	p.xspace()
	mailbox := p.xmailbox()
	p.xempty()

	internal := wireToInternal(mailbox)
	st, err := opts.MIDB.SubscribeFolder(c.ctx(), c.maildir.Dir, internal)
	c.xcheckMIDB(st, err)
	c.ok(tag, cmd)
}

func (c *conn) cmdUnsubscribe(tag, cmd string, p *parser) {
	p.xspace()
	mailbox := p.xmailbox()
	p.xempty()

	internal := wireToInternal(mailbox)
	st, err := opts.MIDB.UnsubscribeFolder(c.ctx(), c.maildir.Dir, internal)
	c.xcheckMIDB(st, err)
	c.ok(tag, cmd)
}

func (c *conn) cmdLsub(tag, cmd string, p *parser) {
	p.xspace()
	ref := p.xmailbox()
	p.xspace()
	pattern := p.xlistMailbox()
	p.xempty()

	subs, st, err := opts.MIDB.EnumSubscriptions(c.ctx(), c.maildir.Dir)
	c.xcheckMIDB(st, err)

	matcher := xmailboxPatternMatcher(ref, []string{pattern})
	for _, internal := range subs {
		wire := internalToWire(internal)
		if !matcher.MatchString(wire) {
			continue
		}
		c.bwritelinef(`* LSUB () "/" %s`, mailboxt(wire).pack(c))
	}
	c.ok(tag, cmd)
}

func (c *conn) cmdNamespace(tag, cmd string, p *parser) {
	p.xempty()
	c.bwritelinef(`* NAMESPACE (("" "/")) NIL NIL`)
	c.ok(tag, cmd)
}

func (c *conn) cmdStatus(tag, cmd string, p *parser) {
	p.xspace()
	mailbox := p.xmailbox()
	p.xspace()
	atts := c.xstatusAttList(p)
	p.xempty()

	internal := wireToInternal(mailbox)
	summary, st, err := opts.MIDB.SummaryFolder(c.ctx(), c.maildir.Dir, internal)
	c.xcheckMIDB(st, err)

	var parts []string
	for _, att := range atts {
		switch att {
		case "MESSAGES":
			parts = append(parts, "MESSAGES", fmt.Sprintf("%d", summary.Exists))
		case "RECENT":
			parts = append(parts, "RECENT", fmt.Sprintf("%d", summary.Recent))
		case "UIDNEXT":
			parts = append(parts, "UIDNEXT", fmt.Sprintf("%d", summary.UIDNext))
		case "UIDVALIDITY":
			parts = append(parts, "UIDVALIDITY", fmt.Sprintf("%d", summary.UIDValidity))
		case "UNSEEN":
			parts = append(parts, "UNSEEN", fmt.Sprintf("%d", summary.Unseen))
		}
	}
	c.bwritelinef("* STATUS %s (%s)", mailboxt(mailbox).pack(c), strings.Join(parts, " "))
	c.ok(tag, cmd)
}

func (c *conn) xstatusAttList(p *parser) []string {
	p.xtake("(")
	var atts []string
	if !p.hasPrefix(")") {
		atts = append(atts, p.xstatusAtt())
		for p.take(" ") {
			atts = append(atts, p.xstatusAtt())
		}
	}
	p.xtake(")")
	return atts
}

