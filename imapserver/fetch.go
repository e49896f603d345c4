package imapserver

import (
	"bytes"
	"fmt"
	"mime"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/oxidemail/imapd/internal/mlog"
	"github.com/oxidemail/imapd/maildir"
	"github.com/oxidemail/imapd/midb"
)

func (c *conn) cmdFetch(tag, cmd string, p *parser) {
	c.cmdxFetch(false, tag, cmd, p)
}

func (c *conn) cmdUIDFetch(tag, cmd string, p *parser) {
	c.cmdxFetch(true, tag, cmd, p)
}

func (c *conn) cmdxFetch(isUID bool, tag, cmd string, p *parser) {
	if c.selected == nil {
		xuserErrorf("no mailbox selected")
	}
	p.xspace()
	nums := p.xnumSet()
	p.xspace()
	plan := p.xfetchAtts()
	p.xempty()

	uids := c.xnumSetUIDs(isUID, nums)

	var markSeen bool
	for _, att := range plan.atts {
		switch att.field {
		case "BODY":
			if att.section != nil && !att.peek {
				markSeen = true
			}
		case "RFC822", "RFC822.TEXT":
			markSeen = true
		}
	}
	markSeen = markSeen && !c.selected.readonly

	for _, uid := range uids {
		seq := c.xsequence(uid)

		var mi midb.MITEM
		if plan.needDetail {
			detail, st, err := opts.MIDB.FetchDetailUID(c.ctx(), c.maildir.Dir, c.selected.folder, fmt.Sprintf("%d", uid))
			c.xcheckMIDB(st, err)
			if len(detail) == 0 {
				continue // Message gone (expunged by another session); skip silently.
			}
			mi = detail[0]
		} else {
			simple, st, err := opts.MIDB.FetchSimpleUID(c.ctx(), c.maildir.Dir, c.selected.folder, fmt.Sprintf("%d", uid))
			c.xcheckMIDB(st, err)
			if len(simple) == 0 {
				continue // Message gone (expunged by another session); skip silently.
			}
			mi = simple[0]
		}

		var raw []byte
		if plan.needData {
			b, rerr := os.ReadFile(c.maildir.EMLPath(mi.Mid))
			if rerr != nil {
				c.log.Errorx("reading message file for fetch", rerr, mlog.Field("mid", mi.Mid))
				continue
			}
			raw = b
		}

		var parts []string
		for _, att := range plan.atts {
			if s := c.renderFetchAtt(att, uid, mi, raw); s != "" {
				parts = append(parts, s)
			}
		}

		flagsChanged := false
		if markSeen && !mi.Flags.Seen {
			st, err := opts.MIDB.SetFlags(c.ctx(), c.maildir.Dir, c.selected.folder, []uint32{uint32(uid)}, midb.Flags{Seen: true})
			c.xcheckMIDB(st, err)
			mi.Flags.Seen = true
			flagsChanged = true
		}

		// Clear \Recent after rendering regardless of which attribute was
		// requested, as long as the session can write: FETCH is the point
		// at which a message stops being "new" to this mailbox.
		if !c.selected.readonly && mi.Flags.Recent {
			st, err := opts.MIDB.UnsetFlags(c.ctx(), c.maildir.Dir, c.selected.folder, []uint32{uint32(uid)}, midb.Flags{Recent: true})
			c.xcheckMIDB(st, err)
			mi.Flags.Recent = false
			flagsChanged = true
		}

		if flagsChanged {
			c.selected.items[seq-1].flags = mi.Flags
			parts = append(parts, "FLAGS ("+flagsList(mi.Flags)+")")
			c.broadcast(Event{Kind: EventFlags, Account: c.account, Folder: c.selected.folder, UID: uid, Flags: mi.Flags})
		}

		c.bwritelinef("* %d FETCH (%s)", seq, strings.Join(parts, " "))
	}
	c.ok(tag, cmd)
}

func (c *conn) renderFetchAtt(att fetchAtt, uid UID, mi midb.MITEM, raw []byte) string {
	switch att.field {
	case "UID":
		return fmt.Sprintf("UID %d", uid)
	case "FLAGS":
		return "FLAGS (" + flagsList(mi.Flags) + ")"
	case "INTERNALDATE":
		t, _ := maildir.InternalDateFromMid(mi.Mid)
		return "INTERNALDATE " + packDateTime(t)
	case "RFC822.SIZE":
		return fmt.Sprintf("RFC822.SIZE %d", len(raw))
	case "RFC822":
		return "RFC822 " + packLiteral(raw)
	case "RFC822.HEADER":
		return "RFC822.HEADER " + packLiteral(rawHeader(raw))
	case "RFC822.TEXT":
		return "RFC822.TEXT " + packLiteral(rawBody(raw))
	case "ENVELOPE":
		return "ENVELOPE " + packEnvelope(raw)
	case "BODYSTRUCTURE":
		return "BODYSTRUCTURE " + packBodyStructureImpl(raw, true)
	case "BODY":
		if att.section == nil {
			return "BODY " + packBodyStructureImpl(raw, false)
		}
		return renderBodySection(att, raw)
	}
	return ""
}

// renderBodySection renders a BODY[section]<offset.count> response,
// clamping the requested partial range against the section's actual
// length: an offset at or beyond the end of the section yields NIL, and
// a count reaching past the end is silently truncated to what's there.
func renderBodySection(att fetchAtt, raw []byte) string {
	data := sectionBytes(att.section, raw)
	label := "BODY[" + sectionLabel(att.section) + "]"
	if att.partial == nil {
		return label + " " + packLiteral(data)
	}
	off := int(att.partial.offset)
	if off >= len(data) {
		return fmt.Sprintf("%s<%d> NIL", label, att.partial.offset)
	}
	end := off + int(att.partial.count)
	if end > len(data) {
		end = len(data)
	}
	return fmt.Sprintf("%s<%d> %s", label, att.partial.offset, packLiteral(data[off:end]))
}

func sectionLabel(s *sectionSpec) string {
	if s == nil || s.msgtext == nil {
		return ""
	}
	switch s.msgtext.s {
	case "HEADER.FIELDS", "HEADER.FIELDS.NOT":
		return s.msgtext.s + " (" + strings.Join(s.msgtext.headers, " ") + ")"
	default:
		return s.msgtext.s
	}
}

// sectionBytes extracts the bytes for a BODY[...] section. Only
// top-level sections (no nested MIME part numbers) are supported; a
// nested part path returns the whole message unchanged.
func sectionBytes(s *sectionSpec, raw []byte) []byte {
	if s == nil || s.msgtext == nil {
		return raw
	}
	switch s.msgtext.s {
	case "HEADER":
		return rawHeader(raw)
	case "HEADER.FIELDS":
		return filterHeaderFields(rawHeader(raw), s.msgtext.headers, false)
	case "HEADER.FIELDS.NOT":
		return filterHeaderFields(rawHeader(raw), s.msgtext.headers, true)
	case "TEXT":
		return rawBody(raw)
	}
	return raw
}

func filterHeaderFields(header []byte, names []string, exclude bool) []byte {
	msg, err := mail.ReadMessage(bytes.NewReader(header))
	if err != nil {
		return header
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = true
	}
	var out strings.Builder
	for k, vs := range msg.Header {
		if want[strings.ToLower(k)] == exclude {
			continue
		}
		for _, v := range vs {
			out.WriteString(k)
			out.WriteString(": ")
			out.WriteString(v)
			out.WriteString("\r\n")
		}
	}
	out.WriteString("\r\n")
	return []byte(out.String())
}

func rawHeader(raw []byte) []byte {
	if i := headerBoundary(raw); i >= 0 {
		return raw[:i]
	}
	return raw
}

func rawBody(raw []byte) []byte {
	if i := headerBoundary(raw); i >= 0 {
		return raw[i:]
	}
	return nil
}

// headerBoundary returns the index just past the header/body blank
// line, or -1 if none is found.
func headerBoundary(raw []byte) int {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return i + 4
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return i + 2
	}
	return -1
}

func packLiteral(b []byte) string {
	return fmt.Sprintf("{%d}\r\n%s", len(b), string(b))
}

func flagsList(f midb.Flags) string {
	var l []string
	if f.Answered {
		l = append(l, `\Answered`)
	}
	if f.Flagged {
		l = append(l, `\Flagged`)
	}
	if f.Deleted {
		l = append(l, `\Deleted`)
	}
	if f.Seen {
		l = append(l, `\Seen`)
	}
	if f.Draft {
		l = append(l, `\Draft`)
	}
	l = append(l, f.Keywords...)
	return strings.Join(l, " ")
}

func packEnvelope(raw []byte) string {
	msg, err := mail.ReadMessage(bytes.NewReader(rawHeader(raw)))
	if err != nil {
		return `(NIL NIL NIL NIL NIL NIL NIL NIL NIL NIL)`
	}
	h := msg.Header
	nstr := func(s string) string {
		if s == "" {
			return "NIL"
		}
		return `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	addrList := func(field string) string {
		addrs, _ := h.AddressList(field)
		if len(addrs) == 0 {
			return "NIL"
		}
		var parts []string
		for _, a := range addrs {
			user, host := splitAddr(a.Address)
			parts = append(parts, fmt.Sprintf("(%s NIL %s %s)", nstr(a.Name), nstr(user), nstr(host)))
		}
		return "(" + strings.Join(parts, "") + ")"
	}
	from := addrList("From")
	sender := from
	if s := addrList("Sender"); s != "NIL" {
		sender = s
	}
	replyTo := from
	if r := addrList("Reply-To"); r != "NIL" {
		replyTo = r
	}
	return fmt.Sprintf("(%s %s %s %s %s %s %s %s %s %s)",
		nstr(h.Get("Date")), nstr(mimeDecode(h.Get("Subject"))), from, sender, replyTo,
		addrList("To"), addrList("Cc"), addrList("Bcc"), nstr(h.Get("In-Reply-To")), nstr(h.Get("Message-Id")))
}

func mimeDecode(s string) string {
	dec := new(mime.WordDecoder)
	if d, err := dec.DecodeHeader(s); err == nil {
		return d
	}
	return s
}

func splitAddr(addr string) (user, host string) {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[:i], addr[i+1:]
	}
	return addr, ""
}

// packBodyStructureImpl renders a minimal single-part BODYSTRUCTURE/BODY:
// the outer type/subtype/parameters/encoding/size (and line count for
// text/*), without descending into a multipart message's child parts.
func packBodyStructureImpl(raw []byte, extension bool) string {
	msg, err := mail.ReadMessage(bytes.NewReader(rawHeader(raw)))
	ctype := "text/plain"
	var cte string
	if err == nil {
		if v := msg.Header.Get("Content-Type"); v != "" {
			ctype = v
		}
		cte = msg.Header.Get("Content-Transfer-Encoding")
	}
	mt, params, perr := mime.ParseMediaType(ctype)
	if perr != nil {
		mt, params = "text/plain", map[string]string{}
	}
	typ, sub, _ := strings.Cut(strings.ToUpper(mt), "/")
	body := rawBody(raw)
	enc := "7BIT"
	if cte != "" {
		enc = strings.ToUpper(cte)
	}
	var paramParts []string
	for k, v := range params {
		paramParts = append(paramParts, fmt.Sprintf(`"%s" "%s"`, strings.ToUpper(k), v))
	}
	paramList := "NIL"
	if len(paramParts) > 0 {
		paramList = "(" + strings.Join(paramParts, " ") + ")"
	}
	s := fmt.Sprintf(`"%s" "%s" %s NIL NIL "%s" %d`, typ, sub, paramList, enc, len(body))
	if typ == "TEXT" {
		s += fmt.Sprintf(" %d", bytes.Count(body, []byte("\n")))
	}
	if extension {
		s += " NIL NIL NIL NIL"
	}
	return "(" + s + ")"
}

func packDateTime(t time.Time) string {
	return `"` + t.Format("02-Jan-2006 15:04:05 -0700") + `"`
}
