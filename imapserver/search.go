package imapserver

import (
	"strings"

	"github.com/oxidemail/imapd/midb"
)

func (c *conn) cmdSearch(tag, cmd string, p *parser) {
	c.cmdxSearch(false, tag, cmd, p)
}

func (c *conn) cmdUIDSearch(tag, cmd string, p *parser) {
	c.cmdxSearch(true, tag, cmd, p)
}

// cmdxSearch implements SEARCH/UID SEARCH by forwarding the parsed
// charset and raw search-key tokens to MIDB's search/search_uid verb and
// rendering whatever number list it returns; this server evaluates no
// search criteria itself.
func (c *conn) cmdxSearch(isUID bool, tag, cmd string, p *parser) {
	if c.selected == nil {
		xuserErrorf("no mailbox selected")
	}

	charset := "US-ASCII"
	p.xspace()
	if p.take("CHARSET ") {
		charset = strings.ToUpper(p.xastring())
		if charset != "US-ASCII" && charset != "UTF-8" {
			xusercodeErrorf("BADCHARSET", "only US-ASCII and UTF-8 supported")
		}
		p.xspace()
	}

	argv := strings.Fields(p.xtakeall())
	if len(argv) == 0 {
		xsyntaxErrorf("missing search key")
	}

	var result string
	var st midb.Status
	var err error
	if isUID {
		result, st, err = opts.MIDB.SearchUID(c.ctx(), c.maildir.Dir, c.selected.folder, charset, argv)
	} else {
		result, st, err = opts.MIDB.Search(c.ctx(), c.maildir.Dir, c.selected.folder, charset, argv)
	}
	c.xcheckMIDB(st, err)

	c.bwritelinef("* SEARCH%s", searchNumbers(result))
	c.ok(tag, cmd)
}

func searchNumbers(result string) string {
	result = strings.TrimSpace(result)
	if result == "" {
		return ""
	}
	return " " + result
}
