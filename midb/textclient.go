package midb

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TextClient is the production Client implementation: a pool of
// line-oriented TCP connections to a MIDB instance. Requests are framed as
// a command verb followed by tab-separated arguments on one line; MIDB
// replies with a single result line starting with the status code,
// followed (for multi-row replies) by an XARRAY-style block terminated by
// a lone ".".
type TextClient struct {
	addr           string
	dialTimeout    time.Duration
	requestTimeout time.Duration

	mu   sync.Mutex
	pool []*textConn
	max  int
}

type textConn struct {
	nc net.Conn
	br *bufio.Reader
}

// NewTextClient returns a client dialing addr on demand, keeping up to
// poolSize idle connections around for reuse.
func NewTextClient(addr string, dialTimeout, requestTimeout time.Duration, poolSize int) *TextClient {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	if poolSize <= 0 {
		poolSize = 8
	}
	return &TextClient{addr: addr, dialTimeout: dialTimeout, requestTimeout: requestTimeout, max: poolSize}
}

func (c *TextClient) get(ctx context.Context) (*textConn, error) {
	c.mu.Lock()
	if n := len(c.pool); n > 0 {
		tc := c.pool[n-1]
		c.pool = c.pool[:n-1]
		c.mu.Unlock()
		return tc, nil
	}
	c.mu.Unlock()

	d := net.Dialer{Timeout: c.dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	return &textConn{nc: nc, br: bufio.NewReader(nc)}, nil
}

func (c *TextClient) put(tc *textConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pool) >= c.max {
		tc.nc.Close()
		return
	}
	c.pool = append(c.pool, tc)
}

func (c *TextClient) drop(tc *textConn) {
	tc.nc.Close()
}

// call sends verb plus args (tab-separated) as one line, and reads a
// single result line of the form "<status>[\t<text>]". A status field that
// is not one of the known values is reported as a result error with the
// whole line as text; no errno is parsed from the line.
func (c *TextClient) call(ctx context.Context, verb string, args ...string) (status Status, text string, err error) {
	tc, err := c.get(ctx)
	if err != nil {
		return StatusNoServer, "", err
	}

	deadline := time.Now().Add(c.requestTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	tc.nc.SetDeadline(deadline)

	line := verb
	if len(args) > 0 {
		line += "\t" + strings.Join(args, "\t")
	}
	if _, err := fmt.Fprintf(tc.nc, "%s\r\n", line); err != nil {
		c.drop(tc)
		return StatusNoServer, "", err
	}

	resp, err := tc.br.ReadString('\n')
	if err != nil {
		c.drop(tc)
		return StatusNoServer, "", err
	}
	resp = strings.TrimRight(resp, "\r\n")

	st, rest := parseStatusLine(resp)
	c.put(tc)
	return st, rest, nil
}

// callRows is like call but additionally reads an XARRAY block: lines
// until a lone "." terminator, each line tab-separated fields for one row.
func (c *TextClient) callRows(ctx context.Context, verb string, args ...string) (status Status, rows [][]string, err error) {
	tc, err := c.get(ctx)
	if err != nil {
		return StatusNoServer, nil, err
	}

	deadline := time.Now().Add(c.requestTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	tc.nc.SetDeadline(deadline)

	line := verb
	if len(args) > 0 {
		line += "\t" + strings.Join(args, "\t")
	}
	if _, err := fmt.Fprintf(tc.nc, "%s\r\n", line); err != nil {
		c.drop(tc)
		return StatusNoServer, nil, err
	}

	resp, err := tc.br.ReadString('\n')
	if err != nil {
		c.drop(tc)
		return StatusNoServer, nil, err
	}
	st, _ := parseStatusLine(strings.TrimRight(resp, "\r\n"))
	if st != StatusOK {
		c.put(tc)
		return st, nil, nil
	}

	for {
		l, err := tc.br.ReadString('\n')
		if err != nil {
			c.drop(tc)
			return StatusNoServer, nil, err
		}
		l = strings.TrimRight(l, "\r\n")
		if l == "." {
			break
		}
		rows = append(rows, strings.Split(l, "\t"))
	}
	c.put(tc)
	return StatusOK, rows, nil
}

func parseStatusLine(line string) (Status, string) {
	parts := strings.SplitN(line, "\t", 2)
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}
	switch parts[0] {
	case "OK":
		return StatusOK, rest
	case "NO_SERVER":
		return StatusNoServer, rest
	case "RDWR_ERROR":
		return StatusRDWRError, rest
	case "RESULT_ERROR":
		return StatusResultError, rest
	case "LOCAL_ENOMEM":
		return StatusLocalENOMEM, rest
	case "TOO_MANY_RESULTS":
		return StatusTooManyResults, rest
	}
	return StatusResultError, line
}

func rowToMITEM(row []string) MITEM {
	var m MITEM
	if len(row) > 0 {
		if v, err := strconv.ParseUint(row[0], 10, 32); err == nil {
			m.UID = uint32(v)
		}
	}
	if len(row) > 1 {
		m.Mid = row[1]
	}
	if len(row) > 2 {
		m.Flags = parseFlagsField(row[2])
	}
	if len(row) > 3 {
		m.Digest = row[3]
	}
	return m
}

func parseFlagsField(s string) Flags {
	var f Flags
	for _, tok := range strings.Split(s, ",") {
		switch tok {
		case "\\Seen":
			f.Seen = true
		case "\\Answered":
			f.Answered = true
		case "\\Flagged":
			f.Flagged = true
		case "\\Deleted":
			f.Deleted = true
		case "\\Draft":
			f.Draft = true
		case "\\Recent":
			f.Recent = true
		case "":
		default:
			f.Keywords = append(f.Keywords, tok)
		}
	}
	return f
}

func flagsField(f Flags) string {
	var toks []string
	if f.Seen {
		toks = append(toks, `\Seen`)
	}
	if f.Answered {
		toks = append(toks, `\Answered`)
	}
	if f.Flagged {
		toks = append(toks, `\Flagged`)
	}
	if f.Deleted {
		toks = append(toks, `\Deleted`)
	}
	if f.Draft {
		toks = append(toks, `\Draft`)
	}
	if f.Recent {
		toks = append(toks, `\Recent`)
	}
	toks = append(toks, f.Keywords...)
	return strings.Join(toks, ",")
}

func uidsField(uids []uint32) string {
	ss := make([]string, len(uids))
	for i, u := range uids {
		ss[i] = strconv.FormatUint(uint64(u), 10)
	}
	return strings.Join(ss, ",")
}

func (c *TextClient) SummaryFolder(ctx context.Context, maildir, folder string) (FolderSummary, Status, error) {
	st, text, err := c.call(ctx, "summary_folder", maildir, folder)
	if err != nil || st != StatusOK {
		return FolderSummary{}, st, err
	}
	var s FolderSummary
	fields := strings.Split(text, "\t")
	get := func(i int) int {
		if i >= len(fields) {
			return 0
		}
		v, _ := strconv.Atoi(fields[i])
		return v
	}
	s.Exists = get(0)
	s.Recent = get(1)
	s.Unseen = get(2)
	s.UIDValidity = uint32(get(3))
	s.UIDNext = uint32(get(4))
	return s, StatusOK, nil
}

func (c *TextClient) EnumFolders(ctx context.Context, maildir string) ([]string, Status, error) {
	st, rows, err := c.callRows(ctx, "enum_folders", maildir)
	if err != nil || st != StatusOK {
		return nil, st, err
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		if len(r) > 0 {
			names[i] = r[0]
		}
	}
	return names, StatusOK, nil
}

func (c *TextClient) EnumSubscriptions(ctx context.Context, maildir string) ([]string, Status, error) {
	st, rows, err := c.callRows(ctx, "enum_subscriptions", maildir)
	if err != nil || st != StatusOK {
		return nil, st, err
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		if len(r) > 0 {
			names[i] = r[0]
		}
	}
	return names, StatusOK, nil
}

func (c *TextClient) MakeFolder(ctx context.Context, maildir, folder string) (Status, error) {
	st, _, err := c.call(ctx, "make_folder", maildir, folder)
	return st, err
}

func (c *TextClient) RemoveFolder(ctx context.Context, maildir, folder string) (Status, error) {
	st, _, err := c.call(ctx, "remove_folder", maildir, folder)
	return st, err
}

func (c *TextClient) RenameFolder(ctx context.Context, maildir, oldFolder, newFolder string) (Status, error) {
	st, _, err := c.call(ctx, "rename_folder", maildir, oldFolder, newFolder)
	return st, err
}

func (c *TextClient) SubscribeFolder(ctx context.Context, maildir, folder string) (Status, error) {
	st, _, err := c.call(ctx, "subscribe_folder", maildir, folder)
	return st, err
}

func (c *TextClient) UnsubscribeFolder(ctx context.Context, maildir, folder string) (Status, error) {
	st, _, err := c.call(ctx, "unsubscribe_folder", maildir, folder)
	return st, err
}

func (c *TextClient) FetchSimpleUID(ctx context.Context, maildir, folder, seqSet string) ([]MITEM, Status, error) {
	st, rows, err := c.callRows(ctx, "fetch_simple_uid", maildir, folder, seqSet)
	if err != nil || st != StatusOK {
		return nil, st, err
	}
	items := make([]MITEM, len(rows))
	for i, r := range rows {
		items[i] = rowToMITEM(r)
	}
	return items, StatusOK, nil
}

func (c *TextClient) FetchDetailUID(ctx context.Context, maildir, folder, seqSet string) ([]MITEM, Status, error) {
	st, rows, err := c.callRows(ctx, "fetch_detail_uid", maildir, folder, seqSet)
	if err != nil || st != StatusOK {
		return nil, st, err
	}
	items := make([]MITEM, len(rows))
	for i, r := range rows {
		items[i] = rowToMITEM(r)
	}
	return items, StatusOK, nil
}

func (c *TextClient) ListDeleted(ctx context.Context, maildir, folder string) ([]MITEM, Status, error) {
	st, rows, err := c.callRows(ctx, "list_deleted", maildir, folder)
	if err != nil || st != StatusOK {
		return nil, st, err
	}
	items := make([]MITEM, len(rows))
	for i, r := range rows {
		items[i] = rowToMITEM(r)
	}
	return items, StatusOK, nil
}

func (c *TextClient) InsertMail(ctx context.Context, maildir, folder, mid string, flags Flags) (Status, error) {
	st, _, err := c.call(ctx, "insert_mail", maildir, folder, mid, flagsField(flags))
	return st, err
}

func (c *TextClient) RemoveMail(ctx context.Context, maildir, folder string, uids []uint32) (Status, error) {
	st, _, err := c.call(ctx, "remove_mail", maildir, folder, uidsField(uids))
	return st, err
}

func (c *TextClient) CopyMail(ctx context.Context, maildir, srcFolder string, uid uint32, dstFolder string) (Status, error) {
	st, _, err := c.call(ctx, "copy_mail", maildir, srcFolder, strconv.FormatUint(uint64(uid), 10), dstFolder)
	return st, err
}

func (c *TextClient) GetUID(ctx context.Context, maildir, folder, mid string) (uint32, Status, error) {
	st, text, err := c.call(ctx, "get_uid", maildir, folder, mid)
	if err != nil || st != StatusOK {
		return 0, st, err
	}
	v, _ := strconv.ParseUint(text, 10, 32)
	return uint32(v), StatusOK, nil
}

func (c *TextClient) Search(ctx context.Context, maildir, folder, charset string, argv []string) (string, Status, error) {
	st, text, err := c.call(ctx, "search", append([]string{maildir, folder, charset}, argv...)...)
	return text, st, err
}

func (c *TextClient) SearchUID(ctx context.Context, maildir, folder, charset string, argv []string) (string, Status, error) {
	st, text, err := c.call(ctx, "search_uid", append([]string{maildir, folder, charset}, argv...)...)
	return text, st, err
}

func (c *TextClient) SetFlags(ctx context.Context, maildir, folder string, uids []uint32, flags Flags) (Status, error) {
	st, _, err := c.call(ctx, "set_flags", maildir, folder, uidsField(uids), flagsField(flags))
	return st, err
}

func (c *TextClient) UnsetFlags(ctx context.Context, maildir, folder string, uids []uint32, flags Flags) (Status, error) {
	st, _, err := c.call(ctx, "unset_flags", maildir, folder, uidsField(uids), flagsField(flags))
	return st, err
}

func (c *TextClient) GetFlags(ctx context.Context, maildir, folder string, uid uint32) (Flags, Status, error) {
	st, text, err := c.call(ctx, "get_flags", maildir, folder, strconv.FormatUint(uint64(uid), 10))
	if err != nil || st != StatusOK {
		return Flags{}, st, err
	}
	return parseFlagsField(text), StatusOK, nil
}

var _ Client = (*TextClient)(nil)
