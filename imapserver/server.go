// Package imapserver implements an IMAP4rev1 server that fronts MIDB, an
// external index service, and a maildir filesystem tree. It owns the
// wire protocol, the session state machine and command dispatch; it owns
// no message storage or per-folder metadata itself.
package imapserver

/*
Implementation notes

Mailbox hierarchies are slash separated, no leading slash. Special names
(inbox, draft, sent, trash, junk) are reserved and case-folded to their
canonical form on the wire; everything else is a hex-encoded path
internally, per the folder name codec in names.go.

We never execute multiple commands at the same time for a connection; a
client wanting concurrency opens another connection.

We never own message storage or per-folder metadata: every SELECT,
FETCH, STORE, SEARCH, COPY and EXPUNGE forwards to a midb.Client. We only
cache a per-session, append-only view of the last-known sequence/UID
mapping (selectedView) so sequence-number commands don't need an MIDB
round trip for every access.
*/

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/oxidemail/imapd/config"
	"github.com/oxidemail/imapd/internal/daemon"
	"github.com/oxidemail/imapd/internal/mlog"
	"github.com/oxidemail/imapd/internal/netio"
	"github.com/oxidemail/imapd/internal/ratelimit"
	"github.com/oxidemail/imapd/internal/scram"
	"github.com/oxidemail/imapd/maildir"
	"github.com/oxidemail/imapd/midb"
)

var xlog = mlog.New("imapserver")

var limiterConnectionrate, limiterConnections *ratelimit.Limiter

func init() {
	limitersInit()
}

func limitersInit() {
	limiterConnectionrate = &ratelimit.Limiter{
		WindowLimits: []ratelimit.WindowLimit{
			{Window: time.Minute, Limits: [...]int64{300, 900, 2700}},
		},
	}
	limiterConnections = &ratelimit.Limiter{
		WindowLimits: []ratelimit.WindowLimit{
			{Window: time.Minute, Limits: [...]int64{30, 30, 30}},
		},
	}
}

var badClientDelay = time.Second // Not read by any handler; tests set it to zero.
var authFailDelay = time.Second  // Not read by any handler; tests set it to zero.

const serverCapabilities = "IMAP4rev1 ENABLE LITERAL+ IDLE SASL-IR UNSELECT UIDPLUS LIST-EXTENDED SPECIAL-USE AUTH=SCRAM-SHA-256 AUTH=SCRAM-SHA-1 AUTH=PLAIN"

// Options bundles the collaborators every conn needs: the MIDB client,
// a per-account maildir root factory, the notification hub and the
// static config.
type Options struct {
	MIDB    midb.Client
	Maildir func(account string) *maildir.Root
	Hub     *Hub
	Config  config.Static
	Auth    Authenticator
}

func authenticator() Authenticator {
	return opts.Auth
}

var opts Options

// Init records the process-wide collaborators. It must be called once,
// before Listen.
func Init(o Options) {
	opts = o
}

type state byte

const (
	stateNotAuthenticated state = iota
	stateAuthenticated
	stateSelected
)

func stateCommands(cmds ...string) map[string]struct{} {
	m := map[string]struct{}{}
	for _, c := range cmds {
		m[c] = struct{}{}
	}
	return m
}

var (
	commandsStateNotAuthenticated = stateCommands("capability", "noop", "logout", "starttls", "authenticate", "login", "id")
	commandsStateAuthenticated    = stateCommands("capability", "noop", "logout", "enable", "select", "examine", "create", "delete", "rename", "subscribe", "unsubscribe", "list", "lsub", "xlist", "namespace", "status", "append", "idle", "id", "uid")
	commandsStateSelected         = stateCommands("capability", "noop", "logout", "enable", "select", "examine", "create", "delete", "rename", "subscribe", "unsubscribe", "list", "lsub", "xlist", "namespace", "status", "append", "idle", "check", "close", "unselect", "expunge", "search", "fetch", "store", "copy", "uid", "id")
)

var commands = map[string]func(c *conn, tag, cmd string, p *parser){
	"capability":   (*conn).cmdCapability,
	"noop":         (*conn).cmdNoop,
	"logout":       (*conn).cmdLogout,
	"id":           (*conn).cmdID,
	"starttls":     (*conn).cmdStarttls,
	"authenticate": (*conn).cmdAuthenticate,
	"login":        (*conn).cmdLogin,
	"enable":       (*conn).cmdEnable,
	"select":       (*conn).cmdSelect,
	"examine":      (*conn).cmdExamine,
	"create":       (*conn).cmdCreate,
	"delete":       (*conn).cmdDelete,
	"rename":       (*conn).cmdRename,
	"subscribe":    (*conn).cmdSubscribe,
	"unsubscribe":  (*conn).cmdUnsubscribe,
	"list":         (*conn).cmdList,
	"lsub":         (*conn).cmdLsub,
	"xlist":        (*conn).cmdXList,
	"namespace":    (*conn).cmdNamespace,
	"status":       (*conn).cmdStatus,
	"append":       (*conn).cmdAppend,
	"idle":         (*conn).cmdIdle,
	"check":        (*conn).cmdCheck,
	"close":        (*conn).cmdClose,
	"unselect":     (*conn).cmdUnselect,
	"expunge":      (*conn).cmdExpunge,
	"search":       (*conn).cmdSearch,
	"fetch":        (*conn).cmdFetch,
	"store":        (*conn).cmdStore,
	"copy":         (*conn).cmdCopy,
}

// uidCommands holds the "UID <cmd>" variants, dispatched separately
// because "UID" itself isn't a top-level command name.
var uidCommands = map[string]func(c *conn, tag, cmd string, p *parser){
	"search": (*conn).cmdUIDSearch,
	"fetch":  (*conn).cmdUIDFetch,
	"store":  (*conn).cmdUIDStore,
	"copy":   (*conn).cmdUIDCopy,
	"expunge": (*conn).cmdUIDExpunge,
}

var errIO = errors.New("io error")             // For read/write errors and errors that should close the connection.
var errProtocol = errors.New("protocol error") // For protocol errors for which a stack trace should be printed.

type msgseq uint32

// mitem is a single message in a selectedView, as returned by MIDB.
type mitem struct {
	uid   UID
	mid   string
	flags midb.Flags
}

// selectedView is the session's own cache of a selected folder's message
// list, per spec's SelectedFolderView: an append-only ordered list plus a
// UID index, renumbered wholesale on SELECT/EXAMINE and on an explicit
// refresh, and shrunk in place by expunge.
type selectedView struct {
	folder      string // internal (already-decoded) folder name
	readonly    bool
	uidvalidity uint32
	uidnext     uint32
	items       []mitem
	byUID       map[UID]int
	firstUnseen uint32 // 1-based seq, 0 if none
	nRecent     int
}

func newSelectedView(folder string, readonly bool) *selectedView {
	return &selectedView{folder: folder, readonly: readonly, byUID: map[UID]int{}}
}

func (v *selectedView) reset(items []mitem) {
	v.items = items
	v.byUID = make(map[UID]int, len(items))
	v.nRecent = 0
	v.firstUnseen = 0
	for i, it := range items {
		v.byUID[it.uid] = i
		if it.flags.Recent {
			v.nRecent++
		}
		if v.firstUnseen == 0 && !it.flags.Seen {
			v.firstUnseen = uint32(i + 1)
		}
	}
}

func (v *selectedView) uids() []UID {
	r := make([]UID, len(v.items))
	for i, it := range v.items {
		r[i] = it.uid
	}
	return r
}

// removeSeq removes the item at 1-based sequence number seq, shifting
// subsequent items down by one, per spec's EXPUNGE invariant.
func (v *selectedView) removeSeq(seq msgseq) {
	i := int(seq) - 1
	if i < 0 || i >= len(v.items) {
		return
	}
	delete(v.byUID, v.items[i].uid)
	v.items = append(v.items[:i], v.items[i+1:]...)
	for j := i; j < len(v.items); j++ {
		v.byUID[v.items[j].uid] = j
	}
}

// appendState tracks an in-progress two-phase APPEND: a scratch file has
// been opened and not yet finalized or cleaned up.
type appendState struct {
	mid string
}

// conn is a single IMAP session.
type conn struct {
	cid          int64
	conn         net.Conn
	tls          bool
	br           *bufio.Reader
	line         chan lineErr
	log          *mlog.Log
	listenerName string
	remoteIP     string

	state   state
	account string // authenticated principal, empty until LOGIN/AUTHENTICATE success
	asUser  string // impersonated target, if any ("user!target")
	maildir *maildir.Root

	selected *selectedView
	events   chan Event // non-nil while selected; fed by Hub.Broadcast from peer sessions

	enabledUTF8    bool
	failedAuth     int
	tag            string // tag of in-progress command, for logging
	inflightAppend *appendState

	scram *scram.Server

	sync.Mutex // guards Write for interleaved untagged broadcasts
}

type lineErr struct {
	line string
	err  error
}

func (c *conn) utf8strings() bool {
	return c.enabledUTF8
}

func (c *conn) unselect() {
	if c.selected != nil {
		opts.Hub.Unregister(c)
		c.selected = nil
		c.events = nil
	}
}

// cleanClose is a sentinel panic value indicating an orderly close of the
// connection (e.g. after LOGOUT or BYE) rather than an error.
var cleanClose struct{}

func (c *conn) xsanity(err error, format string, args ...any) {
	if err != nil {
		c.log.Errorx(fmt.Sprintf(format, args...), err)
		panic(serverError{err})
	}
}

func (c *conn) Write(buf []byte) (int, error) {
	c.Lock()
	defer c.Unlock()
	n, err := c.conn.Write(buf)
	if err != nil {
		panic(fmt.Errorf("%w: %v", errIO, err))
	}
	return n, nil
}

// tlsConnState returns the TLS connection state of the underlying
// connection, or nil if it isn't TLS, unwrapping a traceConn if one is
// currently active.
func (c *conn) tlsConnState() *tls.ConnectionState {
	nc := c.conn
	if tc, ok := nc.(*traceConn); ok {
		nc = tc.Conn
	}
	tc, ok := nc.(*tls.Conn)
	if !ok {
		return nil
	}
	cs := tc.ConnectionState()
	return &cs
}

func (c *conn) xtrace(level mlog.Level) func() {
	prev, ok := c.conn.(*traceConn)
	c.conn = &traceConn{c.conn, c.log, level}
	return func() {
		if ok {
			c.conn = prev
		} else {
			c.conn = c.conn.(*traceConn).Conn
		}
	}
}

// xtracewrite is xtrace used around a write of a synchronizing literal;
// traceConn already traces both directions at the raised level.
func (c *conn) xtracewrite(level mlog.Level) func() {
	return c.xtrace(level)
}

// traceConn wraps a net.Conn with protocol-transcript tracing at a given
// level. AUTHENTICATE/LOGIN credentials and literal bodies are only
// traced when the caller raises the level to LevelTraceauth/
// LevelTracedata around those reads, so ordinary traces never capture
// secrets.
type traceConn struct {
	net.Conn
	log   *mlog.Log
	level mlog.Level
}

func (c *traceConn) Read(buf []byte) (int, error) {
	n, err := c.Conn.Read(buf)
	if n > 0 {
		c.log.Trace(c.level, "C: "+string(buf[:n]))
	}
	return n, err
}

func (c *traceConn) Write(buf []byte) (int, error) {
	n, err := c.Conn.Write(buf)
	if n > 0 {
		c.log.Trace(c.level, "S: "+string(buf[:n]))
	}
	return n, err
}

var bufpool = netio.NewBufpool(8, 16*1024)

func (c *conn) readline0() (string, error) {
	return bufpool.Readline(c.log, c.br)
}

func (c *conn) readline(readCmd bool) string {
	select {
	case le := <-c.lineChan():
		c.line = nil
		if le.err != nil {
			panic(fmt.Errorf("%w: %v", errIO, le.err))
		}
		return le.line
	case <-daemon.Shutdown.Done():
		if readCmd {
			c.writelinef("* BYE shutting down")
		}
		panic(fmt.Errorf("%w: shutdown", errIO))
	}
}

func (c *conn) lineChan() chan lineErr {
	if c.line == nil {
		ch := make(chan lineErr, 1)
		go func() {
			line, err := c.readline0()
			ch <- lineErr{line, err}
		}()
		c.line = ch
	}
	return c.line
}

func (c *conn) writeresultf(format string, args ...any) {
	c.bwriteresultf(format, args...)
}

func (c *conn) bwriteresultf(format string, args ...any) {
	c.drainEvents()
	c.bwritelinef(format, args...)
}

func (c *conn) writelinef(format string, args ...any) {
	c.bwritelinef(format, args...)
}

func (c *conn) bwritelinef(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	fmt.Fprintf(c, "%s\r\n", line)
}

func (c *conn) readCommand(tag *string) (cmd string, p *parser) {
	line := c.readline(true)
	p = newParser(line, c)
	defer p.context("tag")()
	*tag = p.xtag()
	p.xspace()
	defer p.context("command")()
	cmd = toUpper(p.xcommand())
	return cmd, p
}

func (c *conn) xreadliteral(size int64, sync bool) string {
	if sync {
		c.writelinef("+ ")
	}
	buf := make([]byte, size)
	var n int
	for n < len(buf) {
		nn, err := c.br.Read(buf[n:])
		if err != nil {
			panic(fmt.Errorf("%w: reading literal: %v", errIO, err))
		}
		n += nn
	}
	return string(buf)
}

func (c *conn) ok(tag, cmd string) {
	c.drainEvents()
	c.writelinef("%s OK %s done", tag, cmd)
}

// drainEvents flushes any peer-originated events already queued on
// c.events as untagged responses. Called just before every tagged reply
// so a selected-but-not-idling session still observes STORE/FETCH/EXPUNGE
// broadcasts from other sessions on the same mailbox, without blocking
// the command path the way IDLE's select loop does.
func (c *conn) drainEvents() {
	ch := c.eventChan()
	if ch == nil {
		return
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.applyEvent(ev)
		default:
			return
		}
	}
}

// Listen starts listeners for every configured listener with IMAP
// enabled and blocks handling connections; the accept loops do not stop
// on shutdown, so it does not return.
func Listen() {
	var wg sync.WaitGroup
	for name, l := range opts.Config.Listeners {
		if !l.IMAP.Enabled {
			continue
		}
		name, l := name, l
		for _, ip := range l.IPs {
			ip := ip
			port := config.Port(l.IMAP.Port, 143)
			addr := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
			var tlsConfig *tls.Config
			if l.IMAP.TLS && l.IMAP.TLSCert != "" {
				cert, err := tls.LoadX509KeyPair(l.IMAP.TLSCert, l.IMAP.TLSKey)
				if err != nil {
					xlog.Fatalx("loading tls keypair", err)
				}
				tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				listen1("imap", name, addr, tlsConfig, l.IMAP.TLS, !opts.Config.ForceTLS)
			}()
		}
	}
	wg.Wait()
}

func listen1(protocol, listenerName, addr string, tlsConfig *tls.Config, xtls, noRequireSTARTTLS bool) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		xlog.Fatalx("listen", err, mlog.Field("addr", addr))
	}
	xlog.Print("listening", mlog.Field("protocol", protocol), mlog.Field("addr", addr))
	for {
		nc, err := ln.Accept()
		if err != nil {
			xlog.Errorx("accept", err)
			continue
		}
		if tlsConfig != nil && xtls {
			nc = tls.Server(nc, tlsConfig)
		}
		cid := daemon.Cid()
		go serve(listenerName, cid, tlsConfig, nc, xtls, noRequireSTARTTLS)
	}
}

func serve(listenerName string, cid int64, tlsConfig *tls.Config, nc net.Conn, xtls, noRequireSTARTTLS bool) {
	log := xlog.WithCid(cid)

	defer func() {
		nc.Close()
		x := recover()
		if x == nil || x == cleanClose {
			return
		}
		log.Error("unhandled panic", mlog.Field("panic", fmt.Sprintf("%v", x)), mlog.Field("stack", string(debug.Stack())))
	}()

	daemon.Connections.Register(nc, "imap", listenerName)
	defer daemon.Connections.Unregister(nc)

	var remoteIP string
	if a, ok := nc.RemoteAddr().(*net.TCPAddr); ok {
		remoteIP = a.IP.String()
	}

	c := &conn{
		cid:          cid,
		conn:         nc,
		tls:          xtls,
		br:           bufio.NewReader(nc),
		log:          log,
		listenerName: listenerName,
		remoteIP:     remoteIP,
		state:        stateNotAuthenticated,
	}
	defer c.unselect()

	c.writelinef("* OK [CAPABILITY %s] imapd ready", serverCapabilities)

	for {
		c.command()
	}
}

func (c *conn) command() {
	tag := "*"
	defer func() {
		x := recover()
		if x == nil {
			return
		}
		if x == cleanClose {
			panic(x)
		}
		switch err := x.(type) {
		case syntaxError:
			if err.line != "" {
				c.bwritelinef("%s", err.line)
			}
			code := ""
			if err.code != "" {
				code = "[" + err.code + "] "
			}
			c.drainEvents()
			c.writelinef("%s BAD %s%s", tag, code, err.errmsg)
		case userError:
			code := ""
			if err.code != "" {
				code = "[" + err.code + "] "
			}
			c.drainEvents()
			c.writelinef("%s NO %s%s", tag, code, err.Error())
		case serverError:
			c.drainEvents()
			c.writelinef("%s NO server error: %s", tag, err.Error())
		case *midb.Error:
			c.drainEvents()
			c.writelinef("%s NO %s", tag, midbReply(err))
		default:
			if e, ok := x.(error); ok && (errors.Is(e, errIO) || errors.Is(e, errProtocol)) {
				panic(x)
			}
			c.log.Error("unhandled command panic", mlog.Field("panic", fmt.Sprintf("%v", x)), mlog.Field("stack", string(debug.Stack())))
			c.drainEvents()
			c.writelinef("%s NO internal error", tag)
		}
	}()

	cmd, p := c.readCommand(&tag)
	c.tag = tag
	lname := strings.ToLower(cmd)
	var isUID bool
	if lname == "uid" {
		isUID = true
		p.xspace()
		lname = strings.ToLower(p.xatom())
	}

	var allowed map[string]struct{}
	switch c.state {
	case stateNotAuthenticated:
		allowed = commandsStateNotAuthenticated
	case stateAuthenticated:
		allowed = commandsStateAuthenticated
	case stateSelected:
		allowed = commandsStateSelected
	}
	checkName := lname
	if isUID {
		checkName = "uid"
	}
	if _, ok := allowed[checkName]; !ok {
		xsyntaxErrorf("%s not allowed in this state", strings.ToUpper(lname))
	}

	if isUID {
		fn, ok := uidCommands[lname]
		if !ok {
			xsyntaxErrorf("unknown UID subcommand %s", strings.ToUpper(lname))
		}
		fn(c, tag, lname, p)
		return
	}
	fn, ok := commands[lname]
	if !ok {
		xsyntaxErrorf("unknown command %s", strings.ToUpper(lname))
	}
	fn(c, tag, lname, p)
}

func (c *conn) broadcast(ev Event) {
	opts.Hub.Broadcast(c, ev)
}

type matchStringer interface {
	MatchString(s string) bool
}

type noMatch struct{}

func (noMatch) MatchString(s string) bool { return false }

func (c *conn) sequence(uid UID) msgseq {
	if c.selected == nil {
		return 0
	}
	i, ok := c.selected.byUID[uid]
	if !ok {
		return 0
	}
	return msgseq(i + 1)
}

func uidSearch(uids []UID, uid UID) msgseq {
	for i, u := range uids {
		if u == uid {
			return msgseq(i + 1)
		}
	}
	return 0
}

func (c *conn) xsequence(uid UID) msgseq {
	seq := c.sequence(uid)
	if seq <= 0 {
		xserverErrorf("unknown uid %d", uid)
	}
	return seq
}

func (c *conn) xnumSetUIDs(isUID bool, nums numSet) []UID {
	if c.selected == nil {
		xuserErrorf("no mailbox selected")
	}
	all := c.selected.uids()
	var r []UID
	if isUID {
		for _, u := range all {
			if nums.containsUID(u, all, nil) {
				r = append(r, u)
			}
		}
		return r
	}
	for seq := 1; seq <= len(all); seq++ {
		if nums.containsSeq(msgseq(seq), all, nil) {
			r = append(r, all[seq-1])
		}
	}
	return r
}

func (c *conn) ctx() context.Context {
	return daemon.Context
}

// xcheckMIDB turns a non-OK MIDB status or transport error into the
// appropriate IMAP failure, consistently across every command that
// forwards to a midb.Client.
func (c *conn) xcheckMIDB(st midb.Status, err error) {
	c.xsanity(err, "midb call")
	if st != midb.StatusOK {
		panic(&midb.Error{Status: st})
	}
}

// pollUID polls GetUID for mid in folder up to attempts times, sleeping
// delay between tries, to learn the UID MIDB's insert_mail/copy_mail
// assigned asynchronously. Returns ok=false if mid never showed up.
func (c *conn) pollUID(folder, mid string, attempts int, delay time.Duration) (UID, bool) {
	for i := 0; i < attempts; i++ {
		uid, st, err := opts.MIDB.GetUID(c.ctx(), c.maildir.Dir, folder, mid)
		if err == nil && st == midb.StatusOK {
			return UID(uid), true
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return 0, false
}

// tlsCertificateForListener returns the configured certificate for the
// named listener's IMAP service, for use by STARTTLS.
func tlsCertificateForListener(listenerName string) (tls.Certificate, error) {
	l, ok := opts.Config.Listeners[listenerName]
	if !ok || l.IMAP.TLSCert == "" {
		return tls.Certificate{}, fmt.Errorf("no tls certificate configured for listener %s", listenerName)
	}
	return tls.LoadX509KeyPair(l.IMAP.TLSCert, l.IMAP.TLSKey)
}
