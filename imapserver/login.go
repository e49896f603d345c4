package imapserver

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"io"
	"strings"

	"github.com/oxidemail/imapd/internal/metrics"
	"github.com/oxidemail/imapd/internal/mlog"
	"github.com/oxidemail/imapd/internal/scram"
)

// Authenticator is the credential-checking collaborator this server
// delegates to; authentication plugins are explicitly out of scope for
// this package, which only drives the IMAP-visible state machine around
// whatever decision Authenticator makes.
type Authenticator interface {
	// AuthenticatePlain verifies a plaintext username/password pair (used
	// by LOGIN and AUTHENTICATE PLAIN) and returns the canonical account
	// identifier on success.
	AuthenticatePlain(ctx context.Context, username, password string) (account string, ok bool, err error)

	// ScramCredentials returns the iteration count, salt and salted
	// password needed to run a SCRAM-SHA-1/256 exchange for username, or
	// ok=false if username is unknown.
	ScramCredentials(ctx context.Context, username string, sha256 bool) (iterations int, salt, saltedPassword []byte, account string, ok bool, err error)

	// CanImpersonate reports whether principal is allowed to act as
	// target (the "user!target" syntax), per the StoreOwner permission
	// bit spec describes.
	CanImpersonate(ctx context.Context, principal, target string) (bool, error)
}

func (c *conn) cmdCapability(tag, cmd string, p *parser) {
	p.xempty()
	c.bwritelinef("* CAPABILITY %s", c.capabilities())
	c.ok(tag, cmd)
}

func (c *conn) capabilities() string {
	caps := serverCapabilities
	if opts.Config.EnableRFC2971Commands {
		caps += " ID"
	}
	if c.tls || opts.Config.SupportTLS {
		if !c.tls {
			caps += " STARTTLS"
		}
	}
	if c.state == stateNotAuthenticated && opts.Config.ForceTLS && !c.tls {
		caps += " LOGINDISABLED"
	}
	return caps
}

func (c *conn) cmdNoop(tag, cmd string, p *parser) {
	p.xempty()
	if c.selected != nil {
		c.refreshSelected(false)
	}
	c.ok(tag, cmd)
}

func (c *conn) cmdLogout(tag, cmd string, p *parser) {
	p.xempty()
	c.unselect()
	c.bwritelinef("* BYE logging out")
	c.writelinef("%s OK logout done", tag)
	panic(cleanClose)
}

func (c *conn) cmdID(tag, cmd string, p *parser) {
	if !opts.Config.EnableRFC2971Commands {
		xsyntaxErrorf("ID not enabled")
	}
	p.xspace()
	if !p.take("(") {
		p.xnil()
	} else if !p.take(")") {
		for {
			p.xstring()
			p.xspace()
			p.xnilString()
			if !p.take(" ") {
				break
			}
		}
		p.xtake(")")
	}
	p.xempty()
	c.bwritelinef(`* ID ("name" "imapd")`)
	c.ok(tag, cmd)
}

func (c *conn) cmdStarttls(tag, cmd string, p *parser) {
	p.xempty()
	if c.tls {
		xuserErrorf("already in tls")
	}
	cert, err := tlsCertificateForListener(c.listenerName)
	if err != nil {
		xserverErrorf("loading tls certificate: %v", err)
	}
	c.writelinef("%s OK begin tls negotiation", tag)

	// c.br may already have buffered bytes past the STARTTLS command line
	// read off the wire in the same chunk, which would be either the start
	// of the TLS handshake or plaintext a MITM injected to be replayed into
	// the encrypted session. Replay exactly those buffered bytes through
	// prefixConn before reading anything further from the raw socket, so
	// nothing buffered before TLS negotiation began is silently dropped or
	// misattributed to the encrypted stream.
	prefix := make([]byte, c.br.Buffered())
	if _, err := io.ReadFull(c.br, prefix); err != nil {
		xserverErrorf("draining buffered plaintext before starttls: %v", err)
	}
	pconn := &prefixConn{prefix: prefix, Conn: c.conn}

	tconn := tls.Server(pconn, &tls.Config{Certificates: []tls.Certificate{cert}})
	c.xsanity(tconn.Handshake(), "tls handshake")
	c.conn = tconn
	c.br.Reset(tconn)
	c.tls = true
}

func (c *conn) cmdLogin(tag, cmd string, p *parser) {
	p.xspace()
	username := p.xastring()
	p.xspace()
	password := p.xastring()
	p.xempty()

	if opts.Config.ForceTLS && !c.tls {
		xuserErrorf("must use starttls before login")
	}

	c.xauthenticatePlain(tag, username, password)
}

func (c *conn) xauthenticatePlain(tag, username, password string) {
	principal, target := splitImpersonation(username)

	defer c.xtrace(mlog.LevelTraceauth)()
	account, ok, err := authenticator().AuthenticatePlain(c.ctx(), principal, password)
	c.xsanity(err, "checking credentials")
	if !ok {
		metrics.AuthenticationInc("imap", "plain", "badcreds")
		c.xauthFailed(tag)
		return
	}
	metrics.AuthenticationInc("imap", "plain", "ok")
	c.xfinishAuth(tag, principal, target, account)
}

func (c *conn) xauthFailed(tag string) {
	c.failedAuth++
	if c.failedAuth >= maxAuthTimes() {
		c.bwritelinef("* BYE too many failed authentication attempts")
		c.writelinef("%s NO authentication failed", tag)
		panic(cleanClose)
	}
	c.writelinef("%s NO authentication failed", tag)
}

func (c *conn) xfinishAuth(tag, principal, target, account string) {
	if target != "" {
		ok, err := authenticator().CanImpersonate(c.ctx(), principal, target)
		c.xsanity(err, "checking impersonation permission")
		if !ok {
			xuserErrorf("not permitted to act as %s", target)
		}
		account = target
	}
	c.account = account
	c.asUser = target
	c.maildir = opts.Maildir(account)
	c.state = stateAuthenticated
	c.failedAuth = 0
	c.writelinef("%s OK [CAPABILITY %s] authenticated", tag, c.capabilities())
}

func splitImpersonation(username string) (principal, target string) {
	if i := strings.IndexByte(username, '!'); i >= 0 {
		return username[:i], username[i+1:]
	}
	return username, ""
}

func maxAuthTimes() int {
	if opts.Config.MaxAuthTimes > 0 {
		return opts.Config.MaxAuthTimes
	}
	return 3
}

func (c *conn) cmdAuthenticate(tag, cmd string, p *parser) {
	p.xspace()
	mech := strings.ToUpper(p.xatom())
	var initial string
	haveInitial := false
	if p.take(" ") {
		initial = p.xtakeall()
		haveInitial = true
	}
	p.xempty()

	if opts.Config.ForceTLS && !c.tls {
		xuserErrorf("must use starttls before authenticate")
	}

	switch mech {
	case "PLAIN":
		c.authenticatePlainMech(tag, initial, haveInitial)
	case "LOGIN":
		c.authenticateLoginMech(tag)
	case "SCRAM-SHA-1", "SCRAM-SHA-256":
		c.authenticateSCRAM(tag, mech, initial, haveInitial)
	default:
		xuserErrorf("unsupported authentication mechanism %s", mech)
	}
}

func (c *conn) xreadContinuation() string {
	c.writelinef("+ ")
	line := c.readline(false)
	return line
}

func (c *conn) authenticatePlainMech(tag, initial string, haveInitial bool) {
	defer c.xtrace(mlog.LevelTraceauth)()
	resp := initial
	if !haveInitial {
		resp = c.xreadContinuation()
	}
	resp, err := decodeBase64(resp)
	c.xsanity(err, "decoding base64")
	parts := strings.SplitN(resp, "\x00", 3)
	if len(parts) != 3 {
		xsyntaxErrorf("malformed PLAIN response")
	}
	username, password := parts[1], parts[2]
	if username == "" {
		username = parts[0]
	}
	c.xauthenticatePlain(tag, username, password)
}

func (c *conn) authenticateLoginMech(tag string) {
	defer c.xtrace(mlog.LevelTraceauth)()
	c.writelinef("+ %s", encodeBase64("Username:"))
	ub64 := c.readline(false)
	username, err := decodeBase64(ub64)
	c.xsanity(err, "decoding username")
	c.writelinef("+ %s", encodeBase64("Password:"))
	pb64 := c.readline(false)
	password, err := decodeBase64(pb64)
	c.xsanity(err, "decoding password")
	c.xauthenticatePlain(tag, username, password)
}

func (c *conn) authenticateSCRAM(tag, mech, initial string, haveInitial bool) {
	cs := c.tlsConnState()
	defer c.xtrace(mlog.LevelTraceauth)()
	clientFirst := initial
	if !haveInitial {
		clientFirst = c.xreadContinuation()
	}
	buf, err := decodeBase64(clientFirst)
	c.xsanity(err, "decoding scram client-first")

	use256 := mech == "SCRAM-SHA-256"
	h := sha1.New
	if use256 {
		h = sha256.New
	}
	server, err := scram.NewServer(h, []byte(buf), cs, false)
	if err != nil {
		xuserErrorf("invalid scram client-first: %v", err)
	}
	c.scram = server

	iterations, salt, saltedPassword, account, ok, err := authenticator().ScramCredentials(c.ctx(), server.Authentication, use256)
	c.xsanity(err, "looking up scram credentials")
	if !ok {
		// Continue the exchange with bogus values so the client cannot
		// distinguish an unknown user from a wrong password by timing.
		iterations, salt, saltedPassword = 4096, []byte("nosuchuser"), make([]byte, sha1.Size)
	}

	serverFirst, err := server.ServerFirst(iterations, salt)
	c.xsanity(err, "scram server-first")
	c.writelinef("+ %s", encodeBase64(serverFirst))

	clientFinal := c.readline(false)
	cfBuf, err := decodeBase64(clientFinal)
	c.xsanity(err, "decoding scram client-final")

	serverFinal, err := server.Finish([]byte(cfBuf), saltedPassword)
	c.writelinef("+ %s", encodeBase64(serverFinal))
	scramVariant := "scram-sha-1"
	if use256 {
		scramVariant = "scram-sha-256"
	}
	if err != nil {
		c.readline(false) // client's "*" abort response, discarded.
		metrics.AuthenticationInc("imap", scramVariant, "badcreds")
		c.xauthFailed(tag)
		return
	}
	metrics.AuthenticationInc("imap", scramVariant, "ok")
	principal, target := splitImpersonation(server.Authentication)
	c.xfinishAuth(tag, principal, target, account)
}

func decodeBase64(s string) (string, error) {
	buf, err := base64Decode(s)
	return string(buf), err
}

func encodeBase64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func (c *conn) cmdEnable(tag, cmd string, p *parser) {
	p.xspace()
	var caps []string
	caps = append(caps, p.xatom())
	for p.take(" ") {
		caps = append(caps, p.xatom())
	}
	p.xempty()

	var enabled []string
	for _, cp := range caps {
		switch strings.ToUpper(cp) {
		case "UTF8=ACCEPT":
			c.enabledUTF8 = true
			enabled = append(enabled, "UTF8=ACCEPT")
		}
	}
	c.bwritelinef("* ENABLED %s", strings.Join(enabled, " "))
	c.ok(tag, cmd)
}

// refreshSelected re-fetches the selected folder's full UID list ("1:*")
// from MIDB. With renumber set it replaces the view without writing any
// response; otherwise it appends UIDs not yet in the view, writing
// "* n EXISTS" for each.
func (c *conn) refreshSelected(renumber bool) {
	if c.selected == nil {
		return
	}
	items, st, err := opts.MIDB.FetchSimpleUID(c.ctx(), c.maildir.Dir, c.selected.folder, "1:*")
	c.xcheckMIDB(st, err)
	newItems := make([]mitem, len(items))
	for i, it := range items {
		newItems[i] = mitem{uid: UID(it.UID), mid: it.Mid, flags: it.Flags}
	}
	if renumber {
		c.selected.reset(newItems)
		return
	}
	for _, it := range newItems {
		if _, ok := c.selected.byUID[it.uid]; !ok {
			c.selected.items = append(c.selected.items, it)
			c.selected.byUID[it.uid] = len(c.selected.items) - 1
			c.bwritelinef("* %d EXISTS", len(c.selected.items))
		}
	}
}

