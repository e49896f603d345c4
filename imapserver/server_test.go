package imapserver

import (
	"bufio"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oxidemail/imapd/config"
	"github.com/oxidemail/imapd/internal/scram"
	"github.com/oxidemail/imapd/maildir"
	"github.com/oxidemail/imapd/midb"
)

var ctxbg = context.Background()

func init() {
	// Don't slow down tests.
	badClientDelay = 0
	authFailDelay = 0
}

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// testAuthenticator is a minimal Authenticator backed by a plaintext
// password map, standing in for the accounts package so this package's
// tests don't need a config file or bcrypt digests.
type testAuthenticator struct {
	passwords   map[string]string
	impersonate map[string][]string
}

func newTestAuthenticator() *testAuthenticator {
	return &testAuthenticator{passwords: map[string]string{}, impersonate: map[string][]string{}}
}

func (a *testAuthenticator) addAccount(name, password string) {
	a.passwords[name] = password
}

func (a *testAuthenticator) allow(principal, target string) {
	a.impersonate[principal] = append(a.impersonate[principal], target)
}

func (a *testAuthenticator) AuthenticatePlain(ctx context.Context, username, password string) (string, bool, error) {
	p, ok := a.passwords[username]
	if !ok || p != password {
		return "", false, nil
	}
	return username, true, nil
}

func (a *testAuthenticator) ScramCredentials(ctx context.Context, username string, use256 bool) (iterations int, salt, saltedPassword []byte, account string, ok bool, err error) {
	password, exists := a.passwords[username]
	if !exists {
		return 0, nil, nil, "", false, nil
	}
	h := sha1.New
	if use256 {
		h = sha256.New
	}
	salt = []byte("0123456789abcdef")
	iterations = 4096
	return iterations, salt, scram.SaltPassword(h, password, salt, iterations), username, true, nil
}

func (a *testAuthenticator) CanImpersonate(ctx context.Context, principal, target string) (bool, error) {
	for _, t := range a.impersonate[principal] {
		if t == target {
			return true, nil
		}
	}
	return false, nil
}

// testServer bundles the collaborators one imapserver test run needs:
// an in-memory MIDB, per-account maildir roots under a t.TempDir(), and
// a pluggable Authenticator.
type testServer struct {
	t       *testing.T
	midb    *midb.Fake
	dataDir string
	auth    *testAuthenticator

	mu    sync.Mutex
	roots map[string]*maildir.Root
}

func newTestServer(t *testing.T) *testServer {
	limitersInit() // reset rate limiters between tests.
	ts := &testServer{
		t:       t,
		midb:    midb.NewFake(),
		dataDir: t.TempDir(),
		auth:    newTestAuthenticator(),
		roots:   map[string]*maildir.Root{},
	}
	Init(Options{
		MIDB:    ts.midb,
		Maildir: ts.maildirFor,
		Hub:     NewHub(),
		Config:  config.Static{HostID: "test"},
		Auth:    ts.auth,
	})
	return ts
}

func (ts *testServer) maildirFor(account string) *maildir.Root {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if r, ok := ts.roots[account]; ok {
		return r
	}
	r := maildir.NewRoot(filepath.Join(ts.dataDir, account))
	tcheck(ts.t, r.Init(), "init maildir")
	ts.roots[account] = r
	return r
}

// addAccount registers a login with the given password and gives it an
// INBOX, mirroring the account bootstrap step this package never owns
// itself.
func (ts *testServer) addAccount(name, password string) {
	ts.auth.addAccount(name, password)
	root := ts.maildirFor(name)
	st, err := ts.midb.MakeFolder(ctxbg, root.Dir, "inbox")
	tcheck(ts.t, err, "make inbox")
	if st != midb.StatusOK {
		ts.t.Fatalf("make inbox: status %v", st)
	}
}

var connCounter int64

// conn opens a fresh session against ts, having already called Init.
func (ts *testServer) conn() *testconn {
	t := ts.t
	serverConn, clientConn := net.Pipe()
	connCounter++
	cid := connCounter
	done := make(chan struct{})
	go func() {
		serve("test", cid, nil, serverConn, false, true)
		close(done)
	}()

	tc := &testconn{t: t, conn: clientConn, br: bufio.NewReader(clientConn), done: done}
	tc.readprefixline("* OK")
	return tc
}

// testconn is a bare-bones IMAP client: enough line-protocol plumbing to
// drive commands and check responses, without pulling in a full client
// library this module doesn't have.
type testconn struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
	tagN int
	done chan struct{}
}

func (tc *testconn) nextTag() string {
	tc.tagN++
	return fmt.Sprintf("x%d", tc.tagN)
}

func (tc *testconn) writelinef(format string, args ...any) {
	tc.t.Helper()
	line := fmt.Sprintf(format, args...)
	_, err := fmt.Fprintf(tc.conn, "%s\r\n", line)
	tcheck(tc.t, err, "write")
}

func (tc *testconn) readline() string {
	tc.t.Helper()
	line, err := tc.br.ReadString('\n')
	tcheck(tc.t, err, "readline")
	return strings.TrimRight(line, "\r\n")
}

func (tc *testconn) readprefixline(prefix string) string {
	tc.t.Helper()
	line := tc.readline()
	if !strings.HasPrefix(line, prefix) {
		tc.t.Fatalf("got %q, want prefix %q", line, prefix)
	}
	return line
}

// cmdf writes a tagged command and returns the tag, for callers that
// need to read a non-standard reply sequence (continuations, literals).
func (tc *testconn) cmdf(format string, args ...any) string {
	tc.t.Helper()
	tag := tc.nextTag()
	tc.writelinef("%s %s", tag, fmt.Sprintf(format, args...))
	return tag
}

// transactf sends a command and reads lines up to and including the
// tagged response, requiring it to start with "<tag> <status>".
func (tc *testconn) transactf(status, format string, args ...any) (untagged []string, tagged string) {
	tc.t.Helper()
	tag := tc.cmdf(format, args...)
	for {
		line := tc.readline()
		// A line ending in "{N}" announces a literal: read its N bytes and
		// the rest of the response line that follows them.
		for {
			i := strings.LastIndex(line, "{")
			if i < 0 || !strings.HasSuffix(line, "}") {
				break
			}
			size, err := strconv.Atoi(line[i+1 : len(line)-1])
			if err != nil {
				break
			}
			buf := make([]byte, size)
			_, err = io.ReadFull(tc.br, buf)
			tcheck(tc.t, err, "reading literal")
			line += "\r\n" + string(buf) + tc.readline()
		}
		if strings.HasPrefix(line, "* ") {
			untagged = append(untagged, line)
			continue
		}
		tagged = line
		break
	}
	want := tag + " " + status
	if !strings.HasPrefix(tagged, want) {
		tc.t.Fatalf("got %q, want prefix %q (untagged: %v)", tagged, want, untagged)
	}
	return untagged, tagged
}

func (tc *testconn) login(username, password string) {
	tc.t.Helper()
	tc.transactf("OK", "LOGIN %s %s", username, password)
}

func (tc *testconn) close() {
	tc.conn.Close()
	select {
	case <-tc.done:
	case <-time.After(2 * time.Second):
		tc.t.Fatal("server did not shut down connection in time")
	}
}
