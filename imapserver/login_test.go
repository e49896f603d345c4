package imapserver

import (
	"encoding/base64"
	"testing"
)

func TestLoginPlain(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.transactf("NO", "LOGIN mjl wrongpassword")
	// Login failures don't close the connection; the client may retry.
	tc.transactf("OK", "LOGIN mjl secret123")
	tc.transactf("OK", "LOGOUT")
}

func TestLoginBadCredsCounted(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	// Default max is 3 failures before the server drops the connection.
	for i := 0; i < 2; i++ {
		tc.transactf("NO", "LOGIN mjl wrong")
	}
	tc.writelinef("%s LOGIN mjl wrong", tc.nextTag())
	tc.readprefixline("* BYE")
}

func TestAuthenticatePlainInitial(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	resp := base64.StdEncoding.EncodeToString([]byte("\x00mjl\x00secret123"))
	tc.transactf("OK", "AUTHENTICATE PLAIN %s", resp)
}

func TestImpersonation(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("admin", "adminpw")
	ts.addAccount("mjl", "secret123")
	ts.auth.allow("admin", "mjl")

	tc := ts.conn()
	defer tc.close()

	tc.transactf("OK", `LOGIN admin!mjl adminpw`)
	tc.transactf("OK", "SELECT inbox")
}

func TestImpersonationDenied(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("admin", "adminpw")
	ts.addAccount("mjl", "secret123")
	// No allow() call: admin may not act as mjl.

	tc := ts.conn()
	defer tc.close()

	tc.transactf("NO", `LOGIN admin!mjl adminpw`)
}
