package imapserver

import (
	"fmt"
	"strings"
	"testing"
)

const testMsg = "From: mjl@example.org\r\nTo: other@example.org\r\nSubject: hi\r\n\r\nbody\r\n"

// appendMessage writes mailbox, flags and a literal in one command,
// mirroring how a real client streams an APPEND.
func (tc *testconn) appendMessage(mailbox, flags, msg string) (untagged []string, tagged string) {
	tc.t.Helper()
	tag := tc.nextTag()
	flagPart := ""
	if flags != "" {
		flagPart = "(" + flags + ") "
	}
	tc.writelinef("%s APPEND %s %s{%d}", tag, mailbox, flagPart, len(msg))
	tc.readprefixline("+")
	_, err := fmt.Fprint(tc.conn, msg)
	tcheck(tc.t, err, "write literal")
	for {
		line := tc.readline()
		if strings.HasPrefix(line, "* ") {
			untagged = append(untagged, line)
			continue
		}
		tagged = line
		break
	}
	return untagged, tagged
}

func TestAppendAndFetch(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")

	_, tagged := tc.appendMessage("inbox", `\Seen`, testMsg)
	if !strings.Contains(tagged, "OK") {
		t.Fatalf("append failed: %q", tagged)
	}

	untagged, _ := tc.transactf("OK", "SELECT inbox")
	foundExists := false
	for _, l := range untagged {
		if l == "* 1 EXISTS" {
			foundExists = true
		}
	}
	if !foundExists {
		t.Fatalf("expected * 1 EXISTS among %v", untagged)
	}

	untagged, _ = tc.transactf("OK", "FETCH 1 (FLAGS)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], `\Seen`) {
		t.Fatalf("unexpected fetch response: %v", untagged)
	}
}

func TestAppendUnknownMailboxTryCreate(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")

	// The mailbox doesn't exist, so the server rejects the command
	// before ever requesting the literal: no "+" continuation is sent,
	// and a real client would not send the message bytes either.
	_, tagged := tc.transactf("NO", "APPEND nosuchbox {%d}", len(testMsg))
	if !strings.Contains(tagged, "TRYCREATE") {
		t.Fatalf("expected TRYCREATE, got %q", tagged)
	}
}

func TestAppendRejectsUnparseableMessage(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")

	_, tagged := tc.appendMessage("inbox", "", "not a message\r\nno headers here either")
	if !strings.HasPrefix(tagged, tc.lastTag()+" NO") {
		t.Fatalf("expected NO for unparseable body, got %q", tagged)
	}
}

// lastTag returns the most recently issued tag, for assertions made
// after appendMessage, which doesn't return the tag it used.
func (tc *testconn) lastTag() string {
	return fmt.Sprintf("x%d", tc.tagN)
}
