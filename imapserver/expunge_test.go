package imapserver

import (
	"strings"
	"testing"
)

func TestExpunge(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")

	tc.transactf("OK", `STORE 1 +FLAGS.SILENT (\Deleted)`)

	untagged, _ := tc.transactf("OK", "EXPUNGE")
	if len(untagged) != 1 || untagged[0] != "* 1 EXPUNGE" {
		t.Fatalf("unexpected expunge response: %v", untagged)
	}

	untagged, _ = tc.transactf("OK", "STATUS inbox (MESSAGES)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], "MESSAGES 1") {
		t.Fatalf("expected one message left after expunge, got %v", untagged)
	}
}

func TestExpungeRequiresReadWrite(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "EXAMINE inbox")
	tc.transactf("NO", `STORE 1 +FLAGS (\Deleted)`)
	tc.transactf("NO", "EXPUNGE")
}

func TestCloseExpungesSilently(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")
	tc.transactf("OK", `STORE 1 +FLAGS.SILENT (\Deleted)`)

	untagged, _ := tc.transactf("OK", "CLOSE")
	if len(untagged) != 0 {
		t.Fatalf("CLOSE must not report untagged EXPUNGE, got %v", untagged)
	}

	tc.transactf("OK", "SELECT inbox")
	untagged, _ = tc.transactf("OK", "STATUS inbox (MESSAGES)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], "MESSAGES 0") {
		t.Fatalf("expected the deleted message gone, got %v", untagged)
	}
}

// TestCloseOnExamineDoesNotExpunge covers spec's "read-only SELECTs skip
// the expunge": CLOSE on an EXAMINE'd mailbox must unselect without
// removing any \Deleted message, even one set \Deleted by another
// session before this one examined the mailbox.
func TestCloseOnExamineDoesNotExpunge(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc1 := ts.conn()
	defer tc1.close()
	tc1.login("mjl", "secret123")
	tc1.appendMessage("inbox", "", testMsg)
	tc1.transactf("OK", "SELECT inbox")
	tc1.transactf("OK", `STORE 1 +FLAGS.SILENT (\Deleted)`)

	tc2 := ts.conn()
	defer tc2.close()
	tc2.login("mjl", "secret123")
	tc2.transactf("OK", "EXAMINE inbox")
	tc2.transactf("OK", "CLOSE")

	tc1.transactf("OK", "SELECT inbox")
	untagged, _ := tc1.transactf("OK", "STATUS inbox (MESSAGES)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], "MESSAGES 1") {
		t.Fatalf("expected the \\Deleted message to survive CLOSE on an EXAMINE'd session, got %v", untagged)
	}
}
