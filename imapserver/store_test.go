package imapserver

import (
	"strings"
	"testing"
)

func TestStoreAddRemoveFlags(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")

	untagged, _ := tc.transactf("OK", `STORE 1 +FLAGS (\Flagged)`)
	if len(untagged) != 1 || !strings.Contains(untagged[0], `\Flagged`) {
		t.Fatalf("unexpected store response: %v", untagged)
	}

	untagged, _ = tc.transactf("OK", `STORE 1 -FLAGS (\Flagged)`)
	if len(untagged) != 1 || strings.Contains(untagged[0], `\Flagged`) {
		t.Fatalf("flag not removed: %v", untagged)
	}

	untagged, _ = tc.transactf("OK", `STORE 1 FLAGS (\Seen \Flagged)`)
	if len(untagged) != 1 || !strings.Contains(untagged[0], `\Seen`) || !strings.Contains(untagged[0], `\Flagged`) {
		t.Fatalf("replace flags failed: %v", untagged)
	}
}

// TestStoreBroadcastSeenByOrdinaryCommand covers the case where a second
// session has the same mailbox selected but is not in IDLE: a plain NOOP
// must still pick up and render a peer's STORE as an untagged FETCH,
// not just the IDLE select loop.
func TestStoreBroadcastSeenByOrdinaryCommand(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc1 := ts.conn()
	defer tc1.close()
	tc1.login("mjl", "secret123")
	tc1.appendMessage("inbox", "", testMsg)
	tc1.transactf("OK", "SELECT inbox")

	tc2 := ts.conn()
	defer tc2.close()
	tc2.login("mjl", "secret123")
	tc2.transactf("OK", "SELECT inbox")

	tc1.transactf("OK", `STORE 1 +FLAGS (\Flagged)`)

	untagged, _ := tc2.transactf("OK", "NOOP")
	if len(untagged) != 1 || !strings.Contains(untagged[0], `\Flagged`) {
		t.Fatalf("expected NOOP on tc2 to report peer's STORE, got %v", untagged)
	}
}

func TestStoreSilent(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")

	untagged, _ := tc.transactf("OK", `STORE 1 +FLAGS.SILENT (\Seen)`)
	if len(untagged) != 0 {
		t.Fatalf("expected no untagged response for SILENT store, got %v", untagged)
	}
}

func TestStoreRequiresSelected(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.transactf("BAD", `STORE 1 +FLAGS (\Seen)`)
}
