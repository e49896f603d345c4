package imapserver

import (
	"strconv"
	"strings"
	"testing"
)

// TestFetchForcesUIDFirst covers spec's worked example: a plain FETCH
// for FLAGS still reports UID ahead of it, not just UID FETCH.
func TestFetchForcesUIDFirst(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", `\Seen`, testMsg)
	tc.transactf("OK", "SELECT inbox")

	untagged, _ := tc.transactf("OK", "FETCH 1 (FLAGS)")
	if len(untagged) != 1 {
		t.Fatalf("expected one untagged FETCH, got %v", untagged)
	}
	if !strings.HasPrefix(untagged[0], "* 1 FETCH (UID 1 FLAGS (") {
		t.Fatalf("expected UID to be forced first, got %q", untagged[0])
	}

	untagged, _ = tc.transactf("OK", "UID FETCH 1 (FLAGS)")
	if len(untagged) != 1 || !strings.HasPrefix(untagged[0], "* 1 FETCH (UID 1 FLAGS (") {
		t.Fatalf("unexpected UID FETCH response: %v", untagged)
	}
}

func TestFetchBodySectionPartial(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")

	body := "body\r\n"

	// Offset 0, count bigger than available data: truncated to what's there.
	untagged, _ := tc.transactf("OK", "FETCH 1 (BODY[TEXT]<0.1000>)")
	if len(untagged) != 1 {
		t.Fatalf("expected one untagged FETCH, got %v", untagged)
	}
	if !strings.Contains(untagged[0], "BODY[TEXT]<0> {"+strconv.Itoa(len(body))+"}") {
		t.Fatalf("expected truncated literal of length %d, got %q", len(body), untagged[0])
	}

	// Offset beyond the end of the section: NIL.
	untagged, _ = tc.transactf("OK", "FETCH 1 (BODY[TEXT]<1000.10>)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], "BODY[TEXT]<1000> NIL") {
		t.Fatalf("expected NIL for out-of-range offset, got %v", untagged)
	}
}

// TestFetchRFC822MarksSeen covers spec's Seen-marking list: plain
// RFC822 and RFC822.TEXT mark a message \Seen the same as a non-PEEK
// BODY[...] fetch does, since both read the full or textual body.
func TestFetchRFC822MarksSeen(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")

	tc.transactf("OK", "FETCH 1 (RFC822)")
	untagged, _ := tc.transactf("OK", "FETCH 1 (FLAGS)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], `\Seen`) {
		t.Fatalf("expected RFC822 fetch to mark \\Seen, got %v", untagged)
	}

	tc.transactf("OK", "FETCH 2 (RFC822.TEXT)")
	untagged, _ = tc.transactf("OK", "FETCH 2 (FLAGS)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], `\Seen`) {
		t.Fatalf("expected RFC822.TEXT fetch to mark \\Seen, got %v", untagged)
	}
}

// TestFetchReadonlyDoesNotMarkSeen covers spec's readonly exemption: an
// EXAMINE'd session must never mutate flags, even via an implicit
// Seen-marking fetch.
func TestFetchReadonlyDoesNotMarkSeen(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "EXAMINE inbox")

	tc.transactf("OK", "FETCH 1 (BODY[TEXT])")
	untagged, _ := tc.transactf("OK", "FETCH 1 (FLAGS)")
	if len(untagged) != 1 || strings.Contains(untagged[0], `\Seen`) {
		t.Fatalf("expected no \\Seen on a readonly session, got %v", untagged)
	}
}

// TestFetchClearsRecent covers spec's "clear \Recent regardless of body
// read" rule: a bare FETCH of a newly appended (and so \Recent) message
// clears \Recent even when only UID/FLAGS are requested. \Recent isn't
// rendered in a FETCH's own FLAGS list (it's reported in aggregate via
// STATUS/SELECT's RECENT count), so the clear is observed there.
func TestFetchClearsRecent(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")

	untagged, _ := tc.transactf("OK", "STATUS inbox (RECENT)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], "RECENT 1") {
		t.Fatalf("expected the freshly appended message to be RECENT, got %v", untagged)
	}

	tc.transactf("OK", "FETCH 1 (UID)")

	untagged, _ = tc.transactf("OK", "STATUS inbox (RECENT)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], "RECENT 0") {
		t.Fatalf("expected \\Recent cleared after the prior FETCH, got %v", untagged)
	}
}

// TestFetchReadonlyDoesNotClearRecent covers the readonly exemption on
// the \Recent-clear path specifically, independent of Seen-marking.
func TestFetchReadonlyDoesNotClearRecent(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "EXAMINE inbox")

	tc.transactf("OK", "FETCH 1 (UID)")

	untagged, _ := tc.transactf("OK", "STATUS inbox (RECENT)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], "RECENT 1") {
		t.Fatalf("expected \\Recent to survive FETCH on a readonly session, got %v", untagged)
	}
}

func TestFetchMacros(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")

	untagged, _ := tc.transactf("OK", "FETCH 1 FAST")
	if len(untagged) != 1 {
		t.Fatalf("expected one untagged FETCH, got %v", untagged)
	}
	line := untagged[0]
	for _, want := range []string{"UID 1", "FLAGS (", "INTERNALDATE ", "RFC822.SIZE "} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected FAST response to contain %q, got %q", want, line)
		}
	}
}
