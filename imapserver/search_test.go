package imapserver

import (
	"strings"
	"testing"
)

func TestSearchAll(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")

	untagged, _ := tc.transactf("OK", "SEARCH ALL")
	if len(untagged) != 1 || untagged[0] != "* SEARCH 1 2" {
		t.Fatalf("unexpected search response: %v", untagged)
	}
}

func TestSearchRejectsUnsupportedCharset(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.transactf("OK", "SELECT inbox")

	_, tagged := tc.transactf("NO", "SEARCH CHARSET ISO-8859-1 ALL")
	if !strings.Contains(tagged, "BADCHARSET") {
		t.Fatalf("expected BADCHARSET code, got %q", tagged)
	}
}
