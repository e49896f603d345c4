package imapserver

import (
	"strings"
	"testing"
)

func TestListAndSubscribe(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.transactf("OK", "CREATE Project")

	untagged, _ := tc.transactf("OK", `LIST "" "*"`)
	var sawInbox, sawProject bool
	for _, l := range untagged {
		if strings.Contains(l, `"INBOX"`) {
			sawInbox = true
		}
		if strings.Contains(l, `"Project"`) {
			sawProject = true
		}
	}
	if !sawInbox || !sawProject {
		t.Fatalf("expected INBOX and Project in LIST output, got %v", untagged)
	}

	tc.transactf("OK", "SUBSCRIBE Project")
	untagged, _ = tc.transactf("OK", `LSUB "" "*"`)
	found := false
	for _, l := range untagged {
		if strings.Contains(l, `"Project"`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Project in LSUB output, got %v", untagged)
	}

	tc.transactf("OK", "UNSUBSCRIBE Project")
	untagged, _ = tc.transactf("OK", `LSUB "" "*"`)
	if len(untagged) != 0 {
		t.Fatalf("expected no subscriptions after unsubscribe, got %v", untagged)
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)

	untagged, _ := tc.transactf("OK", "STATUS inbox (MESSAGES UNSEEN)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], "MESSAGES 1") {
		t.Fatalf("unexpected status response: %v", untagged)
	}
}
