package imapserver

import (
	"context"
	"strings"
	"testing"

	"github.com/oxidemail/imapd/config"
	"github.com/oxidemail/imapd/midb"
)

func TestCopy(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.transactf("OK", "CREATE Archive")
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")

	_, tagged := tc.transactf("OK", "COPY 1 Archive")
	if !strings.Contains(tagged, "COPYUID") {
		t.Fatalf("expected COPYUID response code, got %q", tagged)
	}

	tc.transactf("OK", "UNSELECT")
	untagged, _ := tc.transactf("OK", "STATUS Archive (MESSAGES)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], "MESSAGES 1") {
		t.Fatalf("expected copied message in Archive, got %v", untagged)
	}
}

func TestCopyRejectsSameMailbox(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")
	tc.transactf("NO", "COPY 1 inbox")
}

// failAtUIDClient wraps a midb.Fake and makes CopyMail fail for one
// specific source UID, simulating the message in the middle of a COPY
// set that MIDB rejects.
type failAtUIDClient struct {
	*midb.Fake
	failUID uint32
}

func (f *failAtUIDClient) CopyMail(ctx context.Context, maildir, srcFolder string, uid uint32, dstFolder string) (midb.Status, error) {
	if uid == f.failUID {
		return midb.StatusResultError, nil
	}
	return f.Fake.CopyMail(ctx, maildir, srcFolder, uid, dstFolder)
}

func TestCopyPartialFailureRollsBack(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.transactf("OK", "CREATE Archive")
	tc.appendMessage("inbox", "", testMsg)
	tc.appendMessage("inbox", "", testMsg)
	tc.appendMessage("inbox", "", testMsg)
	tc.transactf("OK", "SELECT inbox")

	wrapped := &failAtUIDClient{Fake: ts.midb, failUID: 2}
	Init(Options{MIDB: wrapped, Maildir: ts.maildirFor, Hub: NewHub(), Config: config.Static{HostID: "test"}, Auth: ts.auth})

	tc.transactf("NO", "COPY 1,2,3 Archive")

	tc2 := ts.conn()
	defer tc2.close()
	tc2.login("mjl", "secret123")
	untagged, _ := tc2.transactf("OK", "STATUS Archive (MESSAGES)")
	if len(untagged) != 1 || !strings.Contains(untagged[0], "MESSAGES 0") {
		t.Fatalf("expected Archive to be empty after rollback, got %v", untagged)
	}
}
