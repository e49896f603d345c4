package imapserver

import "testing"

func TestSelectExamine(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")

	untagged, tagged := tc.transactf("OK", "SELECT inbox")
	if tagged[len(tagged)-len(`[READ-WRITE] select done`):] != `[READ-WRITE] select done` {
		t.Fatalf("expected READ-WRITE code, got %q", tagged)
	}
	foundExists := false
	for _, l := range untagged {
		if l == "* 0 EXISTS" {
			foundExists = true
		}
	}
	if !foundExists {
		t.Fatalf("expected * 0 EXISTS among %v", untagged)
	}

	_, tagged = tc.transactf("OK", "EXAMINE inbox")
	if tagged[len(tagged)-len(`[READ-ONLY] examine done`):] != `[READ-ONLY] examine done` {
		t.Fatalf("expected READ-ONLY code, got %q", tagged)
	}

	tc.transactf("OK", "UNSELECT")
}

func TestSelectUnknownFolder(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.transactf("NO", "SELECT nosuchfolder")
}

func TestCreateDeleteRename(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")

	tc.transactf("OK", "CREATE Project")
	tc.transactf("OK", "SELECT Project")
	tc.transactf("OK", "UNSELECT")
	tc.transactf("OK", "RENAME Project Archive")
	tc.transactf("OK", "SELECT Archive")
	tc.transactf("OK", "UNSELECT")
	tc.transactf("OK", "DELETE Archive")
	tc.transactf("NO", "SELECT Archive")
}

func TestCreateRejectsInbox(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.transactf("NO", "CREATE INBOX")
}

func TestDeleteRejectsInbox(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	tc := ts.conn()
	defer tc.close()

	tc.login("mjl", "secret123")
	tc.transactf("NO", "DELETE INBOX")
}
