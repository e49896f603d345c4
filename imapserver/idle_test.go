package imapserver

import (
	"strings"
	"testing"
	"time"
)

func TestIdleSeesPeerAppend(t *testing.T) {
	ts := newTestServer(t)
	ts.addAccount("mjl", "secret123")

	idler := ts.conn()
	defer idler.close()
	idler.login("mjl", "secret123")
	idler.transactf("OK", "SELECT inbox")

	appender := ts.conn()
	defer appender.close()
	appender.login("mjl", "secret123")

	idler.writelinef("%s IDLE", idler.nextTag())
	idler.readprefixline("+")

	_, tagged := appender.appendMessage("inbox", "", testMsg)
	if !strings.Contains(tagged, "OK") {
		t.Fatalf("append failed: %q", tagged)
	}

	idler.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	idler.readprefixline("* 1 EXISTS")
	idler.conn.SetReadDeadline(time.Time{})

	idler.writelinef("DONE")
	idler.readprefixline(idler.lastTag() + " OK")
}
