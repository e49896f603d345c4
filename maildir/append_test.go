package maildir

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func newTestRoot(t *testing.T) *Root {
	dir := t.TempDir()
	r := NewRoot(dir)
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

func TestAppendRoundTrip(t *testing.T) {
	r := newTestRoot(t)
	mid := NewMid("host1")

	hdr := ScratchHeader{Mailbox: "INBOX", FlagsRaw: `\Seen \Flagged`, InternalDateRaw: "01-Jan-2024 00:00:00 +0000"}
	sc, err := r.BeginAppend(mid, hdr)
	if err != nil {
		t.Fatalf("BeginAppend: %v", err)
	}

	body := []byte("Subject: hi\r\n\r\nhello\r\n")
	if _, err := sc.File.Write(body); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := sc.File.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	gotHdr, r2, f, err := r.ReadScratch(mid)
	if err != nil {
		t.Fatalf("ReadScratch: %v", err)
	}
	defer f.Close()
	if gotHdr != hdr {
		t.Fatalf("header mismatch: got %+v want %+v", gotHdr, hdr)
	}
	gotBody, err := io.ReadAll(r2)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(gotBody) != string(body) {
		t.Fatalf("body mismatch: got %q want %q", gotBody, body)
	}

	if err := r.FinalizeAppend(mid, body); err != nil {
		t.Fatalf("FinalizeAppend: %v", err)
	}
	if _, err := os.Stat(r.EMLPath(mid)); err != nil {
		t.Fatalf("expected eml file to exist: %v", err)
	}

	if err := r.RemoveScratch(mid); err != nil {
		t.Fatalf("RemoveScratch: %v", err)
	}
	if _, err := os.Stat(r.ScratchPath(mid)); !os.IsNotExist(err) {
		t.Fatalf("expected scratch file gone, got err=%v", err)
	}
}

func TestAppendAbortLeavesNoTrace(t *testing.T) {
	r := newTestRoot(t)
	mid := NewMid("host1")

	sc, err := r.BeginAppend(mid, ScratchHeader{Mailbox: "INBOX"})
	if err != nil {
		t.Fatalf("BeginAppend: %v", err)
	}
	sc.File.Close()

	// Simulate abort: literal never completed, finalize never called.
	if err := r.RemoveScratch(mid); err != nil {
		t.Fatalf("RemoveScratch: %v", err)
	}

	if _, err := os.Stat(r.ScratchPath(mid)); !os.IsNotExist(err) {
		t.Fatalf("expected tmp/<mid> absent after abort")
	}
	if _, err := os.Stat(r.EMLPath(mid)); !os.IsNotExist(err) {
		t.Fatalf("expected eml/<mid> absent after abort")
	}
}

func TestRemoveScratchIdempotent(t *testing.T) {
	r := newTestRoot(t)
	if err := r.RemoveScratch("nonexistent"); err != nil {
		t.Fatalf("expected no error removing missing scratch, got %v", err)
	}
}

func TestLayoutPaths(t *testing.T) {
	r := NewRoot("/srv/mail/alice")
	mid := "1.2.host"
	if got, want := r.EMLPath(mid), filepath.Join("/srv/mail/alice", "eml", mid); got != want {
		t.Fatalf("EMLPath: got %q want %q", got, want)
	}
	if got, want := r.RFC822Dir(mid), filepath.Join("/srv/mail/alice", "tmp", "imap.rfc822", mid); got != want {
		t.Fatalf("RFC822Dir: got %q want %q", got, want)
	}
}
