package imapserver

import "testing"

func TestInternalWireRoundTrip(t *testing.T) {
	for _, wire := range []string{"INBOX", "Drafts", "Sent", "Trash", "Junk", "Work/Projects", "Foo"} {
		internal := wireToInternal(wire)
		got := internalToWire(internal)
		if got != wire {
			t.Fatalf("internalToWire(wireToInternal(%q)) = %q, want %q", wire, got, wire)
		}
	}
}

func TestUTF7RoundTrip(t *testing.T) {
	cases := []string{
		"INBOX",
		"Sent Items",
		"Entwürfe",    // "Entwürfe", BMP non-ASCII
		"Répertoire",  // "Répertoire"
		"a&b",
		"&",
		"100% done",
		"\U0001F600 Emoji", // non-BMP rune, requires a UTF-16 surrogate pair
		"\U0001F600\U0001F601\U0001F602",
	}
	for _, x := range cases {
		enc := utf7encode(x)
		dec, err := utf7decode(enc)
		if err != nil {
			t.Fatalf("utf7decode(utf7encode(%q)=%q): %v", x, enc, err)
		}
		if dec != x {
			t.Fatalf("utf7decode(utf7encode(%q)) = %q, want %q (encoded: %q)", x, dec, x, enc)
		}
	}
}

func TestUTF7DecodeRejectsMalformed(t *testing.T) {
	cases := []string{
		"&AOk-&AOk-", // superfluous shift: two adjacent shifted runs
		"&!-",        // invalid base64 alphabet
		"&AGE",       // unfinished shift, no trailing "-"
	}
	for _, s := range cases {
		if _, err := utf7decode(s); err == nil {
			t.Fatalf("utf7decode(%q): expected error, got none", s)
		}
	}
}
