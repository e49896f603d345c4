package imapserver

import (
	"encoding/hex"
	"strings"
)

// specialNames are the five reserved internal folder identifiers. A
// client-visible mailbox matching one of these (case-insensitively, with
// "INBOX" as the canonical wire spelling) maps directly to it; every
// other mailbox name is hex-encoded, even if it would otherwise be a
// plain alphanumeric name, so that the internal namespace never collides
// with a special name picked by a later client.
var specialNames = map[string]string{
	"inbox": "inbox",
	"draft": "draft",
	"sent":  "sent",
	"trash": "trash",
	"junk":  "junk",
}

var specialNameWire = map[string]string{
	"inbox": "INBOX",
	"draft": "Drafts",
	"sent":  "Sent",
	"trash": "Trash",
	"junk":  "Junk",
}

// internalToWire converts an internal folder name (a special name or a
// lowercase-hex path) to the client-visible mailbox name.
func internalToWire(internal string) string {
	if wire, ok := specialNameWire[internal]; ok {
		return wire
	}
	buf, err := hex.DecodeString(internal)
	if err != nil {
		// Not hex: a name that predates the hex-everything convention, or a
		// corrupt MIDB record. Surface it unmodified rather than fail the
		// whole LIST/SELECT.
		return internal
	}
	return string(buf)
}

// wireToInternal converts a client-visible mailbox name (already decoded
// from MUTF-7/UTF8 by the parser) into the internal representation
// MIDB uses: one of the five special names, or a lowercase-hex encoding
// of the UTF-8 path.
func wireToInternal(wire string) string {
	lower := strings.ToLower(wire)
	if lower == "inbox" {
		return "inbox"
	}
	for special, w := range specialNameWire {
		if strings.EqualFold(wire, w) {
			return special
		}
	}
	if internal, ok := specialNames[lower]; ok {
		return internal
	}
	return hex.EncodeToString([]byte(wire))
}

// isSpecialInternal reports whether name is one of the five reserved
// special internal identifiers.
func isSpecialInternal(name string) bool {
	_, ok := specialNames[name]
	return ok
}

// specialUseAttr returns the IMAP SPECIAL-USE attribute (RFC 6154) for a
// reserved internal folder name, or "" if it has none.
func specialUseAttr(internal string) string {
	switch internal {
	case "draft":
		return "\\Drafts"
	case "sent":
		return "\\Sent"
	case "trash":
		return "\\Trash"
	case "junk":
		return "\\Junk"
	}
	return ""
}
