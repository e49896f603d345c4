package message

import (
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
)

// Address as used in From/To/Cc/Bcc headers for ENVELOPE rendering.
type Address struct {
	Name string // Free-form name for display in mail applications.
	User string // Localpart, as it appeared in the header.
	Host string // Domain, as it appeared in the header.
}

var wordDecoder = mime.WordDecoder{
	CharsetReader: func(charset string, r io.Reader) (io.Reader, error) {
		// Only US-ASCII/UTF-8 are understood; other charsets pass through
		// undecoded rather than failing the whole header.
		return r, nil
	},
}

// ParseAddressList parses a string as an address list header value
// (potentially multiple addresses, comma-separated, with optional display
// name).
func ParseAddressList(s string) ([]Address, error) {
	parser := mail.AddressParser{WordDecoder: &wordDecoder}
	addrs, err := parser.ParseList(s)
	if err != nil {
		return nil, fmt.Errorf("parsing address list: %v", err)
	}
	r := make([]Address, len(addrs))
	for i, a := range addrs {
		user, host := splitAddress(a.Address)
		r[i] = Address{a.Name, user, host}
	}
	return r, nil
}

func splitAddress(addr string) (user, host string) {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 {
		return addr, ""
	}
	return addr[:i], addr[i+1:]
}
