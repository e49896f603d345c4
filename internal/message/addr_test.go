package message

import (
	"testing"
)

func TestParseAddressList(t *testing.T) {
	l, err := ParseAddressList("=?iso-8859-2?Q?Kristyna?= <k@example.com>, mjl@mox.example")
	tcheck(t, err, "parsing address list")
	tcompare(t, l, []Address{{"Kristyna", "k", "example.com"}, {"", "mjl", "mox.example"}})
}
