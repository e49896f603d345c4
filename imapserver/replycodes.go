package imapserver

import (
	"fmt"

	"github.com/oxidemail/imapd/midb"
)

// midbReply turns a midb.Error's status code into a stable "NO ..."
// reply text, so a given failure condition always
// produces the same wording regardless of which command triggered it.
func midbReply(e *midb.Error) string {
	switch e.Status {
	case midb.StatusNoServer:
		return "server internal error: midb unreachable"
	case midb.StatusRDWRError:
		return "server internal error: midb read/write failure"
	case midb.StatusResultError:
		if e.Errno != 0 {
			return fmt.Sprintf("server internal error: midb result error (errno %d)", e.Errno)
		}
		return "server internal error: midb result error"
	case midb.StatusLocalENOMEM:
		return "server internal error: out of memory"
	case midb.StatusTooManyResults:
		return "too many results"
	default:
		return e.Error()
	}
}
