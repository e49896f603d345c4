package imapserver

import (
	"fmt"
	"strings"

	"github.com/oxidemail/imapd/internal/daemon"
	"github.com/oxidemail/imapd/midb"
)

// cmdIdle implements IDLE: the session blocks, relaying peer-originated
// Events as untagged responses, until any client-sent line (normally
// "DONE") arrives on the connection.
func (c *conn) cmdIdle(tag, cmd string, p *parser) {
	p.xempty()

	c.writelinef("+ waiting")

	var line string
wait:
	for {
		select {
		case le := <-c.lineChan():
			c.line = nil
			if le.err != nil {
				panic(fmt.Errorf("%w: %v", errIO, le.err))
			}
			line = le.line
			break wait
		case ev, ok := <-c.eventChan():
			if !ok {
				continue
			}
			c.applyEvent(ev)
		case <-daemon.Shutdown.Done():
			c.writelinef("* BYE shutting down")
			panic(errIO)
		}
	}

	if strings.ToUpper(strings.TrimSpace(line)) != "DONE" {
		panic(fmt.Errorf("%w: in IDLE, expected DONE", errIO))
	}

	c.ok(tag, cmd)
}

// eventChan returns the session's peer-event channel, or a channel that
// never fires if no mailbox is selected.
func (c *conn) eventChan() chan Event {
	if c.events == nil {
		return nil
	}
	return c.events
}

// applyEvent renders a single peer-originated Event as the matching
// untagged response. Only EventExists refreshes the selected view from
// MIDB; EXPUNGE and FETCH use the sequence numbers of the current view.
func (c *conn) applyEvent(ev Event) {
	if c.selected == nil || ev.Folder != c.selected.folder {
		return
	}
	switch ev.Kind {
	case EventExists:
		c.refreshSelected(false)
	case EventExpunge:
		if i, ok := c.selected.byUID[ev.UID]; ok {
			seq := msgseq(i + 1)
			c.selected.removeSeq(seq)
			c.bwritelinef("* %d EXPUNGE", seq)
		}
	case EventFlags:
		if i, ok := c.selected.byUID[ev.UID]; ok {
			if flags, ok := ev.Flags.(midb.Flags); ok {
				c.selected.items[i].flags = flags
			}
			c.bwritelinef("* %d FETCH (UID %d FLAGS (%s))", i+1, ev.UID, flagsList(c.selected.items[i].flags))
		}
	case EventMailbox:
	}
}
