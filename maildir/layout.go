// Package maildir implements the on-disk layout this frontend owns:
// canonical message bytes under eml/, APPEND scratch files under tmp/,
// and materialised nested message/rfc822 parts under tmp/imap.rfc822/.
// All per-folder metadata (UIDs, flags, search indexes) lives in MIDB, not
// here; this package never reads or writes anything MIDB owns.
package maildir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Root is a single account's maildir tree: <DataDir>/<account>.
type Root struct {
	Dir string
}

// NewRoot returns a Root rooted at dir. It does not create the directory.
func NewRoot(dir string) *Root {
	return &Root{Dir: dir}
}

// EMLPath returns the path to the canonical RFC5322 bytes for mid.
func (r *Root) EMLPath(mid string) string {
	return filepath.Join(r.Dir, "eml", mid)
}

// ScratchPath returns the path to the APPEND scratch file for mid.
func (r *Root) ScratchPath(mid string) string {
	return filepath.Join(r.Dir, "tmp", mid)
}

// RFC822Dir returns the directory holding materialised message/rfc822
// parts for mid.
func (r *Root) RFC822Dir(mid string) string {
	return filepath.Join(r.Dir, "tmp", "imap.rfc822", mid)
}

// Init creates the eml/, tmp/ and tmp/imap.rfc822/ directories if they do
// not yet exist.
func (r *Root) Init() error {
	for _, d := range []string{
		filepath.Join(r.Dir, "eml"),
		filepath.Join(r.Dir, "tmp"),
		filepath.Join(r.Dir, "tmp", "imap.rfc822"),
	} {
		if err := os.MkdirAll(d, 0770); err != nil {
			return fmt.Errorf("creating %s: %v", d, err)
		}
	}
	return nil
}

// RemoveRFC822 removes a previously materialised message/rfc822 directory
// for mid, ignoring a not-exist error.
func (r *Root) RemoveRFC822(mid string) error {
	err := os.RemoveAll(r.RFC822Dir(mid))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveEML removes the canonical message file for mid, ignoring a
// not-exist error.
func (r *Root) RemoveEML(mid string) error {
	err := os.Remove(r.EMLPath(mid))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveScratch removes the APPEND scratch file for mid, ignoring a
// not-exist error. Called on literal-phase errors and on disconnect so
// that the APPEND crash-safety invariant holds: no half-finished eml/ or
// leftover tmp/ file survives a failed APPEND.
func (r *Root) RemoveScratch(mid string) error {
	err := os.Remove(r.ScratchPath(mid))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
