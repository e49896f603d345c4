package maildir

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ScratchHeader is the framed metadata written ahead of the message bytes
// in an APPEND scratch file: mailbox name, raw flag list text and raw
// internal-date text, each NUL-terminated, preceded by a big-endian u32
// giving the total length of the three fields (including their NUL
// terminators) that follows.
type ScratchHeader struct {
	Mailbox      string
	FlagsRaw     string
	InternalDateRaw string
}

func (h ScratchHeader) encode() []byte {
	buf := make([]byte, 0, len(h.Mailbox)+len(h.FlagsRaw)+len(h.InternalDateRaw)+3)
	buf = append(buf, h.Mailbox...)
	buf = append(buf, 0)
	buf = append(buf, h.FlagsRaw...)
	buf = append(buf, 0)
	buf = append(buf, h.InternalDateRaw...)
	buf = append(buf, 0)
	return buf
}

// Scratch is an open APPEND scratch file, created by BeginAppend and
// written to directly as the IMAP literal arrives.
type Scratch struct {
	Mid  string
	Path string
	File *os.File
}

// BeginAppend creates maildir/tmp/<mid>, writes the framed header, and
// returns a Scratch whose File is positioned right after the header,
// ready to receive the literal's message bytes. The caller owns closing
// File; on any later failure it must call root.RemoveScratch(mid) so the
// APPEND crash-safety invariant holds.
func (r *Root) BeginAppend(mid string, hdr ScratchHeader) (*Scratch, error) {
	path := r.ScratchPath(mid)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0660)
	if err != nil {
		return nil, fmt.Errorf("creating scratch file: %v", err)
	}

	body := hdr.encode()
	var lenbuf [4]byte
	binary.BigEndian.PutUint32(lenbuf[:], uint32(len(body)))
	if _, err := f.Write(lenbuf[:]); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing scratch header length: %v", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing scratch header: %v", err)
	}
	return &Scratch{Mid: mid, Path: path, File: f}, nil
}

// ReadScratch reopens and parses a previously written scratch file,
// returning its header and a reader positioned at the start of the
// message bytes that follow it.
func (r *Root) ReadScratch(mid string) (ScratchHeader, io.Reader, *os.File, error) {
	path := r.ScratchPath(mid)
	f, err := os.Open(path)
	if err != nil {
		return ScratchHeader{}, nil, nil, fmt.Errorf("opening scratch file: %v", err)
	}

	var lenbuf [4]byte
	if _, err := io.ReadFull(f, lenbuf[:]); err != nil {
		f.Close()
		return ScratchHeader{}, nil, nil, fmt.Errorf("reading scratch header length: %v", err)
	}
	hdrLen := binary.BigEndian.Uint32(lenbuf[:])

	hdrBuf := make([]byte, hdrLen)
	if _, err := io.ReadFull(f, hdrBuf); err != nil {
		f.Close()
		return ScratchHeader{}, nil, nil, fmt.Errorf("reading scratch header: %v", err)
	}

	fields, err := splitNulFields(hdrBuf, 3)
	if err != nil {
		f.Close()
		return ScratchHeader{}, nil, nil, err
	}
	hdr := ScratchHeader{Mailbox: fields[0], FlagsRaw: fields[1], InternalDateRaw: fields[2]}
	return hdr, bufio.NewReader(f), f, nil
}

func splitNulFields(buf []byte, n int) ([]string, error) {
	fields := make([]string, 0, n)
	start := 0
	for i, b := range buf {
		if b == 0 {
			fields = append(fields, string(buf[start:i]))
			start = i + 1
		}
	}
	if len(fields) != n {
		return nil, fmt.Errorf("malformed scratch header: got %d fields, want %d", len(fields), n)
	}
	return fields, nil
}

// FinalizeAppend writes msg as the canonical eml/<mid> file. The caller
// is responsible for calling MIDB insert and then RemoveScratch once this
// succeeds.
func (r *Root) FinalizeAppend(mid string, msg []byte) error {
	path := r.EMLPath(mid)
	tmp := path + ".part"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0660)
	if err != nil {
		return fmt.Errorf("creating eml file: %v", err)
	}
	if _, err := f.Write(msg); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing eml file: %v", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing eml file: %v", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing eml file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming eml file into place: %v", err)
	}
	return nil
}
