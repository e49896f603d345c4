package midb

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Fake is an in-memory Client implementation, used by tests and by
// cmd/imapd -dev so imapserver can be exercised against real MIDB
// semantics without a running MIDB process.
type Fake struct {
	mu   sync.Mutex
	data map[string]*fakeAccount // keyed by maildir
}

type fakeAccount struct {
	folders       map[string]*fakeFolder
	subscriptions map[string]bool
}

type fakeFolder struct {
	uidvalidity uint32
	uidnext     uint32
	items       []*fakeItem // ordered by UID
}

type fakeItem struct {
	uid     uint32
	mid     string
	flags   Flags
	digest  string
	deleted bool
}

// NewFake returns an empty Fake. The INBOX folder is not created
// automatically; callers typically call MakeFolder("INBOX") during setup,
// mirroring the account bootstrap step this frontend does not own.
func NewFake() *Fake {
	return &Fake{data: map[string]*fakeAccount{}}
}

func (f *Fake) account(maildir string) *fakeAccount {
	a, ok := f.data[maildir]
	if !ok {
		a = &fakeAccount{folders: map[string]*fakeFolder{}, subscriptions: map[string]bool{}}
		f.data[maildir] = a
	}
	return a
}

func (f *Fake) SummaryFolder(ctx context.Context, maildir, folder string) (FolderSummary, Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	fo, ok := a.folders[folder]
	if !ok {
		return FolderSummary{}, StatusResultError, nil
	}
	var s FolderSummary
	s.UIDValidity = fo.uidvalidity
	s.UIDNext = fo.uidnext
	for _, it := range fo.items {
		if it.deleted {
			continue
		}
		s.Exists++
		if it.flags.Recent {
			s.Recent++
		}
		if !it.flags.Seen {
			s.Unseen++
		}
	}
	return s, StatusOK, nil
}

func (f *Fake) EnumFolders(ctx context.Context, maildir string) ([]string, Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	names := make([]string, 0, len(a.folders))
	for name := range a.folders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, StatusOK, nil
}

func (f *Fake) EnumSubscriptions(ctx context.Context, maildir string) ([]string, Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	names := make([]string, 0, len(a.subscriptions))
	for name, on := range a.subscriptions {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, StatusOK, nil
}

func (f *Fake) MakeFolder(ctx context.Context, maildir, folder string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	if _, ok := a.folders[folder]; ok {
		return StatusResultError, nil
	}
	a.folders[folder] = &fakeFolder{uidvalidity: nextUIDValidity(), uidnext: 1}
	return StatusOK, nil
}

func (f *Fake) RemoveFolder(ctx context.Context, maildir, folder string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	if _, ok := a.folders[folder]; !ok {
		return StatusResultError, nil
	}
	delete(a.folders, folder)
	delete(a.subscriptions, folder)
	return StatusOK, nil
}

func (f *Fake) RenameFolder(ctx context.Context, maildir, oldFolder, newFolder string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	fo, ok := a.folders[oldFolder]
	if !ok {
		return StatusResultError, nil
	}
	if _, exists := a.folders[newFolder]; exists {
		return StatusResultError, nil
	}
	delete(a.folders, oldFolder)
	a.folders[newFolder] = fo
	if a.subscriptions[oldFolder] {
		delete(a.subscriptions, oldFolder)
		a.subscriptions[newFolder] = true
	}
	return StatusOK, nil
}

func (f *Fake) SubscribeFolder(ctx context.Context, maildir, folder string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	a.subscriptions[folder] = true
	return StatusOK, nil
}

func (f *Fake) UnsubscribeFolder(ctx context.Context, maildir, folder string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	a.subscriptions[folder] = false
	return StatusOK, nil
}

func (f *Fake) FetchSimpleUID(ctx context.Context, maildir, folder, seqSet string) ([]MITEM, Status, error) {
	return f.fetch(maildir, folder, seqSet, false)
}

func (f *Fake) FetchDetailUID(ctx context.Context, maildir, folder, seqSet string) ([]MITEM, Status, error) {
	return f.fetch(maildir, folder, seqSet, true)
}

func (f *Fake) fetch(maildir, folder, seqSet string, detail bool) ([]MITEM, Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	fo, ok := a.folders[folder]
	if !ok {
		return nil, StatusResultError, nil
	}
	want := parseUIDSet(seqSet, fo.uidnext)
	var out []MITEM
	for _, it := range fo.items {
		if it.deleted {
			continue
		}
		if want != nil && !want[it.uid] {
			continue
		}
		m := MITEM{UID: it.uid, Mid: it.mid, Flags: it.flags}
		if detail {
			m.Digest = it.digest
		}
		out = append(out, m)
	}
	return out, StatusOK, nil
}

func (f *Fake) ListDeleted(ctx context.Context, maildir, folder string) ([]MITEM, Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	fo, ok := a.folders[folder]
	if !ok {
		return nil, StatusResultError, nil
	}
	var out []MITEM
	for _, it := range fo.items {
		if it.deleted {
			out = append(out, MITEM{UID: it.uid, Mid: it.mid, Flags: it.flags})
		}
	}
	return out, StatusOK, nil
}

func (f *Fake) InsertMail(ctx context.Context, maildir, folder, mid string, flags Flags) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	fo, ok := a.folders[folder]
	if !ok {
		return StatusResultError, nil
	}
	uid := fo.uidnext
	fo.uidnext++
	flags.Recent = true
	fo.items = append(fo.items, &fakeItem{uid: uid, mid: mid, flags: flags})
	return StatusOK, nil
}

func (f *Fake) RemoveMail(ctx context.Context, maildir, folder string, uids []uint32) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	fo, ok := a.folders[folder]
	if !ok {
		return StatusResultError, nil
	}
	set := map[uint32]bool{}
	for _, u := range uids {
		set[u] = true
	}
	var kept []*fakeItem
	for _, it := range fo.items {
		if !set[it.uid] {
			kept = append(kept, it)
		}
	}
	fo.items = kept
	return StatusOK, nil
}

func (f *Fake) CopyMail(ctx context.Context, maildir, srcFolder string, uid uint32, dstFolder string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	src, ok := a.folders[srcFolder]
	if !ok {
		return StatusResultError, nil
	}
	dst, ok := a.folders[dstFolder]
	if !ok {
		return StatusResultError, nil
	}
	for _, it := range src.items {
		if it.deleted || it.uid != uid {
			continue
		}
		newUID := dst.uidnext
		dst.uidnext++
		dst.items = append(dst.items, &fakeItem{uid: newUID, mid: it.mid, flags: it.flags, digest: it.digest})
		return StatusOK, nil
	}
	return StatusResultError, nil
}

func (f *Fake) GetUID(ctx context.Context, maildir, folder, mid string) (uint32, Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	fo, ok := a.folders[folder]
	if !ok {
		return 0, StatusResultError, nil
	}
	for _, it := range fo.items {
		if it.mid == mid {
			return it.uid, StatusOK, nil
		}
	}
	return 0, StatusResultError, nil
}

// Search is a minimal substring-over-mid implementation: enough to
// exercise the opaque forwarding contract in tests without replicating
// MIDB's actual search engine.
func (f *Fake) Search(ctx context.Context, maildir, folder, charset string, argv []string) (string, Status, error) {
	return f.search(maildir, folder, argv, false)
}

func (f *Fake) SearchUID(ctx context.Context, maildir, folder, charset string, argv []string) (string, Status, error) {
	return f.search(maildir, folder, argv, true)
}

func (f *Fake) search(maildir, folder string, argv []string, byUID bool) (string, Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	fo, ok := a.folders[folder]
	if !ok {
		return "", StatusResultError, nil
	}
	needle := strings.ToLower(strings.Join(argv, " "))
	var out []string
	for seq, it := range fo.items {
		if it.deleted {
			continue
		}
		if needle != "" && needle != "all" && !strings.Contains(strings.ToLower(it.mid), needle) {
			continue
		}
		if byUID {
			out = append(out, uint32ToString(it.uid))
		} else {
			out = append(out, uint32ToString(uint32(seq+1)))
		}
	}
	return strings.Join(out, " "), StatusOK, nil
}

func (f *Fake) SetFlags(ctx context.Context, maildir, folder string, uids []uint32, flags Flags) (Status, error) {
	return f.mutateFlags(maildir, folder, uids, flags, true)
}

func (f *Fake) UnsetFlags(ctx context.Context, maildir, folder string, uids []uint32, flags Flags) (Status, error) {
	return f.mutateFlags(maildir, folder, uids, flags, false)
}

func (f *Fake) mutateFlags(maildir, folder string, uids []uint32, flags Flags, set bool) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	fo, ok := a.folders[folder]
	if !ok {
		return StatusResultError, nil
	}
	want := map[uint32]bool{}
	for _, u := range uids {
		want[u] = true
	}
	for _, it := range fo.items {
		if !want[it.uid] {
			continue
		}
		applyFlagDelta(&it.flags, flags, set)
	}
	return StatusOK, nil
}

func applyFlagDelta(cur *Flags, delta Flags, set bool) {
	if delta.Seen {
		cur.Seen = set
	}
	if delta.Answered {
		cur.Answered = set
	}
	if delta.Flagged {
		cur.Flagged = set
	}
	if delta.Deleted {
		cur.Deleted = set
	}
	if delta.Draft {
		cur.Draft = set
	}
	if delta.Recent {
		cur.Recent = set
	}
	for _, kw := range delta.Keywords {
		cur.Keywords = removeString(cur.Keywords, kw)
		if set {
			cur.Keywords = append(cur.Keywords, kw)
		}
	}
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func (f *Fake) GetFlags(ctx context.Context, maildir, folder string, uid uint32) (Flags, Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(maildir)
	fo, ok := a.folders[folder]
	if !ok {
		return Flags{}, StatusResultError, nil
	}
	for _, it := range fo.items {
		if it.uid == uid {
			return it.flags, StatusOK, nil
		}
	}
	return Flags{}, StatusResultError, nil
}

var uidvalidityCounter uint32 = 1

func nextUIDValidity() uint32 {
	uidvalidityCounter++
	return uidvalidityCounter
}

func parseUIDSet(s string, uidnext uint32) map[uint32]bool {
	s = strings.TrimSpace(s)
	if s == "" || s == "1:*" || s == "*" {
		return nil
	}
	out := map[uint32]bool{}
	for _, part := range strings.Split(s, ",") {
		if strings.Contains(part, ":") {
			bounds := strings.SplitN(part, ":", 2)
			lo := parseUIDBound(bounds[0], uidnext)
			hi := parseUIDBound(bounds[1], uidnext)
			if lo > hi {
				lo, hi = hi, lo
			}
			for u := lo; u <= hi; u++ {
				out[u] = true
			}
			continue
		}
		out[parseUIDBound(part, uidnext)] = true
	}
	return out
}

func parseUIDBound(s string, uidnext uint32) uint32 {
	if s == "*" {
		if uidnext == 0 {
			return 0
		}
		return uidnext - 1
	}
	var v uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			return v
		}
		v = v*10 + uint32(c-'0')
	}
	return v
}

func uint32ToString(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

var _ Client = (*Fake)(nil)
