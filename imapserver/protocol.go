package imapserver

import (
	"fmt"
)

// UID is a per-folder message UID as assigned by MIDB. It replaces
// mox's store.UID: this frontend never assigns UIDs itself, it only
// echoes the ones MIDB returns.
type UID uint32

type numSet struct {
	searchResult bool // "$"
	ranges       []numRange
}

// containsSeq returns whether seq is in the numSet, given uids and (saved) searchResult.
// uids and searchResult must be sorted. searchResult can have uids that are no longer in uids.
func (ss numSet) containsSeq(seq msgseq, uids []UID, searchResult []UID) bool {
	if len(uids) == 0 {
		return false
	}
	if ss.searchResult {
		uid := uids[int(seq)-1]
		return uidSearch(searchResult, uid) > 0 && uidSearch(uids, uid) > 0
	}
	for _, r := range ss.ranges {
		n := uint32(len(uids))
		first := r.first.number
		if r.first.star {
			first = n
		}
		last := first
		if r.last != nil {
			last = r.last.number
			if r.last.star {
				last = n
			}
			if r.first.star {
				first, last = last, n
			}
		}
		if last > n {
			last = n
		}
		if uint32(seq) >= first && uint32(seq) <= last {
			return true
		}
	}
	return false
}

func (ss numSet) containsUID(uid UID, uids []UID, searchResult []UID) bool {
	if len(uids) == 0 {
		return false
	}
	if ss.searchResult {
		return uidSearch(searchResult, uid) > 0 && uidSearch(uids, uid) > 0
	}
	for _, r := range ss.ranges {
		max := uids[len(uids)-1]
		first := UID(r.first.number)
		if r.first.star {
			first = max
		}
		last := first
		// Num in <num>:* can be larger than last, but it still matches the
		// last UID; similarly for *:<num>.
		if r.last != nil {
			last = UID(r.last.number)
			if r.last.star {
				last = max
			}
			if first > last {
				first, last = last, first
			}
		}
		if uid < first || uid > last {
			continue
		}
		if uidSearch(uids, uid) > 0 {
			return true
		}
	}
	return false
}

func (ss numSet) String() string {
	if ss.searchResult {
		return "$"
	}
	s := ""
	for _, r := range ss.ranges {
		if s != "" {
			s += ","
		}
		if r.first.star {
			s += "*"
		} else {
			s += fmt.Sprintf("%d", r.first.number)
		}
		if r.last == nil {
			continue
		}
		s += ":"
		if r.last.star {
			s += "*"
		} else {
			s += fmt.Sprintf("%d", r.last.number)
		}
	}
	return s
}

type setNumber struct {
	number uint32
	star   bool
}

type numRange struct {
	first setNumber
	last  *setNumber // if nil, this numRange is just a setNumber in "first", which may be "*"
}

type partial struct {
	offset uint32
	count  uint32
}

type sectionPart struct {
	part []uint32
	text *sectionText
}

type sectionText struct {
	mime    bool // if "MIME"
	msgtext *sectionMsgtext
}

// a non-nil *sectionSpec with nil msgtext & nil part means there were []'s, but nothing inside. e.g. "BODY[]".
type sectionSpec struct {
	msgtext *sectionMsgtext
	part    *sectionPart
}

type sectionMsgtext struct {
	s       string   // "HEADER", "HEADER.FIELDS", "HEADER.FIELDS.NOT", "TEXT"
	headers []string // for "HEADER.FIELDS"*
}

type fetchAtt struct {
	field         string // uppercase, eg "ENVELOPE", "BODY". ".PEEK" is removed.
	peek          bool
	section       *sectionSpec
	sectionBinary []uint32
	partial       *partial
}

// fetchPlan is the normalized result of parsing a FETCH attribute list:
// the attributes to render, in the fixed order the response lines use
// (UID forced first), plus whether rendering any of them requires
// MIDB's per-message detail record and/or the message's raw eml bytes
// off disk. cmdxFetch uses this to skip whichever round trip a given
// request doesn't need.
type fetchPlan struct {
	atts       []fetchAtt
	needDetail bool
	needData   bool
}

func compactUIDSet(l []UID) (r numSet) {
	for len(l) > 0 {
		e := 1
		for ; e < len(l) && l[e] == l[e-1]+1; e++ {
		}
		first := setNumber{number: uint32(l[0])}
		var last *setNumber
		if e > 1 {
			last = &setNumber{number: uint32(l[e-1])}
		}
		r.ranges = append(r.ranges, numRange{first, last})
		l = l[e:]
	}
	return
}
