// Package msgset implements the canonical, range-compressed UID and
// sequence-number sets IMAP commands address messages by:
// construction, set algebra (union/intersection/difference), and
// batched iteration for commands that must stay under a server's
// practical command-line length.
package msgset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MessageSet is an immutable, canonicalized set of message
// identifiers -- either UIDs or sequence numbers, never mixed. The
// zero value is the empty set.
type MessageSet struct {
	uid     bool
	ranges  []rng // sorted, non-adjacent, non-overlapping, ascending
	mailbox string
}

// Bind returns a copy of m scoped to mailbox (the optional
// bound mailbox): combining it with a set bound to a different
// mailbox panics, the same way mixing UIDs and sequence numbers does.
func (m MessageSet) Bind(mailbox string) MessageSet {
	m.mailbox = mailbox
	return m
}

// Mailbox returns the bound mailbox name, or "" if the set carries no
// binding.
func (m MessageSet) Mailbox() string { return m.mailbox }

type rng struct {
	lo, hi uint32 // inclusive
}

// FromUIDs builds a MessageSet of UIDs.
func FromUIDs(uids ...uint32) MessageSet {
	return build(true, uids)
}

// FromSequenceNumbers builds a MessageSet of sequence numbers.
func FromSequenceNumbers(nums ...uint32) MessageSet {
	return build(false, nums)
}

// FromRange builds a contiguous UID or sequence-number range [lo, hi].
func FromRange(uid bool, lo, hi uint32) MessageSet {
	if lo > hi {
		lo, hi = hi, lo
	}
	return MessageSet{uid: uid, ranges: []rng{{lo, hi}}}
}

// AllMessages returns the "1:*" sequence-number set selecting every
// message in the currently selected mailbox.
func AllMessages() MessageSet {
	return MessageSet{uid: false, ranges: []rng{{1, starMarker}}}
}

// AllUIDs returns the "1:*" UID set.
func AllUIDs() MessageSet {
	return MessageSet{uid: true, ranges: []rng{{1, starMarker}}}
}

// starMarker stands in for the unbounded "*" endpoint. The id range
// technically admits uint32 max as a finite UID, so reserving it as
// the sentinel collides with that one value: a literal 4294967295 in a
// set is treated as "*". No real server assigns it (UIDNEXT could
// never move past it), so the collision is accepted in exchange for
// keeping rng a plain pair of uint32s.
const starMarker = ^uint32(0)

// FromSearchResult builds a UID MessageSet from UID SEARCH results,
// bound to the mailbox the search ran against.
func FromSearchResult(uids []uint32, mailbox string) MessageSet {
	return FromUIDs(uids...).Bind(mailbox)
}

// Parse reads a wire-format sequence set string ("1,3:5,9") into a
// MessageSet. uid reports whether the caller knows these are UIDs
// (e.g. parsed out of a UID FETCH response) or sequence numbers.
func Parse(uid bool, s string) (MessageSet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return MessageSet{uid: uid}, fmt.Errorf("msgset: empty sequence set")
	}
	var values []uint32
	var result MessageSet
	result.uid = uid
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			return MessageSet{}, fmt.Errorf("msgset: empty component in %q", s)
		}
		if i := strings.IndexByte(part, ':'); i >= 0 {
			lo, err := parseEndpoint(part[:i])
			if err != nil {
				return MessageSet{}, err
			}
			hi, err := parseEndpoint(part[i+1:])
			if err != nil {
				return MessageSet{}, err
			}
			result.ranges = append(result.ranges, rng{lo, hi})
			continue
		}
		v, err := parseEndpoint(part)
		if err != nil {
			return MessageSet{}, err
		}
		values = append(values, v)
	}
	if len(values) > 0 {
		result.ranges = append(result.ranges, valuesToRanges(values)...)
	}
	return canonicalize(result), nil
}

func parseEndpoint(s string) (uint32, error) {
	if s == "*" {
		return starMarker, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("msgset: invalid sequence number %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("msgset: sequence numbers and UIDs are 1-based, got 0")
	}
	return uint32(n), nil
}

func build(uid bool, values []uint32) MessageSet {
	ms := MessageSet{uid: uid, ranges: valuesToRanges(values)}
	return canonicalize(ms)
}

func valuesToRanges(values []uint32) []rng {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]uint32(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var out []rng
	start, prev := sorted[0], sorted[0]
	for _, v := range sorted[1:] {
		if v == prev {
			continue // dedupe
		}
		if v == prev+1 {
			prev = v
			continue
		}
		out = append(out, rng{start, prev})
		start, prev = v, v
	}
	out = append(out, rng{start, prev})
	return out
}

// canonicalize sorts and merges ranges so equal sets always compare
// structurally equal and render identical wire strings.
func canonicalize(ms MessageSet) MessageSet {
	if len(ms.ranges) == 0 {
		return ms
	}
	sorted := append([]rng(nil), ms.ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].lo < sorted[j].lo })
	var merged []rng
	cur := sorted[0]
	for _, r := range sorted[1:] {
		if r.lo <= cur.hi || (cur.hi != starMarker && r.lo == cur.hi+1) {
			if r.hi > cur.hi {
				cur.hi = r.hi
			}
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	merged = append(merged, cur)
	ms.ranges = merged
	return ms
}

// IsUID reports whether this set addresses UIDs rather than sequence
// numbers.
func (m MessageSet) IsUID() bool { return m.uid }

// IsEmpty reports whether the set has no members.
func (m MessageSet) IsEmpty() bool { return len(m.ranges) == 0 }

// Size returns the number of distinct members, or false for the
// unbounded open-ended set ("*" present) since its true size depends
// on mailbox state the set itself doesn't carry.
func (m MessageSet) Size() (uint64, bool) {
	var total uint64
	for _, r := range m.ranges {
		if r.hi == starMarker {
			return total, false
		}
		total += uint64(r.hi-r.lo) + 1
	}
	return total, true
}

// Contains reports whether v is a member of the set. An unbounded
// range's upper bound is treated as satisfied by any v >= its lo.
func (m MessageSet) Contains(v uint32) bool {
	for _, r := range m.ranges {
		if v >= r.lo && (r.hi == starMarker || v <= r.hi) {
			return true
		}
	}
	return false
}

// String renders the canonical wire format, e.g. "1:5,9,20:*".
func (m MessageSet) String() string {
	if len(m.ranges) == 0 {
		return ""
	}
	parts := make([]string, len(m.ranges))
	for i, r := range m.ranges {
		parts[i] = rangeString(r)
	}
	return strings.Join(parts, ",")
}

func rangeString(r rng) string {
	hi := "*"
	if r.hi != starMarker {
		hi = strconv.FormatUint(uint64(r.hi), 10)
	}
	if r.lo == r.hi {
		return strconv.FormatUint(uint64(r.lo), 10)
	}
	return strconv.FormatUint(uint64(r.lo), 10) + ":" + hi
}

// mustSameKind enforces the "cross-kind or cross-mailbox
// operations fail" invariant. A UID set can never be combined with a
// sequence-number set, and two sets bound to different mailboxes can
// never be combined either; both are caller programming errors in the
// same class as msgset's other argument-shape panics (IterBatches'
// batchSize <= 0), not a runtime condition worth a checked error
// return across every set-algebra call site.
func mustSameKind(a, b MessageSet) {
	if a.uid != b.uid && !(a.IsEmpty() || b.IsEmpty()) {
		panic("msgset: cannot combine a UID set with a sequence-number set")
	}
	if a.mailbox != "" && b.mailbox != "" && a.mailbox != b.mailbox {
		panic("msgset: cannot combine sets bound to different mailboxes: " + a.mailbox + " vs " + b.mailbox)
	}
}

func combinedMailbox(a, b MessageSet) string {
	if a.mailbox != "" {
		return a.mailbox
	}
	return b.mailbox
}

// Union returns the set of members in either a or b.
func Union(a, b MessageSet) MessageSet {
	mustSameKind(a, b)
	uid := a.uid
	if a.IsEmpty() {
		uid = b.uid
	}
	combined := append(append([]rng(nil), a.ranges...), b.ranges...)
	return canonicalize(MessageSet{uid: uid, ranges: combined, mailbox: combinedMailbox(a, b)})
}

// Intersection returns the set of members present in both a and b.
func Intersection(a, b MessageSet) MessageSet {
	mustSameKind(a, b)
	uid := a.uid
	if a.IsEmpty() {
		uid = b.uid
	}
	var out []rng
	for _, ra := range a.ranges {
		for _, rb := range b.ranges {
			lo := maxU32(ra.lo, rb.lo)
			hi := minU32(ra.hi, rb.hi)
			if lo <= hi {
				out = append(out, rng{lo, hi})
			}
		}
	}
	return canonicalize(MessageSet{uid: uid, ranges: out, mailbox: combinedMailbox(a, b)})
}

// Difference returns the members of a that are not in b.
func Difference(a, b MessageSet) MessageSet {
	mustSameKind(a, b)
	result := append([]rng(nil), a.ranges...)
	for _, rb := range b.ranges {
		var next []rng
		for _, ra := range result {
			next = append(next, subtractRange(ra, rb)...)
		}
		result = next
	}
	return canonicalize(MessageSet{uid: a.uid, ranges: result, mailbox: combinedMailbox(a, b)})
}

func subtractRange(a, b rng) []rng {
	if b.hi < a.lo || b.lo > a.hi {
		return []rng{a}
	}
	var out []rng
	if b.lo > a.lo {
		out = append(out, rng{a.lo, b.lo - 1})
	}
	if b.hi < a.hi {
		out = append(out, rng{b.hi + 1, a.hi})
	}
	return out
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// IterBatches splits the set into a sequence of sub-sets no larger
// than batchSize members each, preserving ascending order, for
// commands that must stay under a server's practical line-length
// limit. The unbounded "*" endpoint, if present, always
// ends up alone in its own trailing batch since its true size is
// unknown.
func (m MessageSet) IterBatches(batchSize int) []MessageSet {
	if batchSize <= 0 {
		panic("msgset: batchSize must be positive")
	}
	var batches []MessageSet
	var cur []uint32
	flush := func() {
		if len(cur) > 0 {
			batches = append(batches, build(m.uid, cur).Bind(m.mailbox))
			cur = nil
		}
	}
	for _, r := range m.ranges {
		if r.hi == starMarker {
			flush()
			batches = append(batches, MessageSet{uid: m.uid, ranges: []rng{r}, mailbox: m.mailbox})
			continue
		}
		for v := r.lo; ; v++ {
			cur = append(cur, v)
			if len(cur) == batchSize {
				flush()
			}
			if v == r.hi {
				break
			}
		}
	}
	flush()
	return batches
}

// SplitBySize splits m into successive MessageSets of at most
// maxSegments canonical range/singleton segments each, without
// exploding any range into individual ids -- unlike IterBatches, which
// bounds batches by member count and must walk large ranges id by id
// to do it. A set with fewer segments than maxSegments returns a
// single-element slice containing m unchanged.
func (m MessageSet) SplitBySize(maxSegments int) []MessageSet {
	if maxSegments <= 0 {
		panic("msgset: maxSegments must be positive")
	}
	if len(m.ranges) == 0 {
		return nil
	}
	var batches []MessageSet
	for i := 0; i < len(m.ranges); i += maxSegments {
		end := i + maxSegments
		if end > len(m.ranges) {
			end = len(m.ranges)
		}
		seg := append([]rng(nil), m.ranges[i:end]...)
		batches = append(batches, MessageSet{uid: m.uid, ranges: seg, mailbox: m.mailbox})
	}
	return batches
}

// UIDs expands m into a concrete, ascending slice of member ids. The
// unbounded "*" endpoint has no finite expansion and is omitted; a
// caller that needs the true upper bound should resolve "*" against a
// known UIDNEXT/EXISTS before calling UIDs, or use Size's ok flag to
// detect that a set still carries one.
func (m MessageSet) UIDs() []uint32 {
	var out []uint32
	for _, r := range m.ranges {
		if r.hi == starMarker {
			continue
		}
		for v := r.lo; ; v++ {
			out = append(out, v)
			if v == r.hi {
				break
			}
		}
	}
	return out
}

// Equal reports whether m and other address the same kind of
// identifiers, the same bound mailbox, and the same canonical members.
func (m MessageSet) Equal(other MessageSet) bool {
	if m.uid != other.uid || m.mailbox != other.mailbox || len(m.ranges) != len(other.ranges) {
		return false
	}
	for i := range m.ranges {
		if m.ranges[i] != other.ranges[i] {
			return false
		}
	}
	return true
}
