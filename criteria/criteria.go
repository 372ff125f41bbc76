// Package criteria builds IMAP SEARCH/UID SEARCH criteria trees and
// serializes them to the wire syntax RFC 3501 section 6.4.4 defines,
// folding AND at the top level (bare juxtaposition), wrapping OR pairs
// in "OR a b", and prefixing NOT.
package criteria

import (
	"fmt"
	"strings"
	"time"

	"github.com/mailkit/imapclient/internal/wire"
)

// Criteria is a node in a SEARCH criteria tree.
type Criteria interface {
	render(*strings.Builder)
	renderArgs(*argList)
}

// leaf is every terminal search key: a sequence of bare atoms (the
// keyword itself, plus any atom-valued operand like a HEADER field
// name or a KEYWORD) optionally followed by one astring-valued operand
// (an address, subject, body or header value) that must be quoted or,
// if it contains non-ASCII bytes or CR/LF, sent as a synchronizing
// literal.
type leaf struct {
	atoms []string
	value *string
}

func (l leaf) render(sb *strings.Builder) {
	sb.WriteString(strings.Join(l.atoms, " "))
	if l.value != nil {
		sb.WriteByte(' ')
		sb.WriteString(alwaysQuote(*l.value))
	}
}

func (l leaf) renderArgs(a *argList) {
	for _, atom := range l.atoms {
		a.atom(atom)
	}
	if l.value != nil {
		a.value(*l.value)
	}
}

type and struct{ terms []Criteria }

func (a and) render(sb *strings.Builder) {
	for i, t := range a.terms {
		if i > 0 {
			sb.WriteByte(' ')
		}
		t.render(sb)
	}
}

func (a and) renderArgs(out *argList) {
	for _, t := range a.terms {
		t.renderArgs(out)
	}
}

type or struct{ left, right Criteria }

func (o or) render(sb *strings.Builder) {
	sb.WriteString("OR ")
	writeOperand(sb, o.left)
	sb.WriteByte(' ')
	writeOperand(sb, o.right)
}

func (o or) renderArgs(out *argList) {
	out.atom("OR")
	writeOperandArgs(out, o.left)
	writeOperandArgs(out, o.right)
}

type not struct{ inner Criteria }

func (n not) render(sb *strings.Builder) {
	sb.WriteString("NOT ")
	writeOperand(sb, n.inner)
}

func (n not) renderArgs(out *argList) {
	out.atom("NOT")
	writeOperandArgs(out, n.inner)
}

// writeOperand wraps multi-term operands (AND groups) in parentheses
// so OR/NOT nesting stays unambiguous, matching the way RFC 3501
// examples parenthesize compound search keys passed to OR/NOT.
func writeOperand(sb *strings.Builder, c Criteria) {
	if a, ok := c.(and); ok && len(a.terms) > 1 {
		sb.WriteByte('(')
		a.render(sb)
		sb.WriteByte(')')
		return
	}
	c.render(sb)
}

// writeOperandArgs is writeOperand's wire-argument counterpart: a
// multi-term AND operand becomes a single wire.List argument
// ("(" ... ")") instead of text concatenation, so a literal-valued
// term nested inside it still reaches the encoder as its own argument.
func writeOperandArgs(out *argList, c Criteria) {
	if a, ok := c.(and); ok && len(a.terms) > 1 {
		sub := &argList{}
		a.renderArgs(sub)
		out.args = append(out.args, wire.List(sub.args))
		return
	}
	c.renderArgs(out)
}

// argList accumulates wire command arguments in emission order: atoms
// are written verbatim (wire.RawAtom), values are always sent quoted
// (the same form Render writes) except that a non-ASCII, CR/LF/NUL-
// containing or over-1024-byte search term goes through the encoder's
// normal string classification, which sends it as a synchronizing
// literal instead of breaking the quoted-string framing.
type argList struct {
	args []any
}

func (a *argList) atom(s string) { a.args = append(a.args, wire.RawAtom(s)) }

func (a *argList) value(s string) {
	literal := len(s) > 1024
	for i := 0; i < len(s) && !literal; i++ {
		c := s[i]
		literal = c == '\r' || c == '\n' || c == 0 || c >= 0x80
	}
	if literal {
		a.args = append(a.args, s)
		return
	}
	a.args = append(a.args, wire.RawAtom(alwaysQuote(s)))
}

// Render serializes c to the SEARCH command argument string, e.g.
// "UNSEEN FROM \"a@b\"", for logging and tests. Wire transmission goes
// through RenderArgs, which can emit a synchronizing literal for a
// value Render always quotes.
func Render(c Criteria) string {
	var sb strings.Builder
	c.render(&sb)
	return sb.String()
}

// RenderArgs flattens c into the wire.Encoder argument list a SEARCH/
// UID SEARCH command should be issued with: atoms as wire.RawAtom,
// astring-valued operands as pre-quoted wire.RawAtom values, or as
// plain strings the encoder sends as literals when the value cannot be
// quoted (see argList), and parenthesized
// wire.List groups for AND operands nested under OR/NOT.
func RenderArgs(c Criteria) []any {
	a := &argList{}
	c.renderArgs(a)
	return a.args
}

// And folds terms into a single AND group (bare juxtaposition per RFC
// 3501, since SEARCH keys default to logical AND). A single term is
// returned unwrapped.
func And(terms ...Criteria) Criteria {
	if len(terms) == 1 {
		return terms[0]
	}
	return and{terms: terms}
}

func Or(left, right Criteria) Criteria { return or{left: left, right: right} }
func Not(inner Criteria) Criteria      { return not{inner: inner} }

// Flag criteria (RFC 3501 6.4.4).
func Seen() Criteria       { return atomLeaf("SEEN") }
func Unseen() Criteria     { return atomLeaf("UNSEEN") }
func Answered() Criteria   { return atomLeaf("ANSWERED") }
func Unanswered() Criteria { return atomLeaf("UNANSWERED") }
func Deleted() Criteria    { return atomLeaf("DELETED") }
func Undeleted() Criteria  { return atomLeaf("UNDELETED") }
func Flagged() Criteria    { return atomLeaf("FLAGGED") }
func Unflagged() Criteria  { return atomLeaf("UNFLAGGED") }
func Draft() Criteria      { return atomLeaf("DRAFT") }
func Undraft() Criteria    { return atomLeaf("UNDRAFT") }
func Recent() Criteria     { return atomLeaf("RECENT") }
func New() Criteria        { return atomLeaf("NEW") }
func Old() Criteria        { return atomLeaf("OLD") }
func All() Criteria        { return atomLeaf("ALL") }

func atomLeaf(atoms ...string) leaf { return leaf{atoms: atoms} }
func valueLeaf(value string, atoms ...string) leaf {
	return leaf{atoms: atoms, value: &value}
}

// Keyword/header criteria. Search strings are always quoted (Render)
// or literal-encoded when needed (RenderArgs): IMAP servers accept an
// unquoted atom here too, but quoting removes any ambiguity with
// astring special characters without having to inspect the value first.
func From(addr string) Criteria  { return valueLeaf(addr, "FROM") }
func To(addr string) Criteria    { return valueLeaf(addr, "TO") }
func Cc(addr string) Criteria    { return valueLeaf(addr, "CC") }
func Bcc(addr string) Criteria   { return valueLeaf(addr, "BCC") }
func Subject(s string) Criteria  { return valueLeaf(s, "SUBJECT") }
func Body(s string) Criteria     { return valueLeaf(s, "BODY") }
func Text(s string) Criteria     { return valueLeaf(s, "TEXT") }
func Keyword(kw string) Criteria   { return atomLeaf("KEYWORD", kw) }
func Unkeyword(kw string) Criteria { return atomLeaf("UNKEYWORD", kw) }
func Header(field, value string) Criteria {
	return valueLeaf(value, "HEADER", field)
}

// Size criteria.
func Larger(n uint64) Criteria  { return atomLeaf(fmt.Sprintf("LARGER %d", n)) }
func Smaller(n uint64) Criteria { return atomLeaf(fmt.Sprintf("SMALLER %d", n)) }

// Date criteria. RFC 3501 requires DD-Mon-YYYY.
func Before(t time.Time) Criteria     { return atomLeaf("BEFORE " + formatDate(t)) }
func Since(t time.Time) Criteria      { return atomLeaf("SINCE " + formatDate(t)) }
func SentBefore(t time.Time) Criteria { return atomLeaf("SENTBEFORE " + formatDate(t)) }
func SentSince(t time.Time) Criteria  { return atomLeaf("SENTSINCE " + formatDate(t)) }
func On(t time.Time) Criteria         { return atomLeaf("ON " + formatDate(t)) }
func SentOn(t time.Time) Criteria     { return atomLeaf("SENTON " + formatDate(t)) }

// Sequence criteria.
func UID(set string) Criteria         { return atomLeaf("UID " + set) }
func SequenceSet(set string) Criteria { return atomLeaf(set) }

func formatDate(t time.Time) string {
	return t.UTC().Format("02-Jan-2006")
}

func alwaysQuote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('"')
	return sb.String()
}
