// Package mailbox implements the UID-addressed message operations
// against a selected mailbox: select/status, uid_search,
// uid_fetch, uid_store, uid_copy, uid_move (with MOVE-extension
// detection and COPY+STORE+EXPUNGE emulation), uid_expunge, append,
// and batched processing with per-id partial-failure reporting.
package mailbox

import (
	"context"
	"sort"
	"strings"

	"github.com/mailkit/imapclient/conn"
	"github.com/mailkit/imapclient/criteria"
	"github.com/mailkit/imapclient/errs"
	"github.com/mailkit/imapclient/internal/wire"
	"github.com/mailkit/imapclient/msgset"
)

// Mailbox is a Connection currently SELECTed onto one folder. Every
// method here assumes exclusive use of the underlying Connection for
// the duration of the call (Connection.Execute already enforces that).
type Mailbox struct {
	conn *conn.Connection
	name string

	exists      uint32
	recent      uint32
	uidNext     uint32
	uidValidity uint32
	flags       []string
}

// Name returns the selected mailbox's name.
func (m *Mailbox) Name() string { return m.name }

// Exists returns the message count reported at SELECT time (the
// select() result), not re-queried live.
func (m *Mailbox) Exists() uint32 { return m.exists }

// UIDValidity returns the UIDVALIDITY seen at SELECT time.
func (m *Mailbox) UIDValidity() uint32 { return m.uidValidity }

// UIDNext returns the UIDNEXT seen at SELECT time.
func (m *Mailbox) UIDNext() uint32 { return m.uidNext }

// Select runs SELECT (or EXAMINE in read-only mode) and returns a
// Mailbox bound to the now-selected folder.
func Select(ctx context.Context, c *conn.Connection, name string, readOnly bool) (*Mailbox, error) {
	cmd := "SELECT"
	if readOnly {
		cmd = "EXAMINE"
	}
	m := &Mailbox{conn: c, name: name}
	err := c.WithRetry(ctx, cmd+" "+name, func(ctx context.Context) error {
		untagged, tagged, err := c.Execute(ctx, cmd, wire.EncodeMailboxName(name))
		if err != nil {
			return err
		}
		applySelectResponses(m, untagged, tagged)
		return nil
	})
	if err != nil {
		return nil, errs.MailboxSelection(err, "selecting %q", name)
	}
	_ = c.MarkSelected(name)
	return m, nil
}

func applySelectResponses(m *Mailbox, untagged []*wire.Response, tagged *wire.Response) {
	for _, resp := range untagged {
		switch resp.Keyword {
		case "EXISTS":
			m.exists = uint32(resp.Number)
		case "RECENT":
			m.recent = uint32(resp.Number)
		case "FLAGS":
			if len(resp.Fields) == 1 {
				for _, f := range resp.Fields[0].List {
					if s, ok := f.AsString(); ok {
						m.flags = append(m.flags, s)
					}
				}
			}
		}
		if resp.Code != "" {
			applyCode(m, resp.Code)
		}
	}
	if tagged != nil && tagged.Code != "" {
		applyCode(m, tagged.Code)
	}
}

func applyCode(m *Mailbox, code string) {
	fields := strings.Fields(code)
	if len(fields) < 2 {
		return
	}
	switch strings.ToUpper(fields[0]) {
	case "UIDNEXT":
		if n, ok := parseUint32(fields[1]); ok {
			m.uidNext = n
		}
	case "UIDVALIDITY":
		if n, ok := parseUint32(fields[1]); ok {
			m.uidValidity = n
		}
	}
}

func parseUint32(s string) (uint32, bool) {
	var n uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return uint32(n), true
}

// Reselect re-issues SELECT for the same mailbox and verifies the
// UIDVALIDITY recorded at the original Select still holds. A changed
// value means every UID cached against this mailbox is stale: Reselect
// adopts the new epoch, then reports it as a UID_VALIDITY_CHANGED
// error carrying both values so the caller can discard its caches and
// re-search.
func (m *Mailbox) Reselect(ctx context.Context) error {
	prior := m.uidValidity
	fresh := &Mailbox{conn: m.conn, name: m.name}
	err := m.conn.WithRetry(ctx, "SELECT "+m.name, func(ctx context.Context) error {
		untagged, tagged, err := m.conn.Execute(ctx, "SELECT", wire.EncodeMailboxName(m.name))
		if err != nil {
			return err
		}
		applySelectResponses(fresh, untagged, tagged)
		return nil
	})
	if err != nil {
		return errs.MailboxSelection(err, "reselecting %q", m.name)
	}
	_ = m.conn.MarkSelected(m.name)
	m.exists, m.recent, m.flags = fresh.exists, fresh.recent, fresh.flags
	if fresh.uidNext != 0 {
		m.uidNext = fresh.uidNext
	}
	if fresh.uidValidity != 0 {
		m.uidValidity = fresh.uidValidity
	}
	if prior != 0 && fresh.uidValidity != 0 && fresh.uidValidity != prior {
		return errs.UidValidityChanged(prior, fresh.uidValidity)
	}
	return nil
}

// Search runs UID SEARCH with crit and returns the matching UIDs as a
// MessageSet.
func (m *Mailbox) Search(ctx context.Context, crit criteria.Criteria) (msgset.MessageSet, error) {
	args := append([]any{wire.RawAtom("SEARCH")}, criteria.RenderArgs(crit)...)
	var uids []uint32
	err := m.conn.WithRetry(ctx, "UID SEARCH", func(ctx context.Context) error {
		uids = nil
		untagged, _, err := m.conn.Execute(ctx, "UID", args...)
		if err != nil {
			return err
		}
		for _, resp := range untagged {
			if resp.Keyword != "SEARCH" {
				continue
			}
			for _, f := range resp.Fields {
				if n, ok := f.AsNumber(); ok {
					uids = append(uids, uint32(n))
				}
			}
		}
		return nil
	})
	if err != nil {
		return msgset.MessageSet{}, errs.Search(err, "UID SEARCH in %q", m.name)
	}
	return msgset.FromSearchResult(uids, m.name), nil
}

// checkBound enforces the mailbox-binding invariant: a set
// bound to a different mailbox than the one currently selected can
// never be used here.
func (m *Mailbox) checkBound(set msgset.MessageSet) error {
	if bound := set.Mailbox(); bound != "" && bound != m.name {
		return errs.InvalidArgument("message set is bound to mailbox %q, cannot use it against %q", bound, m.name)
	}
	return nil
}

// FetchItem is a requested data item in a FETCH command, e.g.
// "FLAGS", "ENVELOPE", "BODY[]", "BODY.PEEK[]", "INTERNALDATE",
// "RFC822.SIZE", "UID".
type FetchItem string

// FetchResult is one message's worth of FETCH data, keyed by the
// item name as the server echoed it, uppercased, with any [] section
// kept (e.g. "BODY[]").
type FetchResult struct {
	UID   uint32
	SeqNo uint32
	Items map[string]*wire.Field
}

// Fetch runs UID FETCH set items and returns one FetchResult per
// message, sorted by UID ascending (the default fetch ordering
// guarantee) since untagged FETCH responses arrive in whatever order
// the server iterates the mailbox, which need not match set's order.
// Pass WithServerOrder() to keep the server's response order instead.
func (m *Mailbox) Fetch(ctx context.Context, set msgset.MessageSet, items []FetchItem, opts ...FetchOption) ([]FetchResult, error) {
	if !set.IsUID() {
		return nil, errs.InvalidArgument("mailbox.Fetch requires a UID MessageSet, got a sequence-number set")
	}
	if err := m.checkBound(set); err != nil {
		return nil, err
	}
	var cfg fetchConfig
	for _, o := range opts {
		o(&cfg)
	}
	itemArgs := make([]any, len(items))
	for i, it := range items {
		itemArgs[i] = wire.RawAtom(string(it))
	}
	var results []FetchResult
	err := m.conn.WithRetry(ctx, "UID FETCH", func(ctx context.Context) error {
		results = nil
		untagged, _, err := m.conn.Execute(ctx, "UID", wire.RawAtom("FETCH"), wire.RawAtom(set.String()), wire.List(itemArgs))
		if err != nil {
			return err
		}
		for _, resp := range untagged {
			if resp.Keyword != "FETCH" || len(resp.Fields) != 1 {
				continue
			}
			results = append(results, parseFetchEntry(uint32(resp.Number), resp.Fields[0].List))
		}
		return nil
	})
	if err != nil {
		return nil, errs.Fetch(err, "UID FETCH %s in %q", set.String(), m.name)
	}
	if !cfg.preserveServerOrder {
		sort.Slice(results, func(i, j int) bool { return results[i].UID < results[j].UID })
	}
	return results, nil
}

// FetchOption customizes a single Fetch call.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	preserveServerOrder bool
}

// WithServerOrder disables the default UID-ascending sort, returning
// FetchResults in whatever order the server's untagged FETCH responses
// arrived in.
func WithServerOrder() FetchOption {
	return func(c *fetchConfig) { c.preserveServerOrder = true }
}

func parseFetchEntry(seqNo uint32, fields []*wire.Field) FetchResult {
	r := FetchResult{SeqNo: seqNo, Items: make(map[string]*wire.Field)}
	for i := 0; i+1 < len(fields); i += 2 {
		name, _ := fields[i].AsString()
		name = strings.ToUpper(name)
		r.Items[name] = fields[i+1]
		if name == "UID" {
			if n, ok := fields[i+1].AsNumber(); ok {
				r.UID = uint32(n)
			}
		}
	}
	return r
}

// StoreMode selects how Store applies flags: replace, add, or remove.
type StoreMode int

const (
	StoreReplace StoreMode = iota
	StoreAdd
	StoreRemove
)

// Store runs UID STORE to replace/add/remove flags on set and returns
// the resulting flag set per UID, parsed from the server's untagged
// FETCH (FLAGS ...) acknowledgements. silent suppresses that
// acknowledgement (".SILENT"); when silent is true the server sends no
// FETCH responses to parse and the returned map is empty.
func (m *Mailbox) Store(ctx context.Context, set msgset.MessageSet, mode StoreMode, silent bool, flags ...string) (map[uint32][]string, error) {
	if !set.IsUID() {
		return nil, errs.InvalidArgument("mailbox.Store requires a UID MessageSet, got a sequence-number set")
	}
	if err := m.checkBound(set); err != nil {
		return nil, err
	}
	item := storeItem(mode, silent)
	flagArgs := make([]any, len(flags))
	for i, f := range flags {
		flagArgs[i] = wire.RawAtom(f)
	}
	result := make(map[uint32][]string)
	err := m.conn.WithRetry(ctx, "UID STORE", func(ctx context.Context) error {
		for k := range result {
			delete(result, k)
		}
		untagged, _, err := m.conn.Execute(ctx, "UID", wire.RawAtom("STORE"), wire.RawAtom(set.String()), wire.RawAtom(item), wire.List(flagArgs))
		if err != nil {
			return err
		}
		for _, resp := range untagged {
			if resp.Keyword != "FETCH" || len(resp.Fields) != 1 {
				continue
			}
			entry := parseFetchEntry(uint32(resp.Number), resp.Fields[0].List)
			if entry.UID == 0 {
				continue
			}
			if flagsField, ok := entry.Items["FLAGS"]; ok {
				var got []string
				for _, f := range flagsField.List {
					if s, ok := f.AsString(); ok {
						got = append(got, s)
					}
				}
				result[entry.UID] = got
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Store(err, "UID STORE %s in %q", set.String(), m.name)
	}
	return result, nil
}

func storeItem(mode StoreMode, silent bool) string {
	var prefix string
	switch mode {
	case StoreAdd:
		prefix = "+"
	case StoreRemove:
		prefix = "-"
	}
	item := prefix + "FLAGS"
	if silent {
		item += ".SILENT"
	}
	return item
}

// Copy runs UID COPY set to destination.
func (m *Mailbox) Copy(ctx context.Context, set msgset.MessageSet, destination string) error {
	if !set.IsUID() {
		return errs.InvalidArgument("mailbox.Copy requires a UID MessageSet, got a sequence-number set")
	}
	if err := m.checkBound(set); err != nil {
		return err
	}
	err := m.conn.WithRetry(ctx, "UID COPY", func(ctx context.Context) error {
		_, _, err := m.conn.Execute(ctx, "UID", wire.RawAtom("COPY"), wire.RawAtom(set.String()), wire.EncodeMailboxName(destination))
		return err
	})
	if err != nil {
		return errs.Copy(err, "UID COPY %s to %q", set.String(), destination)
	}
	return nil
}

// Move moves set to destination: uses UID MOVE directly when the
// server advertises the MOVE capability (RFC 6851), otherwise emulates
// it with COPY + STORE +FLAGS \Deleted + UID EXPUNGE, the fallback
// every pre-MOVE IMAP client implements.
func (m *Mailbox) Move(ctx context.Context, set msgset.MessageSet, destination string) error {
	if !set.IsUID() {
		return errs.InvalidArgument("mailbox.Move requires a UID MessageSet, got a sequence-number set")
	}
	if err := m.checkBound(set); err != nil {
		return err
	}
	if m.conn.HasCapability("MOVE") {
		err := m.conn.WithRetry(ctx, "UID MOVE", func(ctx context.Context) error {
			_, _, err := m.conn.Execute(ctx, "UID", wire.RawAtom("MOVE"), wire.RawAtom(set.String()), wire.EncodeMailboxName(destination))
			return err
		})
		if err != nil {
			return errs.Move(err, "UID MOVE %s to %q", set.String(), destination)
		}
		return nil
	}
	if err := m.Copy(ctx, set, destination); err != nil {
		return errs.Move(err, "emulated move: copy %s to %q", set.String(), destination)
	}
	if _, err := m.Store(ctx, set, StoreAdd, false, `\Deleted`); err != nil {
		return errs.Move(err, "emulated move: flagging %s deleted", set.String())
	}
	if err := m.UIDExpunge(ctx, set); err != nil {
		return errs.Move(err, "emulated move: expunging %s", set.String())
	}
	return nil
}

// UIDExpunge runs UID EXPUNGE (RFC 4315) when the server supports
// UIDPLUS, otherwise falls back to plain EXPUNGE -- which removes
// every \Deleted message in the mailbox, a broader effect set callers
// should be aware of when the server lacks UIDPLUS.
func (m *Mailbox) UIDExpunge(ctx context.Context, set msgset.MessageSet) error {
	if err := m.checkBound(set); err != nil {
		return err
	}
	if m.conn.HasCapability("UIDPLUS") {
		err := m.conn.WithRetry(ctx, "UID EXPUNGE", func(ctx context.Context) error {
			_, _, err := m.conn.Execute(ctx, "UID", wire.RawAtom("EXPUNGE"), wire.RawAtom(set.String()))
			return err
		})
		if err != nil {
			return errs.Expunge(err, "UID EXPUNGE %s in %q", set.String(), m.name)
		}
		return nil
	}
	err := m.conn.WithRetry(ctx, "EXPUNGE", func(ctx context.Context) error {
		_, _, err := m.conn.Execute(ctx, "EXPUNGE")
		return err
	})
	if err != nil {
		return errs.Expunge(err, "EXPUNGE in %q", m.name)
	}
	return nil
}

// Append uploads a new message into the mailbox, synchronizing-literal
// encoded, with optional flags and an optional internal date. It
// returns the message's new UID and true when the server signals
// UIDPLUS's APPENDUID response code; otherwise the returned uid is 0
// and ok is false.
func (m *Mailbox) Append(ctx context.Context, body []byte, flags []string, internalDate string) (uint32, bool, error) {
	args := []any{wire.EncodeMailboxName(m.name)}
	if len(flags) > 0 {
		flagArgs := make([]any, len(flags))
		for i, f := range flags {
			flagArgs[i] = wire.RawAtom(f)
		}
		args = append(args, wire.List(flagArgs))
	}
	if internalDate != "" {
		args = append(args, internalDate)
	}
	args = append(args, wire.Literal{Data: body})
	var uid uint32
	var ok bool
	err := m.conn.WithRetry(ctx, "APPEND", func(ctx context.Context) error {
		uid, ok = 0, false
		_, tagged, err := m.conn.Execute(ctx, "APPEND", args...)
		if err != nil {
			return err
		}
		if tagged != nil && tagged.Code != "" {
			uid, ok = parseAppendUID(tagged.Code)
		}
		return nil
	})
	if err != nil {
		return 0, false, errs.Append(err, "APPEND into %q", m.name)
	}
	return uid, ok, nil
}

// parseAppendUID extracts the uid from a tagged response code of the
// form "APPENDUID <uidvalidity> <uid>" (RFC 4315). Reports ok=false
// when code isn't an APPENDUID code.
func parseAppendUID(code string) (uint32, bool) {
	fields := strings.Fields(code)
	if len(fields) != 3 || !strings.EqualFold(fields[0], "APPENDUID") {
		return 0, false
	}
	uid, ok := parseUint32(fields[2])
	if !ok {
		return 0, false
	}
	return uid, true
}

// ProcessBatches splits set into batchSize-sized sub-sets, fetches
// each batch itself (UID FETCH set items) and calls fn once per
// resulting message, aggregating per-UID success/failure into a
// *errs.PartialOperationError rather than aborting the whole run, or
// failing every UID in a batch, on the first error (the
// process_messages_in_batches semantics: a handler failure on one
// message never aborts the batch).
func (m *Mailbox) ProcessBatches(ctx context.Context, set msgset.MessageSet, batchSize int, items []FetchItem, fn func(ctx context.Context, msg FetchResult) error) error {
	batches := set.IterBatches(batchSize)
	var succeeded []uint32
	var failures []errs.PartialFailure
	for _, batch := range batches {
		results, err := m.Fetch(ctx, batch, items)
		if err != nil {
			for _, u := range batch.UIDs() {
				failures = append(failures, errs.PartialFailure{UID: u, Err: err})
			}
			continue
		}
		for _, msg := range results {
			if err := fn(ctx, msg); err != nil {
				failures = append(failures, errs.PartialFailure{UID: msg.UID, Err: err})
				continue
			}
			succeeded = append(succeeded, msg.UID)
		}
	}
	if len(failures) > 0 {
		return &errs.PartialOperationError{Succeeded: succeeded, Failures: failures}
	}
	return nil
}
