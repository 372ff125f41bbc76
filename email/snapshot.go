// Package email builds the structured Email snapshot
// (headers, parsed addresses, plain/HTML bodies, attachments) out of
// the opaque FETCH data mailbox.Fetch returns, plus an optional blob
// store for offloading large attachment bodies.
//
// Headers, bodies and attachments are all pulled from one
// enmime.Envelope: raw RFC 5322 bytes off an IMAP FETCH go into
// github.com/jhillyerd/enmime.ReadEnvelope, since reimplementing a
// MIME parser is out of this client's scope.
package email

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/mailkit/imapclient/errs"
	"github.com/mailkit/imapclient/internal/wire"
	"github.com/mailkit/imapclient/mailbox"
)

// inlineAttachmentLimit is the attachment size above which
// FromFetchResult offloads a part to the BlobStore instead of holding
// its bytes inline on the Snapshot.
const inlineAttachmentLimit = 32 * 1024

// Attachment is one MIME part carrying a file, either inline or as a
// regular attachment.
type Attachment struct {
	Name        string
	ContentType string
	Size        int
	Inline      bool
	ContentID   string

	// Bytes holds the attachment body when fetched eagerly. Fetcher is
	// set instead when the caller asked for a lazy view, e.g. bodies
	// already offloaded to a BlobStore.
	Bytes   []byte
	Fetcher func() ([]byte, error)
}

// Content returns the attachment body, fetching it lazily if Bytes
// wasn't populated eagerly.
func (a Attachment) Content() ([]byte, error) {
	if a.Bytes != nil {
		return a.Bytes, nil
	}
	if a.Fetcher != nil {
		return a.Fetcher()
	}
	return nil, nil
}

// Snapshot is the fetch result's structured view: the parsed envelope
// plus the decoded body/attachments enmime extracts from the raw
// RFC 5322 bytes.
type Snapshot struct {
	UID            uint32
	SequenceNumber uint32
	Flags          []string
	InternalDate   time.Time
	Size           uint64

	// Headers is case-insensitive: FromFetchResult stores keys
	// lower-cased, callers should look up with Header().
	Headers map[string][]string

	MessageID string
	Subject   string
	From      []string
	To        []string
	Cc        []string
	Bcc       []string
	Date      time.Time

	PlainBody string
	HTMLBody  string
	Attachments []Attachment

	// Raw holds the full RFC 5322 byte blob when the caller requested
	// BODY[].
	Raw []byte
}

// Header returns the first value of a header, case-insensitively.
func (s *Snapshot) Header(name string) (string, bool) {
	vs, ok := s.Headers[strings.ToLower(name)]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// FromFetchResult builds a Snapshot from one mailbox.FetchResult,
// parsing whichever raw-body item (BODY[], BODY.PEEK[], RFC822) is
// present with enmime, and filling the envelope-level fields (UID,
// FLAGS, INTERNALDATE, RFC822.SIZE) from the corresponding FETCH
// items. store, if non-nil, offloads attachment bodies larger than
// inlineAttachmentLimit to a BlobStore and returns a lazy Fetcher in
// their place instead of holding every attachment's bytes in memory.
func FromFetchResult(ctx context.Context, fr mailbox.FetchResult, store BlobStore, blobKeyPrefix string) (*Snapshot, error) {
	s := &Snapshot{UID: fr.UID, SequenceNumber: fr.SeqNo}

	if f, ok := fr.Items["FLAGS"]; ok {
		for _, fl := range f.List {
			if v, ok := fl.AsString(); ok {
				s.Flags = append(s.Flags, v)
			}
		}
	}
	if f, ok := fr.Items["INTERNALDATE"]; ok {
		if v, ok := f.AsString(); ok {
			if t, err := parseIMAPDate(v); err == nil {
				s.InternalDate = t
			}
		}
	}
	if f, ok := fr.Items["RFC822.SIZE"]; ok {
		if v, ok := f.AsNumber(); ok {
			s.Size = v
		}
	}

	raw := rawBody(fr.Items)
	if raw == "" {
		return s, nil
	}
	s.Raw = []byte(raw)

	env, err := enmime.ReadEnvelope(bytes.NewReader(s.Raw))
	if err != nil {
		return nil, errs.Fetch(err, "parsing message body for UID %d", fr.UID)
	}

	s.Headers = make(map[string][]string, len(env.GetHeaderKeys()))
	for _, key := range env.GetHeaderKeys() {
		s.Headers[strings.ToLower(key)] = env.GetHeaderValues(key)
	}
	s.MessageID = env.GetHeader("Message-Id")
	s.Subject = env.GetHeader("Subject")
	s.From = splitAddressList(env.GetHeader("From"))
	s.To = splitAddressList(env.GetHeader("To"))
	s.Cc = splitAddressList(env.GetHeader("Cc"))
	s.Bcc = splitAddressList(env.GetHeader("Bcc"))
	if d, err := env.Date(); err == nil {
		s.Date = d
	}
	s.PlainBody = env.Text
	s.HTMLBody = env.HTML

	for _, a := range env.Attachments {
		att, err := buildAttachment(ctx, a, false, store, blobKeyPrefix)
		if err != nil {
			return nil, errs.Fetch(err, "offloading attachment %q for UID %d", a.FileName, fr.UID)
		}
		s.Attachments = append(s.Attachments, att)
	}
	for _, a := range env.Inlines {
		att, err := buildAttachment(ctx, a, true, store, blobKeyPrefix)
		if err != nil {
			return nil, errs.Fetch(err, "offloading inline part %q for UID %d", a.FileName, fr.UID)
		}
		s.Attachments = append(s.Attachments, att)
	}
	return s, nil
}

// buildAttachment holds a.Content inline when store is nil or the part
// is small enough to keep in memory; otherwise it uploads the content
// to store under a per-message, per-part key and returns a Fetcher that
// reads it back lazily. The Fetcher keeps the part's bytes as the
// fallback it passes to BlobStore.Get, so they stay in memory for as
// long as the Attachment does.
func buildAttachment(ctx context.Context, a *enmime.Part, inline bool, store BlobStore, keyPrefix string) (Attachment, error) {
	att := Attachment{
		Name:        a.FileName,
		ContentType: a.ContentType,
		Size:        len(a.Content),
		Inline:      inline,
		ContentID:   a.ContentID,
	}
	if store == nil || len(a.Content) <= inlineAttachmentLimit {
		att.Bytes = a.Content
		return att, nil
	}
	key := keyPrefix + "/" + a.ContentID + "/" + a.FileName
	if err := store.Put(ctx, key, a.Content); err != nil {
		return Attachment{}, err
	}
	content := a.Content
	att.Fetcher = func() ([]byte, error) { return store.Get(key, content) }
	return att, nil
}

func rawBody(items map[string]*wire.Field) string {
	for name, f := range items {
		if name == "RFC822" || strings.HasPrefix(name, "BODY[") {
			if v, ok := f.AsString(); ok {
				return v
			}
		}
	}
	return ""
}

func splitAddressList(header string) []string {
	if header == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(header, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseIMAPDate parses an INTERNALDATE string, e.g.
// "05-Jan-2024 15:04:05 -0700".
func parseIMAPDate(s string) (time.Time, error) {
	return time.Parse("02-Jan-2006 15:04:05 -0700", s)
}
