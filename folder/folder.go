// Package folder implements mailbox-management operations against a
// Connection: LIST, CREATE, RENAME, DELETE and STATUS, plus the
// INBOX-can't-be-deleted and already-exists/not-found error mapping.
package folder

import (
	"context"
	"strings"

	"github.com/mailkit/imapclient/conn"
	"github.com/mailkit/imapclient/errs"
	"github.com/mailkit/imapclient/internal/wire"
)

// Info describes one mailbox as returned by LIST.
type Info struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// HasAttribute reports whether attr (e.g. "\\Noselect", "\\HasChildren")
// is present, case-insensitively.
func (i Info) HasAttribute(attr string) bool {
	for _, a := range i.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// Status is the parsed result of a STATUS command.
type Status struct {
	Mailbox     string
	Messages    uint32
	Recent      uint32
	UIDNext     uint32
	UIDValidity uint32
	Unseen      uint32
}

// List runs LIST "" pattern (pattern defaults to "*" for "everything
// under the root") and returns every matching mailbox.
func List(ctx context.Context, c *conn.Connection, pattern string) ([]Info, error) {
	if pattern == "" {
		pattern = "*"
	}
	var out []Info
	err := c.WithRetry(ctx, "LIST", func(ctx context.Context) error {
		out = nil
		untagged, _, err := c.Execute(ctx, "LIST", "", pattern)
		if err != nil {
			return err
		}
		for _, resp := range untagged {
			if resp.Keyword != "LIST" || len(resp.Fields) != 3 {
				continue
			}
			info, err := parseListEntry(resp.Fields)
			if err != nil {
				return errs.Protocol(err, "parsing LIST response")
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, errs.FolderNotFound(err, "listing folders matching %q", pattern)
	}
	return out, nil
}

func parseListEntry(fields []*wire.Field) (Info, error) {
	var attrs []string
	if fields[0].Kind == wire.FieldList {
		for _, f := range fields[0].List {
			if s, ok := f.AsString(); ok {
				attrs = append(attrs, s)
			}
		}
	}
	delim, _ := fields[1].AsString()
	rawName, _ := fields[2].AsString()
	name, err := wire.DecodeMailboxName(rawName)
	if err != nil {
		return Info{}, err
	}
	return Info{Name: name, Delimiter: delim, Attributes: attrs}, nil
}

// Create issues CREATE for a new mailbox, mapping an ALREADYEXISTS
// response code (or an otherwise-NO "already exists" reply) to
// errs.CodeFolderExists.
func Create(ctx context.Context, c *conn.Connection, name string) error {
	var tagged *wire.Response
	err := c.WithRetry(ctx, "CREATE", func(ctx context.Context) error {
		var err error
		_, tagged, err = c.Execute(ctx, "CREATE", wire.EncodeMailboxName(name))
		return err
	})
	if err != nil {
		if tagged != nil && strings.EqualFold(tagged.Code, "ALREADYEXISTS") {
			return errs.FolderExists(err, "folder %q already exists", name)
		}
		if tagged != nil && strings.Contains(strings.ToLower(tagged.Text), "exist") {
			return errs.FolderExists(err, "folder %q already exists", name)
		}
		return errs.FolderNotFound(err, "creating folder %q", name)
	}
	return nil
}

// Rename issues RENAME from oldName to newName, mapping a NO
// [NONEXISTENT] reply (or an otherwise-NO "does not exist" text) to
// errs.CodeFolderNotFound; any other failure surfaces unchanged.
func Rename(ctx context.Context, c *conn.Connection, oldName, newName string) error {
	var tagged *wire.Response
	err := c.WithRetry(ctx, "RENAME", func(ctx context.Context) error {
		var err error
		_, tagged, err = c.Execute(ctx, "RENAME", wire.EncodeMailboxName(oldName), wire.EncodeMailboxName(newName))
		return err
	})
	if err != nil {
		if tagged != nil && strings.EqualFold(tagged.Code, "NONEXISTENT") {
			return errs.FolderNotFound(err, "renaming folder %q", oldName)
		}
		if tagged != nil && strings.Contains(strings.ToLower(tagged.Text), "exist") {
			return errs.FolderNotFound(err, "renaming folder %q", oldName)
		}
		return err
	}
	return nil
}

// defaultFolders can never be deleted through this API -- RFC 3501
// requires every server to have an INBOX, and deleting it out from
// under a running mailbox service is never the intended operation.
var defaultFolders = map[string]bool{"INBOX": true}

// Delete issues DELETE, refusing to send it for INBOX (an
// DefaultFolderError) and mapping a NO "does not exist" response to
// errs.CodeFolderNotFound.
func Delete(ctx context.Context, c *conn.Connection, name string) error {
	if defaultFolders[strings.ToUpper(name)] {
		return errs.DefaultFolder("refusing to delete the default folder %q", name)
	}
	var tagged *wire.Response
	err := c.WithRetry(ctx, "DELETE", func(ctx context.Context) error {
		var err error
		_, tagged, err = c.Execute(ctx, "DELETE", wire.EncodeMailboxName(name))
		return err
	})
	if err != nil {
		if tagged != nil && strings.Contains(strings.ToLower(tagged.Text), "exist") {
			return errs.FolderNotFound(err, "folder %q does not exist", name)
		}
		return errs.FolderNotFound(err, "deleting folder %q", name)
	}
	return nil
}

// GetStatus runs STATUS for the given mailbox items (e.g. "MESSAGES",
// "UIDNEXT", "UIDVALIDITY", "UNSEEN", "RECENT") without requiring the
// mailbox to be selected.
func GetStatus(ctx context.Context, c *conn.Connection, mailbox string, items ...string) (Status, error) {
	if len(items) == 0 {
		items = []string{"MESSAGES", "RECENT", "UIDNEXT", "UIDVALIDITY", "UNSEEN"}
	}
	itemArgs := make([]any, len(items))
	for i, it := range items {
		itemArgs[i] = wire.RawAtom(it)
	}
	st := Status{Mailbox: mailbox}
	err := c.WithRetry(ctx, "STATUS", func(ctx context.Context) error {
		st = Status{Mailbox: mailbox}
		untagged, _, err := c.Execute(ctx, "STATUS", wire.EncodeMailboxName(mailbox), wire.List(itemArgs))
		if err != nil {
			return err
		}
		for _, resp := range untagged {
			if resp.Keyword != "STATUS" || len(resp.Fields) != 2 {
				continue
			}
			applyStatusFields(&st, resp.Fields[1].List)
		}
		return nil
	})
	if err != nil {
		return Status{}, errs.Status(err, "getting status for %q", mailbox)
	}
	return st, nil
}

func applyStatusFields(st *Status, fields []*wire.Field) {
	for i := 0; i+1 < len(fields); i += 2 {
		name, _ := fields[i].AsString()
		val, _ := fields[i+1].AsNumber()
		switch strings.ToUpper(name) {
		case "MESSAGES":
			st.Messages = uint32(val)
		case "RECENT":
			st.Recent = uint32(val)
		case "UIDNEXT":
			st.UIDNext = uint32(val)
		case "UIDVALIDITY":
			st.UIDValidity = uint32(val)
		case "UNSEEN":
			st.Unseen = uint32(val)
		}
	}
}
