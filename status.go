package imapclient

import "github.com/mailkit/imapclient/metrics"

// ConnectionStatus is a point-in-time health snapshot for one Client's
// connection, the per-connection analog of Manager.Status()'s
// per-mailbox view.
type ConnectionStatus struct {
	// Key identifies the (host, user) pool bucket this connection
	// belongs to.
	Key string
	// State is the Connection lifecycle state's string form
	// ("connecting", "authenticated", "selected", "closed").
	State string
	// SelectedMailbox is the currently selected mailbox name, empty
	// outside the Selected state.
	SelectedMailbox string
	Metrics         metrics.Snapshot
}
