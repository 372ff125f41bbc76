package imapclient

import (
	"context"
	"sync"
	"time"

	"github.com/mailkit/imapclient/config"
	"github.com/mailkit/imapclient/conn"
	"github.com/mailkit/imapclient/criteria"
	"github.com/mailkit/imapclient/idle"
	"github.com/mailkit/imapclient/internal/logger"
	"github.com/mailkit/imapclient/internal/scheduler"
	"github.com/mailkit/imapclient/pool"
)

// Manager owns many mailbox configurations and runs an IDLE monitor per
// mailbox concurrently, each with its own connection and independent
// reconnect/backoff, sharing one process-wide Pool and Scheduler.
// AddMailbox/RemoveMailbox can change the managed set at runtime, not
// only at Start.
type Manager struct {
	log   logger.Logger
	pool  *pool.Pool
	sched *scheduler.Scheduler

	mu        sync.RWMutex
	mailboxes map[string]*managedMailbox
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type managedMailbox struct {
	cfg     config.ConnectionConfig
	name    string
	onEvent func(idle.Event)

	mu      sync.Mutex
	client  *Client
	monitor *idle.Monitor
	status  MailboxStatus
	stop    chan struct{}
	stopped chan struct{}
}

// MailboxStatus is one managed mailbox's last-known health, the
// Manager-level analog of Client.Status() extended with the IDLE
// monitor's lifecycle state.
type MailboxStatus struct {
	Key         string
	Mailbox     string
	Connected   bool
	IdleState   string
	LastError   string
	LastEventAt time.Time
}

// NewManager builds a Manager with its own process-wide Pool and
// Scheduler.
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	sched := scheduler.New(log)
	return &Manager{
		log:       log,
		sched:     sched,
		pool:      pool.New(log, sched),
		mailboxes: make(map[string]*managedMailbox),
	}
}

// Start begins running every mailbox added before (or after) this call,
// spinning up one connect-select-idle goroutine per mailbox.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	mailboxes := make([]*managedMailbox, 0, len(m.mailboxes))
	for _, mm := range m.mailboxes {
		mailboxes = append(mailboxes, mm)
	}
	m.mu.Unlock()

	m.sched.Start()
	for _, mm := range mailboxes {
		m.runMailbox(mm)
	}
}

// AddMailbox registers a (cfg, mailbox name) pair to monitor; onEvent is
// invoked for every idle.Event the monitor for this mailbox emits.
// Safe to call before or after Start.
func (m *Manager) AddMailbox(key, mailboxName string, cfg config.ConnectionConfig, onEvent func(idle.Event)) {
	mm := &managedMailbox{cfg: cfg, name: mailboxName, onEvent: onEvent, stop: make(chan struct{}), stopped: make(chan struct{})}

	m.mu.Lock()
	m.mailboxes[key] = mm
	running := m.ctx != nil
	m.mu.Unlock()

	if running {
		m.runMailbox(mm)
	}
}

// RemoveMailbox stops and forgets the mailbox registered under key.
func (m *Manager) RemoveMailbox(ctx context.Context, key string) {
	m.mu.Lock()
	mm, ok := m.mailboxes[key]
	delete(m.mailboxes, key)
	m.mu.Unlock()
	if !ok {
		return
	}
	close(mm.stop)
	<-mm.stopped
	mm.mu.Lock()
	if mm.client != nil {
		_ = mm.client.Close(ctx)
	}
	mm.mu.Unlock()
}

func (m *Manager) runMailbox(mm *managedMailbox) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(mm.stopped)
		m.monitorLoop(mm)
	}()
}

// monitorLoop connects, selects, seeds an initial UID snapshot, and
// runs the IDLE monitor until RemoveMailbox/Manager.Stop fires. A
// failure to connect, select or seed the snapshot is retried with this
// Manager's retry policy -- keyed off the same cfg as Client.Connect,
// so it gets the identical exponential backoff a single Client would
// apply. Once the monitor runs, a failed IDLE does not end it (the
// monitor emits a Resync and retries on the same connection), so it
// does not lead to a reconnect here.
func (m *Manager) monitorLoop(mm *managedMailbox) {
	retry := conn.NewRetryPolicy(mm.cfg)
	for {
		select {
		case <-mm.stop:
			return
		case <-m.ctx.Done():
			return
		default:
		}

		var client *Client
		var monitor *idle.Monitor
		err := retry.Do(m.ctx, m.log, "manager.connect."+mm.name, func(ctx context.Context) error {
			c, mon, err := m.connectAndIdle(mm)
			if err != nil {
				return err
			}
			client, monitor = c, mon
			return nil
		})
		if err != nil {
			mm.mu.Lock()
			mm.status.LastError = err.Error()
			mm.status.Connected = false
			mm.mu.Unlock()
			select {
			case <-mm.stop:
				return
			case <-m.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		mm.mu.Lock()
		mm.client = client
		mm.monitor = monitor
		mm.status.Connected = true
		mm.status.LastError = ""
		mm.mu.Unlock()

		stopWatch := make(chan struct{})
		go func() {
			select {
			case <-mm.stop:
				monitor.Stop()
			case <-stopWatch:
			}
		}()
		m.drainEvents(mm, monitor)
		close(stopWatch)

		select {
		case <-mm.stop:
			_ = client.Close(m.ctx)
			return
		case <-m.ctx.Done():
			_ = client.Close(m.ctx)
			return
		default:
			_ = client.Close(m.ctx)
		}
	}
}

func (m *Manager) connectAndIdle(mm *managedMailbox) (*Client, *idle.Monitor, error) {
	client, err := Connect(m.ctx, mm.cfg, WithLogger(m.log), WithPool(m.pool))
	if err != nil {
		return nil, nil, err
	}
	mb, err := client.Select(m.ctx, mm.name)
	if err != nil {
		_ = client.Close(m.ctx)
		return nil, nil, err
	}
	set, err := mb.Search(m.ctx, criteria.All())
	if err != nil {
		_ = client.Close(m.ctx)
		return nil, nil, err
	}
	monitor := client.Idle(mb, set.UIDs())
	go monitor.Run(m.ctx)
	return client, monitor, nil
}

func (m *Manager) drainEvents(mm *managedMailbox, monitor *idle.Monitor) {
	for ev := range monitor.Events() {
		mm.mu.Lock()
		mm.status.IdleState = monitor.State().String()
		mm.status.LastEventAt = time.Now()
		mm.mu.Unlock()
		if mm.onEvent != nil {
			mm.onEvent(ev)
		}
	}
}

// Status returns a snapshot of every managed mailbox's health.
func (m *Manager) Status() map[string]MailboxStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]MailboxStatus, len(m.mailboxes))
	for key, mm := range m.mailboxes {
		mm.mu.Lock()
		st := mm.status
		st.Key = key
		st.Mailbox = mm.name
		mm.mu.Unlock()
		out[key] = st
	}
	return out
}

// Stop cancels every managed mailbox's monitor loop, waits for them to
// exit, and tears down the Manager's pool and scheduler.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	mailboxes := make([]*managedMailbox, 0, len(m.mailboxes))
	for _, mm := range m.mailboxes {
		mailboxes = append(mailboxes, mm)
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	for _, mm := range mailboxes {
		mm.mu.Lock()
		if mm.client != nil {
			_ = mm.client.Close(context.Background())
		}
		mm.mu.Unlock()
	}

	m.pool.Close(context.Background())
	m.sched.Stop()
}
