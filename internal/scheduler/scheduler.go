// Package scheduler runs the pool's background idle-eviction sweep on
// github.com/robfig/cron/v3: a cron.Cron with panic-recovering,
// skip-if-still-running job registration.
package scheduler

import (
	"sync"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/mailkit/imapclient/internal/logger"
)

// Scheduler wraps a robfig/cron instance with recover-and-log wrapping
// applied to every registered job.
type Scheduler struct {
	mu   sync.Mutex
	cron *cronv3.Cron
	log  logger.Logger
	jobs map[string]cronv3.EntryID
}

func New(log logger.Logger) *Scheduler {
	c := cronv3.New(cronv3.WithChain(
		cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
		cronv3.Recover(cronv3.DefaultLogger),
	))
	return &Scheduler{cron: c, log: log, jobs: make(map[string]cronv3.EntryID)}
}

// Every registers fn to run on the given cron spec (e.g. "@every 30s").
// A malformed spec is a programmer error, so panics rather than
// returning an error the caller would need to check at startup time --
// every call site uses a literal schedule derived from config.
func (s *Scheduler) Every(name, spec string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		panic("scheduler: invalid cron spec " + spec + " for job " + name + ": " + err.Error())
	}
	s.jobs[name] = id
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop drains in-flight jobs and stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Remove unregisters a previously scheduled job without tearing down
// the whole scheduler.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
}
