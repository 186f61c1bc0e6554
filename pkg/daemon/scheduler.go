package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// NotifyFunc is called with the error of a failed task.
type NotifyFunc func(name string, err error)

// Scheduler runs named maintenance tasks on cron schedules.
type Scheduler struct {
	OnError NotifyFunc

	parser cron.Parser
	cron   *cron.Cron

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// cronLogger forwards cron's own logging to logrus.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).Trace(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.fields(keysAndValues).WithError(err).Error(msg)
}

func (l cronLogger) fields(kv []interface{}) *logrus.Entry {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return l.entry.WithFields(f)
}

func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	l := cronLogger{entry: logrus.WithField("component", "scheduler")}

	return &Scheduler{
		parser: parser,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		jobs: make(map[string]cron.EntryID),
	}
}

// Add schedules task under name, replacing any task of the same name.
func (s *Scheduler) Add(name, spec string, task TaskFunc) error {
	if task == nil {
		return fmt.Errorf("task %s: function cannot be nil", name)
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
	}
	s.jobs[name] = s.cron.Schedule(sched, cron.FuncJob(func() {
		start := time.Now()
		err := task()
		entry := logrus.WithFields(logrus.Fields{
			"task":    name,
			"elapsed": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Error("scheduled task failed")
			if s.OnError != nil {
				s.OnError(name, err)
			}
			return
		}
		entry.Debug("scheduled task finished")
	}))
	return nil
}

// Remove unschedules the task called name, if any.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
}

// Next returns the next run of the task called name. It is zero before
// Start.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Names returns the scheduled task names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling. The returned context is done once running tasks
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

const (
	pruneTimeout = time.Minute
)

// registerJobs schedules the periodic maintenance of the daemon.
func (d *Daemon) registerJobs(s *Scheduler) error {
	if d.history != nil {
		if err := s.Add("prune-history", "@every 1h", d.pruneHistory); err != nil {
			return err
		}
	}
	return s.Add("profile-report", "@every 6h", d.reportProfile)
}

// pruneHistory drops samples older than the configured retention.
func (d *Daemon) pruneHistory() error {
	if d.history == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	before := d.now().Add(-d.conf.HistoryRetention())
	n, err := d.history.Prune(ctx, before)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"before":  before.Format(time.RFC3339),
		"removed": n,
	}).Info("pruned history")
	return nil
}

// reportProfile logs how far the runtime profile has been learned.
func (d *Daemon) reportProfile() error {
	logrus.WithFields(logrus.Fields{
		"identity":            d.profile.Identity(),
		"dischargingAccuracy": d.profile.AccuracyAverage(true),
		"chargingAccuracy":    d.profile.AccuracyAverage(false),
		"dischargingTrusted":  d.profile.Trusted(true),
		"chargingTrusted":     d.profile.Trusted(false),
	}).Info("runtime profile")
	return nil
}
