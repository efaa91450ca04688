// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package timer arms one-shot and recurring triggers keyed by hook name and
// integer arguments. Triggers live in memory only: nothing survives a
// restart, which is why the republish recovery pass re-arms from storage.
package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olegiv/content-update-scheduler/internal/hooks"
)

// ErrAlreadyScheduled is returned when the exact key is already armed.
var ErrAlreadyScheduled = errors.New("timer already scheduled")

// Entry is the public view of an armed trigger.
type Entry struct {
	Hook      string
	Args      hooks.Args
	At        time.Time // next run
	Recurring bool
	Schedule  string // cron expression, recurring entries only
}

type onceEntry struct {
	hook  string
	args  hooks.Args
	at    time.Time
	timer *time.Timer
}

type recurringEntry struct {
	hook     string
	schedule string
	entryID  cron.EntryID
}

// Service manages armed triggers and dispatches them through hooks.
type Service struct {
	hooks  hooks.Caller
	logger *slog.Logger
	now    func() time.Time

	cron   *cron.Cron
	parser cron.Parser

	mu        sync.Mutex
	once      map[string]*onceEntry
	recurring map[string]*recurringEntry

	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New creates a timer service dispatching to h.
func New(h hooks.Caller, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		hooks:     h,
		logger:    logger,
		now:       time.Now,
		cron:      cron.New(),
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		once:      make(map[string]*onceEntry),
		recurring: make(map[string]*recurringEntry),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetClock replaces the time source used to compute delays.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Key returns the identity of a trigger.
func Key(hook string, args ...int64) string {
	if len(args) == 0 {
		return hook
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = strconv.FormatInt(a, 10)
	}
	return hook + "(" + strings.Join(parts, ",") + ")"
}

// Start begins running recurring entries.
func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info("timer service started", "recurring", len(s.cron.Entries()))
}

// Stop disarms every trigger and waits for running dispatches.
func (s *Service) Stop() {
	s.mu.Lock()
	for key, e := range s.once {
		e.timer.Stop()
		delete(s.once, key)
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.cancel()
	s.running.Wait()
	s.logger.Info("timer service stopped")
}

// ScheduleOnce arms hook(args) to fire at the given instant. Instants in the
// past fire immediately.
func (s *Service) ScheduleOnce(hook string, at time.Time, args ...int64) error {
	key := Key(hook, args...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.once[key]; ok {
		return fmt.Errorf("%s: %w", key, ErrAlreadyScheduled)
	}

	e := &onceEntry{hook: hook, args: append(hooks.Args(nil), args...), at: at}
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() { s.fire(key, e) })
	s.once[key] = e

	s.logger.Debug("timer armed", "key", key, "at", at.UTC())
	return nil
}

func (s *Service) fire(key string, e *onceEntry) {
	s.mu.Lock()
	if s.once[key] != e {
		// Cancelled or replaced after the timer started.
		s.mu.Unlock()
		return
	}
	delete(s.once, key)
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	s.dispatch(e.hook, e.args)
}

func (s *Service) dispatch(hook string, args hooks.Args) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("timer handler panicked", "hook", hook, "args", args, "panic", r)
		}
	}()

	var data any
	if len(args) > 0 {
		data = args
	}
	if err := s.hooks.Do(s.ctx, hook, data); err != nil {
		s.logger.Error("timer handler failed", "hook", hook, "args", args, "error", err)
	}
}

// ScheduleRecurring runs hook on a cron schedule.
func (s *Service) ScheduleRecurring(hook, schedule string) error {
	if _, err := s.parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recurring[hook]; ok {
		return fmt.Errorf("%s: %w", hook, ErrAlreadyScheduled)
	}

	id, err := s.cron.AddFunc(schedule, func() {
		s.running.Add(1)
		defer s.running.Done()
		s.dispatch(hook, nil)
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", hook, err)
	}
	s.recurring[hook] = &recurringEntry{hook: hook, schedule: schedule, entryID: id}

	s.logger.Debug("recurring timer armed", "hook", hook, "schedule", schedule)
	return nil
}

// Cancel disarms hook(args). Reports whether anything was armed.
// A recurring entry is cancelled when no args are given.
func (s *Service) Cancel(hook string, args ...int64) bool {
	key := Key(hook, args...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.once[key]; ok {
		e.timer.Stop()
		delete(s.once, key)
		return true
	}
	if len(args) == 0 {
		if r, ok := s.recurring[hook]; ok {
			s.cron.Remove(r.entryID)
			delete(s.recurring, hook)
			return true
		}
	}
	return false
}

// NextScheduled returns when hook(args) fires next.
func (s *Service) NextScheduled(hook string, args ...int64) (time.Time, bool) {
	key := Key(hook, args...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.once[key]; ok {
		return e.at, true
	}
	if len(args) == 0 {
		if r, ok := s.recurring[hook]; ok {
			next := s.cron.Entry(r.entryID).Next
			if next.IsZero() {
				// Not started yet; compute from the schedule.
				if sched, err := s.parser.Parse(r.schedule); err == nil {
					next = sched.Next(s.now())
				}
			}
			return next, true
		}
	}
	return time.Time{}, false
}

// ClearHook disarms every trigger of hook, whatever its args.
// Returns the number of triggers removed.
func (s *Service) ClearHook(hook string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, e := range s.once {
		if e.hook == hook {
			e.timer.Stop()
			delete(s.once, key)
			n++
		}
	}
	if r, ok := s.recurring[hook]; ok {
		s.cron.Remove(r.entryID)
		delete(s.recurring, hook)
		n++
	}
	return n
}

// List returns every armed trigger ordered by next run.
func (s *Service) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Entry, 0, len(s.once)+len(s.recurring))
	for _, e := range s.once {
		result = append(result, Entry{Hook: e.hook, Args: append(hooks.Args(nil), e.args...), At: e.at})
	}
	for _, r := range s.recurring {
		result = append(result, Entry{
			Hook:      r.hook,
			At:        s.cron.Entry(r.entryID).Next,
			Recurring: true,
			Schedule:  r.schedule,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].At.Equal(result[j].At) {
			return result[i].At.Before(result[j].At)
		}
		return Key(result[i].Hook, result[i].Args...) < Key(result[j].Hook, result[j].Args...)
	})
	return result
}

// Count returns the number of armed triggers.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.once) + len(s.recurring)
}
