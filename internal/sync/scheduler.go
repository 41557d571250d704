package sync

import (
	"context"
	"errors"
	"sort"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajy121650/mailer-back/internal/lock"
	"github.com/ajy121650/mailer-back/internal/mailbox"
	"github.com/ajy121650/mailer-back/internal/model"
)

// Runner is the per-account work the scheduler drives. *Orchestrator
// implements it.
type Runner interface {
	Sync(ctx context.Context, acc model.Account) (*Result, error)
	Reclassify(ctx context.Context, acc model.Account) (*ReclassifyResult, error)
}

// AccountLister supplies the accounts to schedule.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]model.Account, error)
}

// Status holds the scheduling state of one account.
type Status struct {
	AccountID string
	Address   string
	State     State
	Running   bool
	LastRun   time.Time
	Last      *Result
	Err       error
	// Locked is true when the last attempt found another worker syncing
	// the account.
	Locked bool
}

// Report is sent on the report channel after every account run.
type Report struct {
	AccountID string
	Result    *Result
	Err       error
	// AuthFailed marks runs that the caller should surface as bad
	// credentials.
	AuthFailed bool
}

// SchedulerOptions tunes the scheduler.
type SchedulerOptions struct {
	Interval      time.Duration
	MaxConcurrent int

	// RunRetries bounds how often a run that failed on a transient
	// connection error is retried before the next tick.
	RunRetries int
	RetryDelay time.Duration

	// RunTimeout bounds one account run including retries.
	RunTimeout time.Duration

	Logger *zap.Logger
}

// Scheduler runs every valid account on an interval with a bounded number
// of concurrent workers. Each worker owns its session for the length of a
// run.
type Scheduler struct {
	runner   Runner
	accounts AccountLister
	locker   lock.Locker
	opts     SchedulerOptions
	logger   *zap.Logger

	mu       gosync.Mutex
	statuses map[string]*Status
	running  bool

	reportCh  chan Report
	triggerCh chan struct{}
}

// NewScheduler creates a scheduler. A nil locker uses an in-process one.
func NewScheduler(runner Runner, accounts AccountLister, locker lock.Locker, opts SchedulerOptions) *Scheduler {
	if locker == nil {
		locker = lock.NewMemory()
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.RunRetries < 0 {
		opts.RunRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Scheduler{
		runner:    runner,
		accounts:  accounts,
		locker:    locker,
		opts:      opts,
		logger:    opts.Logger,
		statuses:  make(map[string]*Status),
		reportCh:  make(chan Report, 64),
		triggerCh: make(chan struct{}, 1),
	}
}

// Run polls every interval, plus once immediately and on every Trigger,
// until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logRunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.logRunOnce(ctx)
		case <-s.triggerCh:
			s.logRunOnce(ctx)
		}
	}
}

func (s *Scheduler) logRunOnce(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduling pass failed", zap.Error(err))
	}
}

// Trigger requests an immediate pass. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
		// A pass is already pending.
	}
}

// Reports delivers a Report after each account run. Reports are dropped
// when nobody keeps up.
func (s *Scheduler) Reports() <-chan Report {
	return s.reportCh
}

// Statuses returns a snapshot of every known account, ordered by id.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// ObserveState records a state transition; pass it as Options.OnState.
func (s *Scheduler) ObserveState(accountID string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[accountID]; ok {
		st.State = state
	}
}

// RunOnce syncs every valid account once and waits for all of them.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrent)

	for _, acc := range accounts {
		if !acc.Valid {
			continue
		}
		acc := acc
		s.track(acc)
		g.Go(func() error {
			s.runAccount(gctx, acc)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) track(acc model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statuses[acc.ID]; !ok {
		s.statuses[acc.ID] = &Status{AccountID: acc.ID, Address: acc.Address, State: StateIdle}
	}
}

func (s *Scheduler) runAccount(ctx context.Context, acc model.Account) {
	logger := s.logger.With(zap.String("account_id", acc.ID))

	release, err := s.locker.Acquire(ctx, acc.ID)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			logger.Debug("account is being synced elsewhere")
			s.update(acc.ID, func(st *Status) { st.Locked = true })
			return
		}
		logger.Warn("acquiring account lock", zap.Error(err))
		return
	}
	defer release()

	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	s.update(acc.ID, func(st *Status) {
		st.Running = true
		st.Locked = false
	})

	res, err := s.syncWithRetry(ctx, acc, logger)
	if err == nil && res != nil && res.ClassifierErr == nil {
		if _, rerr := s.runner.Reclassify(ctx, acc); rerr != nil {
			logger.Warn("reclassify pass failed", zap.Error(rerr))
		}
	}

	s.update(acc.ID, func(st *Status) {
		st.Running = false
		st.LastRun = time.Now()
		st.Last = res
		st.Err = err
	})

	s.sendReport(Report{
		AccountID:  acc.ID,
		Result:     res,
		Err:        err,
		AuthFailed: mailbox.IsAuthError(err),
	})
}

// syncWithRetry retries runs that failed on a connection error with
// exponential delay. Authentication failures and cancellation are final.
func (s *Scheduler) syncWithRetry(ctx context.Context, acc model.Account, logger *zap.Logger) (*Result, error) {
	var res *Result
	operation := func() error {
		r, err := s.runner.Sync(ctx, acc)
		res = r
		if err == nil {
			return nil
		}
		if retryableRun(err) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.RunRetries)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		logger.Warn("sync run failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	return res, err
}

func retryableRun(err error) bool {
	switch {
	case mailbox.IsAuthError(err):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case mailbox.IsConnectError(err), mailbox.IsBrokenSession(err), errors.Is(err, ErrSessionTimeout):
		return true
	default:
		return false
	}
}

func (s *Scheduler) update(accountID string, fn func(*Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[accountID]; ok {
		fn(st)
	}
}

func (s *Scheduler) sendReport(r Report) {
	select {
	case s.reportCh <- r:
	default:
		// Drop if channel is full to avoid blocking the workers
	}
}
