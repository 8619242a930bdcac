package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"piggybank/internal/cache"
	"piggybank/internal/core"
	"piggybank/internal/events"
	applog "piggybank/internal/log"
	"piggybank/internal/store"
)

// ErrNoSession is returned by every data-access call made without a session.
var ErrNoSession = errors.New("no active session")

// ValidationError carries per-field messages. The backend was not called.
type ValidationError struct {
	Fields core.FieldErrors
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Fields.Error()
}

// Backend is the part of the data service the savings operations use.
type Backend interface {
	store.GoalStore
	store.DepositStore
}

type Options struct {
	// Timeout bounds every backend call.
	Timeout time.Duration
	Now     func() time.Time
	Logger  *applog.Logger
}

// SavingsService is the goal and deposit data access layer. Reads go through
// the query cache; writes validate, guard against double submission, call
// the backend, invalidate the affected queries and publish a change event.
type SavingsService struct {
	backend   Backend
	cache     *cache.QueryCache
	publisher events.Publisher
	guard     *InFlight
	timeout   time.Duration
	now       func() time.Time
	logger    *applog.Logger
	audit     *applog.StructuredLogger
}

func NewSavingsService(b Backend, q *cache.QueryCache, p events.Publisher, guard *InFlight, opts Options) *SavingsService {
	if p == nil {
		p = events.NoopPublisher{}
	}
	if guard == nil {
		guard = NewInFlight()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 7 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.Config{Handler: slog.Default().Handler()})
	}
	logger := opts.Logger.WithComponent(applog.ComponentSavings)
	return &SavingsService{
		backend:   b,
		cache:     q,
		publisher: p,
		guard:     guard,
		timeout:   opts.Timeout,
		now:       opts.Now,
		logger:    logger,
		audit:     applog.NewStructuredLogger(logger),
	}
}

func (s *SavingsService) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// ListGoals returns the session user's goals, newest first.
func (s *SavingsService) ListGoals(ctx context.Context, sess *core.Session) ([]core.SavingsGoal, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	userID := sess.UserID()
	return cache.Read(ctx, s.cache, cache.GoalsKey(userID), func(ctx context.Context) ([]core.SavingsGoal, error) {
		ctx, cancel := s.call(ctx)
		defer cancel()
		goals, err := s.backend.ListGoals(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list goals: %w", err)
		}
		return goals, nil
	})
}

// ListDeposits returns the session user's deposits, newest first.
func (s *SavingsService) ListDeposits(ctx context.Context, sess *core.Session) ([]core.Deposit, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	userID := sess.UserID()
	return cache.Read(ctx, s.cache, cache.DepositsKey(userID), func(ctx context.Context) ([]core.Deposit, error) {
		ctx, cancel := s.call(ctx)
		defer cancel()
		deposits, err := s.backend.ListDeposits(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list deposits: %w", err)
		}
		return deposits, nil
	})
}

// GetGoal fetches exactly one goal for the edit dialog. It bypasses the cache.
func (s *SavingsService) GetGoal(ctx context.Context, sess *core.Session, id string) (core.SavingsGoal, error) {
	if sess == nil {
		return core.SavingsGoal{}, ErrNoSession
	}
	ctx, cancel := s.call(ctx)
	defer cancel()
	g, err := s.backend.GetGoal(ctx, sess.UserID(), strings.TrimSpace(id))
	if err != nil {
		return core.SavingsGoal{}, fmt.Errorf("get goal: %w", err)
	}
	return g, nil
}

// CreateGoal validates the form and inserts a goal with a zero current amount.
func (s *SavingsService) CreateGoal(ctx context.Context, sess *core.Session, form core.GoalForm) (core.SavingsGoal, error) {
	if sess == nil {
		return core.SavingsGoal{}, ErrNoSession
	}
	in, errs := form.Validate()
	if !errs.Empty() {
		return core.SavingsGoal{}, &ValidationError{Fields: errs}
	}
	release, err := s.guard.Acquire(sess.UserID(), ActionCreateGoal)
	if err != nil {
		return core.SavingsGoal{}, err
	}
	defer release()

	cctx, cancel := s.call(ctx)
	defer cancel()
	g, err := s.backend.InsertGoal(cctx, store.NewGoal{
		UserID:       sess.UserID(),
		Title:        in.Title,
		TargetAmount: in.TargetAmount,
	})
	if err != nil {
		s.audit.LogError(ctx, "Failed to create savings goal", err, applog.ComponentSavings, applog.OpCreate,
			applog.NewFields().WithUser(sess.UserID()))
		return core.SavingsGoal{}, fmt.Errorf("insert goal: %w", err)
	}

	s.audit.LogGoalSaved(ctx, applog.OpCreate, sess.UserID(), g.ID, g.Title, g.TargetAmount.Cents)
	s.afterWrite(ctx, events.Change{
		Table:  events.TableSavingsGoals,
		Op:     events.OpInsert,
		UserID: sess.UserID(),
		RowID:  g.ID,
		GoalID: g.ID,
	})
	return g, nil
}

// UpdateGoal changes title and target amount of one of the user's goals.
func (s *SavingsService) UpdateGoal(ctx context.Context, sess *core.Session, id string, form core.GoalForm) (core.SavingsGoal, error) {
	if sess == nil {
		return core.SavingsGoal{}, ErrNoSession
	}
	in, errs := form.Validate()
	if !errs.Empty() {
		return core.SavingsGoal{}, &ValidationError{Fields: errs}
	}
	release, err := s.guard.Acquire(sess.UserID(), ActionUpdateGoal)
	if err != nil {
		return core.SavingsGoal{}, err
	}
	defer release()

	cctx, cancel := s.call(ctx)
	defer cancel()
	g, err := s.backend.UpdateGoal(cctx, sess.UserID(), strings.TrimSpace(id), store.GoalPatch{
		Title:        in.Title,
		TargetAmount: in.TargetAmount,
	})
	if err != nil {
		s.audit.LogError(ctx, "Failed to update savings goal", err, applog.ComponentSavings, applog.OpUpdate,
			applog.NewFields().WithUser(sess.UserID()).WithGoal(id, ""))
		return core.SavingsGoal{}, fmt.Errorf("update goal: %w", err)
	}

	s.audit.LogGoalSaved(ctx, applog.OpUpdate, sess.UserID(), g.ID, g.Title, g.TargetAmount.Cents)
	s.afterWrite(ctx, events.Change{
		Table:  events.TableSavingsGoals,
		Op:     events.OpUpdate,
		UserID: sess.UserID(),
		RowID:  g.ID,
		GoalID: g.ID,
	})
	return g, nil
}

// DeleteGoal removes one of the user's goals together with its deposits.
func (s *SavingsService) DeleteGoal(ctx context.Context, sess *core.Session, id string) error {
	if sess == nil {
		return ErrNoSession
	}
	id = strings.TrimSpace(id)
	release, err := s.guard.Acquire(sess.UserID(), ActionDeleteGoal)
	if err != nil {
		return err
	}
	defer release()

	cctx, cancel := s.call(ctx)
	defer cancel()
	if err := s.backend.DeleteGoal(cctx, sess.UserID(), id); err != nil {
		s.audit.LogError(ctx, "Failed to delete savings goal", err, applog.ComponentSavings, applog.OpDelete,
			applog.NewFields().WithUser(sess.UserID()).WithGoal(id, ""))
		return fmt.Errorf("delete goal: %w", err)
	}

	s.logger.InfoContext(ctx, "Savings goal deleted", applog.FieldUserID, sess.UserID(), applog.FieldGoalID, id)
	s.afterWrite(ctx, events.Change{
		Table:  events.TableSavingsGoals,
		Op:     events.OpDelete,
		UserID: sess.UserID(),
		RowID:  id,
		GoalID: id,
	})
	return nil
}

// CreateDeposit validates the form against the user's currently loaded goals
// and records the deposit. The store raises the goal's current amount.
func (s *SavingsService) CreateDeposit(ctx context.Context, sess *core.Session, form core.DepositForm) (core.Deposit, error) {
	if sess == nil {
		return core.Deposit{}, ErrNoSession
	}
	if _, errs := form.Check(); !errs.Empty() {
		return core.Deposit{}, &ValidationError{Fields: errs}
	}
	goals, err := s.ListGoals(ctx, sess)
	if err != nil {
		return core.Deposit{}, err
	}
	in, errs := form.Validate(goals)
	if !errs.Empty() {
		return core.Deposit{}, &ValidationError{Fields: errs}
	}
	release, err := s.guard.Acquire(sess.UserID(), ActionCreateDeposit)
	if err != nil {
		return core.Deposit{}, err
	}
	defer release()

	cctx, cancel := s.call(ctx)
	defer cancel()
	d, err := s.backend.InsertDeposit(cctx, store.NewDeposit{
		UserID: sess.UserID(),
		GoalID: in.GoalID,
		Amount: in.Amount,
	})
	if err != nil {
		s.audit.LogError(ctx, "Failed to add deposit", err, applog.ComponentSavings, applog.OpCreate,
			applog.NewFields().WithUser(sess.UserID()).WithGoal(in.GoalID, ""))
		return core.Deposit{}, fmt.Errorf("insert deposit: %w", err)
	}

	s.audit.LogDepositCreated(ctx, sess.UserID(), d.ID, d.GoalID, d.Amount.Cents)
	s.afterWrite(ctx, events.Change{
		Table:       events.TableDeposits,
		Op:          events.OpInsert,
		UserID:      sess.UserID(),
		RowID:       d.ID,
		GoalID:      d.GoalID,
		GoalTitle:   goalTitle(goals, d.GoalID),
		AmountCents: d.Amount.Cents,
		At:          d.CreatedAt,
	})
	return d, nil
}

// afterWrite drops the stale queries and announces the change. A failed
// publish is logged only; the write already succeeded.
func (s *SavingsService) afterWrite(ctx context.Context, c events.Change) {
	s.cache.Invalidate(InvalidationKeys(c)...)

	if c.At.IsZero() {
		c.At = s.now().UTC()
	}
	pctx := context.WithoutCancel(ctx)
	if err := s.publisher.Publish(pctx, c); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish change",
			applog.FieldError, err,
			applog.FieldTable, c.Table,
			applog.FieldOperation, c.Op,
			applog.FieldUserID, c.UserID)
	}
}

// Dashboard is everything the home view renders.
type Dashboard struct {
	Goals       []core.SavingsGoal
	Deposits    []core.Deposit
	GoalsErr    error
	DepositsErr error
	Overview    core.Overview
}

// LoadDashboard fetches goals and deposits concurrently. Each failure is
// kept separately and its aggregate contributes zero.
func (s *SavingsService) LoadDashboard(ctx context.Context, sess *core.Session) (Dashboard, error) {
	if sess == nil {
		return Dashboard{}, ErrNoSession
	}
	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.Goals, d.GoalsErr = s.ListGoals(gctx, sess)
		return nil
	})
	g.Go(func() error {
		d.Deposits, d.DepositsErr = s.ListDeposits(gctx, sess)
		return nil
	})
	_ = g.Wait()

	if d.GoalsErr != nil {
		s.logger.ErrorContext(ctx, "Failed to load goals", applog.FieldError, d.GoalsErr, applog.FieldUserID, sess.UserID())
		d.Goals = nil
	}
	if d.DepositsErr != nil {
		s.logger.ErrorContext(ctx, "Failed to load deposits", applog.FieldError, d.DepositsErr, applog.FieldUserID, sess.UserID())
		d.Deposits = nil
	}
	d.Overview = core.BuildOverview(d.Goals, d.Deposits, s.now())
	return d, nil
}

func goalTitle(goals []core.SavingsGoal, id string) string {
	for _, g := range goals {
		if strings.EqualFold(g.ID, id) {
			return g.Title
		}
	}
	return ""
}
