package leave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// YEAR-END CLOSING - closing balance snapshots for finished tracking years
// =============================================================================

// CloseTrackingYears stores a closing snapshot for every active member (and
// the owner) on every policy of the workspace whose previous tracking year
// has ended. Snapshot ids are deterministic, so running it again for the
// same year writes nothing new. Returns the number of (user, policy)
// balances processed.
func (s *Service) CloseTrackingYears(ctx context.Context, workspaceID string) (int, error) {
	if s.snapshots == nil {
		return 0, nil
	}
	ws, err := s.dir.WorkspaceByID(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	if ws == nil {
		return 0, &NotFoundError{Kind: "workspace", Ref: workspaceID}
	}
	members, err := s.dir.Members(ctx, ws.ID)
	if err != nil {
		return 0, err
	}
	users := []string{ws.OwnerID}
	for _, m := range members {
		if m.Status == MemberActive && m.UserID != ws.OwnerID {
			users = append(users, m.UserID)
		}
	}
	policies, err := allPolicies(ctx, s.policies, ws.ID, nil)
	if err != nil {
		return 0, err
	}

	today := generic.FromTime(s.now())
	processed := 0
	for _, p := range policies {
		year := p.PeriodConfig().YearOf(today) - 1
		for _, userID := range users {
			if err := s.closeYear(ctx, p, ws.ID, userID, year); err != nil {
				return processed, err
			}
			processed++
		}
	}
	return processed, nil
}

func (s *Service) closeYear(ctx context.Context, p Policy, workspaceID, userID string, year int) error {
	in, err := s.calculationInput(ctx, p, workspaceID, userID, year)
	if err != nil {
		return err
	}
	derived := s.calc.Derive(in)
	return s.snapshots.SaveSnapshot(ctx, generic.Snapshot{
		ID:       fmt.Sprintf("year-end:%s:%s:%d", p.ID, userID, year),
		EntityID: derived.EntityID,
		PolicyID: derived.PolicyID,
		Period:   derived.Period,
		TakenAt:  derived.Period.End,
		Balance:  derived,
		Reason:   generic.SnapshotYearEnd,
	})
}

// =============================================================================
// SCHEDULER
// =============================================================================

// WorkspaceLister lists the workspaces the scheduler closes years for.
type WorkspaceLister interface {
	Workspaces(ctx context.Context) ([]Workspace, error)
}

// YearEndScheduler runs CloseTrackingYears for every workspace on start and
// then every CheckInterval.
type YearEndScheduler struct {
	service       *Service
	workspaces    WorkspaceLister
	logger        *zap.Logger
	CheckInterval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewYearEndScheduler(service *Service, workspaces WorkspaceLister, logger *zap.Logger) *YearEndScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YearEndScheduler{
		service:       service,
		workspaces:    workspaces,
		logger:        logger.Named("leave.year_end"),
		CheckInterval: time.Hour,
	}
}

// Start begins the scheduler. Starting twice is a no-op.
func (ys *YearEndScheduler) Start() {
	ys.mu.Lock()
	defer ys.mu.Unlock()
	if ys.ticker != nil {
		return
	}

	ys.ticker = time.NewTicker(ys.CheckInterval)
	ys.stop = make(chan struct{})
	ys.wg.Add(1)
	go ys.run(ys.ticker, ys.stop)

	ys.logger.Info("scheduler started", zap.Duration("check_interval", ys.CheckInterval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (ys *YearEndScheduler) Stop() {
	ys.mu.Lock()
	defer ys.mu.Unlock()
	if ys.ticker == nil {
		return
	}
	ys.ticker.Stop()
	close(ys.stop)
	ys.wg.Wait()
	ys.ticker = nil
	ys.logger.Info("scheduler stopped")
}

func (ys *YearEndScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ys.wg.Done()

	// Run immediately on start
	ys.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			ys.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce closes the previous tracking year in every workspace. A failing
// workspace is logged and skipped.
func (ys *YearEndScheduler) RunOnce(ctx context.Context) {
	list, err := ys.workspaces.Workspaces(ctx)
	if err != nil {
		ys.logger.Error("list workspaces failed", zap.Error(err))
		return
	}
	total := 0
	for _, ws := range list {
		n, err := ys.service.CloseTrackingYears(ctx, ws.ID)
		total += n
		if err != nil {
			ys.logger.Error("close tracking years failed", zap.String("workspace_id", ws.ID), zap.Error(err))
		}
	}
	ys.logger.Debug("year-end pass completed", zap.Int("workspaces", len(list)), zap.Int("snapshots", total))
}
