// Package reconciler drives Snapcast's group/client topology to match the
// DesiredTopology computed from the state store.
package reconciler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sumire-audio/zonehub/internal/domain"
	"github.com/sumire-audio/zonehub/internal/snapcast"
	"github.com/sumire-audio/zonehub/internal/statestore"
)

// Action is one log entry in a ReconciliationReport's action log.
type Action struct {
	Zone        int
	Description string
}

// ReconciliationReport summarizes one reconciliation pass.
type ReconciliationReport struct {
	ZonesReconciled int
	ClientsMoved    int
	GroupsCreated   int
	GroupsRemoved   int
	Actions         []Action
	Errors          []error
	Health          map[int]domain.ZoneHealth
}

// AggregateHealth returns the worst health among all reconciled zones.
func (r *ReconciliationReport) AggregateHealth() domain.ZoneHealth {
	worst := domain.HealthHealthy
	for _, h := range r.Health {
		if rank(h) > rank(worst) {
			worst = h
		}
	}
	return worst
}

func rank(h domain.ZoneHealth) int {
	switch h {
	case domain.HealthHealthy:
		return 0
	case domain.HealthDegraded:
		return 1
	case domain.HealthUnhealthy:
		return 2
	default:
		return 0
	}
}

// Reconciler owns the periodic and event-triggered reconciliation loop.
// Concurrency within one pass is bounded by maxParallel zones, 4 by
// default.
type Reconciler struct {
	store       *statestore.Store
	snap        *snapcast.Client
	log         *slog.Logger
	tickEvery   time.Duration
	maxParallel int64
}

// New creates a Reconciler. tickEvery defaults to 30s and maxParallel to 4.
func New(store *statestore.Store, snap *snapcast.Client, log *slog.Logger, tickEvery time.Duration, maxParallel int64) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if tickEvery <= 0 {
		tickEvery = 30 * time.Second
	}
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Reconciler{store: store, snap: snap, log: log, tickEvery: tickEvery, maxParallel: maxParallel}
}

// Run drives the periodic tick and the Resynced-event trigger until ctx is
// cancelled. On-demand reconciliation (e.g. from the coordinator after a
// command) should call Reconcile directly rather than going through Run.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tickEvery)
	defer ticker.Stop()

	events, cancel := r.snap.Events()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if report, err := r.Reconcile(ctx); err != nil {
				r.log.Error("periodic reconciliation failed", "error", err)
			} else {
				r.logReport(report)
			}
		case ev := <-events:
			if ev.Method != snapcast.EventResynced {
				continue
			}
			r.log.Info("reconciling after snapcast resync")
			if report, err := r.Reconcile(ctx); err != nil {
				r.log.Error("resync-triggered reconciliation failed", "error", err)
			} else {
				r.logReport(report)
			}
		}
	}
}

func (r *Reconciler) logReport(report *ReconciliationReport) {
	r.log.Info("reconciliation complete",
		"zones_reconciled", report.ZonesReconciled,
		"clients_moved", report.ClientsMoved,
		"groups_created", report.GroupsCreated,
		"groups_removed", report.GroupsRemoved,
		"errors", len(report.Errors),
		"aggregate_health", report.AggregateHealth(),
	)
}

// Reconcile runs one pass of the six-step reconciliation algorithm.
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconciliationReport, error) {
	snap := r.store.Snapshot()
	desired := snap.DesiredTopology()

	status, err := r.snap.GetStatus(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{Health: make(map[int]domain.ZoneHealth)}
	assignment := assignGroupsToZones(desired, status, snap.Zones)

	sem := semaphore.NewWeighted(r.maxParallel)
	grp, grpCtx := errgroup.WithContext(ctx)

	var results = make([]*zoneResult, 0, len(desired.ZoneClients))
	zoneIDs := sortedZoneIDs(desired.ZoneClients)

	for _, zid := range zoneIDs {
		zid := zid
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		res := &zoneResult{zone: zid}
		results = append(results, res)
		grp.Go(func() error {
			defer sem.Release(1)
			// Use the background-derived, non-cancelling context: one
			// zone's error must never abort its siblings.
			r.reconcileZone(nonCancelling(grpCtx), zid, desired, status, assignment, res)
			return nil
		})
	}
	_ = grp.Wait()

	for _, res := range results {
		report.ZonesReconciled++
		report.ClientsMoved += res.clientsMoved
		report.GroupsCreated += res.groupsCreated
		report.Actions = append(report.Actions, res.actions...)
		report.Errors = append(report.Errors, res.errors...)
		report.Health[res.zone] = res.health
	}

	report.GroupsRemoved += r.cleanupUnreferencedGroups(ctx, status, assignment, report)
	r.persistGroupAssignments(results)

	return report, nil
}

// persistGroupAssignments writes each zone's resolved Snapcast group id
// back into the state store so the next pass's assignGroupsToZones can
// reuse it instead of re-deriving by overlap every tick.
func (r *Reconciler) persistGroupAssignments(results []*zoneResult) {
	changed := false
	for _, res := range results {
		if res.finalGroupID != "" {
			changed = true
			break
		}
	}
	if !changed {
		return
	}
	if _, err := r.store.Mutate(func(s statestore.Snapshot) (statestore.Snapshot, error) {
		for _, res := range results {
			if res.finalGroupID == "" {
				continue
			}
			z, ok := s.Zones[res.zone]
			if !ok || z.SnapcastGroupID == res.finalGroupID {
				continue
			}
			z.SnapcastGroupID = res.finalGroupID
			s.Zones[res.zone] = z
		}
		return s, nil
	}); err != nil {
		r.log.Warn("failed to persist snapcast group assignments", "error", err)
	}
}

type zoneResult struct {
	zone          int
	clientsMoved  int
	groupsCreated int
	actions       []Action
	errors        []error
	health        domain.ZoneHealth
	finalGroupID  string
}

// nonCancelling wraps ctx so that cancellation of the parent (e.g. because
// a sibling goroutine returned an error to errgroup) does not propagate.
// Deadline and Value still report the parent's, but neither the parent's
// cancellation nor its deadline expiring closes Done; per-call timeouts come
// from the Snapcast client's own CallTimeout. errgroup's default behavior of cancelling all
// siblings on the first error is exactly what partial-failure tolerance
// forbids here.
type nonCancellingCtx struct{ context.Context }

func (nonCancellingCtx) Done() <-chan struct{}     { return nil }
func (nonCancellingCtx) Err() error                { return nil }
func nonCancelling(ctx context.Context) context.Context { return nonCancellingCtx{ctx} }

func sortedZoneIDs(m map[int]map[string]struct{}) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
