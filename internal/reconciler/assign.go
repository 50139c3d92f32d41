package reconciler

import (
	"context"
	"sort"

	"github.com/sumire-audio/zonehub/internal/domain"
	"github.com/sumire-audio/zonehub/internal/snapcast"
)

// assignGroupsToZones assigns existing groups to zones: zones that already
// carry a live group (per the state store's recorded SnapcastGroupID) keep
// it; zones without one claim the best-overlapping unclaimed existing group
// (lexicographically smallest id on ties), or are marked "" to signal a new
// group must be created.
func assignGroupsToZones(desired domain.DesiredTopology, status snapcast.ServerStatus, zones map[int]domain.Zone) map[int]string {
	liveGroups := make(map[string]struct{}, len(status.Server.Groups))
	for _, g := range status.Server.Groups {
		liveGroups[g.ID] = struct{}{}
	}

	assignment := make(map[int]string, len(desired.ZoneClients))
	claimed := make(map[string]struct{})

	zoneIDs := sortedZoneIDs(desired.ZoneClients)

	// Pass 1: zones that already have a live assigned group keep it.
	for _, zid := range zoneIDs {
		if zones == nil {
			continue
		}
		z, ok := zones[zid]
		if !ok || z.SnapcastGroupID == "" {
			continue
		}
		if _, live := liveGroups[z.SnapcastGroupID]; !live {
			continue
		}
		assignment[zid] = z.SnapcastGroupID
		claimed[z.SnapcastGroupID] = struct{}{}
	}

	// Pass 2: remaining zones claim the best-overlapping unclaimed group.
	for _, zid := range zoneIDs {
		if _, done := assignment[zid]; done {
			continue
		}
		desiredSet := desired.ZoneClients[zid]
		best, bestOverlap := "", -1
		for _, g := range status.Server.Groups {
			if _, taken := claimed[g.ID]; taken {
				continue
			}
			overlap := overlapCount(desiredSet, g.Clients)
			if overlap > bestOverlap || (overlap == bestOverlap && g.ID < best) {
				if overlap > bestOverlap {
					bestOverlap, best = overlap, g.ID
				} else if best == "" || g.ID < best {
					best = g.ID
				}
			}
		}
		if best != "" && bestOverlap > 0 {
			assignment[zid] = best
			claimed[best] = struct{}{}
		} else {
			assignment[zid] = "" // signal: create a new group
		}
	}

	return assignment
}

func overlapCount(desired map[string]struct{}, groupClients []snapcast.ClientStatus) int {
	n := 0
	for _, c := range groupClients {
		if _, ok := desired[c.ID]; ok {
			n++
		}
	}
	return n
}

// reconcileZone reconciles a single zone: moving clients to the target
// group (creating one if needed) and
// asserting the desired stream id.
func (r *Reconciler) reconcileZone(ctx context.Context, zid int, desired domain.DesiredTopology, status snapcast.ServerStatus, assignment map[int]string, res *zoneResult) {
	desiredSet := desired.ZoneClients[zid]
	res.health = classifyHealth(desiredSet, status)

	target := assignment[zid]
	members := sortedMembers(desiredSet)
	defer func() { res.finalGroupID = target }()

	if target == "" {
		if len(members) == 0 {
			return // nothing desired, nothing to create
		}
		newID, err := r.snap.CreateGroup(ctx, members)
		if err != nil {
			res.errors = append(res.errors, err)
			return
		}
		res.groupsCreated++
		res.clientsMoved += len(members)
		res.actions = append(res.actions, Action{Zone: zid, Description: "created group " + newID + " with " + joinInt(len(members)) + " clients"})
		target = newID
	} else {
		current := groupByID(status, target)
		if !sameMembers(current, members) {
			if err := r.snap.SetGroupClients(ctx, target, members); err != nil {
				res.errors = append(res.errors, err)
				return
			}
			res.clientsMoved += len(members)
			res.actions = append(res.actions, Action{Zone: zid, Description: "moved clients into group " + target})
		}
	}

	wantStream := desired.ZoneStream[zid]
	if wantStream != "" {
		currentStream := streamOf(status, target)
		if currentStream != wantStream {
			if err := r.snap.SetGroupStream(ctx, target, wantStream); err != nil {
				res.errors = append(res.errors, err)
				return
			}
			res.actions = append(res.actions, Action{Zone: zid, Description: "set stream " + wantStream + " on group " + target})
		}
	}
}

func classifyHealth(desiredSet map[string]struct{}, status snapcast.ServerStatus) domain.ZoneHealth {
	if len(desiredSet) == 0 {
		return domain.HealthHealthy
	}
	groupsWithMember := map[string]int{}
	present := 0
	extrasInBestGroup := false
	for _, g := range status.Server.Groups {
		count := 0
		for _, c := range g.Clients {
			if _, ok := desiredSet[c.ID]; ok {
				count++
				present++
			}
		}
		if count > 0 {
			groupsWithMember[g.ID] = count
			if count < len(g.Clients) {
				extrasInBestGroup = true
			}
		}
	}
	if present == 0 {
		return domain.HealthUnhealthy
	}
	if len(groupsWithMember) > 1 || present < len(desiredSet) || extrasInBestGroup {
		return domain.HealthDegraded
	}
	return domain.HealthHealthy
}

func groupByID(status snapcast.ServerStatus, id string) *snapcast.GroupStatus {
	for i := range status.Server.Groups {
		if status.Server.Groups[i].ID == id {
			return &status.Server.Groups[i]
		}
	}
	return nil
}

func streamOf(status snapcast.ServerStatus, groupID string) string {
	if g := groupByID(status, groupID); g != nil {
		return g.StreamID
	}
	return ""
}

func sameMembers(g *snapcast.GroupStatus, desired []string) bool {
	if g == nil {
		return len(desired) == 0
	}
	if len(g.Clients) != len(desired) {
		return false
	}
	have := make(map[string]struct{}, len(g.Clients))
	for _, c := range g.Clients {
		have[c.ID] = struct{}{}
	}
	for _, id := range desired {
		if _, ok := have[id]; !ok {
			return false
		}
	}
	return true
}

func sortedMembers(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func joinInt(n int) string {
	// small, allocation-free enough helper to avoid pulling in strconv at
	// every call site in action descriptions.
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// cleanupUnreferencedGroups empties any group not claimed by a zone this
// pass that contains only clients belonging
// to a different (already-handled) zone or no zone at all, is emptied.
// Outright deletion is left to the daemon's own semantics once a group has
// zero clients, so this only ever issues Group.SetClients with an empty
// list.
func (r *Reconciler) cleanupUnreferencedGroups(ctx context.Context, status snapcast.ServerStatus, assignment map[int]string, report *ReconciliationReport) int {
	claimed := make(map[string]struct{}, len(assignment))
	for _, gid := range assignment {
		if gid != "" {
			claimed[gid] = struct{}{}
		}
	}

	removed := 0
	for _, g := range status.Server.Groups {
		if _, ok := claimed[g.ID]; ok {
			continue
		}
		if len(g.Clients) == 0 {
			continue
		}
		if err := r.snap.SetGroupClients(ctx, g.ID, nil); err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		removed++
		report.Actions = append(report.Actions, Action{Zone: 0, Description: "emptied unreferenced group " + g.ID})
	}
	return removed
}
