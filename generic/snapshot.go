package generic

import "context"

// =============================================================================
// SNAPSHOT - frozen balance at a point in time
// =============================================================================

// Snapshot records what a balance looked like when something changed it.
// Snapshots are an audit trail and a fast read path; they never feed back
// into the calculation.
type Snapshot struct {
	ID       string
	EntityID EntityID
	PolicyID PolicyID
	Period   Period
	TakenAt  TimePoint
	Balance  Balance
	Reason   SnapshotReason
	Ref      string // what triggered it, e.g. a request id
}

type SnapshotReason string

const (
	SnapshotRequestApproved SnapshotReason = "request_approved"
	SnapshotHoursRecorded   SnapshotReason = "hours_recorded"
	SnapshotYearEnd         SnapshotReason = "year_end"
)

type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	LatestSnapshot(ctx context.Context, entityID EntityID, policyID PolicyID) (*Snapshot, error)
}
