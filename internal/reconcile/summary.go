package reconcile

import (
	"fmt"

	"github.com/smallbiznis/carlot/internal/inventory/domain"
)

// Summary counts what one run did. In dry-run mode the counts are what the
// run would have written.
type Summary struct {
	Created      int64
	Updated      int64
	Deleted      int64
	Unchanged    int64
	Skipped      int64
	SkippedEmpty int64
	Duplicates   int64
	Failed       int64
	RowsRead     int64
	Batches      int64
	Truncated    bool

	lots     LotSet
	readFail bool
	// unreadable is set once a row could not be parsed; its lot is unknown.
	unreadable bool
}

// Line renders the operator-facing summary.
func (s Summary) Line(dryRun bool) string {
	prefix := ""
	if dryRun {
		prefix = "[DRY-RUN] "
	}
	return fmt.Sprintf("%sCreated: %d, Updated: %d, Deleted: %d", prefix, s.Created, s.Updated, s.Deleted)
}

// Detail renders the secondary counters.
func (s Summary) Detail() string {
	return fmt.Sprintf("Rows: %d, Unchanged: %d, Skipped: %d, Empty lot: %d, Duplicates: %d, Failed: %d, Batches: %d",
		s.RowsRead, s.Unchanged, s.Skipped, s.SkippedEmpty, s.Duplicates, s.Failed, s.Batches)
}

// Add folds other into s.
func (s Summary) Add(other Summary) Summary {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Deleted += other.Deleted
	s.Unchanged += other.Unchanged
	s.Skipped += other.Skipped
	s.SkippedEmpty += other.SkippedEmpty
	s.Duplicates += other.Duplicates
	s.Failed += other.Failed
	s.RowsRead += other.RowsRead
	s.Batches += other.Batches
	s.Truncated = s.Truncated || other.Truncated
	return s
}

// Snapshot is the lot set an import saw. It is complete only when the
// feed was read to the end and every row in it was readable.
func (s Summary) Snapshot() Snapshot {
	return Snapshot{Lots: s.lots, Complete: !s.Truncated && !s.readFail && !s.unreadable}
}

// Outcome converts the summary into a run record update.
func (s Summary) Outcome(digest string, err error) domain.RunOutcome {
	return domain.RunOutcome{
		Created:    s.Created,
		Updated:    s.Updated,
		Deleted:    s.Deleted,
		Skipped:    s.Skipped + s.SkippedEmpty + s.Duplicates,
		Failed:     s.Failed,
		RowsRead:   s.RowsRead,
		FeedDigest: digest,
		Err:        err,
	}
}

// LotSet is a set of external lot identifiers.
type LotSet map[string]struct{}

func (s LotSet) Has(lot string) bool {
	_, ok := s[lot]
	return ok
}

// Snapshot is the full set of lots an active feed listed.
type Snapshot struct {
	Lots     LotSet
	Complete bool
}
