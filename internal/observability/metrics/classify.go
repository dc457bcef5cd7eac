package metrics

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Error types used as the error_type log field.
const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeUpstream         = "upstream"
	SchedulerErrorTypeBusinessRule     = "business_rule"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeUnknown          = "unknown"
)

// Reasons used as the reason label of carlot_scheduler_job_errors_total.
const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonLockHeld             = "lock_held"
	SchedulerJobReasonUpstream             = "upstream"
	SchedulerJobReasonUnknown              = "unknown"
)

// ErrUpstream marks failures caused by the feed host or object store.
var ErrUpstream = errors.New("upstream unavailable")

// ErrLockHeld marks a job skipped because another process holds its run lock.
var ErrLockHeld = errors.New("run lock held")

type jobFault struct {
	reason    string
	errorType string
	retryable bool
	match     func(error) bool
}

// jobFaults is checked in order; the first match wins.
var jobFaults = []jobFault{
	{SchedulerJobReasonDeadlineExceeded, SchedulerErrorTypeDeadlineExceeded, true, func(err error) bool {
		return errors.Is(err, context.DeadlineExceeded)
	}},
	{SchedulerJobReasonDeadlineExceeded, SchedulerErrorTypeDeadlineExceeded, false, func(err error) bool {
		return errors.Is(err, context.Canceled)
	}},
	{SchedulerJobReasonLockHeld, SchedulerErrorTypeBusinessRule, false, func(err error) bool {
		return errors.Is(err, ErrLockHeld)
	}},
	{SchedulerJobReasonUpstream, SchedulerErrorTypeUpstream, true, func(err error) bool {
		return errors.Is(err, ErrUpstream)
	}},
	{SchedulerJobReasonDBLockTimeout, SchedulerErrorTypeDB, true, pgCode("55P03")},
	{SchedulerJobReasonSerializationFailure, SchedulerErrorTypeDB, true, pgCode("40001")},
	{SchedulerJobReasonUniqueViolation, SchedulerErrorTypeDB, false, func(err error) bool {
		return errors.Is(err, gorm.ErrDuplicatedKey) || pgCode("23505")(err)
	}},
	{SchedulerJobReasonUnknown, SchedulerErrorTypeDB, false, gormFailure},
}

func classify(err error) (jobFault, bool) {
	if err == nil {
		return jobFault{}, false
	}
	for _, f := range jobFaults {
		if f.match(err) {
			return f, true
		}
	}
	return jobFault{}, false
}

// ClassifySchedulerJobReason maps a job error to a low-cardinality metric reason.
func ClassifySchedulerJobReason(err error) string {
	if f, ok := classify(err); ok {
		return f.reason
	}
	return SchedulerJobReasonUnknown
}

// ClassifySchedulerErrorType returns the error_type log field for err.
func ClassifySchedulerErrorType(err error) string {
	if err == nil {
		return SchedulerErrorTypeUnknown
	}
	if f, ok := classify(err); ok {
		return f.errorType
	}
	return SchedulerErrorTypeBusinessRule
}

// IsSchedulerErrorRetryable reports whether the next tick may succeed
// where this one failed.
func IsSchedulerErrorRetryable(err error) bool {
	f, ok := classify(err)
	return ok && f.retryable
}

func pgCode(code string) func(error) bool {
	return func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == code
	}
}

var gormFailures = []error{
	gorm.ErrInvalidDB,
	gorm.ErrInvalidTransaction,
	gorm.ErrInvalidField,
	gorm.ErrInvalidData,
	gorm.ErrMissingWhereClause,
	gorm.ErrUnsupportedDriver,
	gorm.ErrInvalidValue,
}

// gormFailure matches driver and gorm errors. A missing record is a
// business outcome, not a database failure.
func gormFailure(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	for _, target := range gormFailures {
		if errors.Is(err, target) {
			return true
		}
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
