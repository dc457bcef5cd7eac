package anomaly

import "errors"

var (
	ErrUnknownMethod  = errors.New("unknown anomaly method")
	ErrNoCars         = errors.New("no cars found in database")
	ErrUnknownFormat  = errors.New("unknown report format")
	ErrSummaryNotSave = errors.New("summary results cannot be saved")
)
