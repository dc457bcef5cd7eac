package feed

import "errors"

var (
	// ErrNoData means the feed host has nothing for the requested date yet.
	ErrNoData = errors.New("feed: no data for date")
	// ErrMalformedRow marks a single unusable row; callers count it and move on.
	ErrMalformedRow = errors.New("feed: malformed row")
	// ErrLineTooLong is returned when a line exceeds the configured limit.
	ErrLineTooLong = errors.New("feed: line exceeds size limit")
	// ErrMissingHost and ErrMissingCredentials are configuration errors
	// raised before any network call.
	ErrMissingHost        = errors.New("feed: host is required")
	ErrMissingCredentials = errors.New("feed: username and password are required")
	ErrDownload           = errors.New("feed: download failed")
	ErrInvalidDate        = errors.New("feed: date must be YYYY-MM-DD")
)
