package wa

import "errors"

// Typed failures of the media pipeline. Callers use these to pick the next
// delivery tier instead of aborting the reply.
var (
	// ErrInvalidURL marks a locator that failed scheme or format checks.
	ErrInvalidURL = errors.New("wa: invalid url")

	// ErrBlockedDomain marks a locator outside the source allow-list or
	// resolving into a private address range.
	ErrBlockedDomain = errors.New("wa: blocked domain")

	// ErrBadContentType marks a fetch that returned a non-image payload.
	ErrBadContentType = errors.New("wa: disallowed content type")

	// ErrTooLarge marks an image still over the hard cap after compression.
	ErrTooLarge = errors.New("wa: image too large")

	// ErrUploadFailed marks a failed media store upload.
	ErrUploadFailed = errors.New("wa: media upload failed")

	// ErrSendFailed marks a failed message send.
	ErrSendFailed = errors.New("wa: send failed")
)
