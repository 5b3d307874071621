// Package engineerr defines the engine's error-kind taxonomy (§7 of the
// design). Leaf layers return one of these sentinels (wrapped with
// github.com/pkg/errors for context); intermediate layers annotate and
// rethrow rather than replace them, so callers can still recover the kind
// with errors.Is / errors.Cause.
package engineerr

import "github.com/pkg/errors"

var (
	// ErrProfileMalformed: ICC bytes fail parsing. Fatal for the containing
	// conversion.
	ErrProfileMalformed = errors.New("formcolor: profile malformed")

	// ErrTransformUnsupported: the color engine cannot honor the requested
	// format/intent combination. Fatal unless a policy fallback applies.
	ErrTransformUnsupported = errors.New("formcolor: transform unsupported")

	// ErrBufferMisaligned: buffer length is not a multiple of channel
	// count times pixel size. Programmer error, fatal.
	ErrBufferMisaligned = errors.New("formcolor: buffer misaligned")

	// ErrInvalidArgument: caller-supplied options are self-contradictory.
	// Programmer error, fatal.
	ErrInvalidArgument = errors.New("formcolor: invalid argument")

	// ErrStreamFilterUnsupported: an image uses a filter the converter
	// cannot reverse (e.g. JPEG2000). Nothing in this module returns it: an
	// image stream that fails to decode fails its page's conversion with the
	// decode error, and the document conversion fails with it.
	ErrStreamFilterUnsupported = errors.New("formcolor: stream filter unsupported")

	// ErrAssetFetchFailed: an asset or profile fetch failed. HTTPFetcher
	// makes one attempt per fetch and no caller retries it; the error is
	// fatal to the run.
	ErrAssetFetchFailed = errors.New("formcolor: asset fetch failed")

	// ErrWorkerCrashed: a pool worker failed while running a task. Nothing
	// in this module returns it: the worker pool neither recovers a
	// panicking task nor retries a failed one.
	ErrWorkerCrashed = errors.New("formcolor: worker crashed")

	// ErrCanceled: surfaced unchanged to the caller.
	ErrCanceled = errors.New("formcolor: canceled")
)
