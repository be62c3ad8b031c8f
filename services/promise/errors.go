package promise

import "promisekeeper/pkg/errutil"

// The state machine surfaces every rejection as one of these sentinels.
// All are local, recoverable conditions; ErrStorageConflict is retried
// internally before it ever reaches a caller.
var (
	ErrPromiseNotFound   = errutil.NotFound("promise not found")
	ErrNotOwner          = errutil.Forbidden("not the promise owner")
	ErrInvalidState      = errutil.UnprocessableEntity("promise state does not allow this transition")
	ErrEvidenceTooShort  = errutil.ValidationFailed("evidence report is too short")
	ErrDuplicateVouch    = errutil.Conflict("promise already vouched by this user")
	ErrSelfVouch         = errutil.BadRequest("cannot vouch for your own promise")
	ErrPromiseNotVotable = errutil.UnprocessableEntity("promise is not accepting vouches")
	ErrNotExpired        = errutil.BadRequest("promise deadline has not elapsed")
	ErrStorageConflict   = errutil.Conflict("storage conflict, retry the operation")
	ErrDeadlineInPast    = errutil.ValidationFailed("deadline must be in the future")
)
