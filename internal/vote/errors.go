package vote

import "sunshine.org/internal/dao"

var (
	ErrVoteNotFound              = dao.NewError(dao.KindNotFound, "VoteNotFound", "vote not found")
	ErrNotAuthorizedToCreateVote = dao.NewError(dao.KindAuthorization, "NotAuthorizedToCreateVoteForOrganization", "caller may not create votes for this organization")
	ErrNotAuthorizedToVote       = dao.NewError(dao.KindAuthorization, "NotAuthorizedToVote", "caller holds no usable shares in this organization")
	ErrPercentThresholdBounds    = dao.NewError(dao.KindInput, "VotePercentThresholdInputBoundError", "percent threshold must lie strictly between 0 and 100")
	ErrInvalidThreshold          = dao.NewError(dao.KindInput, "InvalidThreshold", "invalid vote threshold")
	ErrInvalidDirection          = dao.NewError(dao.KindInput, "InvalidDirection", "invalid vote direction")
	ErrVoteClosed                = dao.NewError(dao.KindState, "VoteClosed", "vote is closed")
)
