package org

import "sunshine.org/internal/dao"

var (
	ErrOrgNotFound        = dao.NewError(dao.KindNotFound, "OrgNotFound", "organization not found")
	ErrMemberNotFound     = dao.NewError(dao.KindNotFound, "MemberNotFound", "member profile not found")
	ErrEmptyMembership    = dao.NewError(dao.KindInput, "EmptyMembership", "membership must not be empty")
	ErrDuplicateMember    = dao.NewError(dao.KindInput, "DuplicateMember", "duplicate account in membership")
	ErrAmbiguousMembers   = dao.NewError(dao.KindInput, "AmbiguousMembership", "use either a flat or a weighted membership")
	ErrZeroShares         = dao.NewError(dao.KindInput, "ZeroShares", "share amount must be > 0")
	ErrEmptyBatch         = dao.NewError(dao.KindInput, "EmptyBatch", "batch must not be empty")
	ErrInsufficientShares = dao.NewError(dao.KindArithmetic, "InsufficientShares", "insufficient shares")
	ErrSharesOverflow     = dao.NewError(dao.KindArithmetic, "SharesOverflow", "share total overflow")
	ErrSharesLocked       = dao.NewError(dao.KindState, "SharesLocked", "member shares are locked")
	ErrNotReserved        = dao.NewError(dao.KindState, "NotReserved", "member shares are not reserved")
)
