package httpapi

import (
	"net/http"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/vote"
)

type createVoteRequest struct {
	Org       dao.OrgID      `json:"org"`
	Threshold vote.Threshold `json:"threshold"`
	Topic     dao.ContentRef `json:"topic"`
	Duration  dao.Height     `json:"duration,omitempty"`
}

type ballotRequest struct {
	Direction     vote.Direction `json:"direction"`
	Justification dao.ContentRef `json:"justification"`
}

func (a *API) createVote(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req createVoteRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	v, err := a.eng.CreateVote(r.Context(), caller, vote.Request{
		Org:       req.Org,
		Threshold: req.Threshold,
		Topic:     req.Topic,
		Duration:  req.Duration,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) getVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "vote")
	if err != nil {
		fail(w, r, err)
		return
	}
	v, err := a.eng.Vote(dao.VoteID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) listBallots(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "vote")
	if err != nil {
		fail(w, r, err)
		return
	}
	ballots, err := a.eng.Ballots(dao.VoteID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": ballots})
}

func (a *API) submitBallot(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "vote")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req ballotRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	cast, err := a.eng.SubmitVote(r.Context(), caller, dao.VoteID(id), req.Direction, req.Justification)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cast)
}
