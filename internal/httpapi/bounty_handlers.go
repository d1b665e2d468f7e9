package httpapi

import (
	"net/http"

	"sunshine.org/internal/dao"
)

type postBountyRequest struct {
	Org         dao.OrgID      `json:"org"`
	Description dao.ContentRef `json:"description"`
	Amount      dao.Amount     `json:"amount"`
}

type submitRequest struct {
	Submission dao.ContentRef `json:"submission"`
	Amount     dao.Amount     `json:"amount"`
}

func (a *API) postBounty(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req postBountyRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	b, err := a.eng.PostBounty(r.Context(), caller, req.Org, req.Description, req.Amount)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) listBounties(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "org")
	if err != nil {
		fail(w, r, err)
		return
	}
	if _, err := a.eng.Org(dao.OrgID(id)); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.eng.Bounties(dao.OrgID(id))})
}

func (a *API) getBounty(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bounty")
	if err != nil {
		fail(w, r, err)
		return
	}
	b, err := a.eng.Bounty(dao.BountyID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) contribute(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "bounty")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	b, err := a.eng.ContributeToBounty(r.Context(), caller, dao.BountyID(id), req.Amount)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) listContributions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bounty")
	if err != nil {
		fail(w, r, err)
		return
	}
	items, err := a.eng.Contributions(dao.BountyID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "bounty")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	s, err := a.eng.SubmitForBounty(r.Context(), caller, dao.BountyID(id), req.Submission, req.Amount)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *API) listSubmissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bounty")
	if err != nil {
		fail(w, r, err)
		return
	}
	items, err := a.eng.Submissions(dao.BountyID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "submission")
	if err != nil {
		fail(w, r, err)
		return
	}
	s, err := a.eng.Submission(dao.SubmissionID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) approveSubmission(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "submission")
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := a.eng.ApproveBountySubmission(r.Context(), caller, dao.SubmissionID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
