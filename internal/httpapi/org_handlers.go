package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/org"
	"sunshine.org/internal/vote"
)

type sharesRequest struct {
	Account dao.AccountID `json:"account,omitempty"`
	Amount  dao.Shares    `json:"amount,omitempty"`
	Members []org.Member  `json:"members,omitempty"`
}

func (a *API) registerOrg(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req org.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	o, err := a.eng.RegisterOrg(r.Context(), caller, req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) listOrgs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.eng.Orgs()})
}

func (a *API) getOrg(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "org")
	if err != nil {
		fail(w, r, err)
		return
	}
	o, err := a.eng.Org(dao.OrgID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "org")
	if err != nil {
		fail(w, r, err)
		return
	}
	members, err := a.eng.Members(dao.OrgID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": members})
}

func (a *API) getMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "org")
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := a.eng.Profile(dao.OrgID(id), pathAccount(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) memberAction(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "org")
	if err != nil {
		fail(w, r, err)
		return
	}
	ctx, o, who := r.Context(), dao.OrgID(id), pathAccount(r)
	var p org.Profile
	switch mux.Vars(r)["action"] {
	case "lock":
		p, err = a.eng.LockShares(ctx, caller, o, who)
	case "unlock":
		p, err = a.eng.UnlockShares(ctx, caller, o, who)
	case "reserve":
		p, err = a.eng.ReserveShares(ctx, caller, o, who)
	default:
		p, err = a.eng.UnreserveShares(ctx, caller, o, who)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// changeShares issues or burns for one account, or for a batch when members
// is set.
func (a *API) changeShares(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "org")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req sharesRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	ctx, o := r.Context(), dao.OrgID(id)
	issue := mux.Vars(r)["action"] == "issue"

	if len(req.Members) > 0 {
		if req.Account != "" || req.Amount != 0 {
			fail(w, r, fmt.Errorf("%w: use either account/amount or members", errBadRequest))
			return
		}
		var changes []org.ShareChange
		if issue {
			changes, err = a.eng.BatchIssueShares(ctx, caller, o, req.Members)
		} else {
			changes, err = a.eng.BatchBurnShares(ctx, caller, o, req.Members)
		}
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": changes})
		return
	}

	var change org.ShareChange
	if issue {
		change, err = a.eng.IssueShares(ctx, caller, o, req.Account, req.Amount)
	} else {
		change, err = a.eng.BurnShares(ctx, caller, o, req.Account, req.Amount)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (a *API) getThreshold(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "org")
	if err != nil {
		fail(w, r, err)
		return
	}
	th, err := a.eng.DefaultThreshold(dao.OrgID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (a *API) setThreshold(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "org")
	if err != nil {
		fail(w, r, err)
		return
	}
	var th vote.Threshold
	if err := decodeJSON(r, &th); err != nil {
		fail(w, r, err)
		return
	}
	if err := a.eng.SetDefaultThreshold(r.Context(), caller, dao.OrgID(id), th); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}
