package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/spend"
	"sunshine.org/internal/treasury"
	"sunshine.org/internal/vote"
)

type openBankRequest struct {
	Org        dao.OrgID     `json:"org"`
	Seed       dao.Amount    `json:"seed"`
	Controller dao.AccountID `json:"controller,omitempty"`
}

type amountRequest struct {
	Amount   dao.Amount `json:"amount"`
	Reserved bool       `json:"reserved,omitempty"`
}

type paymentRequest struct {
	Destination dao.AccountID `json:"destination"`
	Amount      dao.Amount    `json:"amount"`
	Reserved    bool          `json:"reserved,omitempty"`
}

type proposeSpendRequest struct {
	Amount      dao.Amount    `json:"amount"`
	Destination dao.AccountID `json:"destination"`
}

// triggerVoteRequest may be empty; the org default threshold applies then.
type triggerVoteRequest struct {
	Threshold *vote.Threshold `json:"threshold,omitempty"`
	Duration  dao.Height      `json:"duration,omitempty"`
}

func (a *API) openBank(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req openBankRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	b, err := a.eng.OpenBank(r.Context(), caller, req.Org, req.Seed, req.Controller)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) listBanks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.eng.Banks(0)})
}

func (a *API) listOrgBanks(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "org")
	if err != nil {
		fail(w, r, err)
		return
	}
	if _, err := a.eng.Org(dao.OrgID(id)); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.eng.Banks(dao.OrgID(id))})
}

func (a *API) getBank(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bank")
	if err != nil {
		fail(w, r, err)
		return
	}
	b, err := a.eng.Bank(dao.BankID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) deposit(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "bank")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	b, err := a.eng.Deposit(r.Context(), caller, dao.BankID(id), req.Amount, req.Reserved)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) reserveFunds(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "bank")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	var b treasury.Bank
	if mux.Vars(r)["action"] == "reserve" {
		b, err = a.eng.ReserveFunds(r.Context(), caller, dao.BankID(id), req.Amount)
	} else {
		b, err = a.eng.UnreserveFunds(r.Context(), caller, dao.BankID(id), req.Amount)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) payFromBank(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "bank")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	b, err := a.eng.SpendFromBank(r.Context(), caller, dao.BankID(id), req.Destination, req.Amount, req.Reserved)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) closeBank(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "bank")
	if err != nil {
		fail(w, r, err)
		return
	}
	b, err := a.eng.CloseBank(r.Context(), caller, dao.BankID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) proposeSpend(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	id, err := pathID(r, "bank")
	if err != nil {
		fail(w, r, err)
		return
	}
	var req proposeSpendRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	p, err := a.eng.ProposeSpend(r.Context(), caller, dao.BankID(id), req.Amount, req.Destination)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) listSpends(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bank")
	if err != nil {
		fail(w, r, err)
		return
	}
	spends, err := a.eng.Spends(dao.BankID(id))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": spends})
}

// spendIDs reads the bank and spend route variables.
func spendIDs(r *http.Request) (dao.BankID, dao.SpendID, error) {
	bank, err := pathID(r, "bank")
	if err != nil {
		return 0, 0, err
	}
	id, err := pathID(r, "spend")
	if err != nil {
		return 0, 0, err
	}
	return dao.BankID(bank), dao.SpendID(id), nil
}

func (a *API) getSpend(w http.ResponseWriter, r *http.Request) {
	bank, id, err := spendIDs(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := a.eng.Spend(bank, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) triggerVote(w http.ResponseWriter, r *http.Request) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	bank, id, err := spendIDs(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req triggerVoteRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			fail(w, r, err)
			return
		}
	}
	p, v, err := a.eng.TriggerVote(r.Context(), caller, bank, id, req.Threshold, req.Duration)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"spend": p, "vote": v})
}

func (a *API) approveSpend(w http.ResponseWriter, r *http.Request) {
	a.spendTransition(w, r, a.eng.SudoApproveSpend)
}

func (a *API) executeSpend(w http.ResponseWriter, r *http.Request) {
	a.spendTransition(w, r, a.eng.ExecuteSpend)
}

func (a *API) spendTransition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, caller dao.AccountID, bank dao.BankID, id dao.SpendID) (spend.Proposal, error)) {
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	bank, id, err := spendIDs(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := op(r.Context(), caller, bank, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
