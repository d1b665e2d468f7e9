package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"sunshine.org/internal/auth"
	"sunshine.org/internal/content"
	"sunshine.org/internal/dao"
)

const maxEventPage = 500

func (a *API) balance(w http.ResponseWriter, r *http.Request) {
	acct := pathAccount(r)
	if err := acct.Validate(); err != nil {
		fail(w, r, err)
		return
	}
	bal, err := a.eng.Balance(r.Context(), acct)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acct, "balance": bal})
}

func (a *API) chain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"height":     a.eng.Height(),
		"last_event": a.eng.LastEvent(),
		"total_held": a.eng.TotalHeld(),
	})
}

// listEvents pages the event log by sequence: ?limit=N&after=SEQ.
func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		v, err := parsePositiveInt(raw)
		if err != nil {
			fail(w, r, err)
			return
		}
		limit = v
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}
	var after uint64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			fail(w, r, fmt.Errorf("%w: invalid after %q", errBadRequest, raw))
			return
		}
		after = v
	}
	items, next := a.eng.Events(limit, after)
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "next_after": next})
}

func (a *API) putContent(w http.ResponseWriter, r *http.Request) {
	if a.content == nil {
		writeError(w, r, http.StatusServiceUnavailable, "content store disabled")
		return
	}
	if _, err := a.caller(r); err != nil {
		fail(w, r, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, content.MaxBodySize+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, r, content.ErrTooLarge)
			return
		}
		fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	ref, err := a.content.Put(r.Context(), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ref": ref, "size": len(body)})
}

func (a *API) getContent(w http.ResponseWriter, r *http.Request) {
	if a.content == nil {
		writeError(w, r, http.StatusServiceUnavailable, "content store disabled")
		return
	}
	ref, err := dao.ParseRef(mux.Vars(r)["ref"])
	if err != nil {
		fail(w, r, err)
		return
	}
	body, err := a.content.Get(r.Context(), ref)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+ref.String()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type devTokenRequest struct {
	Account dao.AccountID `json:"account"`
	Scopes  []string      `json:"scopes,omitempty"`
}

type faucetRequest struct {
	Account dao.AccountID `json:"account,omitempty"`
	Amount  dao.Amount    `json:"amount,omitempty"`
}

// devToken issues tokens on development nodes only.
func (a *API) devToken(w http.ResponseWriter, r *http.Request) {
	if !a.faucet || a.tokens == nil {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	var req devTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	token, exp, err := a.tokens.Issue(req.Account, req.Scopes, a.tokenTTL)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   exp.Format(time.RFC3339),
	})
}

// devFaucet endows an account with external funds. The Idempotency-Key
// header makes retries safe.
func (a *API) devFaucet(w http.ResponseWriter, r *http.Request) {
	if !a.faucet {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	caller, err := a.caller(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := a.requireScope(r.Context(), auth.ScopeFaucet); err != nil {
		fail(w, r, err)
		return
	}
	var req faucetRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			fail(w, r, err)
			return
		}
	}
	if req.Account == "" {
		req.Account = caller
	}
	if req.Amount == 0 {
		req.Amount = a.faucetAmount
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	entry, err := a.eng.Endow(r.Context(), req.Account, req.Amount, key)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
