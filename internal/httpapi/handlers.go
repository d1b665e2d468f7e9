package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"sunshine.org/internal/auth"
	"sunshine.org/internal/content"
	"sunshine.org/internal/dao"
	"sunshine.org/internal/engine"
	"sunshine.org/internal/events"
	"sunshine.org/internal/obs"
)

// ReadyProbe checks the storage behind the engine.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options configures the HTTP surface. Zero values disable the optional
// parts: no Tokens means callers are taken from the X-Account header.
type Options struct {
	Version      string
	Ready        ReadyProbe
	Content      content.Store
	Stream       *events.Stream
	Tokens       *auth.Tokens
	TokenTTL     time.Duration
	RateBurst    int
	RatePerSec   int
	CORSOrigins  []string
	Faucet       bool
	FaucetAmount dao.Amount
}

// API is the HTTP layer over the engine.
type API struct {
	router *mux.Router
	eng    *engine.Engine

	version      string
	readyProbe   ReadyProbe
	content      content.Store
	stream       *events.Stream
	tokens       *auth.Tokens
	tokenTTL     time.Duration
	rateBurst    int
	ratePerSec   int
	corsOrigins  []string
	faucet       bool
	faucetAmount dao.Amount
}

func New(eng *engine.Engine, opts Options) *API {
	a := &API{
		router:       mux.NewRouter(),
		eng:          eng,
		version:      opts.Version,
		readyProbe:   opts.Ready,
		content:      opts.Content,
		stream:       opts.Stream,
		tokens:       opts.Tokens,
		tokenTTL:     opts.TokenTTL,
		rateBurst:    opts.RateBurst,
		ratePerSec:   opts.RatePerSec,
		corsOrigins:  opts.CORSOrigins,
		faucet:       opts.Faucet,
		faucetAmount: opts.FaucetAmount,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	if a.tokenTTL <= 0 {
		a.tokenTTL = time.Hour
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/orgs", a.registerOrg).Methods(http.MethodPost)
	v1.HandleFunc("/orgs", a.listOrgs).Methods(http.MethodGet)
	v1.HandleFunc("/orgs/{org}", a.getOrg).Methods(http.MethodGet)
	v1.HandleFunc("/orgs/{org}/members", a.listMembers).Methods(http.MethodGet)
	v1.HandleFunc("/orgs/{org}/members/{account}", a.getMember).Methods(http.MethodGet)
	v1.HandleFunc("/orgs/{org}/members/{account}/{action:lock|unlock|reserve|unreserve}", a.memberAction).Methods(http.MethodPost)
	v1.HandleFunc("/orgs/{org}/shares/{action:issue|burn}", a.changeShares).Methods(http.MethodPost)
	v1.HandleFunc("/orgs/{org}/threshold", a.getThreshold).Methods(http.MethodGet)
	v1.HandleFunc("/orgs/{org}/threshold", a.setThreshold).Methods(http.MethodPut)
	v1.HandleFunc("/orgs/{org}/banks", a.listOrgBanks).Methods(http.MethodGet)
	v1.HandleFunc("/orgs/{org}/bounties", a.listBounties).Methods(http.MethodGet)

	v1.HandleFunc("/votes", a.createVote).Methods(http.MethodPost)
	v1.HandleFunc("/votes/{vote}", a.getVote).Methods(http.MethodGet)
	v1.HandleFunc("/votes/{vote}/ballots", a.listBallots).Methods(http.MethodGet)
	v1.HandleFunc("/votes/{vote}/ballots", a.submitBallot).Methods(http.MethodPost)

	v1.HandleFunc("/banks", a.openBank).Methods(http.MethodPost)
	v1.HandleFunc("/banks", a.listBanks).Methods(http.MethodGet)
	v1.HandleFunc("/banks/{bank}", a.getBank).Methods(http.MethodGet)
	v1.HandleFunc("/banks/{bank}/deposits", a.deposit).Methods(http.MethodPost)
	v1.HandleFunc("/banks/{bank}/{action:reserve|unreserve}", a.reserveFunds).Methods(http.MethodPost)
	v1.HandleFunc("/banks/{bank}/payments", a.payFromBank).Methods(http.MethodPost)
	v1.HandleFunc("/banks/{bank}/close", a.closeBank).Methods(http.MethodPost)
	v1.HandleFunc("/banks/{bank}/spends", a.proposeSpend).Methods(http.MethodPost)
	v1.HandleFunc("/banks/{bank}/spends", a.listSpends).Methods(http.MethodGet)
	v1.HandleFunc("/banks/{bank}/spends/{spend}", a.getSpend).Methods(http.MethodGet)
	v1.HandleFunc("/banks/{bank}/spends/{spend}/vote", a.triggerVote).Methods(http.MethodPost)
	v1.HandleFunc("/banks/{bank}/spends/{spend}/approve", a.approveSpend).Methods(http.MethodPost)
	v1.HandleFunc("/banks/{bank}/spends/{spend}/execute", a.executeSpend).Methods(http.MethodPost)

	v1.HandleFunc("/bounties", a.postBounty).Methods(http.MethodPost)
	v1.HandleFunc("/bounties/{bounty}", a.getBounty).Methods(http.MethodGet)
	v1.HandleFunc("/bounties/{bounty}/contributions", a.contribute).Methods(http.MethodPost)
	v1.HandleFunc("/bounties/{bounty}/contributions", a.listContributions).Methods(http.MethodGet)
	v1.HandleFunc("/bounties/{bounty}/submissions", a.submit).Methods(http.MethodPost)
	v1.HandleFunc("/bounties/{bounty}/submissions", a.listSubmissions).Methods(http.MethodGet)
	v1.HandleFunc("/submissions/{submission}", a.getSubmission).Methods(http.MethodGet)
	v1.HandleFunc("/submissions/{submission}/approve", a.approveSubmission).Methods(http.MethodPost)

	v1.HandleFunc("/accounts/{account}/balance", a.balance).Methods(http.MethodGet)
	v1.HandleFunc("/chain", a.chain).Methods(http.MethodGet)
	v1.HandleFunc("/events", a.listEvents).Methods(http.MethodGet)
	v1.HandleFunc("/events/stream", a.Stream).Methods(http.MethodGet)

	v1.HandleFunc("/content", a.putContent).Methods(http.MethodPost)
	v1.HandleFunc("/content/{ref}", a.getContent).Methods(http.MethodGet)

	v1.HandleFunc("/dev/token", a.devToken).Methods(http.MethodPost)
	v1.HandleFunc("/dev/faucet", a.devFaucet).Methods(http.MethodPost)
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = a.withAuth(h)
	h = MaxBodyBytes(h, content.MaxBodySize+1024)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = a.cors().Handler(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) cors() *cors.Cors {
	if len(a.corsOrigins) == 0 {
		return cors.Default()
	}
	return cors.New(cors.Options{
		AllowedOrigins: a.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Account", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         600,
	})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "daod",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    "daod",
		"version":    a.version,
		"height":     a.eng.Height(),
		"last_event": a.eng.LastEvent(),
		"auth":       a.tokens != nil,
		"faucet":     a.faucet,
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}
