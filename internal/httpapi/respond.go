package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"sunshine.org/internal/audit"
	"sunshine.org/internal/dao"
	"sunshine.org/internal/obs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errBadRequest = dao.NewError(dao.KindInput, "BadRequest", "bad request")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	body := map[string]any{"error": msg}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		body["request_id"] = rid
	}
	writeJSON(w, code, body)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind dao.Kind) int {
	switch kind {
	case dao.KindAuthorization:
		return http.StatusForbidden
	case dao.KindInput:
		return http.StatusBadRequest
	case dao.KindNotFound:
		return http.StatusNotFound
	case dao.KindState, dao.KindArithmetic:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail reports a command or query error with its kind and stable code.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := dao.KindOf(err)
	code := statusFor(kind)
	msg := err.Error()
	if kind == dao.KindInternal {
		obs.Logger().Error("request_failed",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal error"
	}
	body := map[string]any{
		"error": msg,
		"code":  dao.CodeOf(err),
		"kind":  kind.String(),
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		body["request_id"] = rid
	}
	writeJSON(w, code, body)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON body", errBadRequest)
	}
	return nil
}

func parsePositiveInt(raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %q is not a positive integer", errBadRequest, raw)
	}
	return v, nil
}

// pathID reads a numeric route variable.
func pathID(r *http.Request, name string) (uint64, error) {
	raw := mux.Vars(r)[name]
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: invalid %s id %q", errBadRequest, name, raw)
	}
	return v, nil
}

func pathAccount(r *http.Request) dao.AccountID {
	return dao.AccountID(strings.TrimSpace(mux.Vars(r)["account"]))
}
