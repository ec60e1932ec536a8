package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/observability"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/query"
)

const maxBodyBytes = 1 << 20

// Gateway serves the Ledger API as HTTP/JSON. Routes are registered on a
// grpc-gateway ServeMux and call the service in process.
type Gateway struct {
	svc    LedgerServer
	qs     *query.QueryService
	health *observability.HealthChecker
	gather prometheus.Gatherer
}

func NewGateway(svc LedgerServer, qs *query.QueryService, health *observability.HealthChecker, gather prometheus.Gatherer) *Gateway {
	return &Gateway{svc: svc, qs: qs, health: health, gather: gather}
}

// Handler builds the HTTP mux.
func (g *Gateway) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{"POST", "/v1/commands/{kind}", g.submit},
		{"GET", "/v1/treasury", g.treasury},
		{"GET", "/v1/treasury/locks", g.listLocks},
		{"GET", "/v1/treasury/locks/{id}", g.lock},
		{"GET", "/v1/vault", g.vault},
		{"GET", "/v1/vault/positions/{address}", g.position},
		{"GET", "/v1/balances/{asset}/{address}", g.balance},
		{"GET", "/v1/history/locks/{address}", g.lockHistory},
		{"GET", "/v1/history/journal/{address}", g.journal},
		{"GET", "/v1/admin/integrity", g.integrity},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.h); err != nil {
			return nil, err
		}
	}

	root := http.NewServeMux()
	if g.health != nil {
		root.HandleFunc("/healthz", g.health.LivenessHandler)
		root.HandleFunc("/readyz", g.health.ReadinessHandler)
	}
	if g.gather != nil {
		root.Handle("/metrics", promhttp.HandlerFor(g.gather, promhttp.HandlerOpts{}))
	}
	root.Handle("/", mux)
	return root, nil
}

func (g *Gateway) submit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, status.Error(codes.InvalidArgument, "read body"))
		return
	}
	resp, err := g.svc.Submit(r.Context(), &SubmitRequest{Kind: params["kind"], Command: body})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) treasury(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.GetTreasury(r.Context(), &GetTreasuryRequest{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) vault(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, g.qs.GetVault(r.Context()))
}

func (g *Gateway) lock(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := strconv.ParseUint(params["id"], 10, 64)
	if err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "invalid lock id %q", params["id"]))
		return
	}
	resp, err := g.svc.GetLock(r.Context(), &GetLockRequest{LockID: id})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) listLocks(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.ListLocks(r.Context(), &ListLocksRequest{Holder: r.URL.Query().Get("holder")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) position(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := g.svc.GetPosition(r.Context(), &GetPositionRequest{Address: params["address"]})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) balance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := g.qs.GetBalance(r.Context(), params["asset"], access.NormalizeAddress(params["address"]))
	if err != nil {
		writeError(w, toStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) lockHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q := r.URL.Query()
	rows, err := g.qs.LockHistory(r.Context(), access.NormalizeAddress(params["address"]), q.Get("state"), intParam(q.Get("limit"), 50))
	if err != nil {
		writeError(w, toStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"locks": rows})
}

func (g *Gateway) journal(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q := r.URL.Query()
	var before *int64
	if s := q.Get("before"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "invalid before %q", s))
			return
		}
		before = &v
	}
	entries, err := g.qs.GetJournalHistory(r.Context(), access.NormalizeAddress(params["address"]), intParam(q.Get("limit"), 100), before)
	if err != nil {
		writeError(w, toStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

func (g *Gateway) integrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := g.qs.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, toStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func intParam(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{Code: st.Code().String(), Message: st.Message()})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
