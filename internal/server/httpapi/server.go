// Package httpapi exposes the trust engine over an HTTP JSON API.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/veritasnet/trustcore/internal/convert"
	"github.com/veritasnet/trustcore/internal/errs"
	"github.com/veritasnet/trustcore/internal/model"
	"github.com/veritasnet/trustcore/internal/service"
)

// Server wires the trust service into HTTP handlers.
type Server struct {
	svc      service.TrustService
	signKey  []byte
	gatherer prometheus.Gatherer // optional
	log      *zap.Logger
}

// New constructs a Server. gatherer may be nil to disable /metrics.
func New(svc service.TrustService, signKey []byte, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, signKey: signKey, gatherer: gatherer, log: log}
}

// Handler returns the full middleware-wrapped handler, CORS included.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(s.Router())
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(Recover(s.log), Logging(s.log))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/submissions", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/submissions/{id}", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/submissions/{id}/votes", s.handleVote).Methods(http.MethodPost)
	api.HandleFunc("/flags", s.handleFlag).Methods(http.MethodPost)
	api.HandleFunc("/moderation/queue", s.handleQueue).Methods(http.MethodGet)
	api.HandleFunc("/keys", s.handleKeys).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(AdminAuth(s.signKey))
	admin.HandleFunc("/keys", s.handleAddKey).Methods(http.MethodPost)
	admin.HandleFunc("/keys/{id}", s.handleRevokeKey).Methods(http.MethodDelete)
	admin.HandleFunc("/flags/{id}/resolve", s.handleResolveFlag).Methods(http.MethodPost)
	admin.HandleFunc("/verifiers", s.handleRegisterVerifier).Methods(http.MethodPost)
	admin.HandleFunc("/submissions/{id}/reassign", s.handleReassign).Methods(http.MethodPost)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req convert.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.ErrMalformedSubmission)
		return
	}
	sub, err := convert.ToSubmission(req, time.Now().UTC())
	if err != nil {
		writeErr(w, err)
		return
	}
	out, res, err := s.svc.Submit(r.Context(), sub)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.SubmitResponse{
		Outcome:   convert.FromOutcome(out),
		Consensus: convert.FromConsensus(res),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.FromStatus(st))
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req convert.VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.ErrMalformedSubmission)
		return
	}
	vote, err := convert.ToVote(mux.Vars(r)["id"], req, time.Now().UTC())
	if err != nil {
		writeErr(w, err)
		return
	}
	res, err := s.svc.Vote(r.Context(), vote)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.FromConsensus(res))
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	var req convert.FlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.ErrMalformedSubmission)
		return
	}
	f, err := s.svc.Flag(r.Context(), req.ContentID, model.FlagReason(req.Reason), req.Description, req.FlaggerToken)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.FromFlag(f))
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, convert.FromQueue(s.svc.ModerationQueue(r.Context())))
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, convert.FromKeys(s.svc.ActiveKeys(r.Context())))
}

func (s *Server) handleAddKey(w http.ResponseWriter, r *http.Request) {
	var req convert.AddKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.ErrMalformedSubmission)
		return
	}
	id, err := s.svc.AddKey(r.Context(), []byte(req.PublicKey), model.KeyFormat(req.Format))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key_id": id})
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RevokeKey(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveFlag(w http.ResponseWriter, r *http.Request) {
	moderator, ok := ModeratorFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	flagID, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, errs.ErrMalformedSubmission)
		return
	}
	var req convert.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.ErrMalformedSubmission)
		return
	}
	action, err := s.svc.ResolveFlag(r.Context(), flagID, moderator, model.ModerationVerb(req.Action), req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.FromAction(action))
}

func (s *Server) handleRegisterVerifier(w http.ResponseWriter, r *http.Request) {
	var req convert.VerifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.ErrMalformedSubmission)
		return
	}
	v := model.Verifier{ID: req.ID, OriginClass: req.OriginClass}
	if req.PublicKey != "" {
		v.PublicKey = []byte(req.PublicKey)
	}
	if err := s.svc.RegisterVerifier(r.Context(), v); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleReassign(w http.ResponseWriter, r *http.Request) {
	var req convert.ReassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.ErrMalformedSubmission)
		return
	}
	replacement, err := s.svc.Reassign(r.Context(), mux.Vars(r)["id"], req.VerifierID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"verifier_id": replacement.ID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps sentinel errors onto HTTP status codes. Validation failures
// surface as 400 without leaking internals.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrMalformedSubmission), errors.Is(err, errs.ErrMalformedSignature):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrDuplicateKey), errors.Is(err, errs.ErrAlreadyResolved), errors.Is(err, errs.ErrFinalized):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, errs.ErrNoVerifiers):
		status = http.StatusServiceUnavailable
	case strings.HasPrefix(err.Error(), "validation:"):
		status = http.StatusBadRequest
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
