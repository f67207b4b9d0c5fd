package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/sdata/internal/model"
	"github.com/alfredjeanlab/sdata/internal/service"
	"github.com/alfredjeanlab/sdata/internal/store"
)

// maxBodyBytes bounds request bodies; a record is at most a few hundred KiB
// once base64 encoded.
const maxBodyBytes = 4 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/records", s.handleCreateRecord)
	mux.HandleFunc("GET /v1/records/{type}/{id}", s.handleGetRecord)
	mux.HandleFunc("POST /v1/records/{type}/{id}/versions", s.handleAppendVersion)
	mux.HandleFunc("PUT /v1/records/{type}/{id}/attributes", s.handleSetAttributes)
	mux.HandleFunc("POST /v1/records/{type}/{id}/signing-bytes", s.handleCandidateBytes)
	mux.HandleFunc("POST /v1/signing-bytes", s.handleCreationBytes)
	mux.HandleFunc("POST /v1/reap", s.handleReap)
	if s.hub != nil {
		mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	}
	mux.HandleFunc("GET /v1/health", s.handleHealth)

	var h http.Handler = AuthMiddleware(authToken, mux)
	h = LoggingMiddleware(s.log, h)
	return RecoveryMiddleware(s.log, h)
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateRecord handles POST /v1/records.
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if !s.decode(w, r, &req) {
		return
	}
	identity, err := req.Identity.toModel()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	policy, err := req.Policy.toModel()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	rec, err := s.svc.Create(r.Context(), service.CreateRequest{
		Identity: identity,
		Policy:   policy,
		Genesis:  req.Genesis.toModel(),
		Evidence: evidenceOf(req.Signatures),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleGetRecord handles GET /v1/records/{type}/{id}.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	rec, err := s.svc.Get(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleAppendVersion handles POST /v1/records/{type}/{id}/versions.
func (s *Server) handleAppendVersion(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	var req appendVersionRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, r, key, model.VersionCandidate(req.Version.toModel()), req.Signatures)
}

// handleSetAttributes handles PUT /v1/records/{type}/{id}/attributes.
func (s *Server) handleSetAttributes(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	var req setAttributesRequest
	if !s.decode(w, r, &req) {
		return
	}
	policy, err := req.Policy.toModel()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	c := model.PolicyCandidate(policy)
	if req.Version != nil {
		v := req.Version.toModel()
		c.Version = &v
	}
	s.mutate(w, r, key, c, req.Signatures)
}

func (s *Server) mutate(w http.ResponseWriter, r *http.Request, key model.Key, c model.Candidate, sigs []signatureRequest) {
	res, err := s.svc.Mutate(r.Context(), key, c, evidenceOf(sigs))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := MutateResponse{
		Record:    res.Record,
		Weight:    res.Auth.Weight,
		Threshold: res.Auth.Threshold,
	}
	for _, v := range res.Evicted {
		resp.Evicted = append(resp.Evicted, v.Index)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCandidateBytes handles POST /v1/records/{type}/{id}/signing-bytes.
func (s *Server) handleCandidateBytes(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	var req candidateBytesRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := req.toModel()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	msg, base, err := s.svc.SigningBytes(r.Context(), key, c)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SigningBytesResponse{Message: msg, BaseIndex: &base})
}

// handleCreationBytes handles POST /v1/signing-bytes.
func (s *Server) handleCreationBytes(w http.ResponseWriter, r *http.Request) {
	var req creationBytesRequest
	if !s.decode(w, r, &req) {
		return
	}
	identity, err := req.Identity.toModel()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	policy, err := req.Policy.toModel()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	msg, err := s.svc.CreationBytes(identity, policy, req.Genesis.toModel())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SigningBytesResponse{Message: msg})
}

// handleReap handles POST /v1/reap.
func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.ReapExpired(r.Context(), s.svc.Now(), s.reapBatch)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReapResponse{Reaped: n})
}

// decode reads a JSON body into dst and runs struct validation. It writes
// the error response itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeServiceError(w, validationErrorOf(err))
		return false
	}
	return true
}

func keyFromPath(r *http.Request) (model.Key, error) {
	return parseKey(r.PathValue("type"), r.PathValue("id"))
}

// parseRecordKey parses "<type tag>/<hex id>".
func parseRecordKey(s string) (model.Key, error) {
	tag, id, ok := strings.Cut(s, "/")
	if !ok {
		return model.Key{}, inputError(fmt.Sprintf("invalid record %q: want <type>/<id>", s))
	}
	return parseKey(tag, id)
}

func parseKey(tag, hexID string) (model.Key, error) {
	typeTag, err := strconv.ParseUint(tag, 10, 64)
	if err != nil {
		return model.Key{}, inputError(fmt.Sprintf("invalid type tag %q", tag))
	}
	id, err := model.ParseName(hexID)
	if err != nil {
		return model.Key{}, inputError(err.Error())
	}
	return model.Key{TypeTag: typeTag, ID: id}, nil
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	// Kind is the model error kind, when the failure has one.
	Kind   string             `json:"kind,omitempty"`
	Fields []model.FieldError `json:"fields,omitempty"`
}

// statusOf maps a service error to an HTTP status.
func statusOf(err error) int {
	var (
		ve *model.ValidationError
		ie inputError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &ie):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrExists), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	}
	switch model.KindOf(err) {
	case model.KindInvalidIdentity, model.KindEmptyOwnerSet, model.KindInvalidWeight,
		model.KindDuplicateKey, model.KindUnreachableThreshold:
		return http.StatusBadRequest
	case model.KindNoSignatures:
		return http.StatusUnauthorized
	case model.KindInsufficientWeight:
		return http.StatusForbidden
	case model.KindNonSequentialIndex:
		return http.StatusConflict
	case model.KindRecordExpired:
		return http.StatusGone
	case model.KindSizeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	resp := ErrorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
		resp.Error = "internal error"
	}
	if k := model.KindOf(err); k != 0 {
		resp.Kind = k.String()
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = ve.Errors
	}
	writeJSON(w, status, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
