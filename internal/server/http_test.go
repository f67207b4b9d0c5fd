package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/sdata/internal/authz"
	"github.com/alfredjeanlab/sdata/internal/model"
	"github.com/alfredjeanlab/sdata/internal/mutation"
	"github.com/alfredjeanlab/sdata/internal/service"
	"github.com/alfredjeanlab/sdata/internal/store"
	"github.com/alfredjeanlab/sdata/internal/store/memory"
)

var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	t       *testing.T
	srv     *Server
	store   *memory.Store
	handler http.Handler
	now     atomic.Pointer[time.Time]
	a, b    authz.KeyPair
	id      model.Name
}

func newTestServer() (*Server, *testEnv, http.Handler) {
	e := &testEnv{store: memory.New()}
	e.setNow(epoch)
	e.a, _ = authz.GenerateKey(nil)
	e.b, _ = authz.GenerateKey(nil)
	e.id[0], e.id[63] = 0x11, 0x22

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewStreamHub()
	svc := service.New(e.store, service.Options{
		Clock:     mutation.ClockFunc(func() time.Time { return *e.now.Load() }),
		Publisher: hub,
		Logger:    logger,
	})
	e.srv = New(svc, Options{Hub: hub, Logger: logger})
	e.handler = e.srv.NewHTTPHandler("")
	return e.srv, e, e.handler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	_, e, _ := newTestServer()
	e.t = t
	return e
}

func (e *testEnv) setNow(t time.Time) { e.now.Store(&t) }

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) recordPath(suffix string) string {
	return fmt.Sprintf("/v1/records/3/%s%s", e.id, suffix)
}

func (e *testEnv) policy(minWeight uint64) policyRequest {
	return policyRequest{
		Owners: []ownerRequest{
			{Key: e.a.Public, Weight: 2},
			{Key: e.b.Public, Weight: 3},
		},
		MinWeightForConsensus: minWeight,
	}
}

func (e *testEnv) creation(maxVersions uint64) creationBytesRequest {
	return creationBytesRequest{
		Identity: identityRequest{TypeTag: 3, ID: e.id.String(), MaxVersions: maxVersions, MinRetainedCount: 1},
		Policy:   e.policy(4),
		Genesis:  versionRequest{Index: 0, Data: []byte("genesis")},
	}
}

func sign(t *testing.T, msg []byte, pairs ...authz.KeyPair) []signatureRequest {
	t.Helper()
	var out []signatureRequest
	for _, kp := range pairs {
		s, err := kp.Sign(msg)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		out = append(out, signatureRequest{Key: kp.Public, Signature: s})
	}
	return out
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body %s)", v, err, rec.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

// create fetches the creation bytes from the server, signs them with both
// owners and creates the record.
func (e *testEnv) create(maxVersions uint64) *model.Record {
	e.t.Helper()
	cr := e.creation(maxVersions)
	rec := e.do("POST", "/v1/signing-bytes", cr)
	expectStatus(e.t, rec, http.StatusOK)
	msg := decodeBody[SigningBytesResponse](e.t, rec).Message

	rec = e.do("POST", "/v1/records", createRecordRequest{
		Identity:   cr.Identity,
		Policy:     cr.Policy,
		Genesis:    cr.Genesis,
		Signatures: sign(e.t, msg, e.a, e.b),
	})
	expectStatus(e.t, rec, http.StatusCreated)
	return decodeBody[*model.Record](e.t, rec)
}

func (e *testEnv) candidateBytes(req candidateBytesRequest) SigningBytesResponse {
	e.t.Helper()
	rec := e.do("POST", e.recordPath("/signing-bytes"), req)
	expectStatus(e.t, rec, http.StatusOK)
	return decodeBody[SigningBytesResponse](e.t, rec)
}

func (e *testEnv) appendVersion(index uint64, data string, signers ...authz.KeyPair) *httptest.ResponseRecorder {
	e.t.Helper()
	v := versionRequest{Index: index, Data: []byte(data)}
	sb := e.candidateBytes(candidateBytesRequest{Version: &v})
	return e.do("POST", e.recordPath("/versions"), appendVersionRequest{
		Version:    v,
		Signatures: sign(e.t, sb.Message, signers...),
	})
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do("GET", "/v1/health", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[map[string]string](t, rec)["status"]; got != "ok" {
		t.Errorf("status = %q", got)
	}
}

func TestCreateAndGet(t *testing.T) {
	e := newEnv(t)
	created := e.create(5)
	if created.Latest().Index != 0 || created.Key().ID != e.id {
		t.Fatalf("created = %+v", created.Key())
	}

	rec := e.do("GET", e.recordPath(""), nil)
	expectStatus(t, rec, http.StatusOK)
	got := decodeBody[*model.Record](t, rec)
	if !got.Equal(created) {
		t.Error("GET returned a different record")
	}
}

func TestCreate_Rejections(t *testing.T) {
	e := newEnv(t)
	cr := e.creation(5)
	msg := decodeBody[SigningBytesResponse](t, e.do("POST", "/v1/signing-bytes", cr)).Message

	for _, tc := range []struct {
		name   string
		mutate func(*createRecordRequest)
		status int
		kind   string
	}{
		{"no signatures", func(r *createRecordRequest) { r.Signatures = nil }, http.StatusUnauthorized, "no_signatures"},
		{"one signer", func(r *createRecordRequest) { r.Signatures = sign(t, msg, e.a) }, http.StatusForbidden, "insufficient_weight"},
		{"unreachable threshold", func(r *createRecordRequest) { r.Policy.MinWeightForConsensus = 6 }, http.StatusForbidden, "insufficient_weight"},
		{"empty owners", func(r *createRecordRequest) { r.Policy.Owners = nil }, http.StatusBadRequest, "empty_owner_set"},
		{"zero weight", func(r *createRecordRequest) { r.Policy.Owners[0].Weight = 0 }, http.StatusBadRequest, "invalid_weight"},
		{"max below retained", func(r *createRecordRequest) { r.Identity.MinRetainedCount = 9 }, http.StatusBadRequest, "invalid_identity"},
		{"genesis not zero", func(r *createRecordRequest) { r.Genesis.Index = 1 }, http.StatusConflict, "non_sequential_index"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := createRecordRequest{
				Identity:   cr.Identity,
				Policy:     e.policy(4),
				Genesis:    cr.Genesis,
				Signatures: sign(t, msg, e.a, e.b),
			}
			tc.mutate(&req)
			rec := e.do("POST", "/v1/records", req)
			expectStatus(t, rec, tc.status)
			if got := decodeBody[ErrorResponse](t, rec).Kind; got != tc.kind {
				t.Errorf("kind = %q, want %q", got, tc.kind)
			}
		})
	}
	if e.store.Len() != 0 {
		t.Errorf("store holds %d records after rejections", e.store.Len())
	}
}

func TestCreate_Duplicate(t *testing.T) {
	e := newEnv(t)
	e.create(5)
	cr := e.creation(5)
	msg := decodeBody[SigningBytesResponse](t, e.do("POST", "/v1/signing-bytes", cr)).Message
	rec := e.do("POST", "/v1/records", createRecordRequest{
		Identity: cr.Identity, Policy: cr.Policy, Genesis: cr.Genesis,
		Signatures: sign(t, msg, e.a, e.b),
	})
	expectStatus(t, rec, http.StatusConflict)
}

func TestCreate_InputValidation(t *testing.T) {
	e := newEnv(t)

	rec := e.do("POST", "/v1/records", "{not json")
	expectStatus(t, rec, http.StatusBadRequest)

	cr := e.creation(5)
	cr.Identity.ID = "abc"
	rec = e.do("POST", "/v1/records", createRecordRequest{Identity: cr.Identity, Policy: cr.Policy, Genesis: cr.Genesis})
	expectStatus(t, rec, http.StatusBadRequest)
	resp := decodeBody[ErrorResponse](t, rec)
	if len(resp.Fields) == 0 || resp.Fields[0].Field != "identity.id" {
		t.Errorf("fields = %+v, want identity.id", resp.Fields)
	}

	cr = e.creation(5)
	rec = e.do("POST", "/v1/records", createRecordRequest{
		Identity: cr.Identity, Policy: cr.Policy, Genesis: cr.Genesis,
		Signatures: []signatureRequest{{Key: e.a.Public}},
	})
	expectStatus(t, rec, http.StatusBadRequest)
	resp = decodeBody[ErrorResponse](t, rec)
	if len(resp.Fields) != 1 || resp.Fields[0].Field != "signatures[0].signature" {
		t.Errorf("fields = %+v, want signatures[0].signature", resp.Fields)
	}
}

func TestGet_Errors(t *testing.T) {
	e := newEnv(t)
	expectStatus(t, e.do("GET", e.recordPath(""), nil), http.StatusNotFound)
	expectStatus(t, e.do("GET", "/v1/records/x/"+e.id.String(), nil), http.StatusBadRequest)
	expectStatus(t, e.do("GET", "/v1/records/3/beef", nil), http.StatusBadRequest)
}

func TestAppendVersion(t *testing.T) {
	e := newEnv(t)
	e.create(3)

	rec := e.appendVersion(1, "one", e.a, e.b)
	expectStatus(t, rec, http.StatusOK)
	resp := decodeBody[MutateResponse](t, rec)
	if resp.Weight != 5 || resp.Threshold != 4 {
		t.Errorf("auth = %d/%d, want 5/4", resp.Weight, resp.Threshold)
	}
	if resp.Record.Latest().Index != 1 || len(resp.Evicted) != 0 {
		t.Errorf("latest %d evicted %v", resp.Record.Latest().Index, resp.Evicted)
	}

	expectStatus(t, e.appendVersion(2, "two", e.a, e.b), http.StatusOK)
	rec = e.appendVersion(3, "three", e.a, e.b)
	expectStatus(t, rec, http.StatusOK)
	resp = decodeBody[MutateResponse](t, rec)
	if len(resp.Evicted) != 1 || resp.Evicted[0] != 0 {
		t.Errorf("evicted = %v, want [0]", resp.Evicted)
	}
	if resp.Record.Oldest().Index != 1 || resp.Record.Len() != 3 {
		t.Errorf("active = %d..%d", resp.Record.Oldest().Index, resp.Record.Latest().Index)
	}
}

func TestAppendVersion_Rejections(t *testing.T) {
	e := newEnv(t)
	e.create(5)

	rec := e.appendVersion(1, "one", e.b)
	expectStatus(t, rec, http.StatusForbidden)

	rec = e.appendVersion(2, "skip", e.a, e.b)
	expectStatus(t, rec, http.StatusConflict)
	if got := decodeBody[ErrorResponse](t, rec).Kind; got != "non_sequential_index" {
		t.Errorf("kind = %q", got)
	}

	// Signatures over the version-1 candidate do not survive a state change.
	v := versionRequest{Index: 1, Data: []byte("one")}
	stale := e.candidateBytes(candidateBytesRequest{Version: &v})
	expectStatus(t, e.appendVersion(1, "one", e.a, e.b), http.StatusOK)
	v2 := versionRequest{Index: 2, Data: []byte("one")}
	rec = e.do("POST", e.recordPath("/versions"), appendVersionRequest{
		Version:    v2,
		Signatures: sign(t, stale.Message, e.a, e.b),
	})
	expectStatus(t, rec, http.StatusForbidden)

	missing := fmt.Sprintf("/v1/records/4/%s/versions", e.id)
	rec = e.do("POST", missing, appendVersionRequest{Version: v2, Signatures: sign(t, stale.Message, e.a)})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestAppendVersion_Expired(t *testing.T) {
	e := newEnv(t)
	cr := e.creation(5)
	expiry := epoch.Add(time.Hour)
	cr.Policy.Expiry = &expiry
	msg := decodeBody[SigningBytesResponse](t, e.do("POST", "/v1/signing-bytes", cr)).Message
	expectStatus(t, e.do("POST", "/v1/records", createRecordRequest{
		Identity: cr.Identity, Policy: cr.Policy, Genesis: cr.Genesis,
		Signatures: sign(t, msg, e.a, e.b),
	}), http.StatusCreated)

	v := versionRequest{Index: 1}
	sb := e.candidateBytes(candidateBytesRequest{Version: &v})
	e.setNow(expiry)
	rec := e.do("POST", e.recordPath("/versions"), appendVersionRequest{Version: v, Signatures: sign(t, sb.Message, e.a, e.b)})
	expectStatus(t, rec, http.StatusGone)

	rec = e.do("POST", "/v1/reap", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[ReapResponse](t, rec).Reaped; got != 1 {
		t.Errorf("reaped = %d, want 1", got)
	}
	expectStatus(t, e.do("GET", e.recordPath(""), nil), http.StatusNotFound)
}

func TestSetAttributes(t *testing.T) {
	e := newEnv(t)
	e.create(5)
	c, _ := authz.GenerateKey(nil)

	// Hand the record to c alone; the current owners authorize it.
	next := policyRequest{Owners: []ownerRequest{{Key: c.Public, Weight: 1}}, MinWeightForConsensus: 1, Data: []byte("handover")}
	v := versionRequest{Index: 1, Data: []byte("with-policy")}
	sb := e.candidateBytes(candidateBytesRequest{Policy: &next, Version: &v})
	if sb.BaseIndex == nil || *sb.BaseIndex != 0 {
		t.Fatalf("base index = %v, want 0", sb.BaseIndex)
	}

	rec := e.do("PUT", e.recordPath("/attributes"), setAttributesRequest{Policy: next, Version: &v, Signatures: sign(t, sb.Message, c)})
	expectStatus(t, rec, http.StatusForbidden)

	rec = e.do("PUT", e.recordPath("/attributes"), setAttributesRequest{Policy: next, Version: &v, Signatures: sign(t, sb.Message, e.a, e.b)})
	expectStatus(t, rec, http.StatusOK)
	got := decodeBody[MutateResponse](t, rec).Record
	if string(got.Policy().Data) != "handover" || got.Latest().Index != 1 {
		t.Fatalf("record = policy %q latest %d", got.Policy().Data, got.Latest().Index)
	}

	// The new owner alone now governs the record.
	expectStatus(t, e.appendVersion(2, "by-c", e.a, e.b), http.StatusForbidden)
	expectStatus(t, e.appendVersion(2, "by-c", c), http.StatusOK)
}

func TestSetAttributes_InvalidPolicy(t *testing.T) {
	e := newEnv(t)
	e.create(5)
	p := e.policy(99)
	rec := e.do("PUT", e.recordPath("/attributes"), setAttributesRequest{Policy: p})
	expectStatus(t, rec, http.StatusBadRequest)
	if got := decodeBody[ErrorResponse](t, rec).Kind; got != "unreachable_threshold" {
		t.Errorf("kind = %q", got)
	}
}

func TestCandidateBytes_EmptyCandidate(t *testing.T) {
	e := newEnv(t)
	e.create(5)
	rec := e.do("POST", e.recordPath("/signing-bytes"), candidateBytesRequest{})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestAuthToken(t *testing.T) {
	e := newEnv(t)
	h := e.srv.NewHTTPHandler("s3cret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/health", nil))
	expectStatus(t, rec, http.StatusOK)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", e.recordPath(""), nil))
	expectStatus(t, rec, http.StatusUnauthorized)

	req := httptest.NewRequest("GET", e.recordPath(""), nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusNotFound)
}

type failingPinger struct{ *memory.Store }

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func TestHealth_StoreDown(t *testing.T) {
	svc := service.New(failingPinger{memory.New()}, service.Options{})
	h := New(svc, Options{}).NewHTTPHandler("")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/health", nil))
	expectStatus(t, rec, http.StatusServiceUnavailable)
}

func TestStatusOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{model.ErrInvalidIdentity, http.StatusBadRequest},
		{model.ErrDuplicateKey, http.StatusBadRequest},
		{&model.ValidationError{}, http.StatusBadRequest},
		{inputError("bad"), http.StatusBadRequest},
		{model.ErrNoSignatures, http.StatusUnauthorized},
		{model.ErrInsufficientWeight, http.StatusForbidden},
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", store.ErrConflict), http.StatusConflict},
		{store.ErrExists, http.StatusConflict},
		{model.ErrNonSequentialIndex, http.StatusConflict},
		{model.ErrRecordExpired, http.StatusGone},
		{model.ErrSizeLimitExceeded, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	} {
		if got := statusOf(tc.err); got != tc.want {
			t.Errorf("statusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
