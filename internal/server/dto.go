package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alfredjeanlab/sdata/internal/authz"
	"github.com/alfredjeanlab/sdata/internal/model"
)

// Byte fields travel as base64 (encoding/json's []byte form); record ids as
// hex, matching model.Name's text encoding.

type identityRequest struct {
	TypeTag          uint64 `json:"type_tag"`
	ID               string `json:"id" validate:"required,hexadecimal,len=128"`
	MaxVersions      uint64 `json:"max_versions"`
	MinRetainedCount uint8  `json:"min_retained_count"`
	Data             []byte `json:"data,omitempty"`
}

type ownerRequest struct {
	Key    []byte `json:"key" validate:"required"`
	Weight uint64 `json:"weight"`
}

type policyRequest struct {
	Owners                []ownerRequest `json:"owners" validate:"dive"`
	MinWeightForConsensus uint64         `json:"min_weight_for_consensus"`
	Expiry                *time.Time     `json:"expiry,omitempty"`
	Data                  []byte         `json:"data,omitempty"`
}

type versionRequest struct {
	Index uint64 `json:"index"`
	Data  []byte `json:"data,omitempty"`
}

type signatureRequest struct {
	Key       []byte `json:"key" validate:"required"`
	Signature []byte `json:"signature" validate:"required"`
}

type createRecordRequest struct {
	Identity   identityRequest    `json:"identity"`
	Policy     policyRequest      `json:"policy"`
	Genesis    versionRequest     `json:"genesis"`
	Signatures []signatureRequest `json:"signatures" validate:"dive"`
}

type appendVersionRequest struct {
	Version    versionRequest     `json:"version"`
	Signatures []signatureRequest `json:"signatures" validate:"dive"`
}

// setAttributesRequest replaces the policy, optionally together with the
// next version.
type setAttributesRequest struct {
	Policy     policyRequest      `json:"policy"`
	Version    *versionRequest    `json:"version,omitempty"`
	Signatures []signatureRequest `json:"signatures" validate:"dive"`
}

type candidateBytesRequest struct {
	Policy  *policyRequest  `json:"policy,omitempty"`
	Version *versionRequest `json:"version,omitempty"`
}

type creationBytesRequest struct {
	Identity identityRequest `json:"identity"`
	Policy   policyRequest   `json:"policy"`
	Genesis  versionRequest  `json:"genesis"`
}

// MutateResponse is returned by the version and attribute endpoints.
type MutateResponse struct {
	Record    *model.Record `json:"record"`
	Weight    uint64        `json:"weight"`
	Threshold uint64        `json:"threshold"`
	Evicted   []uint64      `json:"evicted,omitempty"`
}

// SigningBytesResponse carries the exact message owners sign.
type SigningBytesResponse struct {
	Message []byte `json:"message"`
	// BaseIndex is the latest index of the snapshot the message binds to.
	BaseIndex *uint64 `json:"base_index,omitempty"`
}

// ReapResponse reports an expiry sweep.
type ReapResponse struct {
	Reaped int `json:"reaped"`
}

func (r identityRequest) toModel() (model.Identity, error) {
	id, err := model.ParseName(r.ID)
	if err != nil {
		return model.Identity{}, inputError(err.Error())
	}
	return model.NewIdentity(r.TypeTag, id, r.MaxVersions, r.MinRetainedCount, r.Data)
}

func (r policyRequest) toModel() (model.Policy, error) {
	owners := make([]model.OwnerKey, len(r.Owners))
	for i, o := range r.Owners {
		owners[i] = model.OwnerKey{Key: model.PublicKey(o.Key), Weight: o.Weight}
	}
	var expiry time.Time
	if r.Expiry != nil {
		expiry = *r.Expiry
	}
	return model.NewPolicy(owners, r.MinWeightForConsensus, expiry, r.Data)
}

func (r versionRequest) toModel() model.Version {
	return model.Version{Index: r.Index, Data: r.Data}
}

func (r *candidateBytesRequest) toModel() (model.Candidate, error) {
	var c model.Candidate
	if r.Policy != nil {
		p, err := r.Policy.toModel()
		if err != nil {
			return c, err
		}
		c.Policy = &p
	}
	if r.Version != nil {
		v := r.Version.toModel()
		c.Version = &v
	}
	return c, nil
}

func evidenceOf(sigs []signatureRequest) authz.Evidence {
	ev := make(authz.Evidence, len(sigs))
	for i, s := range sigs {
		ev[i] = authz.Signature{Key: model.PublicKey(s.Key), Signature: s.Signature}
	}
	return ev
}

// validationErrorOf converts validator failures to the model's field errors.
func validationErrorOf(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var ve model.ValidationError
	for _, fe := range verrs {
		ve.Add(fieldPath(fe.Namespace()), fieldMessage(fe))
	}
	return &ve
}

// fieldPath drops the top-level struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "hexadecimal":
		return "must be hex encoded"
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}
