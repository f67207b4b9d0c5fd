// Package client talks to the sdata HTTP API. The CLI uses it for every
// remote operation.
package client

import (
	"context"

	"github.com/alfredjeanlab/sdata/internal/authz"
	"github.com/alfredjeanlab/sdata/internal/model"
)

// RecordsClient is the interface the CLI commands use to reach a server.
type RecordsClient interface {
	// Signing bytes
	CreationBytes(ctx context.Context, identity model.Identity, policy model.Policy, genesis model.Version) ([]byte, error)
	CandidateBytes(ctx context.Context, key model.Key, c model.Candidate) (*SigningBytes, error)

	// Records
	CreateRecord(ctx context.Context, req *CreateRecordRequest) (*model.Record, error)
	GetRecord(ctx context.Context, key model.Key) (*model.Record, error)
	AppendVersion(ctx context.Context, key model.Key, v model.Version, evidence authz.Evidence) (*MutateResult, error)
	SetAttributes(ctx context.Context, key model.Key, p model.Policy, v *model.Version, evidence authz.Evidence) (*MutateResult, error)

	// Operations
	Reap(ctx context.Context) (int, error)
	Health(ctx context.Context) (string, error)

	Close() error
}

// CreateRecordRequest holds everything needed to create a record.
type CreateRecordRequest struct {
	Identity   model.Identity `json:"identity"`
	Policy     model.Policy   `json:"policy"`
	Genesis    model.Version  `json:"genesis"`
	Signatures authz.Evidence `json:"signatures"`
}

// SigningBytes is the message owners must sign for a candidate, and the
// latest index of the snapshot it binds to.
type SigningBytes struct {
	Message   []byte `json:"message"`
	BaseIndex uint64 `json:"base_index"`
}

// MutateResult is the server's answer to an accepted mutation.
type MutateResult struct {
	Record    *model.Record `json:"record"`
	Weight    uint64        `json:"weight"`
	Threshold uint64        `json:"threshold"`
	Evicted   []uint64      `json:"evicted,omitempty"`
}

// Create fetches the creation bytes, signs them with every signer and
// creates the record.
func Create(ctx context.Context, c RecordsClient, identity model.Identity, policy model.Policy, genesis model.Version, signers ...authz.KeyPair) (*model.Record, error) {
	msg, err := c.CreationBytes(ctx, identity, policy, genesis)
	if err != nil {
		return nil, err
	}
	ev, err := authz.SignAll(msg, signers...)
	if err != nil {
		return nil, err
	}
	return c.CreateRecord(ctx, &CreateRecordRequest{
		Identity:   identity,
		Policy:     policy,
		Genesis:    genesis,
		Signatures: ev,
	})
}

// Propose fetches the signing bytes for cand against the stored snapshot,
// signs them with every signer and submits the mutation.
func Propose(ctx context.Context, c RecordsClient, key model.Key, cand model.Candidate, signers ...authz.KeyPair) (*MutateResult, error) {
	sb, err := c.CandidateBytes(ctx, key, cand)
	if err != nil {
		return nil, err
	}
	ev, err := authz.SignAll(sb.Message, signers...)
	if err != nil {
		return nil, err
	}
	if cand.Policy != nil {
		return c.SetAttributes(ctx, key, *cand.Policy, cand.Version, ev)
	}
	return c.AppendVersion(ctx, key, *cand.Version, ev)
}
