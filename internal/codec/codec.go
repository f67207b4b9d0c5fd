// Package codec produces the canonical byte encodings of records and
// candidate mutations.
//
// Signatures are only meaningful if every party derives byte-identical
// messages, so the encoding is deterministic: fields are written in
// ascending field-number order using the protobuf wire format, repeated
// fields keep their slice order, and absent optional fields are omitted.
package codec

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alfredjeanlab/sdata/internal/model"
)

// Domain separation tags, written as field 1 of every signed message so a
// signature over one kind of message can never be replayed as another.
const (
	DomainCreate = "sdata.create.v1"
	DomainMutate = "sdata.mutate.v1"
)

// Field numbers.
const (
	identityTypeTag     protowire.Number = 1
	identityID          protowire.Number = 2
	identityMaxVersions protowire.Number = 3
	identityMinRetained protowire.Number = 4
	identityData        protowire.Number = 5

	ownerKey    protowire.Number = 1
	ownerWeight protowire.Number = 2

	policyOwner     protowire.Number = 1
	policyMinWeight protowire.Number = 2
	policyExpiry    protowire.Number = 3
	policyData      protowire.Number = 4

	versionIndex protowire.Number = 1
	versionData  protowire.Number = 2

	recordIdentity protowire.Number = 1
	recordPolicy   protowire.Number = 2
	recordVersion  protowire.Number = 3

	createDomain   protowire.Number = 1
	createIdentity protowire.Number = 2
	createPolicy   protowire.Number = 3
	createGenesis  protowire.Number = 4

	mutateDomain     protowire.Number = 1
	mutateTypeTag    protowire.Number = 2
	mutateID         protowire.Number = 3
	mutateBaseIndex  protowire.Number = 4
	mutateBasePolicy protowire.Number = 5
	mutatePolicy     protowire.Number = 6
	mutateVersion    protowire.Number = 7
)

// ErrMalformed is returned when decoding input that is not a valid encoding.
var ErrMalformed = errors.New("codec: malformed input")

// Wire is the protobuf-wire implementation of the mutation serializer.
type Wire struct{}

// CreationBytes is the message owners sign to create a record.
func (Wire) CreationBytes(identity model.Identity, policy model.Policy, genesis model.Version) []byte {
	var b []byte
	b = appendString(b, createDomain, DomainCreate)
	b = appendMessage(b, createIdentity, AppendIdentity(nil, identity))
	b = appendMessage(b, createPolicy, AppendPolicy(nil, policy))
	b = appendMessage(b, createGenesis, AppendVersion(nil, genesis))
	return b
}

// CandidateBytes is the message owners sign to mutate current. It binds the
// candidate to the record's key, its latest version index and a digest of
// its current policy, so it cannot be replayed against another record or a
// later state of the same one.
func (Wire) CandidateBytes(current *model.Record, c model.Candidate) []byte {
	key := current.Key()
	var b []byte
	b = appendString(b, mutateDomain, DomainMutate)
	b = appendVarint(b, mutateTypeTag, key.TypeTag)
	b = appendBytes(b, mutateID, key.ID[:])
	b = appendVarint(b, mutateBaseIndex, current.Latest().Index)
	digest := PolicyDigest(current.Policy())
	b = appendBytes(b, mutateBasePolicy, digest[:])
	if c.Policy != nil {
		b = appendMessage(b, mutatePolicy, AppendPolicy(nil, *c.Policy))
	}
	if c.Version != nil {
		b = appendMessage(b, mutateVersion, AppendVersion(nil, *c.Version))
	}
	return b
}

// RecordBytes is the full encoding of a record; its length is the record's
// size for the network-wide size limit.
func (Wire) RecordBytes(r *model.Record) []byte {
	return EncodeRecord(r)
}

// EncodeRecord encodes identity, policy and active versions.
func EncodeRecord(r *model.Record) []byte {
	var b []byte
	b = appendMessage(b, recordIdentity, AppendIdentity(nil, r.Identity()))
	b = appendMessage(b, recordPolicy, AppendPolicy(nil, r.Policy()))
	for _, v := range r.Versions() {
		b = appendMessage(b, recordVersion, AppendVersion(nil, v))
	}
	return b
}

// Digest is a BLAKE2b-256 digest.
type Digest [blake2b.Size256]byte

// RecordDigest fingerprints a record snapshot. Stores use it to detect
// concurrent replacement.
func RecordDigest(r *model.Record) Digest {
	return blake2b.Sum256(EncodeRecord(r))
}

// PolicyDigest fingerprints a policy.
func PolicyDigest(p model.Policy) Digest {
	return blake2b.Sum256(AppendPolicy(nil, p))
}

// AppendIdentity appends the encoding of id to b.
func AppendIdentity(b []byte, id model.Identity) []byte {
	b = appendVarint(b, identityTypeTag, id.TypeTag)
	b = appendBytes(b, identityID, id.ID[:])
	b = appendVarint(b, identityMaxVersions, id.MaxVersions)
	b = appendVarint(b, identityMinRetained, uint64(id.MinRetainedCount))
	if len(id.Data) > 0 {
		b = appendBytes(b, identityData, id.Data)
	}
	return b
}

// AppendPolicy appends the encoding of p to b. Expiry is written as whole
// Unix seconds and omitted when zero.
func AppendPolicy(b []byte, p model.Policy) []byte {
	for _, o := range p.Owners {
		var ob []byte
		ob = appendBytes(ob, ownerKey, o.Key)
		ob = appendVarint(ob, ownerWeight, o.Weight)
		b = appendMessage(b, policyOwner, ob)
	}
	b = appendVarint(b, policyMinWeight, p.MinWeightForConsensus)
	if !p.Expiry.IsZero() {
		b = appendVarint(b, policyExpiry, protowire.EncodeZigZag(p.Expiry.Unix()))
	}
	if len(p.Data) > 0 {
		b = appendBytes(b, policyData, p.Data)
	}
	return b
}

// AppendVersion appends the encoding of v to b.
func AppendVersion(b []byte, v model.Version) []byte {
	b = appendVarint(b, versionIndex, v.Index)
	if len(v.Data) > 0 {
		b = appendBytes(b, versionData, v.Data)
	}
	return b
}

// DecodeRecord parses the output of EncodeRecord and validates the result.
func DecodeRecord(b []byte) (*model.Record, error) {
	var (
		identity model.Identity
		policy   model.Policy
		versions []model.Version
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		var err error
		switch num {
		case recordIdentity:
			identity, err = decodeIdentity(raw)
		case recordPolicy:
			policy, err = decodePolicy(raw)
		case recordVersion:
			var v model.Version
			v, err = DecodeVersion(raw)
			versions = append(versions, v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return model.NewRecord(identity, policy, versions)
}

// DecodeVersion parses the output of AppendVersion.
func DecodeVersion(b []byte) (model.Version, error) {
	var v model.Version
	err := walk(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case versionIndex:
			v.Index = varintOf(raw)
		case versionData:
			v.Data = append([]byte(nil), raw...)
		}
		return nil
	})
	return v, err
}

func decodeIdentity(b []byte) (model.Identity, error) {
	var (
		id    model.Identity
		sawID bool
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case identityTypeTag:
			id.TypeTag = varintOf(raw)
		case identityID:
			n, err := model.NameFromBytes(raw)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			id.ID = n
		case identityMaxVersions:
			id.MaxVersions = varintOf(raw)
		case identityMinRetained:
			r := varintOf(raw)
			if r > 255 {
				return fmt.Errorf("%w: min_retained_count %d", ErrMalformed, r)
			}
			id.MinRetainedCount = uint8(r)
		case identityData:
			id.Data = append([]byte(nil), raw...)
		}
		return nil
	})
	if err == nil && !sawID {
		err = model.Errorf(model.KindInvalidIdentity, "id is missing")
	}
	return id, err
}

func decodePolicy(b []byte) (model.Policy, error) {
	var p model.Policy
	err := walk(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case policyOwner:
			var o model.OwnerKey
			if err := walk(raw, func(num protowire.Number, typ protowire.Type, raw []byte) error {
				switch num {
				case ownerKey:
					o.Key = model.PublicKey(append([]byte(nil), raw...))
				case ownerWeight:
					o.Weight = varintOf(raw)
				}
				return nil
			}); err != nil {
				return err
			}
			p.Owners = append(p.Owners, o)
		case policyMinWeight:
			p.MinWeightForConsensus = varintOf(raw)
		case policyExpiry:
			p.Expiry = time.Unix(protowire.DecodeZigZag(varintOf(raw)), 0).UTC()
		case policyData:
			p.Data = append([]byte(nil), raw...)
		}
		return nil
	})
	return p, err
}

// walk iterates the top-level fields of a message. For varint fields raw is
// the re-encoded varint; for bytes fields it is the payload.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		var raw []byte
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			raw = protowire.AppendVarint(nil, v)
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			raw = v
			n = m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			n = m
		}
		b = b[n:]
		if raw == nil && typ != protowire.BytesType {
			continue
		}
		if err := fn(num, typ, raw); err != nil {
			return err
		}
	}
	return nil
}

func varintOf(raw []byte) uint64 {
	v, _ := protowire.ConsumeVarint(raw)
	return v
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	return appendBytes(b, num, msg)
}
