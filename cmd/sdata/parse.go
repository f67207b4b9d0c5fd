package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sdata/internal/authz"
	"github.com/alfredjeanlab/sdata/internal/model"
)

// parseOwner reads "KEY[:WEIGHT]", where KEY is a hex public key or the
// path of a key file. Weight defaults to 1.
func parseOwner(s string) (model.OwnerKey, error) {
	ref, weight := s, uint64(1)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		w, err := strconv.ParseUint(s[i+1:], 10, 64)
		if err != nil {
			return model.OwnerKey{}, fmt.Errorf("owner %q: invalid weight", s)
		}
		ref, weight = s[:i], w
	}
	if b, err := hex.DecodeString(ref); err == nil && len(b) == authz.PublicKeySize {
		return model.OwnerKey{Key: model.PublicKey(b), Weight: weight}, nil
	}
	kp, err := readKeyFile(ref)
	if err != nil {
		return model.OwnerKey{}, fmt.Errorf("owner %q: not a hex key or key file: %w", s, err)
	}
	return model.OwnerKey{Key: kp.Public, Weight: weight}, nil
}

// parseExpiry accepts an RFC 3339 time or a duration from now. Empty means
// never.
func parseExpiry(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expiry %q: want RFC 3339 time or duration", s)
	}
	return now.Add(d), nil
}

// parseKey reads "<type>/<hex id>".
func parseKey(s string) (model.Key, error) {
	tag, id, ok := strings.Cut(s, "/")
	if !ok {
		return model.Key{}, fmt.Errorf("record %q: want <type>/<hex id>", s)
	}
	typeTag, err := strconv.ParseUint(tag, 10, 64)
	if err != nil {
		return model.Key{}, fmt.Errorf("record %q: invalid type tag", s)
	}
	name, err := model.ParseName(id)
	if err != nil {
		return model.Key{}, fmt.Errorf("record %q: %w", s, err)
	}
	return model.Key{TypeTag: typeTag, ID: name}, nil
}

func randomName() (model.Name, error) {
	var n model.Name
	_, err := rand.Read(n[:])
	return n, err
}

// policyFlags are shared by create and set-attrs.
type policyFlags struct {
	owners    []string
	threshold uint64
	expiry    string
	data      string
}

func (f *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.owners, "owner", nil, "owner as KEY[:WEIGHT] (hex public key or key file; repeatable)")
	cmd.Flags().Uint64Var(&f.threshold, "threshold", 1, "minimum signing weight for consensus")
	cmd.Flags().StringVar(&f.expiry, "expiry", "", "expiry as RFC 3339 time or duration from now (default never)")
	cmd.Flags().StringVar(&f.data, "policy-data", "", "mutable policy data")
}

func (f *policyFlags) policy(now time.Time) (model.Policy, error) {
	owners := make([]model.OwnerKey, 0, len(f.owners))
	for _, s := range f.owners {
		o, err := parseOwner(s)
		if err != nil {
			return model.Policy{}, err
		}
		owners = append(owners, o)
	}
	expiry, err := parseExpiry(f.expiry, now)
	if err != nil {
		return model.Policy{}, err
	}
	var data []byte
	if f.data != "" {
		data = []byte(f.data)
	}
	return model.NewPolicy(owners, f.threshold, expiry, data)
}
