// Package authz decides whether a set of signatures satisfies a record's
// ownership policy.
//
// Evaluation is a pure aggregation: each signature is checked on its own,
// then the weights of the distinct owners with at least one valid signature
// are summed. Entries that fail verification or come from keys outside the
// owner set are ignored rather than treated as errors.
package authz

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/sdata/internal/model"
)

// Verifier checks a detached signature. Implementations must be
// deterministic, side-effect free and safe for concurrent use.
type Verifier interface {
	Verify(key model.PublicKey, message, signature []byte) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(key model.PublicKey, message, signature []byte) bool

func (f VerifierFunc) Verify(key model.PublicKey, message, signature []byte) bool {
	return f(key, message, signature)
}

// Signature is one entry of signature evidence.
type Signature struct {
	Key       model.PublicKey `json:"key"`
	Signature []byte          `json:"signature"`
}

// Evidence is the set of signatures supplied with a candidate. It is never
// persisted with a record.
type Evidence []Signature

// Result describes a successful authorization.
type Result struct {
	// Weight is the summed weight of the counted signers.
	Weight uint64
	// Threshold is the weight that had to be reached.
	Threshold uint64
	// Signers are the counted owner keys in evidence order.
	Signers []model.PublicKey
}

// Evaluator authorizes evidence against a policy. With Workers > 1 the
// signatures are verified concurrently; the outcome is identical to the
// sequential evaluation.
type Evaluator struct {
	Verifier Verifier
	Workers  int
}

// Authorize is the sequential form of Evaluator.Authorize.
func Authorize(policy model.Policy, message []byte, evidence Evidence, v Verifier) (Result, error) {
	return Evaluator{Verifier: v}.Authorize(policy, message, evidence)
}

// Authorize reports whether evidence over message satisfies policy. It fails
// with ErrNoSignatures for empty evidence and ErrInsufficientWeight when the
// distinct valid owners weigh less than the threshold or none were found.
func (e Evaluator) Authorize(policy model.Policy, message []byte, evidence Evidence) (Result, error) {
	if len(evidence) == 0 {
		return Result{}, model.ErrNoSignatures
	}

	valid := e.verifyAll(policy, message, evidence)

	res := Result{Threshold: policy.Threshold()}
	counted := make(map[string]struct{}, len(evidence))
	for i, sig := range evidence {
		if !valid[i] {
			continue
		}
		k := string(sig.Key)
		if _, dup := counted[k]; dup {
			continue
		}
		w, _ := policy.WeightOf(sig.Key)
		counted[k] = struct{}{}
		res.Weight = model.AddWeight(res.Weight, w)
		res.Signers = append(res.Signers, model.PublicKey(append([]byte(nil), sig.Key...)))
	}

	if len(res.Signers) == 0 {
		return Result{}, model.Errorf(model.KindInsufficientWeight, "no valid owner signatures among %d", len(evidence))
	}
	if res.Weight < res.Threshold {
		return Result{}, model.Errorf(model.KindInsufficientWeight, "weight %d, threshold %d", res.Weight, res.Threshold)
	}
	return res, nil
}

// verifyAll returns, per evidence entry, whether it is a valid signature by
// an owner. Non-owner entries are not sent to the verifier.
func (e Evaluator) verifyAll(policy model.Policy, message []byte, evidence Evidence) []bool {
	valid := make([]bool, len(evidence))
	check := func(i int) {
		sig := evidence[i]
		if _, ok := policy.WeightOf(sig.Key); !ok {
			return
		}
		valid[i] = e.Verifier.Verify(sig.Key, message, sig.Signature)
	}

	if e.Workers <= 1 || len(evidence) == 1 {
		for i := range evidence {
			check(i)
		}
		return valid
	}

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(e.Workers)
	for i := range evidence {
		g.Go(func() error {
			check(i)
			return nil
		})
	}
	_ = g.Wait()
	return valid
}
