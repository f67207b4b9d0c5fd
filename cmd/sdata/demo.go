package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sdata/internal/archive"
	"github.com/alfredjeanlab/sdata/internal/authz"
	"github.com/alfredjeanlab/sdata/internal/codec"
	"github.com/alfredjeanlab/sdata/internal/events"
	"github.com/alfredjeanlab/sdata/internal/model"
	"github.com/alfredjeanlab/sdata/internal/mutation"
	"github.com/alfredjeanlab/sdata/internal/service"
	"github.com/alfredjeanlab/sdata/internal/store/memory"
)

var demoCmd = &cobra.Command{
	Use:               "demo",
	Short:             "Walk through a record's lifecycle in memory",
	GroupID:           "system",
	Args:              cobra.NoArgs,
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(cmd.Context(), os.Stdout, time.Now().UTC())
	},
}

// demoClock is a settable clock so the demo can jump past expiry.
type demoClock struct{ now atomic.Pointer[time.Time] }

func (c *demoClock) Now() time.Time         { return *c.now.Load() }
func (c *demoClock) Set(t time.Time)        { c.now.Store(&t) }
func (c *demoClock) Advance(d time.Duration) { c.Set(c.Now().Add(d)) }

// runDemo creates a session-packet style record, appends past its version
// cap so old versions are archived, hands it to a second owner and finally
// lets it expire.
func runDemo(ctx context.Context, w io.Writer, start time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &demoClock{}
	clock.Set(start)

	pub := &events.Recorder{}
	dest := archive.NewMemoryDestination()
	archiver := archive.New(dest, archive.Options{Prefix: "demo", Publisher: pub, Logger: logger})
	archiver.Start()

	st := memory.New()
	svc := service.New(st, service.Options{
		Clock:     clock,
		Archive:   archiver,
		Publisher: pub,
		Logger:    logger,
	})

	alice, err := authz.GenerateKey(nil)
	if err != nil {
		return err
	}
	bob, err := authz.GenerateKey(nil)
	if err != nil {
		return err
	}

	step := func(format string, args ...any) {
		fmt.Fprintf(w, "\n== "+format+"\n", args...)
	}
	show := func(rec *model.Record) {
		pol := rec.Policy()
		fmt.Fprintf(w, "   record %s: versions %d..%d, owners %d, threshold %d, size %d bytes\n",
			rec.Key(), rec.Oldest().Index, rec.Latest().Index,
			len(pol.Owners), pol.Threshold(), len(codec.EncodeRecord(rec)))
	}

	// Create.
	// The all-zero id is a valid identifier.
	ident, err := model.NewIdentity(1, model.Name{}, 10, 5, []byte("ABC"))
	if err != nil {
		return err
	}
	policy, err := model.NewPolicy([]model.OwnerKey{{Key: alice.Public, Weight: 1}},
		0, start.AddDate(100, 0, 0), []byte("DEF"))
	if err != nil {
		return err
	}
	genesis := model.Version{Index: 0, Data: []byte("v0")}
	msg, err := svc.CreationBytes(ident, policy, genesis)
	if err != nil {
		return err
	}
	ev, err := authz.SignAll(msg, alice)
	if err != nil {
		return err
	}
	step("create a session packet owned by alice")
	rec, err := svc.Create(ctx, service.CreateRequest{Identity: ident, Policy: policy, Genesis: genesis, Evidence: ev})
	if err != nil {
		return err
	}
	show(rec)

	mutate := func(c model.Candidate, signers ...authz.KeyPair) (*service.MutateResult, error) {
		msg, _, err := svc.SigningBytes(ctx, rec.Key(), c)
		if err != nil {
			return nil, err
		}
		ev, err := authz.SignAll(msg, signers...)
		if err != nil {
			return nil, err
		}
		return svc.Mutate(ctx, rec.Key(), c, ev)
	}

	// Append past max_versions.
	step("append versions 1..12 (max_versions 10, min_retained 5)")
	for i := uint64(1); i <= 12; i++ {
		res, err := mutate(model.VersionCandidate(model.Version{Index: i, Data: fmt.Appendf(nil, "v%d", i)}), alice)
		if err != nil {
			return fmt.Errorf("append %d: %w", i, err)
		}
		if len(res.Evicted) > 0 {
			fmt.Fprintf(w, "   v%d evicted %d versions (%d..%d) to the archive\n", i,
				len(res.Evicted), res.Evicted[0].Index, res.Evicted[len(res.Evicted)-1].Index)
		}
		rec = res.Record
	}
	show(rec)

	// A stale or skipped index is rejected.
	step("append index 20 out of sequence")
	if _, err := mutate(model.VersionCandidate(model.Version{Index: 20}), alice); err != nil {
		fmt.Fprintf(w, "   rejected (%s): %v\n", model.KindOf(err), err)
	} else {
		return errors.New("out of sequence version was accepted")
	}

	// Hand over: the old policy (alice) approves the new one (alice+bob, threshold 2).
	step("alice adds bob and raises the threshold to 2")
	next := rec.Policy()
	next.Owners = append(next.Owners, model.OwnerKey{Key: bob.Public, Weight: 1})
	next.MinWeightForConsensus = 2
	v := model.Version{Index: rec.Latest().Index + 1, Data: []byte("handover")}
	res, err := mutate(model.Candidate{Policy: &next, Version: &v}, alice)
	if err != nil {
		return err
	}
	rec = res.Record
	show(rec)

	step("alice alone can no longer append")
	if _, err := mutate(model.VersionCandidate(model.Version{Index: rec.Latest().Index + 1}), alice); err != nil {
		fmt.Fprintf(w, "   rejected (%s): %v\n", model.KindOf(err), err)
	} else {
		return errors.New("single signer was accepted")
	}
	res, err = mutate(model.VersionCandidate(model.Version{Index: rec.Latest().Index + 1, Data: []byte("joint")}), alice, bob)
	if err != nil {
		return err
	}
	rec = res.Record
	fmt.Fprintf(w, "   alice+bob appended v%d (weight %d)\n", rec.Latest().Index, res.Auth.Weight)

	// Expiry.
	step("a century passes")
	clock.Advance(100*365*24*time.Hour + 30*24*time.Hour)
	if _, err := mutate(model.VersionCandidate(model.Version{Index: rec.Latest().Index + 1}), alice, bob); err != nil {
		fmt.Fprintf(w, "   rejected (%s): %v\n", model.KindOf(err), err)
	} else {
		return errors.New("expired record accepted a version")
	}
	n, err := svc.ReapExpired(ctx, clock.Now(), 10)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "   reaper removed %d record(s); store now holds %d\n", n, st.Len())

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := archiver.Stop(stopCtx); err != nil {
		return err
	}
	step("archive")
	stats := archiver.Stats()
	fmt.Fprintf(w, "   %d versions archived, %d dropped\n", stats.Archived, stats.Dropped)
	for _, k := range dest.Keys() {
		fmt.Fprintf(w, "   %s\n", k)
	}
	step("events")
	var order []string
	counts := map[string]int{}
	for _, topic := range pub.Topics() {
		if counts[topic] == 0 {
			order = append(order, topic)
		}
		counts[topic]++
	}
	for _, topic := range order {
		fmt.Fprintf(w, "   %-24s x%d\n", topic, counts[topic])
	}
	return nil
}

var _ mutation.Clock = (*demoClock)(nil)
