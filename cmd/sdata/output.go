package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/alfredjeanlab/sdata/internal/client"
	"github.com/alfredjeanlab/sdata/internal/model"
	"github.com/alfredjeanlab/sdata/internal/ui"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// preview renders data as text when it is printable, else as truncated hex.
func preview(data []byte) string {
	if len(data) == 0 {
		return ui.RenderMuted("(empty)")
	}
	if utf8.Valid(data) && !strings.ContainsFunc(string(data), func(r rune) bool { return r < 0x20 && r != '\t' }) {
		s := string(data)
		if limit := previewWidth(); len(s) > limit {
			s = s[:limit-3] + "..."
		}
		return s
	}
	h := fmt.Sprintf("%x", data)
	if len(h) > 32 {
		h = h[:32] + "..."
	}
	return "0x" + h
}

// previewWidth leaves room for the field labels on the current terminal.
func previewWidth() int {
	return max(ui.Width(os.Stdout, 80)-20, 24)
}

func printRecord(rec *model.Record) error {
	if jsonOutput {
		return printJSON(rec)
	}
	ident, pol := rec.Identity(), rec.Policy()

	fmt.Printf("Record:      %s\n", ui.RenderAccent(rec.Key().String()))
	fmt.Printf("Retention:   max %d versions, keep %d\n", ident.MaxVersions, ident.MinRetainedCount)
	if len(ident.Data) > 0 {
		fmt.Printf("Fixed data:  %s\n", preview(ident.Data))
	}
	fmt.Printf("Threshold:   %d of %d\n", pol.Threshold(), pol.TotalWeight())
	if pol.Expiry.IsZero() {
		fmt.Printf("Expiry:      %s\n", ui.RenderMuted("never"))
	} else {
		fmt.Printf("Expiry:      %s\n", pol.Expiry.Format(time.RFC3339))
	}
	if len(pol.Data) > 0 {
		fmt.Printf("Policy data: %s\n", preview(pol.Data))
	}

	fmt.Println("\nOwners:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  KEY\tWEIGHT")
	for _, o := range pol.Owners {
		fmt.Fprintf(w, "  %s\t%d\n", o.Key, o.Weight)
	}
	w.Flush()

	fmt.Println("\nVersions:")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  INDEX\tDATA")
	for _, v := range rec.Versions() {
		fmt.Fprintf(w, "  %d\t%s\n", v.Index, preview(v.Data))
	}
	return w.Flush()
}

func printMutation(res *client.MutateResult) error {
	if jsonOutput {
		return printJSON(res)
	}
	fmt.Printf("%s %s now at version %d (weight %d, threshold %d)\n",
		ui.RenderOK("Applied:"), ui.RenderAccent(res.Record.Key().String()),
		res.Record.Latest().Index, res.Weight, res.Threshold)
	if len(res.Evicted) > 0 {
		idx := make([]string, len(res.Evicted))
		for i, e := range res.Evicted {
			idx[i] = fmt.Sprint(e)
		}
		fmt.Printf("Archived:    %s\n", strings.Join(idx, ", "))
	}
	return nil
}
