package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sdata/internal/events"
	"github.com/alfredjeanlab/sdata/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:               "watch",
	Short:             "Print record lifecycle events from NATS",
	GroupID:           "records",
	Args:              cobra.NoArgs,
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats-url")
		if natsURL == "" {
			return fmt.Errorf("--nats-url or SDATA_NATS_URL is required")
		}
		record, _ := cmd.Flags().GetString("record")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sub, err := events.NewNATSSubscriber(natsURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Printf("nats: disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				log.Printf("nats: reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe(events.TopicAll)
		if err != nil {
			return err
		}
		defer cancel()

		fmt.Fprintln(os.Stderr, ui.RenderMuted("watching "+natsURL+" (Ctrl-C to stop)"))
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				if record != "" && !strings.Contains(string(msg.Data), record) {
					continue
				}
				printEvent(msg.Topic, msg.Data)
			}
		}
	},
}

func printEvent(topic string, data []byte) {
	if jsonOutput {
		fmt.Printf("{\"topic\":%q,\"event\":%s}\n", topic, data)
		return
	}
	var ev struct {
		Record      events.RecordRef `json:"record"`
		Change      string           `json:"change"`
		LatestIndex *uint64          `json:"latest_index"`
		Index       *uint64          `json:"index"`
		Object      string           `json:"object"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		fmt.Printf("%s %s\n", ui.RenderAccent(topic), data)
		return
	}
	line := fmt.Sprintf("%s %d/%s", ui.RenderAccent(topic), ev.Record.TypeTag, shortID(ev.Record.ID))
	if ev.Change != "" {
		line += " " + ev.Change
	}
	if ev.LatestIndex != nil {
		line += fmt.Sprintf(" latest=%d", *ev.LatestIndex)
	}
	if ev.Index != nil {
		line += fmt.Sprintf(" index=%d", *ev.Index)
	}
	if ev.Object != "" {
		line += " " + ui.RenderMuted(ev.Object)
	}
	fmt.Println(line)
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16] + "…"
	}
	return id
}

func init() {
	watchCmd.Flags().String("nats-url", os.Getenv("SDATA_NATS_URL"), "NATS server URL")
	watchCmd.Flags().String("record", "", "only show events mentioning this hex record id")
}
