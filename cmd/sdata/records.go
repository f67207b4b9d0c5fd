package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sdata/internal/client"
	"github.com/alfredjeanlab/sdata/internal/model"
)

var createPolicy policyFlags

var createCmd = &cobra.Command{
	Use:     "create",
	Short:   "Create a record signed by its initial owners",
	GroupID: "records",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		typeTag, _ := cmd.Flags().GetUint64("type")
		idHex, _ := cmd.Flags().GetString("id")
		maxVersions, _ := cmd.Flags().GetUint64("max-versions")
		minRetained, _ := cmd.Flags().GetUint8("min-retained")
		fixed, _ := cmd.Flags().GetString("fixed-data")
		data, _ := cmd.Flags().GetString("data")
		signPaths, _ := cmd.Flags().GetStringArray("sign")

		var (
			id  model.Name
			err error
		)
		if idHex == "" {
			id, err = randomName()
		} else {
			id, err = model.ParseName(idHex)
		}
		if err != nil {
			return err
		}
		identity, err := model.NewIdentity(typeTag, id, maxVersions, minRetained, []byte(fixed))
		if err != nil {
			return err
		}
		policy, err := createPolicy.policy(time.Now())
		if err != nil {
			return err
		}
		signers, err := readSigners(signPaths)
		if err != nil {
			return err
		}

		rec, err := client.Create(context.Background(), recordsClient, identity, policy,
			model.Version{Index: 0, Data: []byte(data)}, signers...)
		if err != nil {
			return fmt.Errorf("creating record: %w", err)
		}
		return printRecord(rec)
	},
}

var showCmd = &cobra.Command{
	Use:     "show <type>/<id>",
	Short:   "Show a record",
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		rec, err := recordsClient.GetRecord(context.Background(), key)
		if err != nil {
			return fmt.Errorf("getting record: %w", err)
		}
		return printRecord(rec)
	},
}

// nextIndex returns --index when set, else one past the stored latest.
func nextIndex(ctx context.Context, cmd *cobra.Command, key model.Key) (uint64, error) {
	if cmd.Flags().Changed("index") {
		return cmd.Flags().GetUint64("index")
	}
	rec, err := recordsClient.GetRecord(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("getting record: %w", err)
	}
	return rec.Latest().Index + 1, nil
}

var appendCmd = &cobra.Command{
	Use:     "append <type>/<id>",
	Short:   "Append a version signed by the current owners",
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		data, _ := cmd.Flags().GetString("data")
		signPaths, _ := cmd.Flags().GetStringArray("sign")
		signers, err := readSigners(signPaths)
		if err != nil {
			return err
		}
		index, err := nextIndex(ctx, cmd, key)
		if err != nil {
			return err
		}

		res, err := client.Propose(ctx, recordsClient, key,
			model.VersionCandidate(model.Version{Index: index, Data: []byte(data)}), signers...)
		if err != nil {
			return fmt.Errorf("appending version: %w", err)
		}
		return printMutation(res)
	},
}

var setAttrsPolicy policyFlags

var setAttrsCmd = &cobra.Command{
	Use:   "set-attrs <type>/<id>",
	Short: "Replace the policy (owners, threshold, expiry, data)",
	Long: `Replace the record's mutable attributes. The current owners must sign;
the new owners take over once the change is applied. With --data a new
version is appended in the same mutation.`,
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		policy, err := setAttrsPolicy.policy(time.Now())
		if err != nil {
			return err
		}
		signPaths, _ := cmd.Flags().GetStringArray("sign")
		signers, err := readSigners(signPaths)
		if err != nil {
			return err
		}

		c := model.PolicyCandidate(policy)
		if cmd.Flags().Changed("data") {
			data, _ := cmd.Flags().GetString("data")
			index, err := nextIndex(ctx, cmd, key)
			if err != nil {
				return err
			}
			c.Version = &model.Version{Index: index, Data: []byte(data)}
		}

		res, err := client.Propose(ctx, recordsClient, key, c, signers...)
		if err != nil {
			return fmt.Errorf("setting attributes: %w", err)
		}
		return printMutation(res)
	},
}

func init() {
	createCmd.Flags().Uint64("type", 0, "type tag")
	createCmd.Flags().String("id", "", "hex record id (default random)")
	createCmd.Flags().Uint64("max-versions", 16, "maximum active versions")
	createCmd.Flags().Uint8("min-retained", 1, "versions kept when archiving")
	createCmd.Flags().String("fixed-data", "", "immutable identity data")
	createCmd.Flags().String("data", "", "genesis version data")
	createCmd.Flags().StringArray("sign", nil, "key file to sign with (repeatable)")
	createPolicy.register(createCmd)

	appendCmd.Flags().String("data", "", "version data")
	appendCmd.Flags().Uint64("index", 0, "version index (default latest+1)")
	appendCmd.Flags().StringArray("sign", nil, "key file to sign with (repeatable)")

	setAttrsCmd.Flags().String("data", "", "also append a version with this data")
	setAttrsCmd.Flags().Uint64("index", 0, "version index with --data (default latest+1)")
	setAttrsCmd.Flags().StringArray("sign", nil, "key file to sign with (repeatable)")
	setAttrsPolicy.register(setAttrsCmd)
}
