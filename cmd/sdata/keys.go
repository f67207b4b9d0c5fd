package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/sdata/internal/authz"
	"github.com/alfredjeanlab/sdata/internal/model"
)

// keyFile is the on-disk form of an owner key pair.
type keyFile struct {
	Public  string `json:"public"`
	Private string `json:"private"`
}

func writeKeyFile(path string, kp authz.KeyPair) error {
	data, err := json.MarshalIndent(keyFile{
		Public:  hex.EncodeToString(kp.Public),
		Private: hex.EncodeToString(kp.Private),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func readKeyFile(path string) (authz.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return authz.KeyPair{}, err
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return authz.KeyPair{}, fmt.Errorf("parsing key file %s: %w", path, err)
	}
	pub, err := hex.DecodeString(kf.Public)
	if err != nil || len(pub) != authz.PublicKeySize {
		return authz.KeyPair{}, fmt.Errorf("key file %s: invalid public key", path)
	}
	var priv []byte
	if kf.Private != "" {
		if priv, err = hex.DecodeString(kf.Private); err != nil || len(priv) != authz.PrivateKeySize {
			return authz.KeyPair{}, fmt.Errorf("key file %s: invalid private key", path)
		}
	}
	return authz.KeyPair{Public: model.PublicKey(pub), Private: priv}, nil
}

// readSigners loads every --sign key file; each must hold a private key.
func readSigners(paths []string) ([]authz.KeyPair, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one --sign key file is required")
	}
	out := make([]authz.KeyPair, 0, len(paths))
	for _, p := range paths {
		kp, err := readKeyFile(p)
		if err != nil {
			return nil, err
		}
		if len(kp.Private) == 0 {
			return nil, fmt.Errorf("key file %s has no private key", p)
		}
		out = append(out, kp)
	}
	return out, nil
}

var keygenCmd = &cobra.Command{
	Use:               "keygen <file>",
	Short:             "Generate an owner key pair",
	GroupID:           "keys",
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(args[0]); err == nil && !force {
			return fmt.Errorf("%s exists (use --force to overwrite)", args[0])
		}
		kp, err := authz.GenerateKey(nil)
		if err != nil {
			return err
		}
		if err := writeKeyFile(args[0], kp); err != nil {
			return fmt.Errorf("writing key file: %w", err)
		}
		if jsonOutput {
			return printJSON(map[string]string{"file": args[0], "public": kp.Public.String()})
		}
		fmt.Printf("Wrote %s\nPublic key: %s\n", args[0], kp.Public)
		return nil
	},
}

func init() {
	keygenCmd.Flags().Bool("force", false, "overwrite an existing file")
}
