package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrEthical07/tripauth"
	"github.com/MrEthical07/tripauth/internal/xdg"
	"github.com/MrEthical07/tripauth/keystore"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the master and signing keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create missing keys and print their fingerprints",
		Long: `Create master.key and signing.key in the key directory if they do not
exist. Existing keys are never replaced. The printed fingerprints identify
a key without revealing it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keyDir := viper.GetString("storage.key_dir")
			if err := xdg.EnsureDir(keyDir); err != nil {
				return err
			}

			for _, k := range []struct {
				file string
				size int
			}{
				{tripauth.MasterKeyFile, keystore.MasterKeySize},
				{tripauth.SigningKeyFile, keystore.SigningKeySize},
			} {
				store := keystore.New(filepath.Join(keyDir, k.file), k.size)
				key, err := store.GetOrCreate(cmd.Context())
				if err != nil {
					return fmt.Errorf("%s: %w", k.file, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s  %s\n", k.file, keystore.Fingerprint(key), store.Path())
			}
			return nil
		},
	})

	return cmd
}
