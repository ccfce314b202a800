package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrEthical07/tripauth/settings"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and update the encrypted integration settings",
	}

	cmd.AddCommand(newSettingsGetCmd())
	cmd.AddCommand(newSettingsSetCmd())

	return cmd
}

func newSettingsGetCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the settings as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()
			store, err := openSettings(cmd.Context(), v, v.GetString("storage.key_dir"), newLogger(v))
			if err != nil {
				return err
			}
			cur, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			if !reveal {
				cur = cur.Masked()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cur)
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "print secrets in clear text")

	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	var (
		strs = map[string]*string{}
		port int
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update individual settings fields",
		Long: `Update the given fields. Flags that are not passed keep their stored
value; pass an empty string to clear a field.`,
		Example: `  tripauthd settings set --hotel-api-key hk_live_... --smtp-port 587`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var u settings.Update
			targets := map[string]**string{
				"hotel-api-key":          &u.HotelAPIKey,
				"payment-secret-key":     &u.PaymentSecretKey,
				"payment-webhook-secret": &u.PaymentWebhookSecret,
				"smtp-host":              &u.SMTPHost,
				"smtp-user":              &u.SMTPUser,
				"smtp-password":          &u.SMTPPassword,
				"from-address":           &u.FromAddress,
			}
			for name, dst := range targets {
				if cmd.Flags().Changed(name) {
					*dst = strs[name]
				}
			}
			if cmd.Flags().Changed("smtp-port") {
				u.SMTPPort = &port
			}

			v := viper.GetViper()
			store, err := openSettings(cmd.Context(), v, v.GetString("storage.key_dir"), newLogger(v))
			if err != nil {
				return err
			}
			saved, err := store.Save(cmd.Context(), u)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(saved.Masked())
		},
	}

	for _, name := range []string{
		"hotel-api-key", "payment-secret-key", "payment-webhook-secret",
		"smtp-host", "smtp-user", "smtp-password", "from-address",
	} {
		strs[name] = new(string)
		cmd.Flags().StringVar(strs[name], name, "", "set "+name)
	}
	cmd.Flags().IntVar(&port, "smtp-port", 0, "set smtp-port")

	return cmd
}
