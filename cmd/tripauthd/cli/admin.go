package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/MrEthical07/tripauth"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminActiveCmd("activate", true))
	cmd.AddCommand(newAdminActiveCmd("deactivate", false))

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var in tripauth.CreateAdminInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator",
		Long: `Create an administrator directly in the configured store. This is how the
first super_admin is bootstrapped; later ones can be created over the API.`,
		Example: `  tripauthd admin create --email root@example.com --role super_admin
  tripauthd admin create --email ops@example.com --password 'correct-horse-battery'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				pw, err := promptPassword(cmd)
				if err != nil {
					return err
				}
				in.Password = pw
			}

			logger := newLogger(viper.GetViper())
			svc, err := openEngine(cmd.Context(), viper.GetViper(), logger, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			view, err := svc.Engine.CreateAdmin(cmd.Context(), in)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q (id %s)\n", view.Role, view.Email, view.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Email, "email", "", "administrator email address (required)")
	cmd.Flags().StringVar(&in.Password, "password", "", "password (prompted if omitted)")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&in.Role, "role", tripauth.RoleAdmin, "admin or super_admin")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// ---------- admin activate / deactivate ----------

func newAdminActiveCmd(use string, active bool) *cobra.Command {
	var audience string

	cmd := &cobra.Command{
		Use:   use + " <principal-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			aud := tripauth.Audience(audience)
			if aud != tripauth.AudienceEndUser && aud != tripauth.AudienceAdmin {
				return fmt.Errorf("unknown audience %q", audience)
			}

			logger := newLogger(viper.GetViper())
			svc, err := openEngine(cmd.Context(), viper.GetViper(), logger, nil)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Engine.SetActive(cmd.Context(), aud, args[0], active); err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: active=%t\n", aud, args[0], active)
			return nil
		},
	}

	cmd.Flags().StringVar(&audience, "audience", string(tripauth.AudienceAdmin), "end_user or admin")

	return cmd
}

func promptPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Confirm password: ")
	confirm, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}

	if string(pw) != string(confirm) {
		return "", errors.New("passwords do not match")
	}
	return string(pw), nil
}

// describe turns engine errors into operator-facing messages.
func describe(err error) error {
	switch {
	case errors.Is(err, tripauth.ErrDuplicateEmail):
		return errors.New("an account with that email already exists")
	case errors.Is(err, tripauth.ErrPasswordPolicy):
		return errors.New("password does not meet the length policy")
	case errors.Is(err, tripauth.ErrInvalidInput):
		return errors.New("invalid input: check the email, names, role and id")
	default:
		return err
	}
}
