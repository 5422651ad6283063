package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage encrypted credentials",
	Long: `Credentials are encrypted per user and resolved by CREDENTIAL task inputs.
The vault key is derived from PAGEPILOT_VAULT_PASSPHRASE.`,
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <name> [value]",
	Short: "Store a credential (value is read from stdin when omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.user()
			if err != nil {
				return err
			}
			vault, err := a.requireVault()
			if err != nil {
				return err
			}
			value := ""
			if len(args) == 2 {
				value = args[1]
			} else if value, err = readValue(cmd.InOrStdin()); err != nil {
				return err
			}
			if err := vault.SetCredential(ctx, user, args[0], value); err != nil {
				return err
			}
			fmt.Printf("Credential %s stored\n", args[0])
			return nil
		})
	},
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credential names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.user()
			if err != nil {
				return err
			}
			vault, err := a.requireVault()
			if err != nil {
				return err
			}
			names, err := vault.ListCredentials(ctx, user)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(names)
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		})
	},
}

var credentialDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.user()
			if err != nil {
				return err
			}
			vault, err := a.requireVault()
			if err != nil {
				return err
			}
			if err := vault.DeleteCredential(ctx, user, args[0]); err != nil {
				return err
			}
			fmt.Printf("Credential %s deleted\n", args[0])
			return nil
		})
	},
}

func init() {
	credentialCmd.AddCommand(credentialSetCmd, credentialListCmd, credentialDeleteCmd)
}

func readValue(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			fmt.Fprint(os.Stderr, "Value: ")
		}
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read value: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// newSalt returns a random hex salt for the vault key derivation.
func newSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}
