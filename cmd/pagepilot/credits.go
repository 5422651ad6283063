package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rendis/pagepilot/pkg/schema"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage credit balances",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <amount>",
	Short: "Add credits to the user's balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.Atoi(args[0])
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid amount %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.user()
			if err != nil {
				return err
			}
			balance, err := a.ledger.TopUp(ctx, user, amount)
			if err != nil {
				return err
			}
			return printBalance(user, balance)
		})
	},
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the user's credit balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.user()
			if err != nil {
				return err
			}
			balance, err := a.ledger.Balance(ctx, user)
			if err != nil {
				return err
			}
			return printBalance(user, balance)
		})
	},
}

func init() {
	creditsCmd.AddCommand(creditsGrantCmd, creditsBalanceCmd)
}

func printBalance(user string, balance int) error {
	if outputJSON {
		return printJSON(map[string]any{"user_id": user, "credits": balance})
	}
	fmt.Printf("%s: %d credits\n", user, balance)
	return nil
}
