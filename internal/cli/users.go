package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/emailfixer/creditd/internal/domain"
)

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersShowCmd)

	usersCreateCmd.Flags().String("email", "", "Email address (required)")
	usersCreateCmd.Flags().String("name", "", "Display name")
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage credit holders",
}

// ─── users create ───────────────────────────────────────────────────────────

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user with an empty balance",
	RunE:  runUsersCreate,
}

func runUsersCreate(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	name, _ := cmd.Flags().GetString("name")
	if email == "" {
		return fmt.Errorf("--email is required")
	}

	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	u, err := store.CreateUser(commandContext(cmd), email, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (%s)\n", u.ID, u.Email)
	return nil
}

// ─── users show ─────────────────────────────────────────────────────────────

var usersShowCmd = &cobra.Command{
	Use:   "show USER_ID",
	Short: "Show a user's balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersShow,
}

func runUsersShow(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	u, err := store.GetUser(commandContext(cmd), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User:       %s\n", u.ID)
	fmt.Fprintf(out, "Email:      %s\n", u.Email)
	if u.DisplayName != "" {
		fmt.Fprintf(out, "Name:       %s\n", u.DisplayName)
	}
	fmt.Fprintf(out, "Available:  %d credits\n", u.CreditsAvailable)
	fmt.Fprintf(out, "Used:       %d credits\n", u.CreditsUsed)
	fmt.Fprintf(out, "Spent:      $%s\n", u.TotalSpent.StringFixed(domain.AmountScale))
	return nil
}
