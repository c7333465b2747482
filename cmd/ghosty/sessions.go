package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var usersSearchLimit int

func init() {
	sessionsListCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	usersSearchCmd.Flags().IntVarP(&usersSearchLimit, "limit", "n", 20, "Maximum number of users to return")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsRevokeCmd)
	usersCmd.AddCommand(usersGetCmd, usersSearchCmd)
	rootCmd.AddCommand(sessionsCmd, usersCmd)
}

// ============================================================================
// sessions
// ============================================================================

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and revoke your signed-in sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tokens issued to your account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := timeoutCtx()
		defer cancel()
		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		tokens, res := engine.Sessions(ctx)
		if err := resultError(res); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(tokens)
		}
		table := newTable("ID", "Agent", "Created", "Online", "Token")
		for _, t := range tokens {
			agent, created := "", ""
			if t.Agent != nil {
				agent = *t.Agent
			}
			if t.CreatedAt != nil {
				created = *t.CreatedAt
			}
			id := strconv.FormatInt(t.TokenID, 10)
			if t.IsCurrent {
				id += " *"
			}
			table.Append([]string{id, agent, created, strconv.FormatBool(t.IsOnline), maskToken(t.Token)})
		}
		table.Render()
		return nil
	},
}

var sessionsRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Sign out another session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := timeoutCtx()
		defer cancel()
		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		if args[0] == engine.Session().Token() {
			return fmt.Errorf("that is the current session; use 'ghosty logout'")
		}
		if err := resultError(engine.RevokeSession(ctx, args[0])); err != nil {
			return err
		}
		fmt.Println("Session revoked.")
		return nil
	},
}

// maskToken shows the first 6 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:6] + "..." + token[len(token)-4:]
}

// ============================================================================
// users
// ============================================================================

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Look up users",
}

var usersGetCmd = &cobra.Command{
	Use:   "get <user-id>",
	Short: "Show a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseID(args[0], "user id")
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		res := engine.Client().Users.Get(ctx, userID)
		if err := resultError(res); err != nil {
			return err
		}
		fmt.Println(string(res.Data))
		return nil
	},
}

var usersSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := timeoutCtx()
		defer cancel()
		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		res := engine.Client().Users.Search(ctx, args[0], usersSearchLimit)
		if err := resultError(res); err != nil {
			return err
		}
		fmt.Println(string(res.Data))
		return nil
	},
}
