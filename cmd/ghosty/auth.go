package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	ghosty "github.com/ghosty-im/ghosty-go"
)

var (
	authHost string
	authPort int

	registerDisplayName string
)

func init() {
	for _, cmd := range []*cobra.Command{loginCmd, registerCmd} {
		cmd.Flags().StringVar(&authHost, "host", "", "Server host (default from settings or GHOSTY_HOST)")
		cmd.Flags().IntVar(&authPort, "port", 0, "Server port (default from settings or GHOSTY_PORT)")
	}
	registerCmd.Flags().StringVar(&registerDisplayName, "display-name", "", "Display name (defaults to the username)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(profileCmd)
}

// ============================================================================
// login / register
// ============================================================================

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Sign in and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, e, err := newEngine(ghosty.ForegroundOnly())
		if err != nil {
			return err
		}
		defer engine.Close()

		password, err := readPassword(e, "Password: ")
		if err != nil {
			return err
		}
		host, port := serverAddress(engine, e, authHost, authPort)

		ctx, cancel := timeoutCtx()
		defer cancel()
		if err := engine.Login(ctx, host, port, args[0], password); err != nil {
			return authFailure(err)
		}

		id := engine.Session().Identity()
		fmt.Printf("Signed in as %s (user %d) on %s:%d\n", id.Username, id.UserID, host, port)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account and sign in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, e, err := newEngine(ghosty.ForegroundOnly())
		if err != nil {
			return err
		}
		defer engine.Close()

		password, err := readPassword(e, "Choose a password: ")
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}
		host, port := serverAddress(engine, e, authHost, authPort)

		ctx, cancel := timeoutCtx()
		defer cancel()
		if err := engine.Register(ctx, host, port, args[0], registerDisplayName, password); err != nil {
			return authFailure(err)
		}

		id := engine.Session().Identity()
		fmt.Printf("Registered %s (user %d)\n", id.Username, id.UserID)
		return nil
	},
}

func authFailure(err error) error {
	var authErr *ghosty.AuthError
	if errors.As(err, &authErr) {
		return fmt.Errorf("%s error: %s", authErr.Kind, authErr.Message)
	}
	return err
}

// ============================================================================
// logout
// ============================================================================

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the session token and forget it locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := timeoutCtx()
		defer cancel()

		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		engine.Logout(ctx)
		fmt.Println("Signed out.")
		return nil
	},
}

// ============================================================================
// status
// ============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session and check it against the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, err := newEngine(ghosty.ForegroundOnly())
		if err != nil {
			return err
		}
		defer engine.Close()

		cfg, err := engine.Settings().Load()
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		host, port := cfg.ServerAddress()

		fmt.Println("Server:")
		fmt.Printf("  Address:  %s:%d\n", host, port)
		fmt.Println()
		fmt.Println("Session:")
		fmt.Printf("  Username: %s\n", valueOrDefault(cfg.Profile.Username, "(not signed in)"))
		if cfg.Profile.UserID != 0 {
			fmt.Printf("  User ID:  %d\n", cfg.Profile.UserID)
		}
		if cfg.Auth.Token == "" {
			fmt.Println("  Token:    none")
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if engine.Restore(ctx) {
			fmt.Println("  Token:    valid")
		} else {
			fmt.Println("  Token:    rejected or server unreachable (cleared)")
		}
		return nil
	},
}

// ============================================================================
// profile
// ============================================================================

var profileCmd = &cobra.Command{
	Use:   "profile <display-name>",
	Short: "Change your display name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := timeoutCtx()
		defer cancel()

		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := resultError(engine.UpdateProfile(ctx, args[0])); err != nil {
			return err
		}
		fmt.Printf("Display name set to %s\n", args[0])
		return nil
	},
}
