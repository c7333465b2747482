package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Ghosty settings",
	Long:  "View or modify the settings stored in ~/.ghosty/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings file",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		store, err := settingsStore(e)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(store.Path())
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No settings file found. Run 'ghosty login <username>' to create one.")
				return nil
			}
			return fmt.Errorf("cannot read settings file: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a settings value",
	Long:  "Set a settings value using dot notation.\nExample: ghosty config set server.host chat.example.com",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		e, err := loadEnv()
		if err != nil {
			return err
		}
		store, err := settingsStore(e)
		if err != nil {
			return err
		}
		cfg, err := store.Load()
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		if err := cfg.Set(key, value); err != nil {
			return err
		}
		if err := store.Save(cfg); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		store, err := settingsStore(e)
		if err != nil {
			return err
		}
		fmt.Println(store.Path())
		return nil
	},
}
