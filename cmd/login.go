package cmd

import (
	"fmt"
	"strings"

	"github.com/kernel/tplsync/internal/config"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save a Kernel API key in the system keyring",
	Long: `Save a Kernel API key in the system keyring so later commands can use it
without --api-key or KERNEL_API_KEY.

Without --api-key you are prompted for the key.`,
	Example: `  tplsync login --api-key sk_...`,
	Args:    cobra.NoArgs,
	RunE:    runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the saved Kernel API key",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

// keyPrompt reads the key interactively. Tests replace it.
var keyPrompt = func() (string, error) {
	return pterm.DefaultInteractiveTextInput.WithMask("*").Show("Kernel API key")
}

func runLogin(cmd *cobra.Command, args []string) error {
	apiKey, _ := cmd.Flags().GetString("api-key")
	if strings.TrimSpace(apiKey) == "" {
		var err error
		apiKey, err = keyPrompt()
		if err != nil {
			return fmt.Errorf("failed to read api key: %w", err)
		}
	}
	if err := config.SaveAPIKey(apiKey); err != nil {
		return err
	}
	pterm.Success.Println("Saved Kernel API key to the system keyring")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	existed, err := config.DeleteAPIKey()
	if err != nil {
		return err
	}
	if !existed {
		pterm.Info.Println("No saved Kernel API key")
		return nil
	}
	pterm.Success.Println("Removed the saved Kernel API key")
	return nil
}
