package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Nikhilk147/RepoScan/internal/auth"
)

var tokenSave bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage daemon API tokens",
	Long: `Generate tokens for authenticating with the daemon API.

Tokens are shown once; only a bcrypt hash is stored on disk. Point
daemon.auth.tokenFile at the hash file and set daemon.auth.enabled
to require the token on API requests.`,
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API token",
	Long: `Generate a new API token.

Examples:
  reposcan token generate
  reposcan token generate --save`,
	RunE: runTokenGenerate,
}

func init() {
	tokenGenerateCmd.Flags().BoolVar(&tokenSave, "save", false, "Save the token hash to the data directory")
	tokenCmd.AddCommand(tokenGenerateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenGenerate(cmd *cobra.Command, args []string) error {
	token, err := auth.GenerateToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	fmt.Printf("Token: %s\n", token)
	fmt.Println("Store it now; it will not be shown again.")

	if !tokenSave {
		return nil
	}

	hash, err := auth.HashToken(token)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	hashPath := filepath.Join(resolveDataDir(), "token.hash")
	if err := auth.SaveTokenHash(hashPath, hash); err != nil {
		return fmt.Errorf("failed to save token hash: %w", err)
	}

	fmt.Printf("Hash saved to %s\n", hashPath)
	fmt.Println("Set daemon.auth.tokenFile to this path and enable daemon.auth to require it.")
	return nil
}
