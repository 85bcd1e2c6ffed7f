package commands

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
)

func newMasterKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "master-key",
		Short: "Manage the master key kept in the OS keyring",
	}
	cmd.AddCommand(newMasterKeySetCommand(), newMasterKeyStatusCommand(), newMasterKeyClearCommand())
	return cmd
}

func newMasterKeySetCommand() *cobra.Command {
	var generate bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the master key, read from stdin or generated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var material string
			if generate {
				buf := make([]byte, 32)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				material = base64.StdEncoding.EncodeToString(buf)
			} else {
				m, err := readSecret(cmd.InOrStdin(), "-")
				if err != nil {
					return err
				}
				material = m
			}
			if err := keyring.Set(KeyringService, KeyringAccount, material); err != nil {
				return fmt.Errorf("write keyring: %w", err)
			}
			if generate {
				// Printed once so it can be copied into the server's MASTER_KEY.
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), material)
			}
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "master key stored in keyring")
			return nil
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "Generate a random 32-byte key")
	return cmd
}

func newMasterKeyStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a master key is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := keyring.Get(KeyringService, KeyringAccount)
			switch {
			case err == nil:
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "stored")
			case errors.Is(err, keyring.ErrNotFound):
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "not stored")
			default:
				return fmt.Errorf("read keyring: %w", err)
			}
			return nil
		},
	}
}

func newMasterKeyClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored master key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := keyring.Delete(KeyringService, KeyringAccount); err != nil && !errors.Is(err, keyring.ErrNotFound) {
				return fmt.Errorf("delete keyring entry: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}
}
