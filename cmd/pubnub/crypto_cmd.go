package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newEncryptCommand(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Encrypt a payload with the cipher key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := state.cipherKey()
			if err != nil {
				return err
			}
			client, err := state.newClient()
			if err != nil {
				return err
			}
			defer client.Destroy()

			ciphertext, err := client.EncryptWithKey(args[0], key)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), ciphertext)
			return err
		},
	}
}

func newDecryptCommand(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <ciphertext>",
		Short: "Decrypt a payload with the cipher key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := state.cipherKey()
			if err != nil {
				return err
			}
			client, err := state.newClient()
			if err != nil {
				return err
			}
			defer client.Destroy()

			plaintext, err := client.DecryptWithKey(strings.TrimSpace(args[0]), key)
			if err != nil {
				return fmt.Errorf("decrypt: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), plaintext)
			return err
		},
	}
}

func (state *cli) cipherKey() (string, error) {
	key := state.viper.GetString("cipher-key")
	if key == "" {
		return "", fmt.Errorf("cipher-key is required")
	}
	return key, nil
}
