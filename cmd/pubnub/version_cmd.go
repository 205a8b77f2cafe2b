package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thejuampi/pubnub-client-go/pubnub"
)

func newVersionCommand() *cobra.Command {
	var semver bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if semver {
				info := pubnub.SDKVersion()
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "v%s\n", info)
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pubnub-client-go %s\n", pubnub.Version)
			return err
		},
	}
	cmd.Flags().BoolVar(&semver, "semver", false, "print only the semantic version")
	return cmd
}
