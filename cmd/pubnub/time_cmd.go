package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newTimeCommand(state *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Print the service timetoken",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := state.newClient()
			if err != nil {
				return err
			}
			defer client.Destroy()

			timetoken, err := client.Time(cmd.Context())
			if err != nil {
				return fmt.Errorf("time: %w", err)
			}
			at := timetokenTime(timetoken)
			out := cmd.OutOrStdout()
			switch output {
			case "json":
				return json.NewEncoder(out).Encode(map[string]any{
					"timetoken": timetoken,
					"time":      at.UTC().Format(time.RFC3339Nano),
				})
			case "text", "":
				_, err = fmt.Fprintf(out, "%d %s (%s)\n", timetoken, at.UTC().Format(time.RFC3339), humanize.Time(at))
				return err
			}
			return fmt.Errorf("output: unknown format %q", output)
		},
	}
	cmd.Flags().StringVar(&output, "output", "text", "output format (text, json)")
	return cmd
}
