package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thejuampi/pubnub-client-go/pubnub"
)

type publishOptions struct {
	meta    string
	ttl     int
	store   bool
	noStore bool
	post    bool
	raw     bool
	output  string
}

func newPublishCommand(state *cli, fire bool) *cobra.Command {
	var options publishOptions
	use, short := "publish <channel> <message>", "Publish a message to a channel"
	if fire {
		use, short = "fire <channel> <message>", "Publish without storage or replication"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := state.newClient()
			if err != nil {
				return err
			}
			defer client.Destroy()

			message := parseMessage(args[1], options.raw)
			publish := pubnub.PublishOptions{TTL: options.ttl, UsePOST: options.post}
			if options.meta != "" {
				if !json.Valid([]byte(options.meta)) {
					return fmt.Errorf("meta: invalid JSON %q", options.meta)
				}
				publish.Meta = json.RawMessage(options.meta)
			}
			switch {
			case options.store:
				stored := true
				publish.Store = &stored
			case options.noStore:
				stored := false
				publish.Store = &stored
			}

			call := client.Publish
			if fire {
				call = client.Fire
			}
			result, err := call(cmd.Context(), args[0], message, publish)
			if err != nil {
				return fmt.Errorf("publish %s (sequence %d): %w", args[0], result.Sequence, err)
			}
			return writePublishResult(cmd, options.output, args[0], result)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&options.meta, "meta", "", "JSON metadata for server-side filtering")
	flags.IntVar(&options.ttl, "ttl", 0, "storage lifetime in hours (0 uses the key default)")
	flags.BoolVar(&options.post, "post", false, "send the message in a POST body")
	flags.BoolVar(&options.raw, "raw", false, "send the message as a string even when it parses as JSON")
	flags.StringVar(&options.output, "output", "text", "output format (text, json)")
	if !fire {
		flags.BoolVar(&options.store, "store", false, "force storage in history")
		flags.BoolVar(&options.noStore, "no-store", false, "skip storage in history")
		cmd.MarkFlagsMutuallyExclusive("store", "no-store")
	}
	return cmd
}

// parseMessage treats valid JSON as a JSON value and anything else as a string.
func parseMessage(value string, raw bool) any {
	trimmed := strings.TrimSpace(value)
	if !raw && trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return value
}

func writePublishResult(cmd *cobra.Command, output string, channel string, result pubnub.PublishResult) error {
	out := cmd.OutOrStdout()
	switch output {
	case "json":
		return json.NewEncoder(out).Encode(map[string]any{
			"channel":   channel,
			"timetoken": result.Timetoken,
			"sequence":  result.Sequence,
		})
	case "text", "":
		_, err := fmt.Fprintf(out, "published channel=%s timetoken=%d sequence=%d\n", channel, result.Timetoken, result.Sequence)
		return err
	}
	return fmt.Errorf("output: unknown format %q", output)
}
