package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thejuampi/pubnub-client-go/pubnub"
)

type subscribeOptions struct {
	channels      []string
	groups        []string
	presence      bool
	count         int
	duration      time.Duration
	output        string
	metricsListen string
}

// eventTail writes listener events to out, one line each.
type eventTail struct {
	lock     sync.Mutex
	out      io.Writer
	output   string
	limit    int
	received int
	done     chan struct{}
	once     sync.Once
	err      error
}

func newTail(out io.Writer, output string, limit int) *eventTail {
	return &eventTail{out: out, output: output, limit: limit, done: make(chan struct{})}
}

func (tail *eventTail) Status(_ *pubnub.Client, status pubnub.Status) {
	record := map[string]any{
		"type":      "status",
		"category":  status.Category.String(),
		"operation": status.Operation.String(),
		"state":     status.State.String(),
		"host":      status.Host,
	}
	if status.Err != nil {
		record["error"] = status.Err.Error()
	}
	if status.RetryIn > 0 {
		record["retry_in"] = status.RetryIn.String()
	}
	tail.write(record, fmt.Sprintf("* %s %s (%s) host=%s", status.Category, status.Operation, status.State, status.Host))
	if status.State == pubnub.StatusDisconnected && status.IsError() {
		tail.finish(fmt.Errorf("subscription stopped: %w", status.Err))
	}
}

func (tail *eventTail) Message(_ *pubnub.Client, message pubnub.MessageEvent) {
	record := map[string]any{
		"type":         "message",
		"channel":      message.Channel,
		"subscription": message.Subscription,
		"timetoken":    message.Timetoken,
		"publisher":    message.Publisher,
		"payload":      message.Payload,
	}
	if message.UserMetadata != nil {
		record["meta"] = message.UserMetadata
	}
	payload, _ := json.Marshal(message.Payload)
	tail.write(record, fmt.Sprintf("[%s] %s %s: %s", message.Channel, humanize.Time(timetokenTime(message.Timetoken)), message.Publisher, payload))
	tail.count()
}

func (tail *eventTail) Presence(_ *pubnub.Client, presence pubnub.PresenceEvent) {
	record := map[string]any{
		"type":      "presence",
		"channel":   presence.Channel,
		"event":     presence.Event,
		"uuid":      presence.UUID,
		"occupancy": presence.Occupancy,
		"timetoken": presence.Timetoken,
	}
	tail.write(record, fmt.Sprintf("[%s] %s %s (occupancy %s)", presence.Channel, presence.UUID, presence.Event, humanize.Comma(int64(presence.Occupancy))))
}

func (tail *eventTail) write(record map[string]any, text string) {
	tail.lock.Lock()
	defer tail.lock.Unlock()
	if tail.output == "json" {
		_ = json.NewEncoder(tail.out).Encode(record)
		return
	}
	_, _ = fmt.Fprintln(tail.out, text)
}

func (tail *eventTail) count() {
	tail.lock.Lock()
	tail.received++
	reached := tail.limit > 0 && tail.received >= tail.limit
	tail.lock.Unlock()
	if reached {
		tail.finish(nil)
	}
}

func (tail *eventTail) finish(err error) {
	tail.once.Do(func() {
		tail.err = err
		close(tail.done)
	})
}

func (tail *eventTail) total() int {
	tail.lock.Lock()
	defer tail.lock.Unlock()
	return tail.received
}

func newSubscribeCommand(state *cli) *cobra.Command {
	var options subscribeOptions
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe and print events as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(options.channels) == 0 && len(options.groups) == 0 {
				return fmt.Errorf("at least one --channel or --group is required")
			}
			if options.output != "text" && options.output != "json" {
				return fmt.Errorf("output: unknown format %q", options.output)
			}
			return runSubscribe(cmd, state, options)
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVarP(&options.channels, "channel", "c", nil, "channel to subscribe to (repeatable)")
	flags.StringSliceVarP(&options.groups, "group", "g", nil, "channel group to subscribe to (repeatable)")
	flags.BoolVar(&options.presence, "presence", false, "also receive presence events")
	flags.IntVar(&options.count, "count", 0, "exit after this many messages (0 runs until interrupted)")
	flags.DurationVar(&options.duration, "duration", 0, "exit after this long (0 runs until interrupted)")
	flags.StringVar(&options.output, "output", "text", "output format (text, json)")
	flags.StringVar(&options.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	return cmd
}

func runSubscribe(cmd *cobra.Command, state *cli, options subscribeOptions) error {
	metrics, err := startMetricsServer(options.metricsListen, state.logger)
	if err != nil {
		return err
	}
	var clientOptions []pubnub.Option
	if metrics != nil {
		clientOptions = append(clientOptions, pubnub.WithMeterProvider(metrics.provider))
	}
	client, err := state.newClient(clientOptions...)
	if err != nil {
		if metrics != nil {
			_ = metrics.provider.Shutdown(context.Background())
			_ = metrics.listener.Close()
		}
		return err
	}

	ctx := cmd.Context()
	if options.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.duration)
		defer cancel()
	}
	group, ctx := errgroup.WithContext(ctx)
	events := newTail(cmd.OutOrStdout(), options.output, options.count)
	client.AddListener(events)

	group.Go(func() error { return metrics.serve(ctx) })
	group.Go(func() error {
		defer client.Destroy()
		if err := client.Subscribe(pubnub.SubscribeOptions{
			Channels:      options.channels,
			ChannelGroups: options.groups,
			WithPresence:  options.presence,
		}); err != nil {
			return err
		}
		select {
		case <-events.done:
			if events.err != nil {
				return events.err
			}
			return errStopTail
		case <-ctx.Done():
			return nil
		}
	})

	err = group.Wait()
	if errors.Is(err, errStopTail) {
		err = nil
	}
	state.logger.Info("subscribe.finished", "messages", humanize.Comma(int64(events.total())), "cursor", client.Timetoken())
	return err
}

// errStopTail ends the errgroup once the message limit is reached.
var errStopTail = errors.New("message limit reached")
