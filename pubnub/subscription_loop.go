package pubnub

import (
	"bytes"
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"

	"github.com/Thejuampi/pubnub-client-go/pubnub/internal/crypto"
)

type loopCommandKind int

const (
	commandSubscribe loopCommandKind = iota
	commandUnsubscribe
	commandReconnect
	commandDisconnect
)

// loopCommand asks the loop to act on a change the facade already applied
// to the subscription set. channels and groups name the affected members.
type loopCommand struct {
	kind     loopCommandKind
	channels []string
	groups   []string
}

// commandQueue is unbounded so facade calls never block, including calls
// made from listener callbacks running on the loop goroutine.
type commandQueue struct {
	lock    sync.Mutex
	pending []loopCommand
	signal  chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{signal: make(chan struct{}, 1)}
}

func (queue *commandQueue) push(command loopCommand) {
	queue.lock.Lock()
	queue.pending = append(queue.pending, command)
	queue.lock.Unlock()
	select {
	case queue.signal <- struct{}{}:
	default:
	}
}

func (queue *commandQueue) drain() []loopCommand {
	queue.lock.Lock()
	defer queue.lock.Unlock()
	pending := queue.pending
	queue.pending = nil
	return pending
}

type pollOutcome struct {
	host string
	data []byte
	err  error
}

type activePoll struct {
	host    string
	cancel  context.CancelFunc
	results chan pollOutcome
}

type loopSettings struct {
	policy        ReconnectionPolicy
	threshold     int
	maxRetries    int
	suppressLeave bool
	cipher        *crypto.Cipher
	requests      *requestFactory
	transport     Transport
	selector      EndpointSelector
	strategy      ReconnectDelayStrategy
	set           *subscriptionSet
	listeners     *listenerRegistry
	metrics       *clientMetrics
	logger        pslog.Base
	owner         *Client
}

// subscriptionLoop is the single writer of the connection status, the
// cursor and the failure counters. Everything else talks to it through
// its command queue.
type subscriptionLoop struct {
	loopSettings

	queue      *commandQueue
	async      chan Status
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	background sync.WaitGroup

	state     atomic.Int32
	cursor    atomic.Int64
	goroutine atomic.Uint64

	region   int
	failures int
	attempts int
	resumed  bool
	poll     *activePoll
	timer    *time.Timer
}

func newSubscriptionLoop(settings loopSettings) *subscriptionLoop {
	if settings.logger == nil {
		settings.logger = pslog.NoopLogger()
	}
	if settings.threshold <= 0 {
		settings.threshold = DefaultFailoverThreshold
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &subscriptionLoop{
		loopSettings: settings,
		queue:        newCommandQueue(),
		async:        make(chan Status, 16),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	loop.state.Store(int32(StatusDisconnected))
	return loop
}

func (loop *subscriptionLoop) start() {
	go loop.run()
}

func (loop *subscriptionLoop) status() ConnectionStatus {
	return ConnectionStatus(loop.state.Load())
}

func (loop *subscriptionLoop) timetoken() int64 {
	return loop.cursor.Load()
}

// submit queues command. It reports false once the loop has stopped.
func (loop *subscriptionLoop) submit(command loopCommand) bool {
	if loop.ctx.Err() != nil {
		return false
	}
	loop.queue.push(command)
	return true
}

// stop cancels every wait and blocks until the loop goroutine has exited.
// Called on the loop goroutine itself, from a listener callback, it only
// cancels.
func (loop *subscriptionLoop) stop() {
	loop.cancel()
	if loop.onLoopGoroutine() {
		return
	}
	<-loop.done
}

func (loop *subscriptionLoop) onLoopGoroutine() bool {
	id := loop.goroutine.Load()
	return id != 0 && id == currentGoroutineID()
}

// currentGoroutineID parses the id from the "goroutine N [" stack header.
func currentGoroutineID() uint64 {
	var buffer [64]byte
	header := buffer[:runtime.Stack(buffer[:], false)]
	header = bytes.TrimPrefix(header, []byte("goroutine "))
	if end := bytes.IndexByte(header, ' '); end > 0 {
		header = header[:end]
	}
	id, err := strconv.ParseUint(string(header), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (loop *subscriptionLoop) run() {
	defer close(loop.done)
	loop.goroutine.Store(currentGoroutineID())
	for {
		var results <-chan pollOutcome
		if loop.poll != nil {
			results = loop.poll.results
		}
		var retry <-chan time.Time
		if loop.timer != nil {
			retry = loop.timer.C
		}

		select {
		case <-loop.ctx.Done():
			loop.shutdown()
			return
		case <-loop.queue.signal:
			for _, command := range loop.queue.drain() {
				if loop.ctx.Err() != nil {
					break
				}
				loop.apply(command)
			}
		case outcome := <-results:
			loop.poll.cancel()
			loop.poll = nil
			loop.handleOutcome(outcome)
		case <-retry:
			loop.timer = nil
			loop.startPoll()
		case status := <-loop.async:
			loop.announceStatus(status)
		}
	}
}

func (loop *subscriptionLoop) shutdown() {
	loop.stopPoll()
	loop.stopTimer()
	loop.background.Wait()
	loop.state.Store(int32(StatusUnsubscribed))
	loop.logger.Debug("subscribe.loop.stopped", "cursor", loop.cursor.Load())
}

func (loop *subscriptionLoop) apply(command loopCommand) {
	switch command.kind {
	case commandSubscribe:
		loop.applySubscribe(command)
	case commandUnsubscribe:
		loop.applyUnsubscribe(command)
	case commandReconnect:
		loop.applyReconnect()
	case commandDisconnect:
		loop.applyDisconnect()
	}
}

func (loop *subscriptionLoop) applySubscribe(command loopCommand) {
	if loop.set.isEmpty() {
		return
	}
	switch loop.status() {
	case StatusDisconnected, StatusUnsubscribed:
		loop.stopTimer()
		loop.cursor.Store(0)
		loop.region = 0
		loop.resetFailures()
		loop.resumed = false
		loop.transition(StatusConnecting, Status{
			Category:              CategoryConnecting,
			Operation:             OperationSubscribe,
			AffectedChannels:      command.channels,
			AffectedChannelGroups: command.groups,
		})
		loop.startPoll()
	default:
		// The next request carries the new members; a pending retry keeps its timer.
		loop.refreshPoll()
	}
}

func (loop *subscriptionLoop) applyUnsubscribe(command loopCommand) {
	if len(command.channels) == 0 && len(command.groups) == 0 {
		return
	}
	if !loop.suppressLeave {
		loop.sendLeave(command.channels, command.groups)
	}
	if !loop.set.isEmpty() {
		loop.refreshPoll()
		return
	}
	loop.stopPoll()
	loop.stopTimer()
	loop.cursor.Store(0)
	loop.region = 0
	loop.resetFailures()
	if loop.status() == StatusUnsubscribed {
		return
	}
	loop.transition(StatusUnsubscribed, Status{
		Category:              CategoryAcknowledgment,
		Operation:             OperationUnsubscribe,
		AffectedChannels:      command.channels,
		AffectedChannelGroups: command.groups,
	})
}

func (loop *subscriptionLoop) applyReconnect() {
	if loop.set.isEmpty() {
		return
	}
	loop.stopTimer()
	loop.stopPoll()
	loop.resetFailures()
	loop.resumed = true
	loop.transition(StatusConnecting, Status{Category: CategoryConnecting, Operation: OperationReconnect})
	loop.startPoll()
}

func (loop *subscriptionLoop) applyDisconnect() {
	loop.stopPoll()
	loop.stopTimer()
	if loop.status() == StatusDisconnected {
		return
	}
	loop.transition(StatusDisconnected, Status{Category: CategoryDisconnected, Operation: OperationDisconnect})
}

func (loop *subscriptionLoop) resetFailures() {
	loop.failures = 0
	loop.attempts = 0
}

func (loop *subscriptionLoop) startPoll() {
	if loop.poll != nil || loop.ctx.Err() != nil {
		return
	}
	channels, groups := loop.set.requestLists()
	if len(channels) == 0 && len(groups) == 0 {
		return
	}
	host := loop.selector.Current()
	request := loop.requests.subscribe(host, channels, groups, loop.cursor.Load(), loop.region)
	ctx, cancel := context.WithCancel(loop.ctx)
	poll := &activePoll{host: host, cancel: cancel, results: make(chan pollOutcome, 1)}
	loop.poll = poll
	loop.logger.Trace("subscribe.poll.start", "host", host, "cursor", loop.cursor.Load(), "channels", len(channels), "groups", len(groups))

	go func() {
		data, err := loop.transport.Subscribe(ctx, request)
		poll.results <- pollOutcome{host: host, data: data, err: err}
	}()
}

// stopPoll cancels the in-flight poll and waits for its goroutine, so at
// most one poll is ever outstanding.
func (loop *subscriptionLoop) stopPoll() {
	if loop.poll == nil {
		return
	}
	loop.poll.cancel()
	<-loop.poll.results
	loop.poll = nil
}

// refreshPoll rebuilds the in-flight poll for the current set. With no
// poll and no pending retry while active it starts one: startPoll skips an
// empty set, and members may have been re-added after that.
func (loop *subscriptionLoop) refreshPoll() {
	if loop.poll != nil {
		loop.stopPoll()
		loop.startPoll()
		return
	}
	if loop.timer != nil {
		return
	}
	switch loop.status() {
	case StatusConnecting, StatusConnected, StatusReconnecting:
		loop.startPoll()
	}
}

func (loop *subscriptionLoop) scheduleRetry(delay time.Duration) {
	loop.stopTimer()
	loop.timer = time.NewTimer(delay)
}

func (loop *subscriptionLoop) stopTimer() {
	if loop.timer == nil {
		return
	}
	loop.timer.Stop()
	loop.timer = nil
}

func (loop *subscriptionLoop) handleOutcome(outcome pollOutcome) {
	if loop.ctx.Err() != nil {
		return
	}
	if outcome.err == nil {
		response, err := decodeSubscribeResponse(outcome.data, loop.cipher)
		if err == nil {
			loop.handleSuccess(outcome.host, response)
			return
		}
		outcome.err = err
	}
	loop.handleFailure(outcome.host, outcome.err)
}

func (loop *subscriptionLoop) handleSuccess(host string, response subscribeResponse) {
	loop.metrics.recordPoll(loop.ctx, host, nil)
	previous := loop.status()
	loop.resetFailures()

	for _, event := range response.events {
		if loop.ctx.Err() != nil {
			return
		}
		switch {
		case event.presence != nil:
			loop.metrics.recordEvent(loop.ctx, "presence")
			loop.announcePresence(*event.presence)
		case event.message != nil:
			loop.metrics.recordEvent(loop.ctx, "message")
			loop.announceMessage(*event.message)
			if event.decryptErr != nil {
				loop.logger.Warn("subscribe.decrypt.error", "channel", event.message.Channel, "timetoken", event.timetoken, "error", event.decryptErr)
				loop.announceStatus(Status{
					Category:         CategoryDecryptionError,
					Operation:        OperationSubscribe,
					State:            previous,
					Host:             host,
					AffectedChannels: []string{event.message.Channel},
					Cursor:           event.timetoken,
					Err:              event.decryptErr,
				})
			}
		}
	}
	if loop.ctx.Err() != nil {
		return
	}

	if response.cursor >= loop.cursor.Load() {
		loop.cursor.Store(response.cursor)
	}
	loop.region = response.region

	if previous != StatusConnected {
		category := CategoryConnected
		if previous == StatusReconnecting || loop.resumed {
			category = CategoryReconnected
		}
		loop.resumed = false
		channels, groups := loop.set.names()
		loop.transition(StatusConnected, Status{
			Category:              category,
			Operation:             OperationSubscribe,
			Host:                  host,
			AffectedChannels:      channels,
			AffectedChannelGroups: groups,
		})
	}
	loop.startPoll()
}

func (loop *subscriptionLoop) handleFailure(host string, err error) {
	loop.metrics.recordPoll(loop.ctx, host, err)
	channels, groups := loop.set.names()
	status := Status{
		Category:              categoryForError(err),
		Operation:             OperationSubscribe,
		Host:                  host,
		AffectedChannels:      channels,
		AffectedChannelGroups: groups,
		StatusCode:            statusCodeOf(err),
		Err:                   err,
	}

	if !IsTransportFailure(err) {
		loop.logger.Error("subscribe.poll.rejected", "host", host, "error", err)
		loop.resetFailures()
		loop.transition(StatusDisconnected, status)
		return
	}

	loop.failures++
	loop.attempts++
	loop.logger.Warn("subscribe.poll.error", "host", host, "failures", loop.failures, "attempt", loop.attempts, "error", err)

	if loop.policy == ReconnectionPolicyNone {
		loop.resetFailures()
		loop.transition(StatusDisconnected, status)
		return
	}
	if loop.maxRetries > 0 && loop.attempts > loop.maxRetries {
		loop.logger.Error("subscribe.retries.exhausted", "host", host, "attempts", loop.attempts-1)
		status.Category = CategoryReconnectionAttemptsExhausted
		loop.resetFailures()
		loop.transition(StatusDisconnected, status)
		return
	}

	if loop.failures >= loop.threshold {
		next := loop.selector.Failover()
		loop.failures = 0
		status.FailedOver = true
		status.Host = next
		loop.metrics.recordFailover(loop.ctx, host, next)
		loop.logger.Info("subscribe.failover", "from", host, "to", next, "threshold", loop.threshold)
	}

	var delay time.Duration
	if loop.strategy != nil {
		delay = loop.strategy.RetryDelay(loop.attempts)
	}
	status.RetryIn = delay
	loop.scheduleRetry(delay)
	loop.transition(StatusReconnecting, status)
}

func (loop *subscriptionLoop) sendLeave(channels []string, groups []string) {
	host := loop.selector.Current()
	request := loop.requests.leave(host, channels, groups)
	loop.background.Add(1)
	go func() {
		defer loop.background.Done()
		_, err := loop.transport.Transaction(loop.ctx, request)
		if loop.ctx.Err() != nil {
			return
		}
		status := Status{
			Category:              CategoryAcknowledgment,
			Operation:             OperationLeave,
			Host:                  host,
			AffectedChannels:      channels,
			AffectedChannelGroups: groups,
		}
		if err != nil {
			loop.logger.Warn("leave.error", "host", host, "error", err)
			status.Category = categoryForError(err)
			status.StatusCode = statusCodeOf(err)
			status.Err = err
		}
		select {
		case loop.async <- status:
		case <-loop.ctx.Done():
		}
	}()
}

func (loop *subscriptionLoop) transition(next ConnectionStatus, status Status) {
	previous := loop.status()
	loop.state.Store(int32(next))
	status.State = next
	if status.Cursor == 0 {
		status.Cursor = loop.cursor.Load()
	}
	loop.logger.Debug("subscribe.state", "from", previous.String(), "to", next.String(), "category", status.Category.String())
	loop.announceStatus(status)
}

func (loop *subscriptionLoop) announceStatus(status Status) {
	if loop.ctx.Err() != nil {
		return
	}
	loop.listeners.announceStatus(loop.owner, status)
}

func (loop *subscriptionLoop) announceMessage(message MessageEvent) {
	loop.listeners.announceMessage(loop.owner, message)
}

func (loop *subscriptionLoop) announcePresence(presence PresenceEvent) {
	loop.listeners.announcePresence(loop.owner, presence)
}
