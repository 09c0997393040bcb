package rshuffle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/grailbio/base/retry"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/rshuffle/framing"
	"github.com/arloliu/rshuffle/internal/natsutil"
	"github.com/arloliu/rshuffle/strategy"
)

// TaskAttempt identifies the producer task attempt that owns a writer.
type TaskAttempt struct {
	ExecutorID         string
	StageID            int32
	StageAttemptNumber int32
	TaskAttemptID      int64
}

// Token returns the freshness token of the attempt.
func (t TaskAttempt) Token() Token {
	return Token{StageAttempt: t.StageAttemptNumber, TaskAttempt: t.TaskAttemptID}
}

// ShuffleWriter frames the records of one task attempt into per-partition
// blocks and ships them to the servers assigned to each partition.
//
// When a send fails after its local retries, the writer reports the failed
// servers to the authority and continues on the server set it gets back:
//
//	Assigned -> FailureDetected -> ReassignRequested -> Reassigned | Split -> Assigned
//
// A writer is owned by a single task attempt and is not safe for concurrent
// use. Once a call fails with a fatal error, every later call returns it.
type ShuffleWriter struct {
	cfg         Config
	shuffleID   int32
	task        TaskAttempt
	auth        Authority
	transport   Transport
	codec       framing.Codec
	router      BlockRouter
	partitioner Partitioner
	policy      retry.Policy

	logger  Logger
	metrics MetricsCollector
	hooks   Hooks

	partitions    map[int32]*partitionWriter
	receipts      []BlockReceipt
	reassignments int
	committed     bool
	failed        error
}

// partitionWriter holds the open block and the assignment view of one partition.
type partitionWriter struct {
	key    PartitionKey
	buf    bytes.Buffer
	framer *framing.Writer
	seq    int32
	state  PartitionState
	view   Assignment
	loaded bool
}

// NewShuffleWriter creates a writer for one task attempt of shuffleID.
//
// Parameters:
//   - cfg: Configuration; defaults are applied to a copy
//   - shuffleID: Shuffle the records belong to
//   - task: Identity of the producing task attempt
//   - auth: Accepting authority (in-process or NATS client)
//   - transport: Byte-stream transport to shuffle servers
//   - opts: Optional Logger, MetricsCollector, Hooks, BlockRouter, Partitioner
//
// Returns:
//   - *ShuffleWriter: Writer ready to accept records
//   - error: ErrInvalidConfig for invalid configuration or missing collaborators
func NewShuffleWriter(cfg *Config, shuffleID int32, task TaskAttempt, auth Authority, transport Transport, opts ...Option) (*ShuffleWriter, error) {
	if auth == nil || transport == nil {
		return nil, fmt.Errorf("%w: authority and transport are required", ErrInvalidConfig)
	}
	if shuffleID < 0 {
		return nil, fmt.Errorf("%w: negative shuffle id %d", ErrInvalidConfig, shuffleID)
	}

	c, err := prepare(cfg)
	if err != nil {
		return nil, err
	}

	codec, err := framing.Lookup(c.Client.Codec)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	router := o.router
	if router == nil {
		router, err = strategy.NewRouter(c.Client.Routing)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	o.logger.Debug("shuffle writer created",
		"shuffle_id", shuffleID,
		"task_attempt_id", task.TaskAttemptID,
		"stage_attempt", task.StageAttemptNumber,
		"codec", codec.Name(),
	)

	return &ShuffleWriter{
		cfg:         c,
		shuffleID:   shuffleID,
		task:        task,
		auth:        auth,
		transport:   transport,
		codec:       codec,
		router:      router,
		partitioner: o.partitioner,
		policy:      retry.Backoff(c.Client.RetryInitialBackoff, c.Client.RetryMaxBackoff, c.Client.RetryBackoffFactor),
		logger:      o.logger,
		metrics:     o.metrics,
		hooks:       o.resolvedHooks(),
		partitions:  make(map[int32]*partitionWriter),
	}, nil
}

// Write appends one record to the open block of partition.
//
// A block is shipped early when its framed size reaches
// Config.Client.MaxBlockSize. A record whose key or value cannot be framed
// is rejected with ErrEncodingOverflow and leaves the block untouched.
func (w *ShuffleWriter) Write(ctx context.Context, partition int32, key, value []byte) error {
	if w.failed != nil {
		return w.failed
	}
	if w.committed {
		return ErrStreamClosed
	}
	if partition < 0 {
		return fmt.Errorf("%w: %d", ErrPartitionOutOfRange, partition)
	}

	p := w.partition(partition)
	if p.framer == nil {
		p.framer = w.codec.NewWriter(&p.buf)
	}
	if err := p.framer.WriteRecord(key, value); err != nil {
		return err
	}

	if limit := w.cfg.Client.MaxBlockSize; limit > 0 && p.framer.TotalBytesWritten() >= limit {
		return w.flush(ctx, p)
	}

	return nil
}

// WriteKey appends one record to the partition its key maps to.
//
// Returns ErrPartitionerRequired unless the writer was built WithPartitioner.
func (w *ShuffleWriter) WriteKey(ctx context.Context, key, value []byte) error {
	if w.partitioner == nil {
		return ErrPartitionerRequired
	}

	return w.Write(ctx, w.partitioner.Partition(key), key, value)
}

// Commit ships every open block and returns the receipts of all blocks
// written by this attempt, ordered by shipping time.
//
// Calling Commit again returns the same receipts. Write fails with
// ErrStreamClosed after a successful Commit.
func (w *ShuffleWriter) Commit(ctx context.Context) ([]BlockReceipt, error) {
	if w.failed != nil {
		return nil, w.failed
	}
	if w.committed {
		return slices.Clone(w.receipts), nil
	}

	for _, pid := range slices.Sorted(maps.Keys(w.partitions)) {
		if err := w.flush(ctx, w.partitions[pid]); err != nil {
			return nil, err
		}
	}
	w.committed = true

	w.logger.Info("shuffle writer committed",
		"shuffle_id", w.shuffleID,
		"task_attempt_id", w.task.TaskAttemptID,
		"blocks", len(w.receipts),
		"reassignments", w.reassignments,
	)

	return slices.Clone(w.receipts), nil
}

// Receipts returns the receipts of the blocks shipped so far.
func (w *ShuffleWriter) Receipts() []BlockReceipt {
	return slices.Clone(w.receipts)
}

// State returns the reassignment state of partition.
func (w *ShuffleWriter) State(partition int32) PartitionState {
	if p, ok := w.partitions[partition]; ok {
		return p.state
	}

	return StateAssigned
}

// View returns the assignment the writer currently targets for partition.
func (w *ShuffleWriter) View(partition int32) (Assignment, bool) {
	p, ok := w.partitions[partition]
	if !ok || !p.loaded {
		return Assignment{}, false
	}

	return p.view.Clone(), true
}

// Reassignments returns the number of reassignment answers consumed from the budget.
func (w *ShuffleWriter) Reassignments() int {
	return w.reassignments
}

func (w *ShuffleWriter) partition(pid int32) *partitionWriter {
	p, ok := w.partitions[pid]
	if !ok {
		p = &partitionWriter{
			key:   PartitionKey{ShuffleID: w.shuffleID, PartitionID: pid},
			state: StateAssigned,
		}
		w.partitions[pid] = p
	}

	return p
}

// flush closes the open block of p, ships it and records the receipt.
func (w *ShuffleWriter) flush(ctx context.Context, p *partitionWriter) error {
	if p.framer == nil || p.framer.Records() == 0 {
		return nil
	}

	records := p.framer.Records()
	if err := p.framer.Close(); err != nil {
		return w.fail(ctx, err)
	}
	data := bytes.Clone(p.buf.Bytes())
	p.buf.Reset()
	p.framer = nil

	block := BlockID{Key: p.key, TaskAttemptID: w.task.TaskAttemptID, Sequence: p.seq}
	p.seq++

	receipt, err := w.ship(ctx, p, block, data)
	if err != nil {
		return w.fail(ctx, err)
	}
	receipt.Records = records
	w.receipts = append(w.receipts, receipt)
	w.metrics.RecordBytesWritten(receipt.Bytes)

	return nil
}

// ship delivers one block, driving the reassignment protocol until the block
// is stored or the attempt has to give up.
func (w *ShuffleWriter) ship(ctx context.Context, p *partitionWriter, block BlockID, data []byte) (BlockReceipt, error) {
	if err := w.load(ctx, p); err != nil {
		return BlockReceipt{}, err
	}

	header := BlockHeader{AppID: w.cfg.AppID, Block: block}
	delivered := make(map[ServerID]struct{})
	for {
		targets := w.targets(p.view, block)
		failures := w.deliver(ctx, targets, delivered, header, data)
		if len(failures) == 0 {
			return receiptFor(block, p.view, targets, data), nil
		}
		if err := ctx.Err(); err != nil {
			return BlockReceipt{}, w.attemptError(p, failures, err)
		}

		w.transition(ctx, p, StateFailureDetected)
		if w.reassignments >= w.cfg.Client.MaxReassignments {
			return BlockReceipt{}, w.attemptError(p, failures,
				fmt.Errorf("%w: %d reassignments", ErrRetryBudgetExhausted, w.reassignments))
		}
		w.reassignments++

		w.transition(ctx, p, StateReassignRequested)
		res, err := w.reassign(ctx, p, failures)
		if errors.Is(err, ErrCapacityExhausted) {
			w.transition(ctx, p, StateAssigned)
			return w.fallback(ctx, p, block, header, data, delivered, failures)
		}
		if err != nil {
			return BlockReceipt{}, w.attemptError(p, failures, err)
		}

		if err := w.adopt(ctx, p, res, failures); err != nil {
			return BlockReceipt{}, w.attemptError(p, failures, err)
		}
	}
}

// fallback retries the original server set with backoff after the authority
// ran out of replacement capacity.
func (w *ShuffleWriter) fallback(ctx context.Context, p *partitionWriter, block BlockID, header BlockHeader, data []byte,
	delivered map[ServerID]struct{}, failures []ReceivingFailureServer,
) (BlockReceipt, error) {
	w.logger.Warn("no replacement capacity, retrying original servers",
		"shuffle_id", p.key.ShuffleID,
		"partition_id", p.key.PartitionID,
		"servers", p.view.Servers,
	)

	targets := w.targets(p.view, block)
	for round := 0; round < w.cfg.Client.SendRetries; round++ {
		if err := retry.Wait(ctx, w.policy, round); err != nil {
			return BlockReceipt{}, w.attemptError(p, failures, err)
		}

		failures = w.deliver(ctx, targets, delivered, header, data)
		if len(failures) == 0 {
			return receiptFor(block, p.view, targets, data), nil
		}
	}

	return BlockReceipt{}, w.attemptError(p, failures, ErrCapacityExhausted)
}

// adopt moves p to the server set returned by the authority.
func (w *ShuffleWriter) adopt(ctx context.Context, p *partitionWriter, res PartitionResult, failures []ReceivingFailureServer) error {
	switch res.Status {
	case ReassignAccepted:
		previous := p.view
		p.view = res.Assignment.Clone()

		next := StateReassigned
		if p.view.Split {
			next = StateSplit
		}
		w.transition(ctx, p, next)

		w.logger.Info("partition reassigned",
			"shuffle_id", p.key.ShuffleID,
			"partition_id", p.key.PartitionID,
			"version", p.view.Version,
			"servers", p.view.Servers,
			"split", p.view.Split,
		)
		if err := w.hooks.OnReassigned(ctx, previous, p.view.Clone()); err != nil {
			w.logger.Warn("OnReassigned hook failed", "error", err)
		}

	case ReassignStale, ReassignUnchanged:
		current, err := w.fetch(ctx, p.key)
		if err != nil {
			return err
		}

		w.logger.Info("reassignment not applied, refetched assignment",
			"shuffle_id", p.key.ShuffleID,
			"partition_id", p.key.PartitionID,
			"status", res.Status.String(),
			"version", current.Version,
			"servers", current.Servers,
		)

		// A newer attempt owns the partition and still targets a server this
		// attempt cannot reach.
		if res.Status == ReassignStale && containsAny(current, failures) {
			return fmt.Errorf("%w: partition %s is owned by %s", ErrStaleAttempt, p.key, current.Token)
		}
		p.view = current

	default:
		return fmt.Errorf("unknown reassignment status %d for partition %s", res.Status, p.key)
	}

	w.transition(ctx, p, StateAssigned)

	return nil
}

// targets returns the servers a block is sent to: every replica, or the
// routed member of a split set.
func (w *ShuffleWriter) targets(view Assignment, block BlockID) []ServerID {
	if view.Split && len(view.Servers) > 1 {
		return []ServerID{w.router.Route(block, view.Servers)}
	}

	return slices.Clone(view.Servers)
}

// deliver sends data to the targets that have not accepted it yet, marks the
// ones that do, and returns the ones that fail.
//
// A server that stays in the set across a reassignment keeps its copy.
func (w *ShuffleWriter) deliver(ctx context.Context, targets []ServerID, delivered map[ServerID]struct{}, header BlockHeader, data []byte) []ReceivingFailureServer {
	pending := slices.DeleteFunc(slices.Clone(targets), func(s ServerID) bool {
		_, ok := delivered[s]
		return ok
	})

	failures := w.sendAll(ctx, pending, header, data)
	for _, s := range pending {
		if !slices.ContainsFunc(failures, func(f ReceivingFailureServer) bool { return f.ServerID == s }) {
			delivered[s] = struct{}{}
		}
	}

	return failures
}

// sendAll sends data to every target concurrently and returns the servers
// that did not accept it.
func (w *ShuffleWriter) sendAll(ctx context.Context, targets []ServerID, header BlockHeader, data []byte) []ReceivingFailureServer {
	errs := make([]error, len(targets))

	var g errgroup.Group
	for i, server := range targets {
		g.Go(func() error {
			errs[i] = w.sendWithRetry(ctx, server, header, data)
			return nil
		})
	}
	_ = g.Wait()

	var failures []ReceivingFailureServer
	for i, err := range errs {
		if err == nil {
			continue
		}
		w.metrics.RecordSendFailure(targets[i])
		w.logger.Warn("block send failed",
			"server_id", targets[i],
			"block", header.Block.String(),
			"error", err,
		)
		failures = append(failures, ReceivingFailureServer{ServerID: targets[i], Cause: err.Error()})
	}

	return failures
}

func (w *ShuffleWriter) sendWithRetry(ctx context.Context, server ServerID, header BlockHeader, data []byte) error {
	for attempt := 0; ; attempt++ {
		err := w.send(ctx, server, header, data)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransportFailure) || attempt+1 >= w.cfg.Client.SendRetries {
			return err
		}

		w.logger.Debug("retrying block send",
			"server_id", server,
			"attempt", attempt+1,
			"error", err,
		)
		if werr := retry.Wait(ctx, w.policy, attempt); werr != nil {
			return err
		}
	}
}

func (w *ShuffleWriter) send(ctx context.Context, server ServerID, header BlockHeader, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Client.SendTimeout)
	defer cancel()

	stream, err := w.transport.Open(ctx, server, header)
	if err != nil {
		return classifyTransport(err)
	}
	if _, err := stream.Write(data); err != nil {
		_ = stream.Close()
		return classifyTransport(err)
	}
	if err := stream.Close(); err != nil {
		return classifyTransport(err)
	}

	return nil
}

// reassign runs one reassignment round trip for p, retrying transport failures.
func (w *ShuffleWriter) reassign(ctx context.Context, p *partitionWriter, failures []ReceivingFailureServer) (PartitionResult, error) {
	pid := p.key.PartitionID
	req := &ReassignRequest{
		ShuffleID:                 w.shuffleID,
		FailurePartitionToServers: map[int32][]ReceivingFailureServer{pid: failures},
		ExecutorID:                w.task.ExecutorID,
		TaskAttemptID:             w.task.TaskAttemptID,
		StageID:                   w.task.StageID,
		StageAttemptNumber:        w.task.StageAttemptNumber,
		PartitionSplit:            w.cfg.Client.PartitionSplit,
	}

	var res PartitionResult
	err := w.callAuthority(ctx, func(ctx context.Context) error {
		resp, err := w.auth.Reassign(ctx, req)
		if err != nil {
			return err
		}
		r, ok := resp.Results[pid]
		if !ok {
			return fmt.Errorf("authority returned no result for partition %s", p.key)
		}
		res = r

		return nil
	})

	return res, err
}

// load fetches the assignment of p on first use.
func (w *ShuffleWriter) load(ctx context.Context, p *partitionWriter) error {
	if p.loaded {
		return nil
	}

	a, err := w.fetch(ctx, p.key)
	if err != nil {
		return fmt.Errorf("fetch assignment of %s: %w", p.key, err)
	}
	p.view = a
	p.loaded = true

	return nil
}

func (w *ShuffleWriter) fetch(ctx context.Context, key PartitionKey) (Assignment, error) {
	var a Assignment
	err := w.callAuthority(ctx, func(ctx context.Context) error {
		var err error
		a, err = w.auth.Assignment(ctx, key)
		return err
	})

	return a, err
}

// callAuthority runs fn with the request timeout, retrying transport
// failures with backoff up to ReassignRetries attempts.
func (w *ShuffleWriter) callAuthority(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		rctx, cancel := context.WithTimeout(ctx, w.cfg.Authority.RequestTimeout)
		err := fn(rctx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		err = classifyTransport(err)
		if !errors.Is(err, ErrTransportFailure) || attempt+1 >= w.cfg.Client.ReassignRetries {
			return err
		}
		if werr := retry.Wait(ctx, w.policy, attempt); werr != nil {
			return err
		}
	}
}

func (w *ShuffleWriter) transition(ctx context.Context, p *partitionWriter, next PartitionState) {
	from := p.state
	if !from.CanTransition(next) {
		w.logger.Error("invalid partition state transition",
			"partition_id", p.key.PartitionID,
			"from", from.String(),
			"to", next.String(),
		)

		return
	}
	p.state = next

	w.metrics.RecordStateTransition(from, next)
	if err := w.hooks.OnStateChanged(ctx, p.key, from, next); err != nil {
		w.logger.Warn("OnStateChanged hook failed", "error", err)
	}
}

func (w *ShuffleWriter) attemptError(p *partitionWriter, failures []ReceivingFailureServer, cause error) error {
	return &TaskAttemptError{
		ShuffleID:     w.shuffleID,
		StageID:       w.task.StageID,
		StageAttempt:  w.task.StageAttemptNumber,
		TaskAttemptID: w.task.TaskAttemptID,
		Failures:      map[int32][]ReceivingFailureServer{p.key.PartitionID: failures},
		Err:           cause,
	}
}

// fail records err as the terminal error of the writer.
func (w *ShuffleWriter) fail(ctx context.Context, err error) error {
	w.failed = err

	w.logger.Error("task attempt failed",
		"shuffle_id", w.shuffleID,
		"task_attempt_id", w.task.TaskAttemptID,
		"stage_attempt", w.task.StageAttemptNumber,
		"error", err,
	)
	if herr := w.hooks.OnError(ctx, err); herr != nil {
		w.logger.Warn("OnError hook failed", "error", herr)
	}

	return err
}

func receiptFor(block BlockID, view Assignment, targets []ServerID, data []byte) BlockReceipt {
	return BlockReceipt{
		Block:             block,
		AssignmentVersion: view.Version,
		Servers:           targets,
		Bytes:             int64(len(data)),
	}
}

func containsAny(a Assignment, failures []ReceivingFailureServer) bool {
	for _, f := range failures {
		if a.Contains(f.ServerID) {
			return true
		}
	}

	return false
}

// classifyTransport maps connectivity errors and per-call timeouts onto the
// transport failure sentinel. Rejections by the peer are returned unchanged.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTransportFailure) {
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}

	return natsutil.ClassifyTransport(err)
}
