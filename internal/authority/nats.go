package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/arloliu/rshuffle/internal/logging"
	"github.com/arloliu/rshuffle/internal/natsutil"
	"github.com/arloliu/rshuffle/types"
)

// Transport defaults.
const (
	DefaultSubject        = "rshuffle.authority"
	DefaultQueueGroup     = "rshuffle-authority"
	DefaultRequestTimeout = 5 * time.Second
)

// Backend is what a Server exposes.
type Backend interface {
	types.Authority
	types.AssignmentHistory
}

// TransportOption configures a Server or Client.
type TransportOption func(*transportOptions)

type transportOptions struct {
	subject    string
	queueGroup string
	timeout    time.Duration
	logger     types.Logger
}

// WithSubject sets the request subject.
func WithSubject(subject string) TransportOption {
	return func(o *transportOptions) { o.subject = subject }
}

// WithQueueGroup sets the server queue group.
func WithQueueGroup(group string) TransportOption {
	return func(o *transportOptions) { o.queueGroup = group }
}

// WithRequestTimeout bounds requests whose context has no deadline, and the
// server-side handling of each request.
func WithRequestTimeout(d time.Duration) TransportOption {
	return func(o *transportOptions) { o.timeout = d }
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger types.Logger) TransportOption {
	return func(o *transportOptions) { o.logger = logger }
}

func buildTransportOptions(opts []TransportOption) transportOptions {
	o := transportOptions{
		subject:    DefaultSubject,
		queueGroup: DefaultQueueGroup,
		timeout:    DefaultRequestTimeout,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Server serves a Backend on a NATS subject.
//
// Several servers may share the queue group; each request is handled by one
// of them. Only one process should own the assignment store unless the store
// is a shared KVStore.
type Server struct {
	nc      *nats.Conn
	backend Backend
	opts    transportOptions

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewServer creates a Server for backend on nc.
func NewServer(nc *nats.Conn, backend Backend, opts ...TransportOption) *Server {
	return &Server{nc: nc, backend: backend, opts: buildTransportOptions(opts)}
}

// Start subscribes to the request subject.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return errors.New("authority server already started")
	}

	sub, err := s.nc.QueueSubscribe(s.opts.subject, s.opts.queueGroup, s.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.opts.subject, err)
	}
	if err := s.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to flush subscription: %w", err)
	}
	s.sub = sub

	s.opts.logger.Info("authority server started", "subject", s.opts.subject, "queue_group", s.opts.queueGroup)

	return nil
}

// Stop drains the subscription, letting in-flight requests finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		return nil
	}
	err := s.sub.Drain()
	s.sub = nil

	return err
}

func (s *Server) handle(msg *nats.Msg) {
	var req wireRequest
	reply := wireReply{}

	if err := json.Unmarshal(msg.Data, &req); err != nil {
		reply.Error = encodeError(fmt.Errorf("%w: %w", types.ErrInvalidRequest, err))
		s.respond(msg, &reply)

		return
	}
	reply.ID = req.ID

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.timeout)
	defer cancel()

	switch req.Op {
	case opAssignment:
		a, err := s.backend.Assignment(ctx, req.Key)
		if err == nil {
			reply.Assignment = &a
		}
		reply.Error = encodeError(err)
	case opAt:
		a, err := s.backend.At(ctx, req.Key, req.Version)
		if err == nil {
			reply.Assignment = &a
		}
		reply.Error = encodeError(err)
	case opReassign:
		resp, err := s.backend.Reassign(ctx, req.Request)
		reply.Response = resp
		reply.Error = encodeError(err)
	default:
		reply.Error = encodeError(fmt.Errorf("%w: unknown op %q", types.ErrInvalidRequest, req.Op))
	}

	if reply.Error != nil {
		s.opts.logger.Debug("authority request failed", "request_id", req.ID, "op", req.Op, "code", reply.Error.Code)
	}
	s.respond(msg, &reply)
}

func (s *Server) respond(msg *nats.Msg, reply *wireReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.opts.logger.Error("failed to encode authority reply", "request_id", reply.ID, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.opts.logger.Warn("failed to send authority reply", "request_id", reply.ID, "error", err)
	}
}

// Client reaches a remote authority over NATS. It implements types.Authority
// and types.AssignmentHistory.
type Client struct {
	nc   *nats.Conn
	opts transportOptions
}

var _ Backend = (*Client)(nil)

// NewClient creates a Client on nc.
func NewClient(nc *nats.Conn, opts ...TransportOption) *Client {
	return &Client{nc: nc, opts: buildTransportOptions(opts)}
}

// Assignment implements types.Authority.
func (c *Client) Assignment(ctx context.Context, key types.PartitionKey) (types.Assignment, error) {
	reply, err := c.call(ctx, wireRequest{Op: opAssignment, Key: key})
	if err != nil {
		return types.Assignment{}, err
	}
	if reply.Assignment == nil {
		return types.Assignment{}, errors.New("authority: empty assignment reply")
	}

	return *reply.Assignment, nil
}

// At implements types.AssignmentHistory.
func (c *Client) At(ctx context.Context, key types.PartitionKey, version int64) (types.Assignment, error) {
	reply, err := c.call(ctx, wireRequest{Op: opAt, Key: key, Version: version})
	if err != nil {
		return types.Assignment{}, err
	}
	if reply.Assignment == nil {
		return types.Assignment{}, errors.New("authority: empty assignment reply")
	}

	return *reply.Assignment, nil
}

// Reassign implements types.Authority.
//
// Like Authority.Reassign it may return partial results with an error.
func (c *Client) Reassign(ctx context.Context, req *types.ReassignRequest) (*types.ReassignResponse, error) {
	reply, err := c.call(ctx, wireRequest{Op: opReassign, Request: req})
	if reply == nil {
		return nil, err
	}

	return reply.Response, err
}

// call sends one request. A decoded reply is returned even when it carries
// an error, so partial results survive.
func (c *Client) call(ctx context.Context, req wireRequest) (*wireReply, error) {
	req.ID = uuid.NewString()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode authority request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	msg, err := c.nc.RequestWithContext(ctx, c.opts.subject, data)
	if err != nil {
		return nil, fmt.Errorf("authority %s request: %w", req.Op, natsutil.ClassifyTransport(err))
	}

	var reply wireReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode authority reply: %w", err)
	}
	if reply.ID != req.ID {
		return nil, fmt.Errorf("authority reply id mismatch: sent %s, got %s", req.ID, reply.ID)
	}

	return &reply, decodeError(reply.Error)
}
