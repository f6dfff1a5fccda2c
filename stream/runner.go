package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"fdsengine/core"
	"fdsengine/metrics"
	"fdsengine/util/goroutine"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrFetchStopped is returned by Run when the reader stops delivering messages
var ErrFetchStopped = errors.New("stream: fetch loop stopped")

// MessageReader is the consuming side of *kafka.Reader
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter is the producing side of *kafka.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Evaluator evaluates one batch of transactions
type Evaluator interface {
	Evaluate(ctx context.Context, txns []core.Transaction) (*core.Incident, error)
}

// Runner consumes transactions, evaluates them in batches and publishes incidents.
// Each batch is one evaluation window. Offsets are committed only after the
// batch evaluated cleanly and any incident was published.
type Runner struct {
	reader        MessageReader
	writer        MessageWriter
	codec         Codec
	evaluator     Evaluator
	limiter       *rate.Limiter
	batchSize     int
	flushInterval time.Duration
	fetchBackoff  time.Duration
	logger        *zap.SugaredLogger
}

// NewRunner creates a Runner. writer may be nil to only log incidents.
func NewRunner(reader MessageReader, writer MessageWriter, codec Codec, evaluator Evaluator, opts Options, logger *zap.SugaredLogger) (*Runner, error) {
	if reader == nil || codec == nil || evaluator == nil {
		return nil, errors.New("stream: reader, codec and evaluator are required")
	}
	if opts.BatchSize < 1 || opts.FlushInterval <= 0 {
		return nil, fmt.Errorf("stream: invalid batching (size %d, interval %s)", opts.BatchSize, opts.FlushInterval)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	r := &Runner{
		reader:        reader,
		writer:        writer,
		codec:         codec,
		evaluator:     evaluator,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		fetchBackoff:  time.Second,
		logger:        logger,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return r, nil
}

// Run blocks until ctx is cancelled or a batch fails. Messages of an unfinished
// batch are left uncommitted and will be redelivered.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan kafka.Message, r.batchSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.fetchLoop(ctx, msgs)
	}()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, r.batchSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrFetchStopped
			}
			batch = append(batch, msg)
			if len(batch) < r.batchSize {
				continue
			}
		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
		}

		if err := r.processBatch(ctx, batch); err != nil {
			return err
		}
		batch = make([]kafka.Message, 0, r.batchSize)
	}
}

// fetchLoop closes out when it exits, including after a recovered panic
func (r *Runner) fetchLoop(ctx context.Context, out chan<- kafka.Message) {
	defer close(out)
	defer goroutine.Recover("stream-fetch", r.logger)

	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			metrics.MessagesConsumed.WithLabelValues("fetch_error").Inc()
			r.logger.Errorw("Failed to fetch message", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(r.fetchBackoff):
				continue
			}
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) processBatch(ctx context.Context, batch []kafka.Message) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	txns := make([]core.Transaction, 0, len(batch))
	for _, msg := range batch {
		txn, err := r.codec.DecodeTransaction(msg.Value)
		if err != nil {
			metrics.MessagesConsumed.WithLabelValues("decode_error").Inc()
			r.logger.Warnw("Skipping undecodable message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
			continue
		}
		metrics.MessagesConsumed.WithLabelValues("ok").Inc()
		txns = append(txns, txn)
	}

	if len(txns) > 0 {
		incident, err := r.evaluate(ctx, txns)
		if err != nil {
			return fmt.Errorf("batch evaluation failed: %w", err)
		}
		if incident != nil {
			if err := r.publish(ctx, incident); err != nil {
				return err
			}
		}
	}

	if err := r.reader.CommitMessages(ctx, batch...); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	r.logger.Debugw("Batch committed", "messages", len(batch), "transactions", len(txns))
	return nil
}

func (r *Runner) evaluate(ctx context.Context, txns []core.Transaction) (incident *core.Incident, err error) {
	defer goroutine.RecoverInto("evaluate", r.logger, &err)
	return r.evaluator.Evaluate(ctx, txns)
}

func (r *Runner) publish(ctx context.Context, inc *core.Incident) error {
	if r.writer == nil {
		r.logger.Warnw("Incident raised (publishing disabled)",
			"incident_id", inc.ID,
			"rule_id", inc.RuleID,
			"transaction_id", inc.TransactionID)
		return nil
	}

	payload, err := r.codec.EncodeIncident(inc)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(inc.TransactionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "rule_id", Value: []byte(inc.RuleID)},
			{Key: "encoding", Value: []byte(r.codec.Name())},
		},
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		metrics.IncidentsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish incident %s: %w", inc.ID, err)
	}

	metrics.IncidentsPublished.WithLabelValues("ok").Inc()
	r.logger.Infow("Incident published",
		"incident_id", inc.ID,
		"rule_id", inc.RuleID,
		"transaction_id", inc.TransactionID)
	return nil
}
