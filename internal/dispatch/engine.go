package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"msgblast/internal/recipient"
	"msgblast/internal/sender"
	"msgblast/pkg/logx"
)

// Options tunes one Engine. The zero value dispatches sequentially with no
// rate limit and no per-send watchdog.
type Options struct {
	// Workers bounds concurrent sends. <=1 means sequential. Channels whose
	// sender is a shared mutable resource (WhatsApp) must use 1.
	Workers int

	// RatePerSec throttles sends across all workers. <=0 disables.
	RatePerSec int

	// PerSendTimeout is a watchdog around each DeliverOne so one stuck call
	// cannot hang the batch. 0 disables.
	PerSendTimeout time.Duration
}

// Engine drives per-recipient delivery attempts against a channel sender and
// tallies the outcomes. It is channel-agnostic and safe for concurrent use;
// all mutable state is local to one Dispatch call.
type Engine struct {
	opts Options
	log  logx.Logger
}

func New(opts Options, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{opts: opts, log: log}
}

// outcome is the per-index result before assembly into the BatchResult.
type outcome struct {
	address string
	ok      bool
	reason  string
}

// Dispatch processes every record and returns a full partition of the input
// into successes and failures. Only batch precondition violations return an
// error; a per-record fault of any kind becomes a Failure entry and the
// batch continues.
func (e *Engine) Dispatch(ctx context.Context, records []recipient.Record, policy Policy, s sender.Sender) (*BatchResult, error) {
	if s == nil {
		return nil, ErrNilSender
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	if policy.UseSharedMessage && strings.TrimSpace(policy.SharedMessage) == "" {
		return nil, ErrNoSharedMessage
	}

	res := &BatchResult{
		ID:        uuid.NewString(),
		Channel:   s.Channel(),
		StartedAt: time.Now(),
	}

	var limiter *rate.Limiter
	if e.opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.opts.RatePerSec), e.opts.RatePerSec)
	}

	e.log.Info("batch dispatch started",
		logx.String("batch", res.ID),
		logx.String("channel", string(res.Channel)),
		logx.Int("total", len(records)),
		logx.Int("workers", max(1, e.opts.Workers)),
	)

	outcomes := make([]outcome, len(records))
	if e.opts.Workers <= 1 {
		for i, rec := range records {
			outcomes[i] = e.sendOne(ctx, rec, policy, s, limiter)
		}
	} else {
		e.dispatchPool(ctx, records, policy, s, limiter, outcomes)
	}

	// Assemble in input order regardless of completion order.
	for _, o := range outcomes {
		if o.ok {
			res.SuccessCount++
			res.Successes = append(res.Successes, o.address)
		} else {
			res.FailureCount++
			res.Failures = append(res.Failures, Failure{Address: o.address, Reason: o.reason})
		}
	}
	res.TotalProcessed = len(records)
	res.FinishedAt = time.Now()

	if res.SuccessCount+res.FailureCount != res.TotalProcessed {
		// Cannot happen by construction; kept as a tripwire for the tally invariant.
		return nil, fmt.Errorf("dispatch: outcome partition broken: %d+%d != %d",
			res.SuccessCount, res.FailureCount, res.TotalProcessed)
	}

	fields := []logx.Field{
		logx.String("batch", res.ID),
		logx.String("channel", string(res.Channel)),
		logx.Int("total", res.TotalProcessed),
		logx.Int("failed", res.FailureCount),
		logx.Duration("dur", res.FinishedAt.Sub(res.StartedAt)),
	}
	if res.FailureCount > 0 {
		e.log.Warn("batch dispatch finished with failures", fields...)
	} else {
		e.log.Info("batch dispatch finished", fields...)
	}
	return res, nil
}

func (e *Engine) dispatchPool(ctx context.Context, records []recipient.Record, policy Policy, s sender.Sender, limiter *rate.Limiter, outcomes []outcome) {
	idxCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < e.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				outcomes[i] = e.sendOne(ctx, records[i], policy, s, limiter)
			}
		}()
	}
	for i := range records {
		idxCh <- i
	}
	close(idxCh)
	wg.Wait()
}

func (e *Engine) sendOne(ctx context.Context, rec recipient.Record, policy Policy, s sender.Sender, limiter *rate.Limiter) outcome {
	o := outcome{address: rec.Address}

	body, err := policy.Resolve(rec)
	if err != nil {
		o.reason = err.Error()
		return o
	}

	if err := ctx.Err(); err != nil {
		o.reason = "canceled"
		return o
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			o.reason = "canceled"
			return o
		}
	}

	sctx := ctx
	if e.opts.PerSendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, e.opts.PerSendTimeout)
		defer cancel()
	}

	err = deliverGuarded(sctx, s, sender.Message{
		Address: rec.Address,
		Body:    body,
		Subject: rec.Subject,
	})
	switch {
	case err == nil:
		o.ok = true
	case ctx.Err() != nil:
		o.reason = "canceled"
	case sctx.Err() != nil:
		o.reason = "timeout"
	default:
		o.reason = err.Error()
	}
	if !o.ok {
		e.log.Debug("record send failed",
			logx.String("address", rec.Address),
			logx.String("reason", o.reason),
		)
	}
	return o
}

// deliverGuarded converts a panicking sender into an ordinary failed record.
func deliverGuarded(ctx context.Context, s sender.Sender, msg sender.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return s.DeliverOne(ctx, msg)
}
