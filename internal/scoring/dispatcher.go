package scoring

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/common/metrics"
)

// completionTimeout bounds the completion callback, which persists the outcome.
const completionTimeout = 30 * time.Second

// Outcome is the terminal result of one dispatched submission. Exactly one of
// Response and Err is set; Err carries SCORING_TIMEOUT or SCORING_UNAVAILABLE.
type Outcome struct {
	Request  Request
	Response *Response
	Err      error
	Duration time.Duration
}

func (o Outcome) TimedOut() bool {
	return apperrors.IsCode(o.Err, apperrors.ErrCodeScoringTimeout)
}

type CompletionFunc func(ctx context.Context, outcome Outcome)

// Dispatcher runs at most one scoring call per session at a time. Timed out
// calls are reported and never retried.
type Dispatcher struct {
	gateway    Gateway
	timeout    time.Duration
	logger     logger.Logger
	onComplete CompletionFunc

	mu       sync.Mutex
	inFlight map[string]string
	wg       sync.WaitGroup
}

func NewDispatcher(gateway Gateway, timeout time.Duration, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		gateway:  gateway,
		timeout:  timeout,
		logger:   log.WithFields(map[string]interface{}{"component": "scoring-dispatcher"}),
		inFlight: make(map[string]string),
	}
}

// OnComplete sets the callback that receives every outcome. It must be set
// before the first Dispatch.
func (d *Dispatcher) OnComplete(fn CompletionFunc) {
	d.onComplete = fn
}

// Dispatch starts scoring req in the background and returns immediately.
func (d *Dispatcher) Dispatch(req Request) error {
	d.mu.Lock()
	if current, busy := d.inFlight[req.SessionID]; busy {
		d.mu.Unlock()
		if current == req.SubmissionID {
			return nil
		}
		return apperrors.NewScoringInFlightError(req.SessionID, current)
	}
	d.inFlight[req.SessionID] = req.SubmissionID
	d.wg.Add(1)
	d.mu.Unlock()

	metrics.ScoringInFlight.Inc()
	go d.run(req)
	return nil
}

// InFlight returns the submission currently being scored for a session.
func (d *Dispatcher) InFlight(sessionID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.inFlight[sessionID]
	return id, ok
}

// Wait blocks until every dispatched submission has completed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown waits for in-flight submissions or until ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(req Request) {
	defer d.wg.Done()
	defer metrics.ScoringInFlight.Dec()

	log := d.logger.WithFields(map[string]interface{}{
		"sessionId":    req.SessionID,
		"submissionId": req.SubmissionID,
	})

	outcome := d.call(req)

	label := "scored"
	switch {
	case outcome.TimedOut():
		label = "timeout"
		log.Warn("Scoring timed out", map[string]interface{}{"timeout": d.timeout.String()})
	case outcome.Err != nil:
		label = "unavailable"
		log.Warn("Scoring failed", map[string]interface{}{"error": outcome.Err.Error()})
	case outcome.Response.Rejected:
		label = "rejected"
		log.Info("Submission rejected by scoring", map[string]interface{}{"reason": outcome.Response.Reason})
	default:
		log.Info("Submission scored", nil)
	}
	metrics.ScoringDuration.WithLabelValues(label).Observe(outcome.Duration.Seconds())

	if d.onComplete != nil {
		ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
		d.onComplete(ctx, outcome)
		cancel()
	}

	d.mu.Lock()
	if d.inFlight[req.SessionID] == req.SubmissionID {
		delete(d.inFlight, req.SessionID)
	}
	d.mu.Unlock()
}

type result struct {
	resp *Response
	err  error
}

// call waits at most d.timeout even if the gateway ignores cancellation.
func (d *Dispatcher) call(req Request) Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		resp, err := d.gateway.Score(ctx, req)
		ch <- result{resp: resp, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = result{err: ctx.Err()}
	}

	out := Outcome{Request: req, Duration: time.Since(start)}
	switch {
	case res.err == nil && res.resp != nil:
		out.Response = res.resp
	case errors.Is(res.err, context.DeadlineExceeded) || ctx.Err() != nil:
		out.Err = apperrors.NewScoringTimeoutError(req.SubmissionID, d.timeout)
	case res.err == nil:
		out.Err = apperrors.NewScoringUnavailableError(errors.New("empty response"))
	case apperrors.IsCode(res.err, apperrors.ErrCodeScoringUnavailable):
		out.Err = res.err
	default:
		out.Err = apperrors.NewScoringUnavailableError(res.err)
	}
	return out
}
