package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/events"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/metrics"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/payment"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/policy"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/store"
	"github.com/shopspring/decimal"
)

// maxRecordAttempts bounds how often a payment bookkeeping write is retried
// after losing a race with a concurrent command on the same job.
const maxRecordAttempts = 3

// triggerPayment calls the wallet for the claimed attempt, records the
// outcome on the job and publishes it. It returns the latest known job and
// the adapter error.
func (s *Service) triggerPayment(ctx context.Context, job model.Job, attempt int) (model.Job, error) {
	updated, recorded, payErr := s.attemptPayment(ctx, job, attempt)
	if recorded {
		s.publishPayment(ctx, updated)
	}
	return updated, payErr
}

// attemptPayment is triggerPayment without the event, for callers that
// have events of their own to publish first.
func (s *Service) attemptPayment(ctx context.Context, job model.Job, attempt int) (model.Job, bool, error) {
	p := job.Payment
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return job, false, fmt.Errorf("stored amount %q: %w", p.Amount, err)
	}

	res, payErr := s.payments.InitiatePayment(ctx, payment.Request{
		JobID:   job.ID,
		OfferID: p.OfferID,
		Amount:  amount,
		Method:  p.Method,
		Round:   p.Round,
	})
	metrics.Measures.PaymentTriggers.WithLabelValues(metrics.Outcome(payErr)).Inc()

	updated, recorded, err := s.recordPayment(ctx, job.ID, attempt, res, payErr)
	if err != nil {
		// The sweep picks the attempt up again once it goes stale.
		slog.ErrorContext(ctx, "payment_outcome_not_recorded", "job_id", job.ID, "attempt", attempt, "error", err)
		return job, false, payErr
	}
	return updated, recorded, payErr
}

// recordPayment stores the outcome of attempt unless another attempt or a
// settlement has superseded it.
func (s *Service) recordPayment(ctx context.Context, jobID string, attempt int, res payment.Result, payErr error) (model.Job, bool, error) {
	recorded := false
	job, err := s.mutateJob(ctx, jobID, func(job *model.Job) (bool, error) {
		p := job.Payment
		if !job.PaymentPending || p == nil || p.Attempts != attempt || p.Status != model.PaymentStatusRequested {
			return false, nil
		}
		now := s.clock()
		p.UpdatedAt = now
		switch {
		case payErr != nil:
			p.Status = model.PaymentStatusUnavailable
			p.LastError = payErr.Error()
			p.NextAttemptAt = nil
			if p.Attempts < s.retry.MaxAttempts {
				next := now.Add(s.retryDelay(p.Attempts))
				p.NextAttemptAt = &next
			}
		case res.WalletDebited:
			p.Status = model.PaymentStatusSettled
			p.Reference = res.Reference
			p.LastError = ""
			p.NextAttemptAt = nil
			job.PaymentPending = false
		default:
			p.Status = model.PaymentStatusCheckoutIssued
			p.CheckoutURL = res.CheckoutURL
			p.Reference = res.Reference
			p.LastError = ""
			p.NextAttemptAt = nil
		}
		job.UpdatedAt = now
		recorded = true
		return true, nil
	})
	return job, recorded, err
}

// retryDelay is the wait after the given number of failed attempts.
func (s *Service) retryDelay(attempts int) time.Duration {
	b := &backoff.Backoff{
		Min:    s.retry.BaseDelay,
		Max:    s.retry.MaxDelay,
		Factor: 2,
	}
	return b.ForAttempt(float64(attempts - 1))
}

// mutateJob applies fn to a fresh read of the job and commits it, re-reading
// on version conflicts. fn returns false to leave the job untouched.
func (s *Service) mutateJob(ctx context.Context, jobID string, fn func(*model.Job) (bool, error)) (model.Job, error) {
	var lastErr error
	for i := 0; i < maxRecordAttempts; i++ {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return model.Job{}, err
		}
		write, err := fn(&job)
		if err != nil {
			return model.Job{}, err
		}
		if !write {
			return job, nil
		}
		tx := &store.Transition{Jobs: []model.Job{job}}
		err = s.store.ApplyTransition(ctx, tx)
		if err == nil {
			return tx.Jobs[0], nil
		}
		if !errors.Is(err, model.ErrConflict) {
			return model.Job{}, err
		}
		lastErr = err
	}
	return model.Job{}, lastErr
}

// claimAttempt starts a new payment attempt on job and returns its number.
// A settlement that definitively failed starts a new charge round.
func (s *Service) claimAttempt(job *model.Job, method string) int {
	now := s.clock()
	p := job.Payment
	if p.Status == model.PaymentStatusFailed {
		p.Round++
		p.CheckoutURL = ""
		p.Reference = ""
	}
	if method != "" {
		p.Method = method
	}
	due := now.Add(s.retry.StaleAfter)
	p.Attempts++
	p.Status = model.PaymentStatusRequested
	p.NextAttemptAt = &due
	p.UpdatedAt = now
	job.UpdatedAt = now
	return p.Attempts
}

// RetryPayment re-triggers payment for a job whose last attempt failed or
// whose checkout was declined. Like AcceptOffer, a wallet failure is
// reported in Snapshot.PaymentError rather than as an error.
func (s *Service) RetryPayment(ctx context.Context, caller model.Caller, req model.RetryPaymentRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("RetryPayment", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	if err := validateRetryPayment(req); err != nil {
		return model.Snapshot{}, err
	}
	st, err := s.loadJob(ctx, req.JobID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(st.view(caller), policy.RetryPayment); err != nil {
		return model.Snapshot{}, err
	}

	job := st.job.Clone()
	attempt := s.claimAttempt(&job, req.Method)
	tx := &store.Transition{Jobs: []model.Job{job}}
	if err := s.store.ApplyTransition(ctx, tx); err != nil {
		return model.Snapshot{}, err
	}
	job = tx.Jobs[0]
	slog.InfoContext(ctx, "payment_retry_requested",
		"job_id", job.ID,
		"attempt", attempt,
		"round", job.Payment.Round,
		"method", job.Payment.Method,
	)

	job, payErr := s.triggerPayment(ctx, job, attempt)
	snap = model.Snapshot{Job: job}
	if payErr != nil {
		snap.PaymentError = payErr.Error()
	}
	if accepted, ok := model.AcceptedOffer(st.offers); ok {
		snap.Offer = &accepted
	}
	return snap, nil
}

// SettlePayment records the wallet's verdict on an issued checkout.
// Repeated notices with the same verdict are no-ops.
func (s *Service) SettlePayment(ctx context.Context, notice model.SettlementNotice) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("SettlePayment", start, err) }(time.Now())

	if err := validateSettlement(notice); err != nil {
		return model.Snapshot{}, err
	}

	changed := false
	job, err := s.mutateJob(ctx, notice.JobID, func(job *model.Job) (bool, error) {
		p := job.Payment
		if p == nil || p.Reference != notice.Reference {
			return false, fmt.Errorf("%w: no checkout %s on job %s", model.ErrNotFound, notice.Reference, job.ID)
		}
		switch {
		case notice.Success && p.Status == model.PaymentStatusSettled:
			return false, nil
		case !notice.Success && p.Status == model.PaymentStatusFailed:
			return false, nil
		case p.Status != model.PaymentStatusCheckoutIssued:
			return false, fmt.Errorf("%w: payment on job %s is %s", model.ErrForbiddenTransition, job.ID, p.Status)
		}
		now := s.clock()
		if notice.Success {
			p.Status = model.PaymentStatusSettled
			p.LastError = ""
			job.PaymentPending = false
		} else {
			p.Status = model.PaymentStatusFailed
			p.LastError = notice.Reason
			if p.LastError == "" {
				p.LastError = "checkout declined"
			}
		}
		p.UpdatedAt = now
		job.UpdatedAt = now
		changed = true
		return true, nil
	})
	if err != nil {
		return model.Snapshot{}, err
	}

	if changed {
		s.publishPayment(ctx, job)
		slog.InfoContext(ctx, "payment_settlement_recorded",
			"job_id", job.ID,
			"reference", notice.Reference,
			"status", job.Payment.Status,
		)
	}
	return model.Snapshot{Job: job}, nil
}

// RetryDuePayments re-triggers every payment whose retry is due, and returns
// how many wallet calls it made.
func (s *Service) RetryDuePayments(ctx context.Context) (int, error) {
	now := s.clock()
	due, err := s.store.ListJobsAwaitingPayment(ctx, now, s.retry.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list jobs awaiting payment: %w", err)
	}

	triggered := 0
	for _, candidate := range due {
		if ctx.Err() != nil {
			return triggered, ctx.Err()
		}
		attempt := 0
		job, err := s.mutateJob(ctx, candidate.ID, func(job *model.Job) (bool, error) {
			p := job.Payment
			if !job.PaymentPending || p == nil || p.NextAttemptAt == nil || p.NextAttemptAt.After(now) {
				return false, nil
			}
			if p.Status != model.PaymentStatusRequested && p.Status != model.PaymentStatusUnavailable {
				return false, nil
			}
			if p.Attempts >= s.retry.MaxAttempts {
				p.Status = model.PaymentStatusUnavailable
				p.LastError = "payment attempt lost and retries exhausted"
				p.NextAttemptAt = nil
				p.UpdatedAt = now
				job.UpdatedAt = now
				return true, nil
			}
			attempt = s.claimAttempt(job, "")
			return true, nil
		})
		if err != nil {
			slog.WarnContext(ctx, "payment_retry_claim_failed", "job_id", candidate.ID, "error", err)
			continue
		}
		if attempt == 0 {
			continue
		}
		if _, err := s.triggerPayment(ctx, job, attempt); err != nil {
			slog.WarnContext(ctx, "payment_retry_failed", "job_id", job.ID, "attempt", attempt, "error", err)
		}
		triggered++
	}
	return triggered, nil
}

// RunPaymentRetries sweeps for due payments every SweepInterval until ctx
// is cancelled.
func (s *Service) RunPaymentRetries(ctx context.Context) error {
	ticker := time.NewTicker(s.retry.SweepInterval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "payment_retry_worker_started", "interval", s.retry.SweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "payment_retry_worker_stopped")
			return nil
		case <-ticker.C:
			n, err := s.RetryDuePayments(ctx)
			if err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "payment_sweep_failed", "error", err)
			}
			if n > 0 {
				slog.InfoContext(ctx, "payment_sweep_completed", "triggered", n)
			}
		}
	}
}

func (s *Service) publishPayment(ctx context.Context, job model.Job) {
	p := job.Payment
	eventType := events.EventPaymentInitiated
	if p.Status == model.PaymentStatusSettled || p.Status == model.PaymentStatusFailed {
		eventType = events.EventPaymentSettled
	}
	s.publish(ctx, eventType, job, map[string]any{
		"offer_id":     p.OfferID,
		"amount":       p.Amount,
		"method":       p.Method,
		"status":       p.Status,
		"round":        p.Round,
		"attempts":     p.Attempts,
		"checkout_url": p.CheckoutURL,
		"reference":    p.Reference,
	})
}
