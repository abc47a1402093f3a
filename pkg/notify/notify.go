// Package notify sends completion/failure notifications to Slack when a
// pipeline run reaches done_success, done_failure, or a clean shutdown
// (spec.md §4.8's terminal/shutdown outcomes). It is an optional domain
// dependency: a nil or unconfigured Notifier is a no-op, the same "absence
// of a client is transparent" posture the rest of this module follows.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/go-faster/errors"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/buildforge/buildforge/pkg/shared/types"
)

// RetryPolicy governs how many times a transient delivery failure is
// retried before giving up, mirroring the notification controller's
// RetryPolicy shape (MaxAttempts/InitialBackoff/BackoffMultiplier/
// MaxBackoff) rather than this package inventing its own knob names.
type RetryPolicy struct {
	MaxAttempts           int
	InitialBackoffSeconds float64
	BackoffMultiplier     float64
	MaxBackoffSeconds     float64
}

// DefaultRetryPolicy matches the fast-retry policy used throughout the
// notification controller's own integration test fixtures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:           5,
		InitialBackoffSeconds: 1,
		BackoffMultiplier:     2,
		MaxBackoffSeconds:     60,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.InitialBackoffSeconds
	for i := 0; i < attempt; i++ {
		delay *= p.BackoffMultiplier
		if delay >= p.MaxBackoffSeconds {
			delay = p.MaxBackoffSeconds
			break
		}
	}
	return time.Duration(delay * float64(time.Second))
}

// poster is the subset of *slack.Client this package depends on, so tests
// can substitute a fake without a real API token.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts run-outcome messages to a single Slack channel.
type Notifier struct {
	client  poster
	channel string
	retry   RetryPolicy
	logger  *zap.Logger
}

// New returns a Notifier posting to channel using token for auth. Passing an
// empty token or channel produces a Notifier whose Notify* methods are
// no-ops, so callers can construct one unconditionally from config and let
// absence of configuration degrade naturally.
func New(token, channel string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if token == "" || channel == "" {
		return &Notifier{channel: channel, retry: DefaultRetryPolicy(), logger: logger}
	}
	return &Notifier{
		client:  slack.New(token),
		channel: channel,
		retry:   DefaultRetryPolicy(),
		logger:  logger,
	}
}

// enabled reports whether this Notifier has a live client to post through.
func (n *Notifier) enabled() bool {
	return n != nil && n.client != nil && n.channel != ""
}

// NotifyRunSuccess posts a done_success summary.
func (n *Notifier) NotifyRunSuccess(ctx context.Context, state *types.PipelineState) error {
	if !n.enabled() {
		return nil
	}
	text := fmt.Sprintf(":white_check_mark: Run `%s` completed successfully (total cost $%s, %d fix attempt(s)).",
		state.RunID, state.TotalCost.StringFixed(2), state.FixAttempts)
	return n.post(ctx, text)
}

// NotifyRunFailure posts a done_failure summary including the recorded
// failure reason, if any.
func (n *Notifier) NotifyRunFailure(ctx context.Context, state *types.PipelineState) error {
	if !n.enabled() {
		return nil
	}
	reason := state.PhaseArtifacts["error"]
	if reason == "" {
		reason = "unknown error"
	}
	text := fmt.Sprintf(":x: Run `%s` failed in phase `%s`: %s", state.RunID, state.Phase, reason)
	return n.post(ctx, text)
}

// NotifyShutdown posts a notice that a run was stopped cleanly by a
// shutdown request, with its phase preserved for a later resume.
func (n *Notifier) NotifyShutdown(ctx context.Context, state *types.PipelineState) error {
	if !n.enabled() {
		return nil
	}
	text := fmt.Sprintf(":pause_button: Run `%s` stopped on shutdown request at phase `%s`; resumable.",
		state.RunID, state.Phase)
	return n.post(ctx, text)
}

// post sends text to the configured channel, retrying transient failures
// (rate limiting, 5xx, network errors) with backoff but failing immediately
// on permanent ones (any other 4xx status, including 401/403 auth errors), per the notification controller's
// documented retryable/non-retryable classification (BR-NOT-052, BR-NOT-058).
func (n *Notifier) post(ctx context.Context, text string) error {
	var lastErr error
	for attempt := 0; attempt < n.retry.MaxAttempts; attempt++ {
		_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return goerrors.Wrap(err, "slack notification failed permanently")
		}
		if attempt < n.retry.MaxAttempts-1 {
			n.logger.Warn("slack notification attempt failed, retrying",
				zap.Int("attempt", attempt+1), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.retry.backoff(attempt)):
			}
		}
	}
	return goerrors.Wrapf(lastErr, "slack notification failed after %d attempts", n.retry.MaxAttempts)
}

// retryable classifies a slack-go error as transient (a RateLimitedError,
// a 5xx status, or any error without a status code) or permanent (any 4xx
// StatusCodeError, 401/403 included).
func retryable(err error) bool {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return true
	}
	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		code := statusErr.Code
		if code == 401 || code == 403 {
			return false
		}
		if code >= 400 && code < 500 {
			return false
		}
		return true
	}
	return true
}
