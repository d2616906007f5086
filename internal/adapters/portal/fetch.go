package portal

import (
	"context"
	"time"

	"sms-range-relay/internal/domain"
	"sms-range-relay/internal/infra/metrics"
)

const windowDateLayout = "01/02/2006"

// FetchRangeSummaries pulls the per-range statistics for the date window.
func (c *Client) FetchRangeSummaries(ctx context.Context, window domain.DateWindow) ([]domain.RangeSummary, error) {
	var ranges []domain.RangeSummary
	err := c.policy.Do(ctx, domain.IsRetryable, func() error {
		body, err := c.postStats(ctx, "received_sms", "/portal/sms/received/getsms", map[string]string{
			"_token": c.csrfToken,
			"from":   window.From.Format(windowDateLayout),
			"to":     window.To.Format(windowDateLayout),
		})
		if err != nil {
			return err
		}
		ranges, err = parseRangeSummaries(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ranges, nil
}

// FetchNumbers lists the numbers that received SMS within a range, in the
// portal's newest-first order.
func (c *Client) FetchNumbers(ctx context.Context, window domain.DateWindow, rangeName string) ([]domain.NumberRecord, error) {
	var numbers []domain.NumberRecord
	err := c.policy.Do(ctx, domain.IsRetryable, func() error {
		body, err := c.postStats(ctx, "range_numbers", "/portal/sms/received/getsms/number", map[string]string{
			"_token": c.csrfToken,
			"start":  "",
			"end":    window.To.Format(windowDateLayout),
			"range":  rangeName,
		})
		if err != nil {
			return err
		}
		numbers, err = parseNumberRows(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return numbers, nil
}

// FetchMessages lists the SMS bodies observed for one number, newest first.
// The portal reports no per-message timestamp, so receipt time is stamped
// locally.
func (c *Client) FetchMessages(ctx context.Context, window domain.DateWindow, number, rangeName string) ([]domain.MessageRecord, error) {
	var messages []domain.MessageRecord
	err := c.policy.Do(ctx, domain.IsRetryable, func() error {
		body, err := c.postStats(ctx, "number_sms", "/portal/sms/received/getsms/number/sms", map[string]string{
			"_token": c.csrfToken,
			"start":  "",
			"end":    window.To.Format(windowDateLayout),
			"Number": number,
			"Range":  rangeName,
		})
		if err != nil {
			return err
		}
		messages, err = parseMessageRows(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range messages {
		messages[i].ReceivedAt = now
		messages[i].Number = number
		messages[i].RangeName = rangeName
	}
	return messages, nil
}

// postStats issues one ajax POST against the received-SMS endpoints and
// classifies transport-level failures.
func (c *Client) postStats(ctx context.Context, operation, path string, form map[string]string) ([]byte, error) {
	start := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("Origin", c.baseURL.String()).
		SetHeader("Referer", c.baseURL.String()+"/portal/sms/received").
		SetFormData(form).
		Post(path)
	metrics.ObserveNetworkRequest("portal", operation, c.baseURL.Hostname(), start, err)
	if err != nil {
		return nil, domain.TransientErrorf("%s request", operation)
	}
	if redirectedToLogin(res) {
		return nil, domain.AuthErrorf("%s: session expired", operation)
	}
	if res.StatusCode() >= 500 {
		return nil, domain.TransientErrorf("%s: status %d", operation, res.StatusCode())
	}
	if res.StatusCode() >= 400 {
		return nil, domain.AuthErrorf("%s: status %d", operation, res.StatusCode())
	}
	return res.Body(), nil
}
