package portal

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"sms-range-relay/internal/domain"
	"sms-range-relay/internal/infra/metrics"
)

// PanelOverview reads the live panel accordion: total active numbers plus
// the claimed ranges with their termination ids.
func (c *Client) PanelOverview(ctx context.Context) (domain.PanelOverview, error) {
	var overview domain.PanelOverview
	err := c.policy.Do(ctx, domain.IsRetryable, func() error {
		start := time.Now()
		res, err := c.http.R().
			SetContext(ctx).
			SetHeader("X-Csrf-Token", c.csrfToken).
			SetHeader("X-Requested-With", "XMLHttpRequest").
			Get("/portal/live/my_sms")
		metrics.ObserveNetworkRequest("portal", "panel_overview", c.baseURL.Hostname(), start, err)
		if err != nil {
			return domain.TransientErrorf("panel overview request")
		}
		if redirectedToLogin(res) {
			return domain.AuthErrorf("panel overview: session expired")
		}
		overview, err = parsePanelOverview(res.Body())
		return err
	})
	return overview, err
}

// SearchRange looks a range up in the portal catalogue and returns the
// matches with their termination ids.
func (c *Client) SearchRange(ctx context.Context, rangeName string) ([]domain.RangeMatch, error) {
	var payload struct {
		Data []struct {
			Range string      `json:"range"`
			ID    json.Number `json:"id"`
		} `json:"data"`
	}
	err := c.policy.Do(ctx, domain.IsRetryable, func() error {
		body, err := c.getJSON(ctx, "range_search", "/portal/numbers/test", map[string]string{
			"draw":             "2",
			"start":            "0",
			"length":           "50",
			"search[value]":    rangeName,
			"order[0][dir]":    "desc",
			"columns[0][data]": "range",
		})
		if err != nil {
			return err
		}
		payload.Data = nil
		if err := json.Unmarshal(body, &payload); err != nil {
			return domain.MalformedErrorf("range search: decode")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	matches := make([]domain.RangeMatch, 0, len(payload.Data))
	for _, item := range payload.Data {
		if item.Range == "" || item.ID.String() == "" {
			continue
		}
		matches = append(matches, domain.RangeMatch{RangeName: item.Range, TerminationID: item.ID.String()})
	}
	return matches, nil
}

// ClaimRange provisions a termination into the panel and returns the
// numbers it brought along.
func (c *Client) ClaimRange(ctx context.Context, terminationID string) ([]domain.NumberRecord, error) {
	// The details call warms up portal-side state; its HTML body is not used.
	if err := c.postPanel(ctx, "termination_details", "/portal/numbers/termination/details", map[string]string{
		"id":     terminationID,
		"_token": c.csrfToken,
	}, nil); err != nil {
		return nil, err
	}

	var added struct {
		Message string `json:"message"`
	}
	if err := c.postPanel(ctx, "termination_add", "/portal/numbers/termination/number/add", map[string]string{
		"_token": c.csrfToken,
		"id":     terminationID,
	}, &added); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(added.Message, "done add number") {
		return nil, domain.MalformedErrorf("claim rejected: %q", added.Message)
	}

	var numbers []struct {
		Number json.Number `json:"Number"`
	}
	if err := c.postPanel(ctx, "live_numbers", "/portal/live/getNumbers", map[string]string{
		"termination_id": terminationID,
		"_token":         c.csrfToken,
	}, &numbers); err != nil {
		return nil, err
	}
	records := make([]domain.NumberRecord, 0, len(numbers))
	for _, n := range numbers {
		records = append(records, domain.NumberRecord{Number: n.Number.String()})
	}
	return records, nil
}

// SearchNumbers lists the panel numbers belonging to a range. The portal
// wraps the numeric id into an HTML checkbox, hence the value extraction.
func (c *Client) SearchNumbers(ctx context.Context, rangeName string) ([]domain.NumberRecord, error) {
	var payload struct {
		Data []struct {
			NumberID string      `json:"number_id"`
			Number   json.Number `json:"Number"`
		} `json:"data"`
	}
	err := c.policy.Do(ctx, domain.IsRetryable, func() error {
		body, err := c.getJSON(ctx, "number_search", "/portal/numbers", map[string]string{
			"draw":          "1",
			"start":         "0",
			"length":        "100",
			"search[value]": rangeName,
			"order[0][dir]": "desc",
		})
		if err != nil {
			return err
		}
		payload.Data = nil
		if err := json.Unmarshal(body, &payload); err != nil {
			return domain.MalformedErrorf("number search: decode")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	records := make([]domain.NumberRecord, 0, len(payload.Data))
	for _, item := range payload.Data {
		groups := numberValueRe.FindStringSubmatch(item.NumberID)
		if len(groups) != 2 {
			continue
		}
		records = append(records, domain.NumberRecord{Number: item.Number.String(), NumberID: groups[1]})
	}
	return records, nil
}

// ReleaseNumbers bulk-returns panel numbers by their ids.
func (c *Client) ReleaseNumbers(ctx context.Context, numberIDs []string) error {
	form := url.Values{}
	for _, id := range numberIDs {
		form.Add("NumberID[]", id)
	}
	form.Set("_token", c.csrfToken)

	var payload map[string]json.RawMessage
	err := c.policy.Do(ctx, domain.IsRetryable, func() error {
		start := time.Now()
		res, err := c.http.R().
			SetContext(ctx).
			SetHeader("X-Csrf-Token", c.csrfToken).
			SetHeader("X-Requested-With", "XMLHttpRequest").
			SetHeader("Origin", c.baseURL.String()).
			SetFormDataFromValues(form).
			Post("/portal/numbers/return/number/bluck")
		metrics.ObserveNetworkRequest("portal", "numbers_release", c.baseURL.Hostname(), start, err)
		if err != nil {
			return domain.TransientErrorf("release request")
		}
		if redirectedToLogin(res) {
			return domain.AuthErrorf("release: session expired")
		}
		if err := json.Unmarshal(res.Body(), &payload); err != nil {
			return domain.MalformedErrorf("release: decode")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if _, ok := payload["NumberDoneRemove"]; !ok {
		return domain.MalformedErrorf("release was not confirmed")
	}
	return nil
}

// ReleaseAllNumbers returns every number in the panel.
func (c *Client) ReleaseAllNumbers(ctx context.Context) error {
	var payload struct {
		NumberDoneRemove []string `json:"NumberDoneRemove"`
	}
	if err := c.postPanel(ctx, "numbers_release_all", "/portal/numbers/return/allnumber/bluck", map[string]string{
		"_token": c.csrfToken,
	}, &payload); err != nil {
		return err
	}
	if len(payload.NumberDoneRemove) != 1 || payload.NumberDoneRemove[0] != "all numbers" {
		return domain.MalformedErrorf("release all was not confirmed")
	}
	return nil
}

// getJSON issues one datatables-style ajax GET.
func (c *Client) getJSON(ctx context.Context, operation, path string, params map[string]string) ([]byte, error) {
	start := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Csrf-Token", c.csrfToken).
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("Accept", "application/json, text/javascript, */*; q=0.01").
		SetQueryParams(params).
		Get(path)
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

// postPanel issues one ajax POST with bounded retry and optionally decodes
// the JSON response into out.
func (c *Client) postPanel(ctx context.Context, operation, path string, form map[string]string, out any) error {
	return c.policy.Do(ctx, domain.IsRetryable, func() error {
		start := time.Now()
		res, err := c.http.R().
			SetContext(ctx).
			SetHeader("X-Csrf-Token", c.csrfToken).
			SetHeader("X-Requested-With", "XMLHttpRequest").
			SetHeader("Origin", c.baseURL.String()).
			SetFormData(form).
			Post(path)
		metrics.ObserveNetworkRequest("portal", operation, c.baseURL.Hostname(), start, err)
		if err != nil {
			return domain.TransientErrorf("%s request", operation)
		}
		if redirectedToLogin(res) {
			return domain.AuthErrorf("%s: session expired", operation)
		}
		if res.StatusCode() >= 500 {
			return domain.TransientErrorf("%s: status %d", operation, res.StatusCode())
		}
		if res.StatusCode() >= 400 {
			return domain.AuthErrorf("%s: status %d", operation, res.StatusCode())
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(res.Body(), out); err != nil {
			return domain.MalformedErrorf("%s: decode", operation)
		}
		return nil
	})
}
