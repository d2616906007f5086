package portal

import (
	"bytes"
	"context"
	"errors"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"sms-range-relay/internal/domain"
	"sms-range-relay/internal/infra/metrics"
	"sms-range-relay/internal/infra/retry"
)

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
	requestTimeout = 30 * time.Second
)

var (
	_ domain.PortalClient     = (*Client)(nil)
	_ domain.RangeProvisioner = (*Client)(nil)
)

// Client holds one authenticated session against the SMS portal. It is not
// safe for concurrent use: every caller that needs the portal in parallel
// must construct its own Client.
type Client struct {
	http     *resty.Client
	baseURL  *url.URL
	log      zerolog.Logger
	email    string
	password string
	policy   retry.Policy

	csrfToken string
	loggedAt  time.Time
}

// Options configures a portal client.
type Options struct {
	BaseURL  string
	Email    string
	Password string
}

// NewClient builds an unauthenticated client; the first EnsureSession call
// performs the login sequence.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(opts.BaseURL)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.SetTimeout(requestTimeout)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseURL.Hostname()))
	httpClient.SetHeader("User-Agent", userAgent)
	httpClient.SetHeader("Accept-Language", "en-GB,en;q=0.9")

	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		log:      logger,
		email:    opts.Email,
		password: opts.Password,
		policy:   retry.Default,
	}, nil
}

// SessionAge reports how long ago the last successful login happened.
func (c *Client) SessionAge() time.Duration {
	if c.loggedAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(c.loggedAt)
}

// InvalidateSession drops the in-memory session state; the next
// EnsureSession performs a full login.
func (c *Client) InvalidateSession() {
	c.csrfToken = ""
	c.loggedAt = time.Time{}
}

// EnsureSession makes sure the client holds a usable session. A stale or
// missing session triggers the full login sequence with bounded retry.
// Two consecutive credential rejections surface domain.ErrAuth.
func (c *Client) EnsureSession(ctx context.Context) error {
	if c.csrfToken != "" {
		ok, err := c.sessionAlive(ctx)
		if err == nil && ok {
			return nil
		}
		c.InvalidateSession()
	}

	rejected := 0
	var lastErr error
	for attempt := 1; attempt <= c.policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.login(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrAuth) {
			rejected++
			if rejected >= 2 {
				return err
			}
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("portal: login attempt failed")
		if attempt < c.policy.Attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.policy.Backoff):
			}
		}
	}
	return domain.AuthErrorf("login retries exhausted (%v)", lastErr)
}

// sessionAlive performs the authoritative check: the received-SMS page must
// come back with a csrf meta tag instead of a redirect to the login form.
func (c *Client) sessionAlive(ctx context.Context) (bool, error) {
	start := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Requested-With", "XMLHttpRequest").
		Get("/portal/sms/received")
	metrics.ObserveNetworkRequest("portal", "session_check", c.baseURL.Hostname(), start, err)
	if err != nil {
		return false, domain.TransientErrorf("session check")
	}
	if redirectedToLogin(res) {
		return false, nil
	}
	token, err := extractCSRFMeta(res.Body())
	if err != nil || token == "" {
		return false, nil
	}
	c.csrfToken = token
	return true, nil
}

// login runs the full sequence: scrape the anti-forgery token from the
// login form, post the credentials, then capture the csrf token from the
// received-SMS page.
func (c *Client) login(ctx context.Context) error {
	start := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		Get("/login")
	metrics.ObserveNetworkRequest("portal", "login_form", c.baseURL.Hostname(), start, err)
	if err != nil {
		return domain.TransientErrorf("fetch login form")
	}
	formToken, err := extractLoginToken(res.Body())
	if err != nil {
		return err
	}

	start = time.Now()
	res, err = c.http.R().
		SetContext(ctx).
		SetHeader("Referer", c.baseURL.String()+"/login").
		SetFormData(map[string]string{
			"_token":               formToken,
			"email":                c.email,
			"password":             c.password,
			"remember":             "on",
			"g-recaptcha-response": "",
			"submit":               "Login",
		}).
		Post("/login")
	metrics.ObserveNetworkRequest("portal", "login_submit", c.baseURL.Hostname(), start, err)
	if err != nil {
		return domain.TransientErrorf("submit credentials")
	}
	if redirectedToLogin(res) {
		return domain.AuthErrorf("credentials rejected")
	}

	start = time.Now()
	res, err = c.http.R().
		SetContext(ctx).
		SetHeader("Referer", c.baseURL.String()+"/portal").
		Get("/portal/sms/received")
	metrics.ObserveNetworkRequest("portal", "csrf_page", c.baseURL.Hostname(), start, err)
	if err != nil {
		return domain.TransientErrorf("fetch csrf page")
	}
	token, err := extractCSRFMeta(res.Body())
	if err != nil {
		return err
	}

	c.csrfToken = token
	c.loggedAt = time.Now()
	c.log.Info().Msg("portal: session established")
	return nil
}

func redirectedToLogin(res *resty.Response) bool {
	raw := res.RawResponse
	if raw == nil || raw.Request == nil || raw.Request.URL == nil {
		return false
	}
	return strings.HasSuffix(raw.Request.URL.Path, "/login")
}

func extractLoginToken(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", domain.MalformedErrorf("parse login page")
	}
	token := doc.Find(`input[name="_token"]`).AttrOr("value", "")
	if token == "" {
		return "", domain.MalformedErrorf("login page has no _token input")
	}
	return token, nil
}

func extractCSRFMeta(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", domain.MalformedErrorf("parse portal page")
	}
	token := doc.Find(`meta[name="csrf-token"]`).AttrOr("content", "")
	if token == "" {
		return "", domain.MalformedErrorf("portal page has no csrf-token meta")
	}
	return token, nil
}
