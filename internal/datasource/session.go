package datasource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/seenimoa/optchain/internal/config"
	"github.com/seenimoa/optchain/internal/infra"
)

const (
	crumbPath     = "/v1/test/getcrumb"
	crumbCacheKey = "crumb"
	maxErrorBody  = 1024
	maxPageBody   = 1 << 20
)

// session is an authenticated Yahoo Finance HTTP session. Yahoo's JSON
// endpoints want a consent cookie plus a matching crumb query parameter;
// the session bootstraps both once and shares them across requests.
type session struct {
	client   *http.Client
	cfg      config.YahooConfig
	throttle *infra.Throttle
	crumbs   *infra.Cache[string]
	log      logrus.FieldLogger

	bootMu sync.Mutex // one bootstrap at a time
}

func newSession(cfg config.YahooConfig, log logrus.FieldLogger) (*session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	return &session{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		cfg:      cfg,
		throttle: infra.NewThrottle(cfg.RequestsPerSecond),
		crumbs:   infra.NewCache[string](cfg.CrumbTTL),
		log:      log,
	}, nil
}

// getJSON performs a crumb-authenticated GET against the Yahoo API and
// returns the raw body.
func (s *session) getJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	crumb, err := s.crumb(ctx)
	if err != nil {
		return nil, err
	}
	if query == nil {
		query = url.Values{}
	}
	if crumb != "" {
		query.Set("crumb", crumb)
	}

	u := strings.TrimRight(s.cfg.BaseURL, "/") + path
	if enc := query.Encode(); enc != "" {
		u += "?" + enc
	}

	resp, err := s.do(ctx, http.MethodGet, u, nil, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusUnauthorized {
			// Stale crumb; the next caller bootstraps a fresh one.
			s.crumbs.Invalidate(crumbCacheKey)
		}
		return nil, httpError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// crumb returns the session crumb, bootstrapping cookie and crumb on first use.
func (s *session) crumb(ctx context.Context) (string, error) {
	if !s.cfg.UseCrumb {
		return "", nil
	}
	if c, ok := s.crumbs.Get(crumbCacheKey); ok {
		return c, nil
	}

	s.bootMu.Lock()
	defer s.bootMu.Unlock()
	if c, ok := s.crumbs.Get(crumbCacheKey); ok {
		return c, nil
	}

	if err := s.acquireCookie(ctx); err != nil {
		return "", err
	}
	c, err := s.fetchCrumb(ctx)
	if err != nil {
		return "", err
	}
	s.crumbs.Set(crumbCacheKey, c)
	s.log.WithField("ttl", s.cfg.CrumbTTL).Debug("yahoo session established")
	return c, nil
}

// acquireCookie visits the cookie URL so the jar picks up Yahoo's session
// cookie. The endpoint typically answers 404 with the cookie set, so any
// status is accepted. EU visitors land on a consent form instead, which is
// submitted on their behalf.
func (s *session) acquireCookie(ctx context.Context) error {
	if s.cfg.CookieURL == "" {
		return nil
	}
	resp, err := s.do(ctx, http.MethodGet, s.cfg.CookieURL, nil, map[string]string{"Accept": "text/html,*/*"})
	if err != nil {
		return fmt.Errorf("yahoo cookie: %w", err)
	}
	defer resp.Body.Close()

	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return fmt.Errorf("yahoo cookie: read page: %w", err)
	}

	form := consentForm(page)
	if form == nil {
		return nil
	}
	s.log.WithField("url", resp.Request.URL.Redacted()).Debug("yahoo consent form detected")
	return s.submitConsent(ctx, resp.Request.URL, form)
}

// consentForm returns the consent form on page, or nil if page is not a
// consent page.
func consentForm(page []byte) *goquery.Selection {
	if !bytes.Contains(page, []byte("<form")) {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil
	}
	form := doc.Find("form").FilterFunction(func(_ int, f *goquery.Selection) bool {
		return f.Find(`input[name="csrfToken"]`).Length() > 0 ||
			f.Find(`[name="agree"]`).Length() > 0
	}).First()
	if form.Length() == 0 {
		return nil
	}
	return form
}

// submitConsent posts the form's hidden fields with agree=agree to its action.
func (s *session) submitConsent(ctx context.Context, page *url.URL, form *goquery.Selection) error {
	action, _ := form.Attr("action")
	target, err := page.Parse(action)
	if err != nil {
		return fmt.Errorf("%w: bad form action %q: %v", ErrConsent, action, err)
	}

	values := url.Values{}
	form.Find(`input[type="hidden"]`).Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		val, _ := in.Attr("value")
		values.Add(name, val)
	})
	values.Set("agree", "agree")

	resp, err := s.do(ctx, http.MethodPost, target.String(), strings.NewReader(values.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConsent, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %v", ErrConsent, httpError(resp))
	}
	return nil
}

func (s *session) fetchCrumb(ctx context.Context) (string, error) {
	u := strings.TrimRight(s.cfg.BaseURL, "/") + crumbPath
	resp, err := s.do(ctx, http.MethodGet, u, nil, map[string]string{"Accept": "text/plain,*/*"})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrumb, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: %w", ErrCrumb, httpError(resp))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", fmt.Errorf("%w: read: %v", ErrCrumb, err)
	}
	crumb := strings.TrimSpace(string(body))
	if crumb == "" || strings.ContainsAny(crumb, "<> ") {
		return "", fmt.Errorf("%w: unexpected body %q", ErrCrumb, truncate(crumb, 64))
	}
	return crumb, nil
}

// do sends one throttled request with browser-like default headers.
func (s *session) do(ctx context.Context, method, u string, body io.Reader, headers map[string]string) (*http.Response, error) {
	if err := s.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	s.log.WithFields(logrus.Fields{"method": method, "path": req.URL.Path}).Debug("yahoo request")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP %s %s: %w", method, req.URL.Redacted(), err)
	}
	return resp, nil
}

func httpError(resp *http.Response) *ErrHTTP {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &ErrHTTP{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
