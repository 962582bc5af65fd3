package recording

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"crm-telephony/internal/apperr"
)

// Defaults applied to every upstream recording URL.
const (
	defaultExtension = ".mp3"
	channelsParam    = "RequestedChannels"
	dualChannels     = "2"
	CacheControl     = "private, max-age=3600"
)

var (
	sidPattern     = regexp.MustCompile(`^RE[0-9a-fA-F]{32}$`)
	audioExtension = map[string]bool{".mp3": true, ".wav": true}
)

type Config struct {
	AccountSID string
	AuthToken  string
	// Host is the provider API host; only it and its subdomains are fetched.
	Host string
}

// Proxy fetches provider-hosted recordings with operator credentials so browsers never see them.
type Proxy struct {
	cfg    Config
	client *http.Client
}

// NewProxy builds a Proxy. A nil client uses a client with no overall timeout:
// the download is bounded by the caller's request context instead.
func NewProxy(cfg Config, client *http.Client) *Proxy {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Host == "" {
		cfg.Host = "api.twilio.com"
	}
	cfg.Host = strings.ToLower(cfg.Host)
	return &Proxy{cfg: cfg, client: client}
}

// Resolve turns a provider URL or a recording sid into the upstream URL to fetch.
// URLs outside the provider host are rejected with a ForbiddenError.
func (p *Proxy) Resolve(rawURL, sid string) (*url.URL, error) {
	rawURL, sid = strings.TrimSpace(rawURL), strings.TrimSpace(sid)
	var u *url.URL
	switch {
	case rawURL != "":
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Host == "" {
			return nil, apperr.Validation("url", "must be an absolute URL")
		}
		if parsed.Scheme != "https" {
			return nil, apperr.Forbidden("only https recording URLs are allowed")
		}
		if parsed.User != nil || !p.allowedHost(parsed.Hostname()) {
			return nil, apperr.Forbidden("recording host is not the telephony provider")
		}
		u = parsed
	case sid != "":
		if !sidPattern.MatchString(sid) {
			return nil, apperr.Validation("sid", "malformed recording sid")
		}
		if p.cfg.AccountSID == "" {
			return nil, apperr.Configuration("TWILIO_ACCOUNT_SID")
		}
		u = &url.URL{
			Scheme: "https",
			Host:   p.cfg.Host,
			Path:   path.Join("/2010-04-01/Accounts", p.cfg.AccountSID, "Recordings", sid),
		}
	default:
		return nil, apperr.Validation("url", "url or sid required")
	}

	if !audioExtension[strings.ToLower(path.Ext(u.Path))] {
		u.Path += defaultExtension
		u.RawPath = ""
	}
	q := u.Query()
	if q.Get(channelsParam) == "" {
		q.Set(channelsParam, dualChannels)
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// Fetch starts the upstream download. The caller owns the response body.
// Network failures are returned as errors; upstream statuses are left to the caller.
func (p *Proxy) Fetch(ctx context.Context, u *url.URL) (*http.Response, error) {
	if p.cfg.AccountSID == "" || p.cfg.AuthToken == "" {
		return nil, apperr.Configuration("TWILIO_ACCOUNT_SID/TWILIO_AUTH_TOKEN")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	return p.client.Do(req)
}

func (p *Proxy) allowedHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == p.cfg.Host || strings.HasSuffix(host, "."+p.cfg.Host)
}
