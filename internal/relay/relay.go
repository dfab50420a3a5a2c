package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hyperjump/sheetsift/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxRedirects = 10

// Response is an open upstream CSV body. Callers must close Body.
type Response struct {
	Body        io.ReadCloser
	ContentType string
	Source      ValidatedURL
}

// Relay validates a caller-supplied URL, resolves share links and streams the
// CSV export back. It is safe for concurrent use.
type Relay struct {
	grammar            *Grammar
	resolver           *Resolver
	client             *http.Client
	userAgent          string
	defaultContentType string
	logger             *zap.Logger
}

// Option configures a Relay.
type Option func(*relayOptions)

type relayOptions struct {
	transport http.RoundTripper
	logger    *zap.Logger
}

// WithTransport replaces the outbound transport. Redirect checks still apply.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *relayOptions) { o.transport = rt }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *relayOptions) { o.logger = l }
}

// New creates a Relay from cfg.
func New(cfg config.RelayConfig, opts ...Option) (*Relay, error) {
	o := &relayOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	grammar, err := NewGrammar(cfg.Shapes...)
	if err != nil {
		return nil, err
	}

	transport := o.transport
	if transport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.ResponseHeaderTimeout = cfg.FetchTimeout
		transport = base
	}
	client := &http.Client{
		Transport: otelhttp.NewTransport(transport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("relay: stopped after %d redirects", maxRedirects)
			}
			if !grammar.Classify(req.URL.String()).Valid() {
				o.logger.Warn("rejected upstream redirect",
					zap.String("from", via[len(via)-1].URL.String()),
					zap.String("to", req.URL.String()),
				)
				return ErrRedirectRejected
			}
			return nil
		},
	}

	contentType := cfg.DefaultContentType
	if contentType == "" {
		contentType = "text/csv"
	}
	return &Relay{
		grammar:            grammar,
		resolver:           NewResolver(client, grammar, cfg.MaxSharePageBytes, cfg.UserAgent, o.logger),
		client:             client,
		userAgent:          cfg.UserAgent,
		defaultContentType: contentType,
		logger:             o.logger,
	}, nil
}

// Grammar returns the relay's URL grammar.
func (rl *Relay) Grammar() *Grammar { return rl.grammar }

// Validate classifies raw and fails with a *ValidationError when it matches no shape.
// A value that only matches after one more percent-decoding is accepted, so
// clients that encode the url parameter twice keep working.
func (rl *Relay) Validate(raw string) (ValidatedURL, error) {
	if raw == "" {
		return ValidatedURL{Raw: raw}, &ValidationError{Raw: raw, Message: msgMissingURL}
	}
	v := rl.grammar.Classify(raw)
	if v.Valid() {
		return v, nil
	}
	if decoded, err := url.PathUnescape(raw); err == nil && decoded != raw {
		if dv := rl.grammar.Classify(decoded); dv.Valid() {
			return dv, nil
		}
	}
	return v, &ValidationError{Raw: raw, Message: msgInvalidURL}
}

// Open validates raw, resolves it if it is a share link and fetches the
// export. A non-2xx upstream answer is an *UpstreamError carrying its status.
func (rl *Relay) Open(ctx context.Context, raw string) (*Response, error) {
	v, err := rl.Validate(raw)
	if err != nil {
		return nil, err
	}
	if v, err = rl.resolver.Resolve(ctx, v); err != nil {
		return nil, err
	}
	return rl.fetch(ctx, v)
}

func (rl *Relay) fetch(ctx context.Context, v ValidatedURL) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.Resolved, nil)
	if err != nil {
		return nil, &UpstreamError{URL: v.Resolved, Message: msgFetchFailed, Err: err}
	}
	if rl.userAgent != "" {
		req.Header.Set("User-Agent", rl.userAgent)
	}
	resp, err := rl.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{URL: v.Resolved, Message: msgFetchFailed, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &UpstreamError{URL: v.Resolved, Status: resp.StatusCode}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = rl.defaultContentType
	}
	return &Response{Body: resp.Body, ContentType: contentType, Source: v}, nil
}

// ServeHTTP handles GET /relay?url=<encoded url>.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	raw := r.URL.Query().Get("url")

	resp, err := rl.Open(r.Context(), raw)
	if err != nil {
		rl.writeError(w, raw, err)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", resp.ContentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		// Headers are already on the wire.
		rl.logger.Error("relay stream interrupted",
			zap.String("url", resp.Source.Resolved),
			zap.Int64("bytes", n),
			zap.Error(err),
		)
		return
	}
	rl.logger.Info("relayed csv",
		zap.String("kind", resp.Source.Kind.String()),
		zap.String("url", resp.Source.Resolved),
		zap.Int64("bytes", n),
		zap.Duration("duration", time.Since(start)),
	)
}

func (rl *Relay) writeError(w http.ResponseWriter, raw string, err error) {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Status != 0 {
		rl.logger.Info("upstream answered non-2xx", zap.String("url", ue.URL), zap.Int("status", ue.Status))
		w.WriteHeader(ue.Status)
		return
	}

	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		rl.logger.Error("relay failed", zap.String("url", raw), zap.Error(err))
	} else {
		rl.logger.Debug("relay rejected request", zap.String("url", raw), zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": Message(err)})
}
