package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Resolver turns a SharePage URL into the DirectExport URL of the view it shows.
type Resolver struct {
	client    *http.Client
	grammar   *Grammar
	maxBytes  int64
	userAgent string
	logger    *zap.Logger
}

// NewResolver returns a Resolver that reads at most maxBytes of each share page.
func NewResolver(client *http.Client, grammar *Grammar, maxBytes int64, userAgent string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client:    client,
		grammar:   grammar,
		maxBytes:  maxBytes,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Resolve fetches the share page and builds the export URL from the first
// view id it mentions. The page is scanned whatever its status, since
// Airtable serves the same markup on some error pages. DirectExport URLs are
// returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, v ValidatedURL) (ValidatedURL, error) {
	switch v.Kind {
	case DirectExport:
		return v, nil
	case SharePage:
	default:
		return v, &ValidationError{Raw: v.Raw, Message: msgInvalidURL}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.Raw, nil)
	if err != nil {
		return v, &UpstreamError{URL: v.Raw, Message: msgShareFailed, Err: err}
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("share page fetch failed", zap.String("url", v.Raw), zap.Error(err))
		return v, &UpstreamError{URL: v.Raw, Message: msgShareFailed, Err: err}
	}
	defer resp.Body.Close()

	body := io.Reader(resp.Body)
	if r.maxBytes > 0 {
		body = io.LimitReader(resp.Body, r.maxBytes)
	}
	page, err := io.ReadAll(body)
	if err != nil {
		r.logger.Error("share page read failed", zap.String("url", v.Raw), zap.Error(err))
		return v, &UpstreamError{URL: v.Raw, Message: msgShareFailed, Err: err}
	}

	m := v.Shape.Extract.FindSubmatch(page)
	if m == nil {
		r.logger.Warn("no view id in share page",
			zap.String("url", v.Raw),
			zap.Int("status", resp.StatusCode),
			zap.Int("bytes", len(page)),
		)
		return v, &ResolutionError{ShareURL: v.Raw}
	}
	export := fmt.Sprintf(v.Shape.ExportTemplate, m[1])
	resolved := r.grammar.Classify(export)
	if resolved.Kind != DirectExport {
		// The grammar may have the export shapes disabled.
		return v, &ResolutionError{ShareURL: v.Raw}
	}

	r.logger.Debug("resolved share link",
		zap.String("share", v.Raw),
		zap.String("export", export),
	)
	v.Resolved = resolved.Resolved
	return v, nil
}
