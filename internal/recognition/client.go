package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"biopass/internal/domain"
	"biopass/internal/platform/metrics"
)

// Gateway is the narrow client to the external image-based recognition
// service. It returns a confidence score and feature summary; raw biometric
// templates never reach storage.
type Gateway interface {
	Recognize(ctx context.Context, sessionID domain.SessionID, image []byte) (domain.RecognitionResult, error)
}

var (
	// ErrTimeout covers the hard per-call deadline and transport failures.
	// The reconciler treats it as a soft failure: a slow or broken service
	// must not look like the user failing verification.
	ErrTimeout = errors.New("recognition timed out")

	// ErrBadResponse covers malformed bodies and out-of-range scores. The
	// service is untrusted; garbage is rejected, never clamped.
	ErrBadResponse = errors.New("recognition response rejected")
)

// HTTPGateway talks JSON over HTTP to the recognition service.
type HTTPGateway struct {
	url     string
	token   string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type GatewayOption func(*HTTPGateway)

func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *HTTPGateway) { g.logger = logger }
}

func WithMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *HTTPGateway) { g.metrics = m }
}

func WithTimeout(d time.Duration) GatewayOption {
	return func(g *HTTPGateway) { g.timeout = d }
}

func WithToken(token string) GatewayOption {
	return func(g *HTTPGateway) { g.token = token }
}

func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *HTTPGateway) { g.client = c }
}

func NewHTTPGateway(url string, opts ...GatewayOption) (*HTTPGateway, error) {
	if url == "" {
		return nil, errors.New("recognition url is required")
	}
	g := &HTTPGateway{
		url:     url,
		timeout: 8 * time.Second,
		client:  &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type recognizeRequest struct {
	SessionID string `json:"session_id"`
	Image     []byte `json:"image"` // base64 on the wire via encoding/json
}

type recognizeResponse struct {
	Score      *float64          `json:"score"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Recognize performs the single external call for a session, bounded by the
// hard timeout. The duplicate-submission guard lives with the session state,
// not here: the gateway is stateless.
func (g *HTTPGateway) Recognize(ctx context.Context, sessionID domain.SessionID, image []byte) (domain.RecognitionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(recognizeRequest{SessionID: sessionID.String(), Image: image})
	if err != nil {
		return domain.RecognitionResult{}, fmt.Errorf("marshal recognize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return domain.RecognitionResult{}, fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if g.metrics != nil {
		g.metrics.RecognitionLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		g.logger.Warn("recognition call failed", "session_id", sessionID, "error", err)
		return domain.RecognitionResult{}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("recognition returned non-200", "session_id", sessionID, "status", resp.StatusCode)
		return domain.RecognitionResult{}, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	var parsed recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.RecognitionResult{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if parsed.Score == nil {
		return domain.RecognitionResult{}, fmt.Errorf("%w: missing score", ErrBadResponse)
	}
	score := *parsed.Score
	if math.IsNaN(score) || score < 0 || score > 1 {
		return domain.RecognitionResult{}, fmt.Errorf("%w: score %v out of range", ErrBadResponse, score)
	}

	return domain.RecognitionResult{
		SessionID:  sessionID,
		Score:      score,
		Attributes: parsed.Attributes,
		ReturnedAt: time.Now(),
	}, nil
}
