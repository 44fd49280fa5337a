package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/id"
)

// Request headers set by the delivery source.
const (
	// HeaderSignature carries "sha256=<hex>" over the raw body.
	HeaderSignature = "X-Hub-Signature-256"
	// HeaderDelivery is the provider's unique delivery identifier.
	HeaderDelivery = "X-Webhook-Delivery"
	// HeaderEvent is the provider's event kind.
	HeaderEvent = "X-Webhook-Event"
)

const defaultMaxBody = 1 << 20 // 1 MiB

// Sink consumes normalized events. *engine.Engine satisfies it.
type Sink interface {
	HandleEvent(ctx context.Context, e *event.Event) error
}

// Normalizer converts a raw delivery body into the event payload map.
type Normalizer func(kind event.Kind, body []byte) (*event.Event, error)

// Handler is the http.Handler for the webhook endpoint.
type Handler struct {
	sink      Sink
	secret    []byte
	kinds     map[string]event.Kind
	normalize Normalizer
	limiter   *sourceLimiter
	maxBody   int64
	logger    *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithSecret enables HMAC-SHA256 signature verification with the shared
// secret. Without a secret, signatures are not checked; only do that
// behind an authenticating proxy.
func WithSecret(secret []byte) Option {
	return func(h *Handler) { h.secret = secret }
}

// WithKindMap translates provider event names to normalized kinds.
// Deliveries whose name has no entry are acknowledged and discarded.
func WithKindMap(m map[string]event.Kind) Option {
	return func(h *Handler) {
		h.kinds = make(map[string]event.Kind, len(m))
		for k, v := range m {
			h.kinds[k] = v
		}
	}
}

// WithNormalizer replaces the default JSON payload normalizer.
func WithNormalizer(n Normalizer) Option {
	return func(h *Handler) { h.normalize = n }
}

// WithRateLimit bounds deliveries per source address to rps with the
// given burst. Zero rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(h *Handler) { h.limiter = newSourceLimiter(rps, burst) }
}

// WithMaxBodySize caps the accepted request body size in bytes.
func WithMaxBodySize(n int64) Option {
	return func(h *Handler) { h.maxBody = n }
}

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler builds the webhook endpoint around the given sink.
func NewHandler(sink Sink, opts ...Option) *Handler {
	h := &Handler{
		sink:      sink,
		normalize: normalizeJSON,
		maxBody:   defaultMaxBody,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// DefaultKindMap maps the source-hosting provider's event names onto
// normalized kinds for the default coding pipeline.
func DefaultKindMap() map[string]event.Kind {
	return map[string]event.Kind{
		"pull_request.opened":      event.KindArtifactProduced,
		"pull_request_review":      event.KindReviewSubmitted,
		"label.applied":            event.KindLabelApplied,
		"push":                     event.KindCodePushed,
		"pull_request.synchronize": event.KindArtifactUpdated,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	source := sourceAddr(r)
	if h.limiter != nil && !h.limiter.allow(source) {
		h.logger.Warn("delivery rate limited", slog.String("source", source))
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		http.Error(w, "read failure", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > h.maxBody {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	if len(h.secret) > 0 && !h.verifySignature(r.Header.Get(HeaderSignature), body) {
		h.logger.Warn("delivery signature rejected", slog.String("source", source))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	providerKind := r.Header.Get(HeaderEvent)
	kind, ok := h.mapKind(providerKind)
	if !ok {
		// Unknown provider events are acknowledged so the source does
		// not retry them forever.
		h.logger.Debug("unmapped provider event acknowledged",
			slog.String("provider_kind", providerKind),
		)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	e, err := h.normalize(kind, body)
	if err != nil {
		h.logger.Warn("delivery payload rejected",
			slog.String("provider_kind", providerKind),
			slog.String("error", err.Error()),
		)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	e.Kind = kind
	e.DeliveryID = r.Header.Get(HeaderDelivery)
	if e.ID.IsNil() {
		e.ID = id.NewEventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if err := h.sink.HandleEvent(r.Context(), e); err != nil {
		if errors.Is(err, foreman.ErrCorrelationAmbiguous) {
			// Recorded and escalated; retrying the delivery cannot help.
			http.Error(w, "correlation ambiguous", http.StatusConflict)
			return
		}
		h.logger.Error("delivery processing failed",
			slog.String("delivery_id", e.DeliveryID),
			slog.String("kind", string(e.Kind)),
			slog.String("error", err.Error()),
		)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) mapKind(provider string) (event.Kind, bool) {
	if h.kinds == nil {
		return event.Kind(provider), provider != ""
	}
	k, ok := h.kinds[provider]
	return k, ok
}

func (h *Handler) verifySignature(header string, body []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign computes the signature header value for a body. Exposed for
// delivery sources and tests.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}

// normalizeJSON is the default Normalizer: the body is a JSON object
// whose "payload" member is a flat string map.
func normalizeJSON(_ event.Kind, body []byte) (*event.Event, error) {
	var wire struct {
		Actor     string            `json:"actor"`
		Timestamp time.Time         `json:"timestamp"`
		Payload   map[string]string `json:"payload"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("webhook: decode body: %w", err)
	}
	return &event.Event{
		Actor:     wire.Actor,
		Timestamp: wire.Timestamp,
		Payload:   wire.Payload,
	}, nil
}

func sourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
