package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/merchantkit/payout-bridge/internal/obs"
	"github.com/merchantkit/payout-bridge/internal/resilience"
	"github.com/merchantkit/payout-bridge/internal/signature"
)

const (
	apiURL        = "https://app.payout.one/api/v1/"
	apiURLSandbox = "https://sandbox.payout.one/api/v1/"

	contentTypeJSON = "application/json"
)

// Config carries the processor credentials and environment selection.
type Config struct {
	ClientID     string
	ClientSecret string
	Sandbox      bool
	// BaseURL overrides the environment-derived API root. Used in tests.
	BaseURL string
}

// Client is an authenticated API session against the processor. The bearer
// token is cached for the lifetime of the client and refreshed lazily. A
// Client is single-owner: construct one per logical request flow, or
// serialize access externally.
type Client struct {
	cfg      Config
	http     *resilience.Client
	logger   zerolog.Logger
	token    string
	tokenExp time.Time
}

// NewClient constructs an API session. The transport applies the bounded
// timeout and retry policy for outbound calls.
func NewClient(cfg Config, transport *resilience.Client, logger zerolog.Logger) *Client {
	return &Client{cfg: cfg, http: transport, logger: logger}
}

func (c *Client) baseURL() string {
	if strings.TrimSpace(c.cfg.BaseURL) != "" {
		return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/"
	}
	if c.cfg.Sandbox {
		return apiURLSandbox
	}
	return apiURL
}

// Authenticate exchanges the client credentials for a bearer token and caches
// it. Any transport failure, non-2xx status or error body yields an AuthError
// and leaves no token cached.
func (c *Client) Authenticate(ctx context.Context) error {
	c.token = ""
	c.tokenExp = time.Time{}
	creds := map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}
	if _, err := c.do(ctx, "authorize", http.MethodPost, "authorize", creds, false); err != nil {
		return &AuthError{Message: "authorize request failed", Err: err}
	}
	if c.token == "" {
		return &AuthError{Message: "authorize response carried no token"}
	}
	return nil
}

func (c *Client) ensureToken(ctx context.Context) error {
	if c.token != "" {
		if c.tokenExp.IsZero() || time.Until(c.tokenExp) > 30*time.Second {
			return nil
		}
	}
	return c.Authenticate(ctx)
}

// CreateCheckout validates raw checkout data, signs it and posts it to the
// processor. The response signature is verified before any field is trusted;
// a mismatch aborts with a SignatureError.
func (c *Client) CreateCheckout(ctx context.Context, raw map[string]any) (*Checkout, error) {
	ctx, span := otel.Tracer("payout.Client").Start(ctx, "Client.CreateCheckout")
	defer span.End()

	req, err := BuildCheckout(raw)
	if err != nil {
		return nil, err
	}
	nonce, err := signature.Nonce()
	if err != nil {
		return nil, err
	}
	req.Nonce = nonce
	req.Signature = signature.Sign([]string{
		strconv.FormatInt(req.Amount, 10), req.Currency, req.ExternalID, nonce,
	}, c.cfg.ClientSecret)

	span.SetAttributes(attribute.String("checkout.external_id", req.ExternalID))

	body, err := c.do(ctx, "create checkout", http.MethodPost, "checkouts", req, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c.parseCheckout("create checkout", body)
}

// GetCheckout fetches checkout details by processor id and verifies the
// response signature identically to CreateCheckout.
func (c *Client) GetCheckout(ctx context.Context, id string) (*Checkout, error) {
	ctx, span := otel.Tracer("payout.Client").Start(ctx, "Client.GetCheckout")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.id", id))

	body, err := c.do(ctx, "get checkout", http.MethodGet, "checkouts/"+id, nil, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c.parseCheckout("get checkout", body)
}

func (c *Client) parseCheckout(op string, body []byte) (*Checkout, error) {
	var checkout Checkout
	if err := json.Unmarshal(body, &checkout); err != nil {
		return nil, &APIError{Message: "malformed checkout response: " + err.Error()}
	}
	fields := []string{
		checkout.Amount.String(), checkout.Currency, checkout.ExternalID, checkout.Nonce,
	}
	if !signature.Verify(fields, c.cfg.ClientSecret, checkout.Signature) {
		c.logger.Error().
			Str("op", op).
			Str("external_id", checkout.ExternalID).
			Msg("response signature verification failed")
		return nil, &SignatureError{Op: op}
	}
	return &checkout, nil
}

// RefundRequest is the wire payload for POST /refunds. Amount must already be
// in minor units; this path never re-applies the major→minor conversion.
type RefundRequest struct {
	Amount              int64  `json:"amount"`
	Currency            string `json:"currency"`
	ExternalID          string `json:"external_id"`
	CheckoutID          string `json:"checkout_id"`
	PayoutID            string `json:"payout_id"`
	IBAN                string `json:"iban"`
	StatementDescriptor string `json:"statement_descriptor"`
	Nonce               string `json:"nonce"`
	Signature           string `json:"signature"`
}

// Refund is the processor response for a refund creation.
type Refund struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
}

// CreateRefund validates, signs and posts a refund.
func (c *Client) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	ctx, span := otel.Tracer("payout.Client").Start(ctx, "Client.CreateRefund")
	defer span.End()

	switch {
	case req.CheckoutID == "":
		return nil, missingParam("checkout_id")
	case req.PayoutID == "":
		return nil, missingParam("payout_id")
	case req.IBAN == "":
		return nil, missingParam("iban")
	}

	nonce, err := signature.Nonce()
	if err != nil {
		return nil, err
	}
	req.Nonce = nonce
	req.Signature = signature.Sign([]string{
		strconv.FormatInt(req.Amount, 10), req.Currency, req.ExternalID, req.IBAN, nonce,
	}, c.cfg.ClientSecret)

	span.SetAttributes(attribute.String("refund.external_id", req.ExternalID))

	body, err := c.do(ctx, "create refund", http.MethodPost, "refunds", req, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	var refund Refund
	if err := json.Unmarshal(body, &refund); err != nil {
		return nil, &APIError{Message: "malformed refund response: " + err.Error()}
	}
	return &refund, nil
}

// envelope captures the fields shared by every processor response: an
// optional structured error and an optional token refresh.
type envelope struct {
	Errors json.RawMessage `json:"errors"`
	Token  string          `json:"token"`
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any, authed bool) ([]byte, error) {
	if authed {
		if err := c.ensureToken(ctx); err != nil {
			return nil, err
		}
	}

	var reqBody *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(encoded)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, body, err := c.http.Do(ctx, req)
	if obs.ProcessorLatency != nil {
		obs.ProcessorLatency.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	var env envelope
	if len(body) > 0 {
		// Non-JSON bodies fall through to the status check below.
		_ = json.Unmarshal(body, &env)
	}
	if len(env.Errors) > 0 && string(env.Errors) != "null" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(env.Errors)}
	}
	if env.Token != "" {
		c.cacheToken(env.Token)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return body, nil
}

// cacheToken stores the bearer token. Processor tokens are JWTs, so the exp
// claim bounds the cache; opaque tokens fall back to session-lifetime caching.
func (c *Client) cacheToken(token string) {
	c.token = token
	c.tokenExp = time.Time{}
	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return
	}
	if exp := parsed.Expiration(); !exp.IsZero() {
		c.tokenExp = exp
	}
}
