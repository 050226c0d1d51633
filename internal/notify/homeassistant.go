package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	haclient "github.com/mkelcik/go-ha-client/v2"
)

// RESTClient is the subset of Home Assistant client behaviour the sink needs.
// Defining it as an interface allows mock injection in tests.
type RESTClient interface {
	Ping(ctx context.Context) error
	// CallService POSTs to /api/services/<domain>/<service>. Notify services
	// return no data, so no return_response variant is needed.
	CallService(ctx context.Context, domain, service string, body io.Reader) error
}

// haClientWrapper wraps [haclient.Client] and adds a plain CallService method
// that POSTs without ?return_response, since notify services do not support
// responses.
type haClientWrapper struct {
	client  *haclient.Client
	baseURL string
	token   string
	hc      *http.Client
}

func (w *haClientWrapper) Ping(ctx context.Context) error {
	return w.client.Ping(ctx)
}

// CallService POSTs the body to /api/services/<domain>/<service> without
// appending ?return_response, so HA does not try to return data.
func (w *haClientWrapper) CallService(ctx context.Context, domain, service string, body io.Reader) error {
	endpoint := fmt.Sprintf("%s/api/services/%s/%s",
		strings.TrimRight(w.baseURL, "/"),
		url.PathEscape(domain),
		url.PathEscape(service),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create service request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute service request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusBadRequest {
		var br struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&br)
		return errors.New(br.Message)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return errors.New("HA returned 401 Unauthorized, check home_assistant.token")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("HA returned unexpected status %d", resp.StatusCode)
	}
	return nil
}

// HASink delivers notifications through a Home Assistant notify service
// (e.g. notify.mobile_app_phone or notify.persistent_notification).
// Create one with [NewHASink] or [NewHASinkWithClient].
type HASink struct {
	rest    RESTClient
	service string
	log     *slog.Logger
}

// NewHASink creates a sink backed by a real HA REST client.
func NewHASink(haURL, token, service string, logger *slog.Logger) (*HASink, error) {
	rest, err := haclient.NewClient(haURL,
		haclient.WithToken(token),
		haclient.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create HA REST client: %w", err)
	}

	wrapper := &haClientWrapper{
		client:  rest,
		baseURL: haURL,
		token:   token,
		hc:      &http.Client{},
	}
	return &HASink{rest: wrapper, service: service, log: logger}, nil
}

// NewHASinkWithClient creates a sink with a caller-supplied REST client.
// Intended for testing with a mock [RESTClient].
func NewHASinkWithClient(rest RESTClient, service string, logger *slog.Logger) *HASink {
	return &HASink{rest: rest, service: service, log: logger}
}

// Ping validates the HA connection and token with retry.
func (s *HASink) Ping(ctx context.Context) error {
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return s.rest.Ping(ctx)
	})
	if err != nil {
		return fmt.Errorf("pinging Home Assistant: %w", err)
	}
	return nil
}

// notifyPayload is the body of a notify service call. The tag makes the
// notification slot stable: HA replaces an existing notification that carries
// the same tag.
type notifyPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Data    struct {
		Tag string `json:"tag"`
	} `json:"data"`
}

// Show calls the configured notify service with the given title and body.
func (s *HASink) Show(ctx context.Context, id int64, title, body string) error {
	payload := notifyPayload{Title: title, Message: body}
	payload.Data.Tag = fmt.Sprintf("carminder-%d", id)

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding notification %d: %w", id, err)
	}

	err = Retry(ctx, defaultMaxAttempts, func() error {
		return s.rest.CallService(ctx, "notify", s.service, bytes.NewReader(raw))
	})
	if err != nil {
		return fmt.Errorf("delivering notification %d: %w", id, err)
	}

	s.log.Debug("notification delivered", "id", id, "service", s.service)
	return nil
}
