package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WebhookClient инкапсулирует HTTP-доставку уведомлений во внешний сервис.
type WebhookClient struct {
	url        string
	httpClient *http.Client
}

// NewWebhookClient создаёт HTTP-клиент для доставки уведомлений по указанному адресу.
func NewWebhookClient(url string) *WebhookClient {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return &WebhookClient{
		url: strings.TrimRight(url, "/"),
		httpClient: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Deliver отправляет уведомление одним POST-запросом. При ответе 429 возвращает
// статус и задержку из Retry-After без ошибки.
func (c *WebhookClient) Deliver(ctx context.Context, ev Event) (int, time.Duration, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ev.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp.StatusCode, 0, nil
}

// Notify доставляет уведомление, один раз повторяя попытку после 429,
// если задержка укладывается в дедлайн контекста.
func (c *WebhookClient) Notify(ctx context.Context, ev Event) error {
	code, retryAfter, err := c.Deliver(ctx, ev)
	if err != nil || code != http.StatusTooManyRequests {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < retryAfter {
		return fmt.Errorf("rate limited, retry after %s exceeds deadline", retryAfter)
	}

	timer := time.NewTimer(retryAfter)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}

	code, _, err = c.Deliver(ctx, ev)
	if err != nil {
		return err
	}
	if code == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited twice")
	}
	return nil
}
