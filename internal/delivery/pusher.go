package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"coffeeshop/internal/models"
)

// Pusher отправляет тело сообщения на resource подписчика.
// Возвращает HTTP-код (0, если ответа не было).
type Pusher interface {
	Push(ctx context.Context, sub *models.Subscriber, msg *models.Message, deliveryID string) (int, error)
}

const (
	HeaderDelivery = "X-Coffeeshop-Delivery"
	HeaderMessage  = "X-Coffeeshop-Message"
	HeaderChannel  = "X-Coffeeshop-Channel"

	maxDrainBytes = 64 << 10
)

type HTTPPusher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPPusher(timeout time.Duration, version string) *HTTPPusher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if version == "" {
		version = "dev"
	}
	return &HTTPPusher{
		client: &http.Client{
			Timeout: timeout,
			// 3xx от resource не считается доставкой
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: "coffeeshop/" + version,
	}
}

func (p *HTTPPusher) Push(ctx context.Context, sub *models.Subscriber, msg *models.Message, deliveryID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Resource, bytes.NewReader(msg.Body))
	if err != nil {
		return 0, &TransientError{Err: fmt.Errorf("build request: %w", err)}
	}
	if msg.ContentType != "" {
		req.Header.Set("Content-Type", msg.ContentType)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set(HeaderDelivery, deliveryID)
	req.Header.Set(HeaderMessage, msg.ID)
	req.Header.Set(HeaderChannel, strconv.FormatInt(msg.Channel, 10))

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, &TransientError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &TransientError{
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}
	return resp.StatusCode, nil
}
