package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"assetdesk/internal/config"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Gateway 出站消息网关。自动化核心只依赖这个接口，
// 传输实现（WhatsApp Cloud API）可替换。
type Gateway interface {
	SendText(ctx context.Context, to, body string) error
}

// WhatsAppClient 通过 WhatsApp Cloud API 发送文本消息
type WhatsAppClient struct {
	baseURL       string
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
	logger        *logrus.Logger
}

func NewWhatsAppClient(cfg config.WhatsAppConfig, logger *logrus.Logger) *WhatsAppClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &WhatsAppClient{
		baseURL:       cfg.BaseURL,
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type textMessage struct {
	MessagingProduct string  `json:"messaging_product"`
	To               string  `json:"to"`
	Type             string  `json:"type"`
	Text             textObj `json:"text"`
}

type textObj struct {
	Body string `json:"body"`
}

// SendText 发送单条文本消息
func (c *WhatsAppClient) SendText(ctx context.Context, to, body string) error {
	msg := textMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textObj{Body: body},
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API error: %s - %s", resp.Status, string(respBody))
	}

	c.logger.Debugf("whatsapp: sent text to %s", to)
	return nil
}

// NoopGateway 网关未启用时的占位实现，只记录日志
type NoopGateway struct {
	Logger *logrus.Logger
}

func (g *NoopGateway) SendText(ctx context.Context, to, body string) error {
	if g.Logger != nil {
		g.Logger.Infof("whatsapp disabled, dropping message to %s", to)
	}
	return nil
}
