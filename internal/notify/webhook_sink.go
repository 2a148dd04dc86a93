package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhookヘッダー
const (
	SignatureHeader = "X-Moonwave-Signature"
	DeliveryHeader  = "X-Moonwave-Delivery"
	userAgent       = "Moonwave-Webhook/1.0"
)

// WebhookSink は通知をJSONでHTTP POSTする。
// secretが設定されている場合、本文のHMAC-SHA256署名を付与する。
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

// NewWebhookSink はWebhookSinkを生成する。
// 本番環境ではsecurity.EgressGuardのクライアントを渡すこと。
func NewWebhookSink(url, secret string, client *http.Client) *WebhookSink {
	return &WebhookSink{
		url:    url,
		secret: secret,
		client: client,
		now:    time.Now,
	}
}

// Send は通知を1回だけPOSTする。2xx以外の応答はエラーとして返す。
func (s *WebhookSink) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(NewEvent(n, s.now()))
	if err != nil {
		return fmt.Errorf("Webhookペイロードのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("Webhookリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(DeliveryHeader, n.Key().String())
	if s.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(body, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("Webhookの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhookの応答が不正です: status %d", resp.StatusCode)
	}
	return nil
}

// Sign はpayloadのHMAC-SHA256署名を16進文字列で返す。受信側の検証にも使える。
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

var _ Sink = (*WebhookSink)(nil)
