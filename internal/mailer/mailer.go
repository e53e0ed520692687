// Package mailer はパスワード再設定メールの送信を提供する。
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultSendGridEndpoint はSendGrid v3 Mail SendのURL。
const DefaultSendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"

// Mailer はメール送信のインターフェース。
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, resetLink string) error
}

// SendGridMailer はSendGridのHTTP APIでメールを送信する。
type SendGridMailer struct {
	apiKey   string
	from     address
	endpoint string
	client   *http.Client
}

// NewSendGridMailer はSendGridMailerを生成する。
func NewSendGridMailer(apiKey, fromEmail, fromName string) *SendGridMailer {
	return &SendGridMailer{
		apiKey:   apiKey,
		from:     address{Email: fromEmail, Name: fromName},
		endpoint: DefaultSendGridEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type personalization struct {
	To []address `json:"to"`
}

type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

var resetTemplate = template.Must(template.New("reset").Parse(`<html><body>
<h3>パスワードの再設定</h3>
<p>パスワード再設定のリクエストを受け付けました。下のリンクから新しいパスワードを設定してください。</p>
<p><a href="{{.}}">パスワードを再設定する</a></p>
<p>このリンクの有効期限は15分です。心当たりがない場合はこのメールを破棄してください。</p>
</body></html>`))

// SendPasswordReset は再設定リンクを含むメールを送信する。
func (m *SendGridMailer) SendPasswordReset(ctx context.Context, to, resetLink string) error {
	var html bytes.Buffer
	if err := resetTemplate.Execute(&html, resetLink); err != nil {
		return fmt.Errorf("failed to render reset mail: %w", err)
	}

	body, err := json.Marshal(sendRequest{
		Personalizations: []personalization{{To: []address{{Email: to}}}},
		From:             m.from,
		Subject:          "【LateWork】パスワード再設定のご案内",
		Content: []content{
			{Type: "text/plain", Value: "次のリンクからパスワードを再設定してください: " + resetLink},
			{Type: "text/html", Value: html.String()},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode sendgrid request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sendgrid request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call sendgrid: %w", err)
	}
	defer resp.Body.Close()

	// 成功時は202が返る
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sendgrid error: status=%d body=%s", resp.StatusCode, detail)
	}
	return nil
}

// LogMailer は送信せずにログへ記録するだけのMailer。APIキー未設定の開発環境向け。
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// SendPasswordReset は宛先のみをログに記録する。リンクにはトークンが含まれるため出力しない。
func (m *LogMailer) SendPasswordReset(ctx context.Context, to, resetLink string) error {
	m.logger.Info("password reset mail skipped (mail disabled)", zap.String("to", to))
	return nil
}

// compile-time interface check
var (
	_ Mailer = (*SendGridMailer)(nil)
	_ Mailer = (*LogMailer)(nil)
)
