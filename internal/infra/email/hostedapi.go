package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"postroom/internal/common"
	"postroom/internal/config"
	"postroom/internal/domain/notification"
)

var _ notification.Provider = (*HostedAPIProvider)(nil)

// HostedAPIProvider sends emails through a Microsoft Graph style sendMail endpoint.
type HostedAPIProvider struct {
	baseURL    string
	sender     string
	tokens     TokenProvider
	httpClient *http.Client
}

// NewHostedAPIProvider creates a new hosted API email provider.
// httpClient may be nil to use a client with the configured timeout.
func NewHostedAPIProvider(cfg config.HostedAPIConfig, tokens TokenProvider, httpClient *http.Client) *HostedAPIProvider {
	if httpClient == nil {
		timeout := cfg.Timeout()
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HostedAPIProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		sender:     cfg.SenderAddress,
		tokens:     tokens,
		httpClient: httpClient,
	}
}

// Name returns the provider kind.
func (p *HostedAPIProvider) Name() string {
	return config.ProviderHostedAPI
}

// Close releases idle HTTP connections.
func (p *HostedAPIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

type graphEmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphMessage struct {
	Subject       string           `json:"subject"`
	Body          graphBody        `json:"body"`
	From          *graphRecipient  `json:"from,omitempty"`
	ToRecipients  []graphRecipient `json:"toRecipients"`
	CcRecipients  []graphRecipient `json:"ccRecipients,omitempty"`
	BccRecipients []graphRecipient `json:"bccRecipients,omitempty"`
	ReplyTo       []graphRecipient `json:"replyTo,omitempty"`
	Importance    string           `json:"importance,omitempty"`
}

type graphSendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

// Send delivers one message. A 401 invalidates the cached token and the call
// is retried once with a fresh one.
func (p *HostedAPIProvider) Send(ctx context.Context, msg *notification.EmailMessage) notification.DeliveryOutcome {
	payload, sender, err := buildGraphPayload(msg, mail.Address{Address: p.sender})
	if err != nil {
		return notification.Failed(common.WrapProviderError(p.Name(), "invalid message", err, false), false)
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return notification.Failed(common.WrapProviderError(p.Name(), "marshaling payload", err, false), false)
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", p.baseURL, url.PathEscape(sender))

	for attempt := 0; ; attempt++ {
		outcome, unauthorized := p.post(ctx, endpoint, jsonData)
		if !unauthorized || attempt > 0 {
			return outcome
		}
		slog.Info("hosted api rejected token, refreshing", "notification_id", msg.NotificationID)
		p.tokens.Invalidate()
	}
}

// post performs one sendMail call. unauthorized reports a 401 response.
func (p *HostedAPIProvider) post(ctx context.Context, endpoint string, body []byte) (notification.DeliveryOutcome, bool) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return notification.Failed(err, common.IsRetryable(err)), false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return notification.Failed(common.WrapProviderError(p.Name(), "creating request", err, false), false), false
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("client-request-id", requestID)
	req.Header.Set("return-client-request-id", "true")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return notification.Failed(common.WrapProviderError(p.Name(), "executing request", err, true), true), false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return notification.Sent(requestID), false
	case code == http.StatusUnauthorized:
		return p.failure(code, respBody, false), true
	case code == http.StatusTooManyRequests || code >= 500:
		return p.failure(code, respBody, true), false
	default:
		return p.failure(code, respBody, false), false
	}
}

func (p *HostedAPIProvider) failure(status int, body []byte, retryable bool) notification.DeliveryOutcome {
	var errResp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &errResp)

	msg := errResp.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	if errResp.Error.Code != "" {
		msg = errResp.Error.Code + ": " + msg
	}

	return notification.Failed(common.NewProviderError(p.Name(), fmt.Sprintf("status %d: %s", status, msg), retryable), retryable)
}

// buildGraphPayload converts msg into a sendMail request body and returns the
// mailbox to send as. Addresses are validated the same way as for direct send.
func buildGraphPayload(msg *notification.EmailMessage, defaultSender mail.Address) (graphSendMailRequest, string, error) {
	env, err := parseEnvelope(msg, defaultSender)
	if err != nil {
		return graphSendMailRequest{}, "", err
	}

	contentType := "Text"
	if strings.EqualFold(msg.Body.ContentType, notification.EmailBodyContentType) {
		contentType = "HTML"
	}

	m := graphMessage{
		Subject:       msg.Subject,
		Body:          graphBody{ContentType: contentType, Content: msg.Body.Content},
		ToRecipients:  toGraphRecipients(env.To),
		CcRecipients:  toGraphRecipients(env.CC),
		BccRecipients: toGraphRecipients(env.BCC),
		Importance:    normalizeImportance(msg.Importance),
	}
	if m.ToRecipients == nil {
		m.ToRecipients = []graphRecipient{}
	}
	if msg.From != "" {
		m.From = &graphRecipient{EmailAddress: graphEmailAddress{Address: env.From.Address, Name: env.From.Name}}
	}
	if env.ReplyTo != nil {
		m.ReplyTo = toGraphRecipients([]*mail.Address{env.ReplyTo})
	}

	return graphSendMailRequest{Message: m, SaveToSentItems: true}, env.From.Address, nil
}

func toGraphRecipients(list []*mail.Address) []graphRecipient {
	if len(list) == 0 {
		return nil
	}
	out := make([]graphRecipient, len(list))
	for i, a := range list {
		out[i] = graphRecipient{EmailAddress: graphEmailAddress{Address: a.Address, Name: a.Name}}
	}
	return out
}
