package messaging

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// mockTwilioSender records sent messages.
type mockTwilioSender struct {
	to   []string
	body []string
	err  error
}

func (m *mockTwilioSender) SendMessage(ctx context.Context, to, body string) error {
	if m.err != nil {
		return m.err
	}
	m.to = append(m.to, to)
	m.body = append(m.body, body)
	return nil
}

func TestTwilioWebhookEmitsResponse(t *testing.T) {
	svc := NewTwilioService(&mockTwilioSender{})

	form := url.Values{}
	form.Set("From", "whatsapp:+15550001")
	form.Set("Body", "שלום")
	form.Set("ProfileName", "Dana")
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.TwilioWebhookHandler(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	select {
	case resp := <-svc.Responses():
		if resp.From != "whatsapp:+15550001" || resp.Body != "שלום" || resp.PushName != "Dana" {
			t.Errorf("unexpected response: %+v", resp)
		}
	default:
		t.Fatal("no response emitted")
	}
}

func TestTwilioWebhookRejectsMissingFields(t *testing.T) {
	svc := NewTwilioService(&mockTwilioSender{})

	form := url.Values{}
	form.Set("From", "whatsapp:+15550001")
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.TwilioWebhookHandler(rec, req)

	if rec.Code != 400 {
		t.Errorf("expected 400 for missing body, got %d", rec.Code)
	}
}

func TestTwilioSendMessageCanonicalizesAndEmitsReceipt(t *testing.T) {
	sender := &mockTwilioSender{}
	svc := NewTwilioService(sender)

	if err := svc.SendMessage(context.Background(), "whatsapp:+1 555-0001", "היי"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.to) != 1 || sender.to[0] != "15550001" {
		t.Errorf("recipient not canonicalized: %v", sender.to)
	}
	select {
	case r := <-svc.Receipts():
		if r.To != "15550001" {
			t.Errorf("unexpected receipt: %+v", r)
		}
	default:
		t.Error("no receipt emitted")
	}
}

func TestTwilioSendAfterStopFails(t *testing.T) {
	svc := NewTwilioService(&mockTwilioSender{})
	if err := svc.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+15550001", "היי"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
