package twiliowhatsapp

import (
	"context"
	"testing"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token")); err == nil {
		t.Error("expected error without a from number")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFromWhats("whatsapp:+15550000")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMockClientSendMessage(t *testing.T) {
	mock := NewMockClient()

	if err := mock.SendMessage(context.Background(), "15550001", "שלום"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "15550001" || mock.SentMessages[0].Body != "שלום" {
		t.Errorf("unexpected recorded message: %+v", mock.SentMessages[0])
	}
}
