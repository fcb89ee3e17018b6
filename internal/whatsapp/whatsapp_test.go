package whatsapp

import (
	"context"
	"errors"
	"testing"

	"github.com/valueplus/salespipe/internal/models"
)

func TestOptionsApplied(t *testing.T) {
	opts := &Opts{}

	WithDBDSN("/var/lib/salespipe/test.db")(opts)
	WithQRCodeOutput("/tmp/qr.txt")(opts)
	WithNumericCode()(opts)

	if opts.DBDSN != "/var/lib/salespipe/test.db" {
		t.Errorf("DBDSN not applied: %q", opts.DBDSN)
	}
	if opts.QRPath != "/tmp/qr.txt" {
		t.Errorf("QRPath not applied: %q", opts.QRPath)
	}
	if !opts.NumericCode {
		t.Error("NumericCode not applied")
	}
}

func TestMockClientValidatesInput(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()

	if err := mock.SendMessage(ctx, "", "שלום"); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if err := mock.SendMessage(ctx, "15550001", ""); !errors.Is(err, models.ErrEmptyMessageBody) {
		t.Errorf("expected ErrEmptyMessageBody, got %v", err)
	}
	if err := mock.SendMessage(ctx, "15550001", "שלום"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "15550001" {
		t.Errorf("message not recorded: %+v", mock.SentMessages)
	}
}
