package twilio

import (
	"context"
	"errors"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/voxsprint/voxly/pkg/errorsx"
	"github.com/voxsprint/voxly/pkg/transports"
)

type stubCreator struct {
	last *api.CreateCallParams
	sid  string
	err  error
}

func (s *stubCreator) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	s.last = params
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{Sid: &s.sid}, nil
}

func TestDialerDialUsesDefaults(t *testing.T) {
	stub := &stubCreator{sid: "CA123"}
	cfg := Config{
		AccountSID: "AC1",
		AuthToken:  "token",
		PublicURL:  "https://example.com",
		VoicePath:  "/voice",
	}
	d := NewDialer(cfg)
	d.client = stub

	sid, err := d.Dial(context.Background(), "+100", "+200", "")
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	if sid != "CA123" {
		t.Fatalf("expected sid CA123, got %s", sid)
	}
	if stub.last == nil || stub.last.To == nil || *stub.last.To != "+100" {
		t.Fatalf("expected To param")
	}
	if stub.last.Url == nil || *stub.last.Url != "https://example.com/voice" {
		t.Fatalf("expected default webhook url")
	}
	if stub.last.StatusCallback == nil || *stub.last.StatusCallback != "https://example.com/status" {
		t.Fatalf("expected status callback url on outbound call")
	}
}

func TestDialerSkipsStatusCallbackWithoutPublicURL(t *testing.T) {
	stub := &stubCreator{sid: "CA55"}
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "token"})
	d.client = stub

	if _, err := d.Dial(context.Background(), "+100", "+200", "https://example.com/voice"); err != nil {
		t.Fatalf("dial error: %v", err)
	}
	if stub.last.StatusCallback != nil {
		t.Fatalf("localhost deployments must not advertise a status callback")
	}
}

func TestDialerWrapsAPIErrors(t *testing.T) {
	stub := &stubCreator{err: errors.New("upstream 401")}
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "token"})
	d.client = stub

	_, err := d.Dial(context.Background(), "+100", "+200", "https://example.com/voice")
	if !errorsx.HasReason(err, errorsx.ReasonProviderDial) {
		t.Fatalf("expected provider_dial reason, got %v", err)
	}
}

func TestDialerDialWithOptionsSendDigits(t *testing.T) {
	stub := &stubCreator{sid: "CA777"}
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "token"})
	d.client = stub

	_, err := d.DialWithOptions(context.Background(), "+100", "+200", "https://example.com/voice", transports.DialOptions{SendDigits: "W123#"})
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	if stub.last == nil || stub.last.SendDigits == nil || *stub.last.SendDigits != "W123#" {
		t.Fatalf("expected SendDigits param")
	}
}

func TestDialerRejectsMissingParams(t *testing.T) {
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "token"})
	if _, err := d.Dial(context.Background(), "", "+200", ""); err == nil {
		t.Fatalf("expected error without destination")
	}
	d = NewDialer(Config{})
	if _, err := d.Dial(context.Background(), "+100", "+200", ""); err == nil {
		t.Fatalf("expected error without credentials")
	}
}
