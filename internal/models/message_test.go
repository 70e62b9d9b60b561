package models

import "testing"

func TestSendDefaultsApply(t *testing.T) {
	defaults := SendDefaults{
		From:            Address{AddrSpec: "noreply@example.com"},
		Tags:            []string{"default"},
		Headers:         map[string]string{"X-Env": "prod", "X-Team": "core"},
		MergeGlobalData: map[string]any{"brand": "acme"},
	}
	msg := &Message{
		Tags:    []string{"welcome"},
		Headers: map[string]string{"X-Team": "growth"},
	}

	out := defaults.Apply(msg)

	if out.From.AddrSpec != "noreply@example.com" {
		t.Fatalf("expected default from, got %q", out.From.AddrSpec)
	}
	if len(out.Tags) != 2 || out.Tags[0] != "default" || out.Tags[1] != "welcome" {
		t.Fatalf("unexpected tags %v", out.Tags)
	}
	if out.Headers["X-Team"] != "growth" || out.Headers["X-Env"] != "prod" {
		t.Fatalf("unexpected headers %v", out.Headers)
	}
	if out.MergeGlobalData["brand"] != "acme" {
		t.Fatalf("expected default merge global data, got %v", out.MergeGlobalData)
	}
	if len(msg.Tags) != 1 {
		t.Fatalf("original message must not be modified, tags=%v", msg.Tags)
	}
}

func TestSendDefaultsKeepExplicitFrom(t *testing.T) {
	defaults := SendDefaults{From: Address{AddrSpec: "noreply@example.com"}}
	msg := &Message{From: Address{AddrSpec: "team@example.com", DisplayName: "Team"}}

	out := defaults.Apply(msg)
	if out.From.AddrSpec != "team@example.com" {
		t.Fatalf("expected explicit from to win, got %q", out.From.AddrSpec)
	}
}

func TestSendStatusMessageID(t *testing.T) {
	id := "<abc@smtp-relay.mailin.fr>"
	shared := &RecipientStatus{MessageID: &id, Status: DeliveryQueued}
	status := &SendStatus{Recipients: map[string]*RecipientStatus{
		"a@example.com": shared,
		"b@example.com": shared,
	}}

	got, ok := status.MessageID()
	if !ok || got == nil || *got != id {
		t.Fatalf("expected shared message id %q, got %v (ok=%v)", id, got, ok)
	}
	if _, queued := status.Statuses()[DeliveryQueued]; !queued {
		t.Fatalf("expected queued status in %v", status.Statuses())
	}
}

func TestSendStatusMessageIDDiffers(t *testing.T) {
	a, b := "a", "b"
	status := &SendStatus{Recipients: map[string]*RecipientStatus{
		"a@example.com": {MessageID: &a, Status: DeliveryQueued},
		"b@example.com": {MessageID: &b, Status: DeliveryQueued},
	}}
	if _, ok := status.MessageID(); ok {
		t.Fatalf("expected no shared message id")
	}
}

func TestAddressString(t *testing.T) {
	addr := Address{AddrSpec: "to@example.com", DisplayName: "Recipient"}
	if got := addr.String(); got != `"Recipient" <to@example.com>` {
		t.Fatalf("unexpected formatted address %q", got)
	}
}
