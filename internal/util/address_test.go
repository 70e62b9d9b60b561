package util

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(`"Test From, with comma" <from@example.com>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.AddrSpec != "from@example.com" || addr.DisplayName != "Test From, with comma" {
		t.Fatalf("unexpected address %+v", addr)
	}

	if _, err := ParseAddress("not an address"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestParseAddressList(t *testing.T) {
	addrs, err := ParseAddressList([]string{
		"to1@example.com, Recipient Two <to2@example.com>",
		"",
		"to3@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 3 {
		t.Fatalf("expected 3 addresses, got %d", len(addrs))
	}
	if addrs[1].AddrSpec != "to2@example.com" || addrs[1].DisplayName != "Recipient Two" {
		t.Fatalf("unexpected second address %+v", addrs[1])
	}
	if addrs[2].DisplayName != "" {
		t.Fatalf("expected no display name, got %q", addrs[2].DisplayName)
	}
}

func TestParseAddressListInvalid(t *testing.T) {
	if _, err := ParseAddressList([]string{"ok@example.com", "@@"}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}
