package util

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/example/sendinblue-relay/internal/models"
)

// ParseAddress parses a single RFC 5322 address, display name allowed.
func ParseAddress(value string) (models.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return models.Address{}, fmt.Errorf("%w: value is empty", ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return models.Address{}, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	return models.Address{AddrSpec: addr.Address, DisplayName: addr.Name}, nil
}

// ParseAddressList parses header style address lists. Every value may hold
// several comma separated addresses; blank values are skipped.
func ParseAddressList(values []string) ([]models.Address, error) {
	var out []models.Address
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		list, err := mail.ParseAddressList(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidEmail, trimmed, err)
		}
		for _, addr := range list {
			out = append(out, models.Address{AddrSpec: addr.Address, DisplayName: addr.Name})
		}
	}
	return out, nil
}
