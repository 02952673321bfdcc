package models

import (
	"fmt"
	"strings"
)

// MessageCategory is the WhatsApp conversation category a send is billed under.
type MessageCategory string

const (
	CategoryAuthentication MessageCategory = "authentication"
	CategoryMarketing      MessageCategory = "marketing"
	CategoryUtility        MessageCategory = "utility"
	CategoryService        MessageCategory = "service"
)

var knownCategories = map[MessageCategory]struct{}{
	CategoryAuthentication: {},
	CategoryMarketing:      {},
	CategoryUtility:        {},
	CategoryService:        {},
}

// ParseCategory accepts any casing.
func ParseCategory(raw string) (MessageCategory, error) {
	c := MessageCategory(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownCategories[c]; !ok {
		return "", fmt.Errorf("unknown message category %q", raw)
	}
	return c, nil
}

// Valid reports whether c is one of the billed categories.
func (c MessageCategory) Valid() bool {
	_, ok := knownCategories[c]
	return ok
}
