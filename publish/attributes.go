package publish

import (
	"encoding/hex"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/infigaming-com/substreams-sink-pubsub/domain"
	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

const (
	AttributeFrom = "from"
	AttributeTo   = "to"
)

var (
	errEmptyAddress = errors.New("address is empty")
	errAddressUTF8  = errors.New("address is not valid UTF-8")
)

// AttributeField is one routing field extracted from a record.
type AttributeField struct {
	Key    string
	Value  string
	format func(string) (string, error)
}

// Address is a field rendered as a canonical 0x-prefixed lowercase hex string.
func Address(key, raw string) AttributeField {
	return AttributeField{Key: key, Value: raw, format: FormatAddress}
}

// Text is a field copied as-is.
func Text(key, value string) AttributeField {
	return AttributeField{Key: key, Value: value}
}

// FormatAddress validates a hex address and renders it as "0x<lowercase hex>".
// A single leading 0x is accepted and not repeated.
func FormatAddress(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", errAddressUTF8
	}
	trimmed := raw
	if len(trimmed) >= 2 && (trimmed[:2] == "0x" || trimmed[:2] == "0X") {
		trimmed = trimmed[2:]
	}
	if trimmed == "" {
		return "", errEmptyAddress
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(decoded), nil
}

// BuildAttributes renders fields in the order given. Keys must be unique and
// non-empty; address fields that fail validation are encoding failures.
func BuildAttributes(fields ...AttributeField) ([]*schema.Attribute, error) {
	if dups := lo.FindDuplicatesBy(fields, func(f AttributeField) string { return f.Key }); len(dups) > 0 {
		return nil, InvalidMessage(nil, "duplicate attribute key %q", dups[0].Key)
	}
	attrs := make([]*schema.Attribute, 0, len(fields))
	for _, field := range fields {
		if field.Key == "" {
			return nil, InvalidMessage(schema.ErrEmptyAttributeKey, "attribute key")
		}
		value := field.Value
		if field.format != nil {
			formatted, err := field.format(value)
			if err != nil {
				return nil, EncodingFailure(err, "attribute %q value %q", field.Key, strings.ToValidUTF8(value, "�"))
			}
			value = formatted
		} else if !utf8.ValidString(value) {
			return nil, EncodingFailure(schema.ErrInvalidUTF8, "attribute %q", field.Key)
		}
		attrs = append(attrs, &schema.Attribute{Key: field.Key, Value: value})
	}
	return attrs, nil
}

// TransferAttributes yields [from, to] for a transfer.
func TransferAttributes(t *domain.Transfer) ([]*schema.Attribute, error) {
	return BuildAttributes(
		Address(AttributeFrom, t.From),
		Address(AttributeTo, t.To),
	)
}
