// Package esewa implements the eSewa ePay v2 form signing and callback decoding.
package esewa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// SignedFieldNames is the field order used for outbound checkout forms.
const SignedFieldNames = "total_amount,transaction_uuid,product_code"

var (
	ErrMissingParams = errors.New("esewa: callback carries no transaction parameters")
	ErrBadPayload    = errors.New("esewa: callback data blob cannot be decoded")
	ErrBadSignature  = errors.New("esewa: callback signature mismatch")
	ErrUnsigned      = errors.New("esewa: callback is not signed")
)

// Sign joins name=value pairs in the given order with "," and returns the
// base64 encoded HMAC-SHA256 of the message.
func Sign(fields map[string]string, names []string, secret string) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+fields[name])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, ",")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
func Verify(fields map[string]string, names []string, secret, signature string) bool {
	expected := Sign(fields, names, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SplitNames parses a comma separated signed_field_names value.
func SplitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// FormatAmount renders an amount the way the gateway echoes it back:
// two decimal places at most, trailing zeros trimmed, but always at least
// one fractional digit ("1130.0", "1130.5", "1130.55").
func FormatAmount(d decimal.Decimal) string {
	s := d.Round(2).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Config carries the merchant settings needed to build a checkout form.
type Config struct {
	ProductCode string
	SecretKey   string
	FormURL     string
	SuccessURL  string
	FailureURL  string
}

// Form is the set of fields posted by the browser to the gateway.
type Form struct {
	FormURL               string `json:"form_url"`
	Amount                string `json:"amount"`
	TaxAmount             string `json:"tax_amount"`
	TotalAmount           string `json:"total_amount"`
	TransactionUUID       string `json:"transaction_uuid"`
	ProductCode           string `json:"product_code"`
	ProductServiceCharge  string `json:"product_service_charge"`
	ProductDeliveryCharge string `json:"product_delivery_charge"`
	SuccessURL            string `json:"success_url"`
	FailureURL            string `json:"failure_url"`
	SignedFieldNames      string `json:"signed_field_names"`
	Signature             string `json:"signature"`
}

// NewForm builds and signs the checkout form for a transaction.
func NewForm(cfg Config, transactionUUID string, amount, tax, total decimal.Decimal) Form {
	totalStr := FormatAmount(total)
	fields := map[string]string{
		"total_amount":     totalStr,
		"transaction_uuid": transactionUUID,
		"product_code":     cfg.ProductCode,
	}
	return Form{
		FormURL:               cfg.FormURL,
		Amount:                FormatAmount(amount),
		TaxAmount:             FormatAmount(tax),
		TotalAmount:           totalStr,
		TransactionUUID:       transactionUUID,
		ProductCode:           cfg.ProductCode,
		ProductServiceCharge:  "0",
		ProductDeliveryCharge: "0",
		SuccessURL:            cfg.SuccessURL,
		FailureURL:            cfg.FailureURL,
		SignedFieldNames:      SignedFieldNames,
		Signature:             Sign(fields, SplitNames(SignedFieldNames), cfg.SecretKey),
	}
}

// Callback is the normalized result of a success redirect.
type Callback struct {
	TransactionUUID string
	TotalAmount     string
	RefID           string
	Status          string
	// Signed reports whether the callback came as a signed data blob.
	Signed bool
	// Raw keeps the decoded blob for auditing.
	Raw string
}

// ParseCallback reads either the signed base64 "data" blob or the legacy
// oid/amt/refId query parameters. When a secret is given the blob signature
// is checked; when requireSigned is set legacy callbacks are rejected.
func ParseCallback(q url.Values, secret string, requireSigned bool) (*Callback, error) {
	if data := q.Get("data"); data != "" {
		return decodeData(data, secret)
	}
	if requireSigned {
		return nil, ErrUnsigned
	}
	cb := &Callback{
		TransactionUUID: q.Get("oid"),
		TotalAmount:     q.Get("amt"),
		RefID:           q.Get("refId"),
	}
	if cb.TransactionUUID == "" || cb.TotalAmount == "" {
		return nil, ErrMissingParams
	}
	return cb, nil
}

func decodeData(data, secret string) (*Callback, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		// 部分网关返回 URL-safe 编码
		raw, err = base64.URLEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	fields := make(map[string]string, len(payload))
	for k, v := range payload {
		fields[k] = rawString(v)
	}

	cb := &Callback{
		TransactionUUID: fields["transaction_uuid"],
		TotalAmount:     fields["total_amount"],
		RefID:           fields["transaction_code"],
		Status:          fields["status"],
		Signed:          true,
		Raw:             string(raw),
	}
	if cb.TransactionUUID == "" || cb.TotalAmount == "" {
		return nil, ErrMissingParams
	}

	if secret != "" {
		names := SplitNames(fields["signed_field_names"])
		if len(names) == 0 || !Verify(fields, names, secret, fields["signature"]) {
			return nil, ErrBadSignature
		}
	}
	return cb, nil
}

// rawString returns JSON strings unquoted and any other JSON value verbatim,
// so numeric amounts are signed exactly as they were sent.
func rawString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(v))
}
