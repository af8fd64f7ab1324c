package esewa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "8gBm/:&EnhH.1/q"

func expectedSignature(msg string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSign_OrderedMessage(t *testing.T) {
	fields := map[string]string{
		"product_code":     "EPAYTEST",
		"total_amount":     "100",
		"transaction_uuid": "11-201-13",
	}
	got := Sign(fields, SplitNames(SignedFieldNames), testSecret)

	assert.Equal(t, expectedSignature("total_amount=100,transaction_uuid=11-201-13,product_code=EPAYTEST"), got)
	assert.Equal(t, got, Sign(fields, SplitNames(SignedFieldNames), testSecret), "signing must be deterministic")

	fields["total_amount"] = "101"
	assert.NotEqual(t, got, Sign(fields, SplitNames(SignedFieldNames), testSecret))
}

func TestVerify(t *testing.T) {
	fields := map[string]string{"a": "1", "b": "2"}
	sig := Sign(fields, []string{"a", "b"}, testSecret)

	assert.True(t, Verify(fields, []string{"a", "b"}, testSecret, sig))
	assert.False(t, Verify(fields, []string{"b", "a"}, testSecret, sig))
	assert.False(t, Verify(fields, []string{"a", "b"}, "other", sig))
}

func TestFormatAmount(t *testing.T) {
	cases := map[string]string{
		"1130":     "1130.0",
		"1130.00":  "1130.0",
		"1130.5":   "1130.5",
		"1130.55":  "1130.55",
		"1130.555": "1130.56",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatAmount(decimal.RequireFromString(in)), in)
	}
}

func TestNewForm(t *testing.T) {
	cfg := Config{ProductCode: "EPAYTEST", SecretKey: testSecret, FormURL: "https://gw/form",
		SuccessURL: "https://app/payment/success", FailureURL: "https://app/payment/failure"}

	form := NewForm(cfg, "uuid-1", decimal.NewFromInt(1000), decimal.NewFromInt(130), decimal.NewFromInt(1130))

	assert.Equal(t, "1130.0", form.TotalAmount)
	assert.Equal(t, SignedFieldNames, form.SignedFieldNames)
	assert.Equal(t, expectedSignature("total_amount=1130.0,transaction_uuid=uuid-1,product_code=EPAYTEST"), form.Signature)
	assert.Equal(t, "https://app/payment/success", form.SuccessURL)
}

func signedBlob(t *testing.T, payload map[string]interface{}) string {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(b)
}

func TestParseCallback_SignedBlob(t *testing.T) {
	names := "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names"
	payload := map[string]interface{}{
		"transaction_code":   "000AWEO",
		"status":             "COMPLETE",
		"total_amount":       "1130.0",
		"transaction_uuid":   "uuid-1",
		"product_code":       "EPAYTEST",
		"signed_field_names": names,
	}
	fields := map[string]string{}
	for k, v := range payload {
		fields[k] = v.(string)
	}
	payload["signature"] = Sign(fields, SplitNames(names), testSecret)

	q := url.Values{"data": {signedBlob(t, payload)}}
	cb, err := ParseCallback(q, testSecret, true)
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", cb.TransactionUUID)
	assert.Equal(t, "1130.0", cb.TotalAmount)
	assert.Equal(t, "000AWEO", cb.RefID)
	assert.True(t, cb.Signed)

	payload["total_amount"] = "1.0"
	_, err = ParseCallback(url.Values{"data": {signedBlob(t, payload)}}, testSecret, true)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestParseCallback_NumericAmountInBlob(t *testing.T) {
	raw := `{"transaction_uuid":"u","total_amount":1130.0,"transaction_code":"R"}`
	q := url.Values{"data": {base64.StdEncoding.EncodeToString([]byte(raw))}}

	cb, err := ParseCallback(q, "", false)
	require.NoError(t, err)
	assert.Equal(t, "1130.0", cb.TotalAmount)
}

func TestParseCallback_Legacy(t *testing.T) {
	q := url.Values{"oid": {"uuid-1"}, "amt": {"1130.0"}, "refId": {"REF"}}

	cb, err := ParseCallback(q, "", false)
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", cb.TransactionUUID)
	assert.False(t, cb.Signed)

	_, err = ParseCallback(q, testSecret, true)
	assert.ErrorIs(t, err, ErrUnsigned)

	_, err = ParseCallback(url.Values{}, "", false)
	assert.ErrorIs(t, err, ErrMissingParams)
}

func TestParseCallback_Garbage(t *testing.T) {
	_, err := ParseCallback(url.Values{"data": {"%%%not-base64"}}, "", false)
	assert.ErrorIs(t, err, ErrBadPayload)
}
