package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"venturemarket/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func sign(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestParseCheckoutCompleted(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_1","object":"checkout.session","payment_intent":"pi_9",
		"amount_total":5000,"metadata":{"job_id":"7"}}}}`)

	ev, err := parseWebhook(payload, sign(payload, testSecret), testSecret)
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, ev.Kind)
	assert.Equal(t, "cs_1", ev.SessionID)
	assert.Equal(t, "pi_9", ev.PaymentRef)
	assert.Equal(t, "50.00", ev.Amount.StringFixed(2))
	assert.Equal(t, uint(7), ev.JobID())
	assert.Equal(t, uint(0), ev.VentureID())
}

func TestParseChargeRefunded(t *testing.T) {
	payload := []byte(`{"id":"evt_2","object":"event","type":"charge.refunded",
		"data":{"object":{"id":"ch_1","object":"charge","payment_intent":"pi_9","amount_refunded":1250}}}`)

	ev, err := parseWebhook(payload, sign(payload, testSecret), testSecret)
	require.NoError(t, err)
	assert.Equal(t, EventChargeRefunded, ev.Kind)
	assert.Equal(t, "pi_9", ev.PaymentRef)
	assert.Equal(t, "12.50", ev.Amount.StringFixed(2))
}

func TestParseRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_3","object":"event","type":"invoice.paid","data":{"object":{}}}`)

	_, err := parseWebhook(payload, sign(payload, "whsec_other"), testSecret)
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	ev, err := parseWebhook(payload, sign(payload, testSecret), testSecret)
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, ev.Kind)
}
