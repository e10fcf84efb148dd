package walletpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/robokitlabs/orderflow/internal/payment/application"
)

// verifySignature checks a `<transmission id>:<hex hmac>` header, where the
// MAC covers "<transmission id>|<payload>" under the shared secret. The
// transmission id makes each delivery's signature unique, so a captured
// request cannot be replayed under a different event.
func verifySignature(payload []byte, header, secret string) error {
	transmissionID, sig, ok := strings.Cut(header, ":")
	if !ok || transmissionID == "" || sig == "" {
		return application.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(transmissionID))
	mac.Write([]byte("|"))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return application.ErrInvalidSignature
	}
	return nil
}

// Sign builds the transmission signature header for a payload. Used by tests
// and sandbox tooling.
func Sign(payload []byte, transmissionID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(transmissionID))
	mac.Write([]byte("|"))
	mac.Write(payload)
	return transmissionID + ":" + hex.EncodeToString(mac.Sum(nil))
}
