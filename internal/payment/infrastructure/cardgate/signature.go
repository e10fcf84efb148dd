package cardgate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robokitlabs/orderflow/internal/payment/application"
)

// signatureTolerance bounds how old a signed timestamp may be, limiting
// replay of captured webhook requests.
const signatureTolerance = 5 * time.Minute

// verifySignature checks a `t=<unix>,v1=<hex hmac>` header: the HMAC-SHA256 of
// "<t>.<payload>" under the shared secret, compared in constant time.
func verifySignature(payload []byte, header, secret string, now time.Time) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return application.ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return application.ErrInvalidSignature
	}
	if d := now.Sub(time.Unix(unix, 0)); d > signatureTolerance || d < -signatureTolerance {
		return application.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", ts, payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return application.ErrInvalidSignature
	}
	return nil
}

// Sign produces the signature header for a payload. Exported for webhook
// simulation in tests and sandboxes.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", ts, payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
