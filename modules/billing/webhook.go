package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/complykit/complykit/handler"
	"github.com/complykit/complykit/pkg/logger"
	billingsvc "github.com/complykit/complykit/svc/billing"
)

// SignatureHeader carries hex(HMAC-SHA512(secret, body)).
const SignatureHeader = "X-Paystack-Signature"

// maxWebhookBody caps gateway deliveries; real payloads are a few KB.
const maxWebhookBody = 1 << 20

var errWebhookTooLarge = errors.New("webhook body too large")

// paystackWebhook reads the raw body, since the signature covers the exact
// bytes, and answers 200 once the event is processed or known. Signature
// failures answer 401 and transient failures 500 so the gateway retries.
// The reconciler has already logged the failure.
func (m *Module) paystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		m.writeError(w, r, handler.NewHTTPError(http.StatusBadRequest, "bad_request", err))
		return
	}
	if len(body) > maxWebhookBody {
		m.writeError(w, r, handler.NewHTTPError(http.StatusRequestEntityTooLarge, "payload_too_large", errWebhookTooLarge))
		return
	}

	err = m.svc.Reconciler.Handle(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, billingsvc.ErrInvalidEvent):
		// A signed but unusable payload will not improve on retry.
		m.log.ErrorContext(r.Context(), "acknowledging unusable webhook", logger.Error(err))
	default:
		m.writeError(w, r, err)
		return
	}

	if err := handler.Empty(http.StatusOK).Render(w, r); err != nil {
		m.log.ErrorContext(r.Context(), "failed to acknowledge webhook", logger.Error(err))
	}
}
