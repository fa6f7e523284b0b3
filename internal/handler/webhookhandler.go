package handler

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpx"

	"gridwire-api/internal/svc"
	"gridwire-api/pkg/signal"
	"gridwire-api/pkg/trading"
)

const maxWebhookBody = 64 << 10

type webhookResponse struct {
	Status string `json:"status"`
}

// WebhookHandler ingests trading signals. The response is always 200
// "received": senders cannot retry meaningfully, and a distinct status for
// bad credentials would let callers probe for valid passphrases.
func WebhookHandler(serverCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logx.WithContext(r.Context())
		defer httpx.OkJson(w, webhookResponse{Status: "received"})

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			logger.Errorf("webhook: read body: %v", err)
			return
		}

		payload, err := signal.ParsePayload(body)
		if err != nil {
			logger.Errorf("webhook: %v", err)
			return
		}

		strat, err := serverCtx.Repos.Strategies.FindByPassphrase(r.Context(), payload.Passphrase)
		if err != nil {
			logger.Errorf("webhook: passphrase lookup failed for ticker %s", payload.Ticker)
			return
		}
		if subtle.ConstantTimeCompare([]byte(strat.Passphrase), []byte(payload.Passphrase)) != 1 {
			logger.Errorf("webhook: passphrase mismatch for strategy %d", strat.ID)
			return
		}
		if strat.Status != trading.StatusActive {
			// Exits still route so a deactivated strategy can flatten.
			sig, sigErr := payload.ParseSignal()
			if sigErr != nil || sig.Class() != signal.ClassExit {
				logger.Infof("webhook: dropping signal for inactive strategy %d", strat.ID)
				return
			}
			enqueue(serverCtx, logger, sig, strat)
			return
		}

		sig, err := payload.ParseSignal()
		if err != nil {
			logger.Errorf("webhook: %v", err)
			return
		}
		enqueue(serverCtx, logger, sig, strat)
	}
}

func enqueue(serverCtx *svc.ServiceContext, logger logx.Logger, sig signal.Signal, strat *trading.Strategy) {
	env := signal.NewEnvelope(sig, strat)
	if err := serverCtx.Sequencer.Ingest(env); err != nil {
		logger.Errorf("webhook: ingest %s for strategy %d: %v", env.CorrelationID, strat.ID, err)
		return
	}
	logger.Infof("webhook: accepted %T for %s correlation %s", sig, strat.Symbol, env.CorrelationID)
}
