package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"gridwire-api/internal/svc"
)

type healthResponse struct {
	Status string `json:"status"`
	Stream string `json:"stream,omitempty"`
}

// HealthHandler reports liveness and the fill-stream connection state.
func HealthHandler(serverCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if serverCtx.Listener != nil {
			resp.Stream = string(serverCtx.Listener.State())
		}
		httpx.OkJson(w, resp)
	}
}
