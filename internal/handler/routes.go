package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"gridwire-api/internal/svc"
)

// RegisterHandlers wires the HTTP routes onto the rest server.
func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	server.AddRoutes([]rest.Route{
		{
			Method:  http.MethodPost,
			Path:    "/webhook",
			Handler: WebhookHandler(serverCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/healthz",
			Handler: HealthHandler(serverCtx),
		},
	})
}
