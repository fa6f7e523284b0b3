package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest"

	"gridwire-api/internal/config"
	"gridwire-api/internal/handler"
	"gridwire-api/internal/svc"
)

var configFile = flag.String("f", "etc/gridwire.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)

	server := rest.MustNewServer(cfg.RestConf)
	defer server.Stop()

	serviceCtx := svc.NewServiceContext(*cfg)
	defer serviceCtx.Close()
	handler.RegisterHandlers(server, serviceCtx)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go serviceCtx.Sequencer.Run(ctx)
	if serviceCtx.Listener != nil {
		go func() {
			if err := serviceCtx.Listener.Run(ctx); err != nil {
				logx.Errorf("fill stream listener exited: %v", err)
			}
		}()
	}

	fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
	server.Start()
}
