package server

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/pkg/config"
	"github.com/axiestudio/aichatbot-sub000/pkg/server/router"
)

type (
	GatewayServerDI struct {
		Config  *config.Config
		Logger  *logrus.Logger
		Routers []router.ServerRouter
	}
	GatewayServer struct {
		*BaseServer
	}
)

func NewGatewayServer(di GatewayServerDI) *GatewayServer {
	base := NewBaseServer(di.Config, di.Logger).WithRouters(di.Routers...)
	return &GatewayServer{BaseServer: base}
}

func (s *GatewayServer) Run() error {
	s.setupMetricsEndpoint()

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.Logger.WithField("addr", addr).Info("starting gateway server")
	return s.Router.Listen(addr)
}

func (s *GatewayServer) Shutdown() error {
	return s.Router.Shutdown()
}
