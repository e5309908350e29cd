// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/pkg/nacos"
	"verbapost/internal/tracing"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Config *Config
}

// AppInfo 包含了启动一个服务所需的特定信息。
type AppInfo struct {
	ServiceName      string
	Config           *Config
	RegisterHandlers func(appCtx AppCtx) // 注册服务自己的 HTTP 路由
	// Cleanup 在 HTTP 服务器关闭之后执行，用于关闭 DB / Kafka / Redis 等连接
	Cleanup func(ctx context.Context)
}

// StartService 封装了通用的启动和优雅关停逻辑，阻塞直到收到退出信号。
func StartService(info AppInfo) {
	cfg := info.Config
	log := logger.Ctx(context.Background())

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	var (
		namingClient *nacos.Client
		ip           string
	)
	if cfg.Infra.Nacos.Enabled {
		namingClient, err = nacos.NewClient(cfg.Infra.Nacos.Addrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		ip, err = outboundIP()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Msgf("%s listening on :%d", info.ServiceName, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msgf("could not listen on %s", server.Addr)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msgf("Shutting down service %s...", info.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关停顺序与启动相反：先摘流量，再停服务器，最后释放资源
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, cfg.Server.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		namingClient.Close()
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	}

	if info.Cleanup != nil {
		info.Cleanup(ctx)
	}

	if err := tp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	log.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}

// GetEnv 从环境变量中读取配置，未设置时返回 fallback。
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
