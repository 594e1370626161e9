package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/abcfe/abcfe-wallet/api"
	"github.com/abcfe/abcfe-wallet/api/rest"
	"github.com/abcfe/abcfe-wallet/common/logger"
	conf "github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/abcfe/abcfe-wallet/transport"
)

type App struct {
	stop     chan struct{}
	stopOnce sync.Once
	Conf     conf.Config
	DB       *storage.DB // Mutex within db should not be copied
	Keyring  *keyring.Keyring

	hub        *api.Hub
	dapp       *api.Dapp
	limiter    *api.RateLimiter
	backend    *api.Backend
	restServer *rest.Server
}

func New(configPath string) (*App, error) {
	cfg, err := conf.NewConfig(configPath)
	if err != nil {
		fmt.Println("Failed to initialized application: ", err)
		return nil, err
	}

	if err := logger.InitLogger(cfg); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.InitDB(cfg)
	if err != nil {
		logger.Error("Failed to load db: ", err)
		return nil, err
	}

	kr, err := keyring.New(db, keyring.OptionsFromConfig(cfg))
	if err != nil {
		logger.Error("Failed to initialize keyring: ", err)
		db.Close()
		return nil, err
	}

	state, _ := kr.State()
	mig, _ := kr.MigrationStatus()
	logger.Info("keyring loaded: state=", state, " migration=", mig)

	app := &App{
		stop:    make(chan struct{}),
		Conf:    *cfg,
		DB:      db,
		Keyring: kr,
		hub:     api.NewHub(),
		limiter: api.NewRateLimiter(api.RateLimitConfigFrom(cfg)),
	}
	app.dapp = api.NewDapp(kr, app.hub, cfg)
	app.backend = api.NewBackend(kr, app.hub, app.dapp, app.limiter)
	app.restServer = rest.NewServer(cfg.Server.Port, cfg.Server.ChannelName, kr, app.hub, app.dapp, app.backend)

	return app, nil
}

// Start runs the channel hub and the background server.
func (p *App) Start() error {
	go p.hub.Run()

	if err := p.restServer.Start(); err != nil {
		return fmt.Errorf("failed to start background server: %w", err)
	}

	logger.Info("All services started")
	return nil
}

// ServeStdio serves a single UI channel over stdin/stdout and returns when
// the peer closes it. Logs must not go to stdout in this mode.
func (p *App) ServeStdio() {
	go p.hub.Run()

	ch := transport.NewStreamChannel(p.Conf.Server.ChannelName, transport.Stdio())
	logger.Info("serving ", p.Conf.Server.ChannelName, " over stdio")
	p.backend.Serve(p.restServer.Context(), "stdio", ch)
}

// Cleanup 애플리케이션 정리
func (p *App) Cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if p.restServer != nil {
		if err := p.restServer.Stop(ctx); err != nil {
			logger.Error("Error stopping background server:", err)
		}
	}
	if p.backend != nil {
		p.backend.Close()
	}
	if p.limiter != nil {
		p.limiter.Stop()
	}
	if p.hub != nil {
		p.hub.Stop()
	}

	// locks the vault and drops key material
	if p.Keyring != nil {
		p.Keyring.Close()
	}

	// DB 연결 닫기
	if p.DB != nil {
		if err := p.DB.Close(); err != nil {
			logger.Error("Error closing DB connection:", err)
		}
	}

	logger.Info("All resources cleaned up")
	logger.Sync()
}

func (p *App) Wait() {
	<-p.stop // 채널에서 값 읽으려고 시도
}

func (p *App) Terminate() {
	p.stopOnce.Do(func() {
		p.Cleanup() // 자원 정리 후 종료
		close(p.stop)
	})
}

func (p *App) SigHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM) // OS 시그널을 채널로 전달
	go func() {
		sig := <-sigCh
		logger.Info("Arrived terminate signal: ", sig)
		p.Terminate()
	}()
}
