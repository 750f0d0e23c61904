package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"aircast/internal/session"
	"aircast/internal/signaling"
	rtc "aircast/internal/webrtc"
	"aircast/pkg/config"
	"aircast/pkg/logger"
	"aircast/pkg/tracing"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	code := flag.String("code", "", "6-digit session code or join URL")
	flag.Parse()

	if *code == "" && flag.NArg() > 0 {
		*code = flag.Arg(0)
	}
	if *code == "" {
		log.Fatal("usage: listen [-config path] -code NNNNNN")
	}

	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zl.Sync()
	logg := zl.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "aircast-listen",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logg.Fatalw("failed to initialize tracing", "error", err)
	}
	defer tp.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channel, closeChannel, err := signaling.NewChannel(ctx, cfg, logg)
	if err != nil {
		logg.Fatalw("failed to connect signaling backend", "backend", cfg.Signaling.Backend, "error", err)
	}
	defer closeChannel()

	servers := make([]rtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, rtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	factory := rtc.NewFactory(rtc.Config{
		ICEServers:       servers,
		GatheringTimeout: cfg.WebRTC.GatheringTimeout,
	}, nil, logg)

	listener := session.NewListener(channel, factory, logg)

	if err := listener.Join(ctx, *code); err != nil {
		logg.Fatalw("failed to join session", "error", err)
	}
	fmt.Printf("Joined as %s, waiting for the broadcaster...\n", listener.ID())

	go func() {
		for ev := range listener.Events() {
			switch ev.Type {
			case session.EventPhaseChanged:
				fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), ev.Phase)
			case session.EventStatusChanged:
				fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), ev.Status)
			case session.EventError:
				fmt.Printf("[%s] error: %v\n", time.Now().Format("15:04:05"), ev.Err)
			}
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := listener.Stop(shutdownCtx); err != nil {
		logg.Warnw("error leaving session", "error", err)
	}
	fmt.Println("Left the session.")
}
