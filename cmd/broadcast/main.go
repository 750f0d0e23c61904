package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/internal/monitoring"
	"aircast/internal/session"
	"aircast/internal/signaling"
	rtc "aircast/internal/webrtc"
	"aircast/pkg/config"
	"aircast/pkg/logger"
	"aircast/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// .env is optional; real environments set variables directly.
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
		ServiceName: "aircast-broadcast",
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

	source, err := rtc.NewRTPSource(cfg.Audio.RTPListenAddress, rtc.CaptureConstraints{
		EchoCancellation: cfg.Audio.EchoCancellation,
		NoiseSuppression: cfg.Audio.NoiseSuppression,
		AutoGainControl:  cfg.Audio.AutoGainControl,
	}, logg)
	if err != nil {
		logg.Fatalw("audio capture unavailable", "error", err)
	}
	defer source.Close()

	factory := rtc.NewFactory(rtc.Config{
		ICEServers:       iceServers(cfg),
		GatheringTimeout: cfg.WebRTC.GatheringTimeout,
	}, source, logg)

	var collector *monitoring.Collector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewCollector(prometheus.DefaultRegisterer)
	}

	// A crashed broadcaster leaves a stale session record behind; clean it
	// up before claiming a new code.
	cleanupStaleSession(ctx, cfg.Broadcast.StateFile, channel, logg)

	broadcaster := session.NewBroadcaster(channel, factory, collector, logg)

	code, err := broadcaster.Start(ctx)
	if err != nil {
		logg.Fatalw("failed to start broadcast", "error", err)
	}
	writeStateFile(cfg.Broadcast.StateFile, code, logg)

	fmt.Printf("Session code: %s\n", code)
	fmt.Printf("Join URL:     %s\n", domain.BuildJoinURL(cfg.Broadcast.JoinOrigin, code))

	go printEvents(broadcaster.Events())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := broadcaster.Stop(shutdownCtx); err != nil {
		logg.Warnw("error stopping broadcast", "error", err)
	}
	clearStateFile(cfg.Broadcast.StateFile)
	fmt.Println("Broadcast stopped.")
}

func iceServers(cfg *config.Config) []rtc.ICEServer {
	servers := make([]rtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, rtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

func printEvents(events <-chan session.Event) {
	for ev := range events {
		switch ev.Type {
		case session.EventCountChanged:
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), ev.Status)
		case session.EventPhaseChanged:
			fmt.Printf("[%s] %s: %s\n", time.Now().Format("15:04:05"), ev.ListenerID, ev.Phase)
		case session.EventError:
			fmt.Printf("[%s] error (%s): %v\n", time.Now().Format("15:04:05"), ev.ListenerID, ev.Err)
		}
	}
}

func cleanupStaleSession(ctx context.Context, path string, channel ports.SignalingChannel, logg *zap.SugaredLogger) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	stale := strings.TrimSpace(string(data))
	if !domain.ValidateSessionCode(stale) {
		os.Remove(path)
		return
	}
	logg.Infow("removing stale session record from previous run", "session_code", stale)
	if err := channel.RemoveSession(ctx, domain.SessionCode(stale)); err != nil {
		logg.Warnw("failed to remove stale session record", "session_code", stale, "error", err)
	}
	os.Remove(path)
}

func writeStateFile(path string, code domain.SessionCode, logg *zap.SugaredLogger) {
	if path == "" {
		return
	}
	if err := os.WriteFile(path, []byte(code+"\n"), 0o644); err != nil {
		logg.Warnw("failed to persist session state", "path", path, "error", err)
	}
}

func clearStateFile(path string) {
	if path != "" {
		os.Remove(path)
	}
}
