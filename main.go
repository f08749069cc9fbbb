package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"github.com/sethvargo/go-envconfig"
	"manualpilot/shapecast/impl"
	"manualpilot/shapecast/internal"
)

type Env struct {
	Port            int    `env:"PORT,default=80"`
	InstanceID      string `env:"INSTANCE_ID"`
	LinkInterface   string `env:"LINK_INTERFACE"`
	WifiSSID        string `env:"WIFI_SSID"`
	WifiPassword    string `env:"WIFI_PASSWORD"`
	DisplayWidth    int    `env:"DISPLAY_WIDTH,default=320"`
	DisplayHeight   int    `env:"DISPLAY_HEIGHT,default=240"`
	DisplaySnapshot string `env:"DISPLAY_SNAPSHOT"`
	RedisURL        string `env:"REDIS_URL"`
}

func doMain(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := Env{}
	if err := envconfig.Process(ctx, &env); err != nil {
		return err
	}

	if env.InstanceID == "" {
		env.InstanceID = ksuid.New().String()
	}

	logger = logger.With(slog.String("instance", env.InstanceID))

	var counters internal.Counters = internal.NopCounters{}
	var redisCounters *impl.RedisCounters
	if env.RedisURL != "" {
		rOpts, err := redis.ParseURL(env.RedisURL)
		if err != nil {
			return err
		}

		rdb := redis.NewClient(rOpts)
		if err := rdb.Info(ctx).Err(); err != nil {
			return err
		}

		//goland:noinspection GoUnhandledErrorResult
		defer rdb.Close()

		rc := impl.NewRedisCounters(logger, rdb, env.InstanceID)
		if err := rc.Start(ctx); err != nil {
			return err
		}

		counters = rc
		redisCounters = rc
	}

	shapes := internal.NewShapeChannel()

	pub, err := shapes.Publisher()
	if err != nil {
		return err
	}

	sub, err := shapes.Subscribe()
	if err != nil {
		return err
	}

	link := impl.NewHostLink(env.LinkInterface)
	canvas := impl.NewCanvas(env.DisplayWidth, env.DisplayHeight, env.DisplaySnapshot)

	//goland:noinspection GoUnhandledErrorResult
	defer canvas.Close()

	client := internal.ClientConfig{SSID: env.WifiSSID, Password: env.WifiPassword}
	supervisor := internal.NewSupervisor(logger, link, internal.DefaultSupervisorConfig(client), counters)

	serverConfig := internal.DefaultServerConfig()
	serverConfig.Addr = fmt.Sprintf(":%v", env.Port)
	server := internal.NewServer(logger, link, internal.NewShapePublisher(pub), serverConfig, counters)

	renderer := internal.NewRenderer(logger, canvas, sub, counters)

	ec := make(chan error, 4)
	run := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				ec <- fmt.Errorf("%v: %w", name, err)
			}
		}()
	}

	if redisCounters != nil {
		run("counters", redisCounters.Run)
	}

	run("link", supervisor.Run)
	run("web", server.Run)
	run("render", renderer.Run)

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sc:
		logger.Warn("shutdown signal", slog.String("signal", sig.String()))
	case err := <-ec:
		logger.Error("task stopped", slog.Any("err", err))
		return err
	}

	return nil
}

func main() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: slog.LevelDebug})
	logger := slog.New(handler)

	if err := doMain(logger); err != nil {
		logger.Error("failed to start", slog.Any("err", err))
		os.Exit(1)
	}
}
