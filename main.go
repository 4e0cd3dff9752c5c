package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/Syncre-App/Mobile-sub001/api"
	"github.com/Syncre-App/Mobile-sub001/auth"
	"github.com/Syncre-App/Mobile-sub001/chatstore"
	"github.com/Syncre-App/Mobile-sub001/config"
	"github.com/Syncre-App/Mobile-sub001/e2ee"
	"github.com/Syncre-App/Mobile-sub001/engine"
	"github.com/Syncre-App/Mobile-sub001/store"
	"github.com/Syncre-App/Mobile-sub001/ws"
)

func main() {
	app := &cli.App{
		Name:  "chatsync",
		Usage: "keep one end-to-end encrypted conversation in sync from a terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
			&cli.StringFlag{Name: "api-url", Usage: "REST api base url"},
			&cli.StringFlag{Name: "ws-url", Usage: "websocket url"},
			&cli.StringFlag{Name: "token", Usage: "auth token", EnvVars: []string{"CHATSYNC_TOKEN"}},
			&cli.StringFlag{Name: "device-db", Usage: "bbolt file holding the device identity"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve prometheus metrics on this address"},
			&cli.StringFlag{Name: "pprof-dir", Value: "pprof", Usage: "dir to save pprof data files"},
			&cli.StringFlag{Name: "chat", Required: true, Usage: "chat id to open"},
			&cli.BoolFlag{Name: "group", Usage: "the chat is a group chat"},
			&cli.StringFlag{Name: "user", Usage: "current user id, derived from the token if empty"},
			&cli.StringSliceFlag{Name: "participant", Usage: "chat participant user id, repeatable"},
			&cli.StringSliceFlag{Name: "peer", Usage: "recipient device key as user:device:base64key, repeatable"},
			&cli.StringFlag{Name: "verbosity", Value: "0", Usage: "glog verbosity"},
			&cli.BoolFlag{Name: "logtostderr", Usage: "glog: log to stderr"},
		},
		Before: func(c *cli.Context) error {
			// glog registers on the std flag set.
			_ = flag.Set("v", c.String("verbosity"))
			_ = flag.Set("logtostderr", strconv.FormatBool(c.Bool("logtostderr")))
			return flag.CommandLine.Parse(nil)
		},
		Action: run,
	}

	err := app.Run(os.Args)
	glog.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(c, cfg)

	db, err := store.Open(cfg.DeviceDB)
	if err != nil {
		return err
	}
	defer db.Close()

	deviceID, err := db.DeviceID()
	if err != nil {
		return fmt.Errorf("device id: %w", err)
	}
	pub, priv, err := db.BoxKeys()
	if err != nil {
		return fmt.Errorf("device keys: %w", err)
	}

	tokens := &auth.Holder{}
	tokens.Set(cfg.Token)
	userID := c.String("user")
	if userID == "" {
		if userID, err = auth.Subject(cfg.Token); err != nil {
			return fmt.Errorf("--user is required when the token has no subject: %w", err)
		}
	}

	dir := e2ee.NewStaticDirectory()
	dir.Put(e2ee.DeviceKey{UserID: userID, DeviceID: deviceID, PublicKey: *pub})
	for _, p := range c.StringSlice("peer") {
		k, err := parsePeer(p)
		if err != nil {
			return fmt.Errorf("--peer %q: %w", p, err)
		}
		dir.Put(k)
	}
	glog.Infof("device %s of user %s, public key %s", deviceID, userID, base64.StdEncoding.EncodeToString(pub[:]))

	client, err := api.NewClient(cfg.APIURL, tokens, cfg.HTTPTimeout)
	if err != nil {
		return err
	}
	conn := ws.NewConn(cfg.WSURL, tokens)
	eng := engine.New(&engine.Options{
		API:           client,
		Transport:     conn,
		Gateway:       e2ee.NewBoxGateway(deviceID, pub, priv, dir),
		Tokens:        tokens,
		Marks:         db,
		BaseURL:       client.BaseURL(),
		PageSize:      cfg.PageSize,
		RefreshWindow: cfg.RefreshWindow,
		TypingIdle:    cfg.TypingIdle,
		TypingTTL:     cfg.TypingTTL,
		MaxSkew:       cfg.MaxSkew,
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				glog.Errorf("run(): metrics server: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	go conn.Run(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			glog.Errorf("run(): engine: %v", err)
		}
	}()

	kind := chatstore.ChatKind_Two
	if c.Bool("group") {
		kind = chatstore.ChatKind_Group
	}
	participants := append([]string{userID}, c.StringSlice("participant")...)
	if err := eng.Open(ctx, engine.ChatSession{
		ChatID:        c.String("chat"),
		Kind:          kind,
		CurrentUserID: userID,
		DeviceID:      deviceID,
		Participants:  participants,
	}); err != nil {
		return fmt.Errorf("open chat: %w", err)
	}

	pprofDir := filepath.Join(c.String("pprof-dir"), strconv.Itoa(os.Getpid()))
	go handleSignals(ctx, cancel, pprofDir)

	console := newConsole(eng, os.Stdin, os.Stdout)
	go console.render(ctx)
	console.loop(ctx)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	defer closeCancel()
	if err := eng.Close(closeCtx); err != nil {
		glog.Errorf("run(): leave chat: %v", err)
	}
	cancel()
	<-stopped
	glog.Info("chatsync exited")
	return nil
}

// applyFlags lets explicitly set flags override the loaded config.
func applyFlags(c *cli.Context, cfg *config.Config) {
	for name, dst := range map[string]*string{
		"api-url":      &cfg.APIURL,
		"ws-url":       &cfg.WSURL,
		"token":        &cfg.Token,
		"device-db":    &cfg.DeviceDB,
		"metrics-addr": &cfg.MetricsAddr,
	} {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
}

func parsePeer(s string) (e2ee.DeviceKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return e2ee.DeviceKey{}, errors.New("expect user:device:base64key")
	}
	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return e2ee.DeviceKey{}, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != 32 {
		return e2ee.DeviceKey{}, fmt.Errorf("key is %d bytes, expect 32", len(raw))
	}
	k := e2ee.DeviceKey{UserID: parts[0], DeviceID: parts[1]}
	copy(k.PublicKey[:], raw)
	return k, nil
}

// handleSignals: `kill -USR1` dumps goroutines, `kill -USR2` starts or stops
// the profiler, SIGINT/SIGTERM stop the client.
func handleSignals(ctx context.Context, cancel context.CancelFunc, pprofDir string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var prof *Profiler
	defer func() {
		if prof != nil {
			prof.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				dumpGoroutines(pprofDir)
			case syscall.SIGUSR2:
				if prof == nil {
					prof = StartProfiler(pprofDir)
				} else {
					prof.Stop()
					prof = nil
				}
			default:
				glog.Infof("received signal `%s` stopping", sig)
				cancel()
				return
			}
		}
	}
}
