// Command flapguardctl drives the suppression state machine from scripts and
// cron jobs. It operates on the same state directory as the daemon; per-key
// file locks keep concurrent invocations safe.
//
// Usage:
//
//	flapguardctl register -type wan_down -id isp1 -message "primary WAN unreachable"
//	flapguardctl recover  -type wan_down -id isp1
//	flapguardctl sweep
//	flapguardctl send -alert-type disk_full -body "/var is at 95%"
//	flapguardctl send-smart -alert-type disk_full -id db1 -body "/var/lib/db at 95%"
//	flapguardctl send-recovery -alert-type disk_full -id db1
//	flapguardctl list
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/flapguard/flapguard/internal/alert"
	"github.com/flapguard/flapguard/internal/config"
	"github.com/flapguard/flapguard/internal/engine"
	"github.com/flapguard/flapguard/internal/event"
	"github.com/flapguard/flapguard/internal/notify"
	"github.com/flapguard/flapguard/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "register":
		err = cmdRegister(args)
	case "recover":
		err = cmdRecover(args)
	case "sweep":
		err = cmdSweep(args)
	case "send":
		err = cmdSend(args, "plain")
	case "send-smart":
		err = cmdSend(args, "smart")
	case "send-recovery":
		err = cmdSend(args, "recovery")
	case "list":
		err = cmdList(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: flapguardctl <register|recover|sweep|send|send-smart|send-recovery|list> [flags]")
}

// buildEngine loads configuration and wires the engine the same way the
// daemon does, so CLI invocations and the daemon share one state machine.
func buildEngine(configPath string) (*engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	dir := storage.Open(cfg.StateDir)
	if err := dir.Init(); err != nil {
		return nil, err
	}

	var sink notify.Sink
	if len(cfg.Webhooks) > 0 {
		targets := make([]notify.Target, 0, len(cfg.Webhooks))
		for _, w := range cfg.Webhooks {
			targets = append(targets, notify.Target{Type: w.Type, URL: w.URL()})
		}
		wh, err := notify.NewWebhook(targets)
		if err != nil {
			return nil, err
		}
		sink = wh
	} else {
		sink = &notify.Nop{}
	}

	store := event.NewStore(dir)
	pipeline := alert.NewPipeline(dir, sink, cfg.RateLimit, cfg.DeliveryTimeout, cfg.RecoveryAlerts)
	return engine.New(store, pipeline, cfg.GracePeriod, cfg.RecoveryThreshold, cfg.CriticalEvents), nil
}

func cmdRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	eventType := fs.String("type", "", "event type, e.g. wan_down")
	id := fs.String("id", "", "identifier, e.g. isp1")
	message := fs.String("message", "", "human-readable description")
	details := fs.String("details", "", "extra context for the alert body")
	fs.Parse(args) //nolint:errcheck

	eng, err := buildEngine(*configPath)
	if err != nil {
		return err
	}
	res, err := eng.RegisterEvent(context.Background(), *eventType, *id, *message, *details)
	if err != nil {
		return err
	}
	if res.Created {
		fmt.Printf("registered %s/%s (grace period running)\n", *eventType, *id)
	} else {
		fmt.Printf("refreshed %s/%s\n", *eventType, *id)
	}
	return nil
}

func cmdRecover(args []string) error {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	eventType := fs.String("type", "", "event type")
	id := fs.String("id", "", "identifier")
	message := fs.String("message", "", "override for the recovery notice text")
	fs.Parse(args) //nolint:errcheck

	eng, err := buildEngine(*configPath)
	if err != nil {
		return err
	}
	if err := eng.RegisterRecovery(context.Background(), *eventType, *id, *message); err != nil {
		return err
	}
	fmt.Printf("recovered %s/%s\n", *eventType, *id)
	return nil
}

func cmdSweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args) //nolint:errcheck

	eng, err := buildEngine(*configPath)
	if err != nil {
		return err
	}
	stats, err := eng.Sweep(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("pending=%d promoted=%d failed=%d\n", stats.Pending, stats.Promoted, stats.Failed)
	return nil
}

func cmdSend(args []string, kind string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	alertType := fs.String("alert-type", "", "rate-limit bucket, e.g. disk_full")
	id := fs.String("id", "", "identifier (smart and recovery sends)")
	body := fs.String("body", "", "alert text")
	severity := fs.String("severity", "", "critical | warning | info")
	marker := fs.String("marker", "", "leading marker, e.g. URGENT:")
	prefix := fs.String("prefix", "", "context prefix, e.g. [gateway]")
	fs.Parse(args) //nolint:errcheck

	eng, err := buildEngine(*configPath)
	if err != nil {
		return err
	}
	pipe := eng.Pipeline()
	opts := alert.Options{Severity: *severity, Marker: *marker, Prefix: *prefix}

	ctx := context.Background()
	var res alert.Result
	switch kind {
	case "plain":
		res, err = pipe.SendPlain(ctx, *alertType, *body, opts)
	case "smart":
		res, err = pipe.SendSmart(ctx, *alertType, *id, *body, opts)
	case "recovery":
		res, err = pipe.SendRecovery(ctx, *alertType, *id, *body, opts)
	}
	if err != nil {
		return err
	}
	if res.Delivered {
		fmt.Printf("delivered (correlation %s)\n", res.CorrelationID)
	} else {
		fmt.Printf("suppressed: %s\n", res.Suppressed)
	}
	return nil
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args) //nolint:errcheck

	eng, err := buildEngine(*configPath)
	if err != nil {
		return err
	}
	records, err := eng.Store().ListAll()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no active events")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%-8s %s/%s  first_seen=%s  last_seen=%s  %s\n",
			rec.Status, rec.EventType, rec.Identifier,
			rec.FirstSeen.Format("2006-01-02T15:04:05Z07:00"),
			rec.LastSeen.Format("2006-01-02T15:04:05Z07:00"),
			rec.Message,
		)
	}
	return nil
}
