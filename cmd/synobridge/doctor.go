package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"synobridge/internal/config"
)

const checkTimeout = 5 * time.Second

// checkResult is one line of the doctor report.
type checkResult struct {
	name   string
	detail string
	status string // PASS | WARN | FAIL
}

type report struct {
	mu      sync.Mutex
	results []checkResult
}

func (r *report) add(status, name, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, checkResult{name: name, detail: detail, status: status})
}

func (r *report) count(status string) int {
	n := 0
	for _, res := range r.results {
		if res.status == status {
			n++
		}
	}
	return n
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the bridge setup",
		Long: `Verifies that the configuration loads, the listen port is free and that
the agent gateway and the Synology host are reachable. Reports pass/fail for
each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("synobridge doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			rep := &report{}

			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				rep.add("WARN", "Config file", fmt.Sprintf("not found at %s (environment only)", cfgPath))
			} else {
				rep.add("PASS", "Config file", cfgPath)
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				rep.add("FAIL", "Config validation", err.Error())
				printReport(rep)
				fmt.Printf("\nRun 'synobridge init' to create a starter configuration.\n")
				return fmt.Errorf("config invalid")
			}
			rep.add("PASS", "Config validation", "valid")

			if cfg.Gateway.Token == "" {
				rep.add("WARN", "Gateway token", "not set (SYNOBRIDGE_GATEWAY_TOKEN)")
			} else {
				rep.add("PASS", "Gateway token", "set")
			}
			if cfg.Synology.InsecureSkipVerify {
				rep.add("WARN", "Synology TLS", "certificate verification disabled")
			}

			if err := checkPort(cfg.Webhook.Addr()); err != nil {
				rep.add("WARN", "Listen address", fmt.Sprintf("%s may be in use: %v", cfg.Webhook.Addr(), err))
			} else {
				rep.add("PASS", "Listen address", cfg.Webhook.Addr()+" available")
			}

			if err := runChecks(cmd.Context(), cfg, rep); err != nil {
				logger.Debug("upstream check failed", "err", err)
			}
			printReport(rep)

			failed := rep.count("FAIL")
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the bridge.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if rep.count("WARN") > 0 {
				fmt.Printf("\nThe bridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! The bridge is ready to run.\n")
			}
			return nil
		},
	}
}

// runChecks checks both upstreams concurrently. Every failure is recorded in
// rep; the first one is also returned. The group carries no shared context,
// so one unreachable host does not cut the other check short.
func runChecks(ctx context.Context, cfg *config.Config, rep *report) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		gw, err := newGateway(cfg)
		if err == nil {
			err = gw.Healthy(ctx)
		}
		if err != nil {
			rep.add("FAIL", "Gateway", err.Error())
			return fmt.Errorf("gateway: %w", err)
		}
		rep.add("PASS", "Gateway", gw.Endpoint())
		return nil
	})
	g.Go(func() error {
		n, err := newNotifier(cfg)
		if err == nil {
			err = n.Reachable(ctx)
		}
		if err != nil {
			rep.add("FAIL", "Synology", err.Error())
			return fmt.Errorf("synology: %w", err)
		}
		rep.add("PASS", "Synology", config.MaskURL(cfg.Synology.WebhookURL))
		return nil
	})
	return g.Wait()
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printReport(rep *report) {
	for _, r := range rep.results {
		fmt.Printf("  [%s] %-20s %s\n", r.status, r.name, r.detail)
	}
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", rep.count("PASS"), rep.count("WARN"), rep.count("FAIL"))
}
