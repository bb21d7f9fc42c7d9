package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>",
		Short: "Post a test message into the Synology Chat channel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()

			n, err := newNotifier(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := n.Send(ctx, strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	var user, channelID string
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Send a message to the agent gateway and print the reply",
		Long:  "Talks to the gateway exactly like the bridge does, under the session of --user, without posting to Synology Chat.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer closeLog()

			gw, err := newGateway(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reply, err := gw.Ask(ctx, strings.Join(args, " "), user, channelID)
			if err != nil {
				return err
			}
			if reply == "" {
				return fmt.Errorf("gateway returned no reply (see log for details)")
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "cli", "sender id; the gateway session is synology-<user>")
	cmd.Flags().StringVar(&channelID, "channel", "default", "channel id reported with the message")
	return cmd
}
