package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"synobridge/internal/config"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: gateway → Synology webhook → listener → save config",
		Long:  "Asks for the gateway URL and token, the Synology incoming webhook URL and the listen port, then writes the config to the path used by --config or the default.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	return wizardSave(resolveConfigPath(), os.Stdin, os.Stdout)
}

// wizardSave edits the file at cfgPath as written, so secrets supplied
// through the environment are never copied into it.
func wizardSave(cfgPath string, in io.Reader, out io.Writer) error {
	cfg, err := config.LoadFile(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Template()
	} else if err != nil {
		return err
	}
	if err := askConfig(cfg, in, out); err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintf(out, "In Synology Chat, point the outgoing webhook at http://<this-host>:%d%s\n", cfg.Webhook.Port, cfg.Webhook.Path)
	fmt.Fprintln(out, "Next: run 'synobridge doctor', then 'synobridge serve'.")
	return nil
}

// askConfig walks through the settings an operator must provide, keeping the
// current value when the answer is empty.
func askConfig(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Agent gateway ---")
	v, err := prompt("Gateway URL", cfg.Gateway.URL)
	if err != nil {
		return err
	}
	cfg.Gateway.URL = v

	tokenDef := cfg.Gateway.Token
	if tokenDef == "" {
		tokenDef = "${SYNOBRIDGE_GATEWAY_TOKEN}"
	}
	if v, err = prompt("Gateway token (or ${ENV_VAR})", tokenDef); err != nil {
		return err
	}
	cfg.Gateway.Token = v

	if v, err = prompt("Agent id", cfg.Gateway.AgentID); err != nil {
		return err
	}
	cfg.Gateway.AgentID = v

	fmt.Fprintln(out, "\n--- Step 2: Synology Chat incoming webhook ---")
	if v, err = prompt("Incoming webhook URL", cfg.Synology.WebhookURL); err != nil {
		return err
	}
	cfg.Synology.WebhookURL = v

	fmt.Fprintln(out, "\n--- Step 3: Listener ---")
	if v, err = prompt("Listen port", strconv.Itoa(cfg.Webhook.Port)); err != nil {
		return err
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid port %q", v)
	}
	cfg.Webhook.Port = port

	if v, err = prompt("Webhook path", cfg.Webhook.Path); err != nil {
		return err
	}
	cfg.Webhook.Path = v
	return nil
}
