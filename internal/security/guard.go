package security

import (
	"log/slog"

	"synobridge/internal/domain"
)

// LoopGuard drops messages the agent posted itself. Its replies land in the
// channel the bridge listens on, so without this check it would answer
// itself forever.
//
// The comparison is literal: a human who picks the agent's exact name is
// filtered too.
type LoopGuard struct {
	name   string
	id     string
	logger *slog.Logger
}

type LoopGuardConfig struct {
	BotName string // display handle the agent posts under
	BotID   string // lowercase sender id of the agent
	Logger  *slog.Logger
}

func NewLoopGuard(cfg LoopGuardConfig) *LoopGuard {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LoopGuard{name: cfg.BotName, id: cfg.BotID, logger: cfg.Logger}
}

// Allow reports whether msg came from someone other than the agent.
func (g *LoopGuard) Allow(msg domain.InboundMessage) bool {
	if g.name != "" && msg.Handle == g.name {
		g.logger.Info("skipping message from the bot itself", "handle", msg.Handle)
		return false
	}
	if g.id != "" && msg.UserID == g.id {
		g.logger.Info("skipping message from the bot itself", "user_id", msg.UserID)
		return false
	}
	return true
}
