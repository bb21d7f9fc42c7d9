package security

import (
	"log/slog"
	"os"
	"testing"

	"synobridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newGuard() *LoopGuard {
	return NewLoopGuard(LoopGuardConfig{BotName: "Clawdbot", BotID: "clawdbot", Logger: testLogger()})
}

func TestLoopGuard_RejectsBotHandle(t *testing.T) {
	msg := domain.InboundMessage{Handle: "Clawdbot", UserID: "someone"}
	if newGuard().Allow(msg) {
		t.Fatal("message with the bot's handle should be rejected")
	}
}

func TestLoopGuard_RejectsBotID(t *testing.T) {
	msg := domain.InboundMessage{UserID: "clawdbot"}
	if newGuard().Allow(msg) {
		t.Fatal("message with the bot's id should be rejected")
	}
}

func TestLoopGuard_AcceptsOthers(t *testing.T) {
	g := newGuard()
	for _, sender := range []string{"alice", "", "clawdbot ", "ClawdBot", "CLAWDBOT", "克劳德", "Clawdbot🤖", "bob"} {
		msg := domain.InboundMessage{Handle: sender, UserID: sender}
		if !g.Allow(msg) {
			t.Errorf("sender %q should be accepted", sender)
		}
	}
}

func TestLoopGuard_CaseSensitiveFields(t *testing.T) {
	g := newGuard()
	// The display name matches only the handle field, the id only the user id.
	if !g.Allow(domain.InboundMessage{UserID: "Clawdbot"}) {
		t.Error("display name in the user id field is not the bot id")
	}
	if !g.Allow(domain.InboundMessage{Handle: "clawdbot", UserID: "alice"}) {
		t.Error("lowercase id in the handle field is not the bot name")
	}
}

func TestLoopGuard_EmptyIdentityAcceptsEmptySender(t *testing.T) {
	g := NewLoopGuard(LoopGuardConfig{BotID: "clawdbot", Logger: testLogger()})
	if !g.Allow(domain.InboundMessage{}) {
		t.Fatal("an unset bot name must not match an empty handle")
	}
}
