package domain

// LoopGuard decides whether an inbound message may be relayed.
type LoopGuard interface {
	Allow(msg InboundMessage) bool
}
