package commands

import (
	"carechat/internal/chat"
	"carechat/internal/config"
)

// SessionOptions maps client configuration onto session options.
func SessionOptions(cfg *config.ClientConfig) chat.Options {
	attempts := cfg.ReconnectAttempts
	if attempts == 0 {
		// An explicit zero in the environment means no retries.
		attempts = -1
	}
	return chat.Options{
		ClientID:           cfg.UserID,
		Role:               cfg.Role,
		ReconnectAttempts:  attempts,
		ReconnectDelay:     cfg.ReconnectDelay,
		KeepEchoDuplicates: !cfg.ReconcileEchoes,
		SimulateTyping:     cfg.SimulateTyping,
	}
}
