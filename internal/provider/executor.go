package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// maxAbilityRounds bounds the call/response exchanges in one generation.
const maxAbilityRounds = 4

// Executor runs a named ability. *swarm.Registry satisfies it.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// runAbility executes one call requested by a model. Failures are returned
// as text for the model to read.
func runAbility(ctx context.Context, exec Executor, logger *slog.Logger, name, rawArgs string) (string, bool) {
	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return fmt.Sprintf("invalid arguments for %s: %v", name, err), false
		}
	}
	out, err := exec.Execute(ctx, name, args)
	if err != nil {
		logger.Warn("ability failed", "ability", name, "err", err)
		return "error: " + err.Error(), false
	}
	logger.Debug("ability executed", "ability", name, "output_len", len(out))
	return out, true
}
