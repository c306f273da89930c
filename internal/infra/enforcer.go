package infra

import (
	"go.uber.org/zap"

	"github.com/quietloop/shieldd/internal/domain"
)

// ProcessShieldAPI implements domain.ShieldAPI by terminating processes
// whose names match shielded tokens. In this port a token is a
// process-name pattern; the shield layer above still treats it as opaque.
//
// A shield applied here does not outlive the processes it kills: blocked
// apps relaunched by the user are re-terminated by the foreground loop's
// periodic re-enforcement from the currentlyBlocked_* mirrors.
type ProcessShieldAPI struct {
	processManager domain.ProcessManager
	logger         *zap.Logger
}

// NewProcessShieldAPI creates a process-kill shield backend.
func NewProcessShieldAPI(pm domain.ProcessManager, logger *zap.Logger) *ProcessShieldAPI {
	return &ProcessShieldAPI{
		processManager: pm,
		logger:         logger,
	}
}

// SetShielded replaces the shielded set. Killing already-absent processes
// is naturally idempotent, so repeated calls with the same sets are safe.
func (a *ProcessShieldAPI) SetShielded(appTokens, categoryTokens domain.TokenSet) error {
	patterns := appTokens.Union(categoryTokens)
	if patterns.IsEmpty() {
		a.logger.Debug("shield cleared, no patterns to enforce")
		return nil
	}

	for _, pattern := range patterns.Sorted() {
		pids, err := a.processManager.FindByName(pattern)
		if err != nil {
			a.logger.Warn("failed to find processes",
				zap.String("pattern", pattern),
				zap.Error(err))
			continue
		}

		for _, pid := range pids {
			if err := a.processManager.Kill(pid); err != nil {
				a.logger.Warn("failed to kill process",
					zap.Int("pid", pid),
					zap.String("pattern", pattern),
					zap.Error(err))
			} else {
				a.logger.Info("shielded process terminated",
					zap.Int("pid", pid),
					zap.String("pattern", pattern))
			}
		}
	}

	return nil
}

// Ensure ProcessShieldAPI implements domain.ShieldAPI.
var _ domain.ShieldAPI = (*ProcessShieldAPI)(nil)
