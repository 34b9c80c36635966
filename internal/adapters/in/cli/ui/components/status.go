package components

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/pinup/internal/adapters/in/cli/ui/styles"
	"github.com/bnema/pinup/internal/domain"
)

// StatusConfig holds the icon and style of one project outcome.
type StatusConfig struct {
	Icon  string
	Style lipgloss.Style
	Badge lipgloss.Style
}

// OutcomeStatus maps each project outcome to its rendering.
var OutcomeStatus = map[domain.ProjectOutcome]StatusConfig{
	domain.OutcomeUpdated: {
		Icon:  styles.IconSuccess,
		Style: styles.Theme.Success,
		Badge: styles.Theme.BadgeSuccess,
	},
	domain.OutcomeUnchanged: {
		Icon:  styles.IconInfo,
		Style: styles.Theme.Muted,
		Badge: styles.Theme.BadgeInfo,
	},
	domain.OutcomePending: {
		Icon:  styles.IconPending,
		Style: styles.Theme.Info,
		Badge: styles.Theme.BadgePending,
	},
	domain.OutcomeRolledBack: {
		Icon:  styles.IconRollback,
		Style: styles.Theme.Warning,
		Badge: styles.Theme.BadgeWarning,
	},
	domain.OutcomeFailed: {
		Icon:  styles.IconError,
		Style: styles.Theme.Error,
		Badge: styles.Theme.BadgeError,
	},
}

func statusFor(outcome domain.ProjectOutcome) StatusConfig {
	if config, ok := OutcomeStatus[outcome]; ok {
		return config
	}
	return StatusConfig{Icon: styles.IconInfo, Style: styles.Theme.Info, Badge: styles.Theme.BadgeInfo}
}

// RenderStatus renders an outcome with its icon and label.
func RenderStatus(outcome domain.ProjectOutcome) string {
	config := statusFor(outcome)
	return config.Style.Render(config.Icon + " " + string(outcome))
}

// RenderStatusBadge renders an outcome as a badge with background.
func RenderStatusBadge(outcome domain.ProjectOutcome) string {
	return statusFor(outcome).Badge.Render(string(outcome))
}
