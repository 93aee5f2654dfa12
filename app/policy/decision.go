package policy

import (
	"fmt"
	"slices"

	"github.com/imMORX/Gatekeeper/app/models"
)

// Classify partitions the principal's guilds against the ban list and
// returns the verdict. A single banned guild is enough to deny, no matter
// how many allowed guilds the principal also belongs to.
func Classify(principal models.Principal, cfg models.BanConfig) models.Outcome {
	outcome := models.Outcome{Classification: models.Allowed}

	for _, guild := range principal.Guilds {
		if slices.Contains(cfg.BanGuilds, guild.ID) {
			outcome.Matched = append(outcome.Matched, guild)
		} else {
			outcome.Remaining = append(outcome.Remaining, guild)
		}
	}

	if len(outcome.Matched) > 0 {
		outcome.Classification = models.Denied
	}
	return outcome
}

// Summary renders the one-line result posted to the log channel and shown
// on the result page.
func Summary(principal models.Principal, outcome models.Outcome) string {
	if outcome.Classification == models.Denied {
		return fmt.Sprintf("**%s** verification result: failed (BANNED)", principal.Username)
	}
	return fmt.Sprintf("**%s** verification result: passed", principal.Username)
}
