package notifier

import (
	"fmt"
	"strings"

	"refwatch/internal/estimator"
	"refwatch/internal/storage"
)

const (
	UrgentMarker = "🔥"

	// reannounceHours re-qualifies a cached referendum in its final hours.
	reannounceHours = 2
	urgentHours     = 6
)

// Qualifies reports whether referendum id should be announced this pass.
func Qualifies(prev storage.Snapshot, id uint32, r estimator.Remaining) bool {
	if !prev.Has(id) {
		return true
	}
	return r.Days == 0 && r.Hours <= reannounceHours
}

// Urgent reports whether the deadline is close enough for the marker.
func Urgent(r estimator.Remaining) bool {
	return r.Days == 0 && r.Hours <= urgentHours
}

// ComposeMessage renders the announcement text.
func ComposeMessage(network, title string, id uint32, r estimator.Remaining) string {
	marker := ""
	if Urgent(r) {
		marker = UrgentMarker
	}
	network = strings.ToLower(strings.TrimSpace(network))
	return fmt.Sprintf("%s #%d is confirming in %s\n\nhttps://%s.subsquare.io/referenda/%d\n#%s #Governance %s",
		title, id, r, network, id, hashtag(network), marker)
}

func hashtag(network string) string {
	if network == "" {
		return ""
	}
	return strings.ToUpper(network[:1]) + network[1:]
}

func record(r estimator.Remaining) storage.Record {
	return storage.Record{Days: r.Days, Hours: r.Hours, Minutes: r.Minutes}
}
