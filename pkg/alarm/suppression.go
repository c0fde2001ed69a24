package alarm

import (
	"time"

	"github.com/cuemby/telemetry-collector/pkg/model"
)

// GateReader resolves the current digital value of a suppression gate
// point, without coupling this package to the full current-values store
// interface the virtual-point engine uses.
type GateReader interface {
	GetBool(tenantID, pointID string) (bool, bool)
}

// IsSuppressed evaluates a rule's SuppressionPolicy at the moment now
// (§4.10: time windows, a gate point, and rule-to-rule suppression). The
// engine passes the sample's source timestamp; time windows are matched
// against now's own hour and minute, with no time-zone conversion.
func IsSuppressed(policy model.SuppressionPolicy, tenantID string, now time.Time, gates GateReader, activeRuleIDs map[string]bool) bool {
	for _, w := range policy.TimeWindows {
		if w.Contains(now) {
			return true
		}
	}

	if policy.GatePointID != "" && gates != nil {
		if v, ok := gates.GetBool(tenantID, policy.GatePointID); ok && v {
			return true
		}
	}

	if policy.SuppressByRule != "" && activeRuleIDs[policy.SuppressByRule] {
		return true
	}

	return false
}
