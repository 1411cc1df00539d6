package guard

// NeedsApproval reports whether a call of the given risk requires a human
// decision under mode. Unknown modes are treated like safe.
func NeedsApproval(mode AutonomyMode, risk RiskLevel) bool {
	if mode == ModeUnrestricted || risk == RiskSafe {
		return false
	}
	if mode == ModeGuided {
		switch risk {
		case RiskExfil, RiskSensitiveDomain, RiskSensitiveRead:
			return true
		default:
			return false
		}
	}
	return true
}
