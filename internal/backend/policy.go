package backend

// Signals are the external inputs to automatic backend selection. They are
// sampled by the caller (UI shell, platform APIs); the policy itself is a
// pure function of them.
type Signals struct {
	NetworkAvailable bool
	BatteryPercent   int // 0 means unknown
	PrivacyMode      bool
}

// lowBatteryPercent is the level below which embedding work is offloaded
// to the remote backend when the network allows it.
const lowBatteryPercent = 20

// DefaultSignals assumes a networked, plugged-in session with no explicit
// privacy preference.
func DefaultSignals() Signals {
	return Signals{NetworkAvailable: true}
}

// PreferLocal decides whether the on-device backend should be preferred for
// the given signals. Privacy preference and a missing network always win;
// otherwise the only reason to go remote is a low battery.
func PreferLocal(sig Signals) bool {
	if sig.PrivacyMode {
		return true
	}
	if !sig.NetworkAvailable {
		return true
	}
	if sig.BatteryPercent > 0 && sig.BatteryPercent < lowBatteryPercent {
		return false
	}
	return true
}

// ChooseMode resolves the effective mode. An explicit manual choice (local
// or remote) is never overridden; only ModeAuto consults the policy.
func ChooseMode(manual Mode, sig Signals) Mode {
	switch manual {
	case ModeLocal, ModeRemote:
		return manual
	}
	if PreferLocal(sig) {
		return ModeLocal
	}
	return ModeRemote
}
