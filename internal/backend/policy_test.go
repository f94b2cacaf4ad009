package backend

import "testing"

func TestPreferLocal(t *testing.T) {
	tests := []struct {
		name string
		sig  Signals
		want bool
	}{
		{"defaults", DefaultSignals(), true},
		{"privacy wins over low battery", Signals{NetworkAvailable: true, BatteryPercent: 5, PrivacyMode: true}, true},
		{"offline wins over low battery", Signals{NetworkAvailable: false, BatteryPercent: 5}, true},
		{"low battery with network goes remote", Signals{NetworkAvailable: true, BatteryPercent: 10}, false},
		{"healthy battery stays local", Signals{NetworkAvailable: true, BatteryPercent: 80}, true},
		{"unknown battery stays local", Signals{NetworkAvailable: true, BatteryPercent: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PreferLocal(tt.sig); got != tt.want {
				t.Errorf("PreferLocal(%+v) = %v, want %v", tt.sig, got, tt.want)
			}
		})
	}
}

func TestChooseMode_ManualNeverOverridden(t *testing.T) {
	remoteLeaning := Signals{NetworkAvailable: true, BatteryPercent: 5}
	if got := ChooseMode(ModeLocal, remoteLeaning); got != ModeLocal {
		t.Errorf("ChooseMode(local) = %q, want local", got)
	}

	localLeaning := Signals{PrivacyMode: true}
	if got := ChooseMode(ModeRemote, localLeaning); got != ModeRemote {
		t.Errorf("ChooseMode(remote) = %q, want remote", got)
	}
}

func TestChooseMode_AutoFollowsPolicy(t *testing.T) {
	if got := ChooseMode(ModeAuto, Signals{NetworkAvailable: true, BatteryPercent: 5}); got != ModeRemote {
		t.Errorf("auto with low battery = %q, want remote", got)
	}
	if got := ChooseMode(ModeAuto, Signals{PrivacyMode: true}); got != ModeLocal {
		t.Errorf("auto with privacy = %q, want local", got)
	}
}
