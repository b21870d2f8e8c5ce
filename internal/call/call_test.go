package call

import "testing"

func TestNextTransitions(t *testing.T) {
	tests := []struct {
		name string
		cur  Status
		trg  Trigger
		want Status
		ok   bool
	}{
		{"idle initiate", StatusIdle, TriggerInitiate, StatusCalling, true},
		{"idle offer", StatusIdle, TriggerOffer, StatusIncoming, true},
		{"idle meeting", StatusIdle, TriggerStartMeeting, StatusActive, true},
		{"idle accept invalid", StatusIdle, TriggerAccept, StatusIdle, false},
		{"idle end invalid", StatusIdle, TriggerEnd, StatusIdle, false},

		{"calling accepted", StatusCalling, TriggerAccepted, StatusActive, true},
		{"calling rejected", StatusCalling, TriggerRejected, StatusIdle, true},
		{"calling busy", StatusCalling, TriggerBusy, StatusIdle, true},
		{"calling cancel", StatusCalling, TriggerCancel, StatusIdle, true},
		{"calling end", StatusCalling, TriggerEnd, StatusIdle, true},
		{"calling accept invalid", StatusCalling, TriggerAccept, StatusCalling, false},

		{"incoming accept", StatusIncoming, TriggerAccept, StatusActive, true},
		{"incoming reject", StatusIncoming, TriggerReject, StatusIdle, true},
		{"incoming cancel", StatusIncoming, TriggerCancel, StatusIdle, true},
		{"incoming end", StatusIncoming, TriggerEnd, StatusIdle, true},
		{"incoming accepted invalid", StatusIncoming, TriggerAccepted, StatusIncoming, false},

		{"active end", StatusActive, TriggerEnd, StatusIdle, true},
		{"active offer invalid", StatusActive, TriggerOffer, StatusActive, false},
		{"active accept invalid", StatusActive, TriggerAccept, StatusActive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Next(tt.cur, tt.trg)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Next(%s, %s) = (%s, %v), want (%s, %v)",
					tt.cur, tt.trg, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestShouldReplyBusy(t *testing.T) {
	if ShouldReplyBusy(StatusIdle) {
		t.Error("ShouldReplyBusy(idle) = true, want false")
	}
	for _, s := range []Status{StatusCalling, StatusIncoming, StatusActive} {
		if !ShouldReplyBusy(s) {
			t.Errorf("ShouldReplyBusy(%s) = false, want true", s)
		}
	}
}

func TestValidType(t *testing.T) {
	if !ValidType(TypeAudio) || !ValidType(TypeVideo) {
		t.Error("audio and video must be valid call types")
	}
	if ValidType("screen") || ValidType("") {
		t.Error("unknown call types must be rejected")
	}
}
