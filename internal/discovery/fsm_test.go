package discovery_test

import (
	"slices"
	"testing"

	"github.com/hro-mesh/meshapp/internal/discovery"
)

func TestApplyEventTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       discovery.State
		event       discovery.Event
		wantState   discovery.State
		wantActions []discovery.Action
		wantChanged bool
	}{
		{
			name:        "start from stopped",
			state:       discovery.StateStopped,
			event:       discovery.EventStart,
			wantState:   discovery.StateSettingHost,
			wantActions: []discovery.Action{discovery.ActionSetHost},
			wantChanged: true,
		},
		{
			name:        "host set leads to service add",
			state:       discovery.StateSettingHost,
			event:       discovery.EventHostSet,
			wantState:   discovery.StateAddingService,
			wantActions: []discovery.Action{discovery.ActionAddService},
			wantChanged: true,
		},
		{
			name:        "service added completes registration and browses",
			state:       discovery.StateAddingService,
			event:       discovery.EventServiceAdded,
			wantState:   discovery.StateRegistered,
			wantActions: []discovery.Action{discovery.ActionBrowse},
			wantChanged: true,
		},
		{
			name:        "low lease triggers refresh",
			state:       discovery.StateRegistered,
			event:       discovery.EventLeaseLow,
			wantState:   discovery.StateLeaseExpiring,
			wantActions: []discovery.Action{discovery.ActionRefresh},
			wantChanged: true,
		},
		{
			name:        "refresh completes back to registered and re-browses",
			state:       discovery.StateLeaseExpiring,
			event:       discovery.EventRefreshed,
			wantState:   discovery.StateRegistered,
			wantActions: []discovery.Action{discovery.ActionBrowse},
			wantChanged: true,
		},
		{
			name:        "repeated low lease refreshes again",
			state:       discovery.StateLeaseExpiring,
			event:       discovery.EventLeaseLow,
			wantState:   discovery.StateLeaseExpiring,
			wantActions: []discovery.Action{discovery.ActionRefresh},
			wantChanged: false,
		},
		{
			name:        "unlisted pair is ignored",
			state:       discovery.StateRegistered,
			event:       discovery.EventHostSet,
			wantState:   discovery.StateRegistered,
			wantChanged: false,
		},
		{
			name:        "stop works from any state",
			state:       discovery.StateRegistered,
			event:       discovery.EventStop,
			wantState:   discovery.StateStopped,
			wantChanged: true,
		},
		{
			name:        "stop from stopped is a no-op",
			state:       discovery.StateStopped,
			event:       discovery.EventStop,
			wantState:   discovery.StateStopped,
			wantChanged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := discovery.ApplyEvent(tt.state, tt.event)
			if got.NewState != tt.wantState {
				t.Errorf("discovery.ApplyEvent(%s, %s).NewState = %s, want %s", tt.state, tt.event, got.NewState, tt.wantState)
			}
			if got.OldState != tt.state {
				t.Errorf("OldState = %s, want %s", got.OldState, tt.state)
			}
			if got.Changed != tt.wantChanged {
				t.Errorf("Changed = %v, want %v", got.Changed, tt.wantChanged)
			}
			if !slices.Equal(got.Actions, tt.wantActions) {
				t.Errorf("Actions = %v, want %v", got.Actions, tt.wantActions)
			}
		})
	}
}

func TestStateStrings(t *testing.T) {
	t.Parallel()

	for s, want := range map[discovery.State]string{
		discovery.StateStopped:       "Stopped",
		discovery.StateSettingHost:   "SettingHost",
		discovery.StateAddingService: "AddingService",
		discovery.StateRegistered:    "Registered",
		discovery.StateLeaseExpiring: "LeaseExpiring",
		discovery.State(99):          "Unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
