package core

import "fmt"

// State is the phase of a component update as seen by callers.
type State int

const (
	StateIdle State = iota
	StateConnectingToVehicle
	StateConnectingToUpdateServer
	StateVehicleNotFound
	StateUpdateServerNotFound
	StateDownloading
	StateUploading
	StateRebooting
	StateFlashing
	StateVerifying
	StateFinished
	StateError
	StateCancelled
	StateDownloadingTimeout
	StateUploadingTimeout
	StateBatteryTooLow
	StateSDCardNotInserted
)

var stateNames = [...]string{
	StateIdle:                     "Idle",
	StateConnectingToVehicle:      "ConnectingToVehicle",
	StateConnectingToUpdateServer: "ConnectingToUpdateServer",
	StateVehicleNotFound:          "VehicleNotFound",
	StateUpdateServerNotFound:     "UpdateServerNotFound",
	StateDownloading:              "Downloading",
	StateUploading:                "Uploading",
	StateRebooting:                "Rebooting",
	StateFlashing:                 "Flashing",
	StateVerifying:                "Verifying",
	StateFinished:                 "Finished",
	StateError:                    "Error",
	StateCancelled:                "Cancelled",
	StateDownloadingTimeout:       "DownloadingTimeout",
	StateUploadingTimeout:         "UploadingTimeout",
	StateBatteryTooLow:            "BatteryTooLow",
	StateSDCardNotInserted:        "SDCardNotInserted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return StateIdle, fmt.Errorf("unknown update state %q", name)
}

// IsTerminal reports whether no further transition can follow s.
func (s State) IsTerminal() bool {
	switch s {
	case StateFinished, StateError, StateCancelled,
		StateVehicleNotFound, StateUpdateServerNotFound,
		StateDownloadingTimeout, StateUploadingTimeout,
		StateBatteryTooLow, StateSDCardNotInserted:
		return true
	}
	return false
}

// IsSuccess reports whether s is the successful terminal state.
func (s State) IsSuccess() bool {
	return s == StateFinished
}

// Mode selects how far a session goes.
type Mode int

const (
	// ModeUpdate runs the full download, upload and flash sequence.
	ModeUpdate Mode = iota
	// ModeCheckOnly stops after the version comparison.
	ModeCheckOnly
)

func (m Mode) String() string {
	if m == ModeCheckOnly {
		return "check-only"
	}
	return "update"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
