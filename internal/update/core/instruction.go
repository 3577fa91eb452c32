package core

import "fmt"

// Instruction is the recommendation derived from an installed/latest version pair.
// It is recomputed on every check and never persisted.
type Instruction int

const (
	InstructionUnknown Instruction = iota
	InstructionInstalledVersionUnknown
	InstructionLatestVersionUnknown
	InstructionUpToDate
	InstructionMinorUpdateAvailable
	InstructionMajorUpdateAvailable
	InstructionMandatoryUpdateAvailable
	InstructionUnknownError
	InstructionUpdateProcessOngoing
	InstructionCheckInstalledVersionTimeout
	InstructionCheckLatestVersionTimeout
)

var instructionNames = [...]string{
	InstructionUnknown:                      "Unknown",
	InstructionInstalledVersionUnknown:      "InstalledVersionUnknown",
	InstructionLatestVersionUnknown:         "LatestVersionUnknown",
	InstructionUpToDate:                     "UpToDate",
	InstructionMinorUpdateAvailable:         "MinorUpdateAvailable",
	InstructionMajorUpdateAvailable:         "MajorUpdateAvailable",
	InstructionMandatoryUpdateAvailable:     "MandatoryUpdateAvailable",
	InstructionUnknownError:                 "UnknownError",
	InstructionUpdateProcessOngoing:         "UpdateProcessOngoing",
	InstructionCheckInstalledVersionTimeout: "CheckInstalledVersionTimeout",
	InstructionCheckLatestVersionTimeout:    "CheckLatestVersionTimeout",
}

func (i Instruction) String() string {
	if i >= 0 && int(i) < len(instructionNames) {
		return instructionNames[i]
	}
	return fmt.Sprintf("Instruction(%d)", int(i))
}

func (i Instruction) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UpdateAvailable reports whether i asks for a newer version to be installed.
func (i Instruction) UpdateAvailable() bool {
	switch i {
	case InstructionMinorUpdateAvailable, InstructionMajorUpdateAvailable, InstructionMandatoryUpdateAvailable:
		return true
	}
	return false
}
