// Package version parses human-readable version strings and derives the update
// instruction for an installed/latest pair.
package version

import (
	"regexp"
	"strconv"

	"github.com/autopeer-io/skypeer/internal/update/core"
)

var versionRegex = regexp.MustCompile(`^\s*v?(\d+)\.(\d+)\.(\d+)(?:[-+]([0-9A-Za-z.-]+))?\s*$`)

// Parse reads "major.minor.patch", optionally prefixed with "v" and suffixed with a
// pre-release or build tag, which is ignored. Malformed text yields the unknown record.
func Parse(s string) core.VersionRecord {
	m := versionRegex.FindStringSubmatch(s)
	if m == nil {
		return core.UnknownVersion()
	}

	nums := make([]int, 3)
	for i := range nums {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			// Only overflow gets here.
			return core.UnknownVersion()
		}
		nums[i] = n
	}

	return core.NewVersion(nums[0], nums[1], nums[2])
}

// Format is the inverse of Parse; an unknown record renders as "".
func Format(v core.VersionRecord) string {
	return v.String()
}

// Compare derives the update instruction for a component.
//
// The checks run in a fixed order: unknown installed, unknown latest, equality,
// major bump (mandatory overriding it), minor/patch bump. The mandatory flag only
// applies to major bumps. Build hashes and other metadata never take part in the
// comparison.
func Compare(installed, latest core.VersionRecord, mandatory bool) core.Instruction {
	if installed.Validate() != nil || latest.Validate() != nil {
		return core.InstructionUnknownError
	}

	switch {
	case !installed.Known:
		return core.InstructionInstalledVersionUnknown
	case !latest.Known:
		return core.InstructionLatestVersionUnknown
	case installed.SameVersion(latest):
		return core.InstructionUpToDate
	}

	switch {
	case latest.Major > installed.Major:
		if mandatory {
			return core.InstructionMandatoryUpdateAvailable
		}
		return core.InstructionMajorUpdateAvailable
	case latest.Major == installed.Major && newerMinorPatch(installed, latest):
		return core.InstructionMinorUpdateAvailable
	}
	// The installed version is ahead of the server.
	return core.InstructionUpToDate
}

func newerMinorPatch(installed, latest core.VersionRecord) bool {
	if latest.Minor != installed.Minor {
		return latest.Minor > installed.Minor
	}
	return latest.Patch > installed.Patch
}
