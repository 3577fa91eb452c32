package core

import (
	"errors"
	"fmt"
)

// BuildHashLen is the length of the flight and OS build hashes reported by the autopilot.
const BuildHashLen = 16

// AutopilotInfo carries the autopilot-specific part of a VersionRecord.
type AutopilotInfo struct {
	VendorMajor int    `json:"vendorMajor"`
	VendorMinor int    `json:"vendorMinor"`
	VendorPatch int    `json:"vendorPatch"`
	FlightHash  string `json:"flightHash"`
	OSMajor     int    `json:"osMajor"`
	OSMinor     int    `json:"osMinor"`
	OSPatch     int    `json:"osPatch"`
	OSHash      string `json:"osHash"`
	VendorID    uint16 `json:"vendorID"`
	ProductID   uint16 `json:"productID"`
}

// VersionRecord is a semantic version plus component-specific metadata.
//
// A record is either unknown (Known is false and nothing else is set) or fully
// populated. Use UnknownVersion for the former.
type VersionRecord struct {
	Known bool `json:"known"`
	Major int  `json:"major"`
	Minor int  `json:"minor"`
	Patch int  `json:"patch"`

	// Autopilot is only set for ComponentAutopilot.
	Autopilot *AutopilotInfo `json:"autopilot,omitempty"`
	// Region is only set for ComponentCamera.
	Region string `json:"region,omitempty"`
	// Model is set for ComponentCamera and ComponentGimbal.
	Model string `json:"model,omitempty"`
}

var errPartialRecord = errors.New("partially populated version record")

// UnknownVersion returns the explicit "no information" record.
func UnknownVersion() VersionRecord {
	return VersionRecord{}
}

// NewVersion returns a known record with only the common fields set.
func NewVersion(major, minor, patch int) VersionRecord {
	return VersionRecord{Known: true, Major: major, Minor: minor, Patch: patch}
}

// Validate rejects records that are neither fully unknown nor fully populated.
func (v VersionRecord) Validate() error {
	if !v.Known {
		if v.Major != 0 || v.Minor != 0 || v.Patch != 0 || v.Autopilot != nil || v.Region != "" || v.Model != "" {
			return errPartialRecord
		}
		return nil
	}
	if v.Major < 0 || v.Minor < 0 || v.Patch < 0 {
		return fmt.Errorf("negative version number %d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	if a := v.Autopilot; a != nil {
		if a.VendorMajor < 0 || a.VendorMinor < 0 || a.VendorPatch < 0 || a.OSMajor < 0 || a.OSMinor < 0 || a.OSPatch < 0 {
			return fmt.Errorf("negative autopilot version field")
		}
		if len(a.FlightHash) > BuildHashLen || len(a.OSHash) > BuildHashLen {
			return fmt.Errorf("build hash longer than %d characters", BuildHashLen)
		}
	}
	return nil
}

// SameVersion compares major, minor and patch only; metadata is ignored.
func (v VersionRecord) SameVersion(o VersionRecord) bool {
	return v.Known && o.Known && v.Major == o.Major && v.Minor == o.Minor && v.Patch == o.Patch
}

// String renders "major.minor.patch", or the empty string for an unknown record.
func (v VersionRecord) String() string {
	if !v.Known {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Release is the latest-version metadata published by the update server.
type Release struct {
	Component Component     `json:"component"`
	Version   VersionRecord `json:"version"`
	// Mandatory marks a security-relevant release that must be installed.
	Mandatory bool   `json:"mandatory"`
	URL       string `json:"url"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256"`
}
