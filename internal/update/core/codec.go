package core

import (
	"fmt"
	"math"
)

// Keys of the values carried by a version response.
const (
	KeyMajor       = "major"
	KeyMinor       = "minor"
	KeyPatch       = "patch"
	KeyVendorMajor = "vendor_major"
	KeyVendorMinor = "vendor_minor"
	KeyVendorPatch = "vendor_patch"
	KeyFlightHash  = "flight_hash"
	KeyOSMajor     = "os_major"
	KeyOSMinor     = "os_minor"
	KeyOSPatch     = "os_patch"
	KeyOSHash      = "os_hash"
	KeyVendorID    = "vendor_id"
	KeyProductID   = "product_id"
	KeyRegion      = "region"
	KeyModel       = "model"

	// KeyLevel is the battery charge in percent.
	KeyLevel = "level"
	// KeyPresent reports removable storage.
	KeyPresent = "present"
)

// EncodeVersion flattens a record into response values.
func EncodeVersion(v VersionRecord) map[string]any {
	if !v.Known {
		return map[string]any{}
	}
	m := map[string]any{
		KeyMajor: v.Major,
		KeyMinor: v.Minor,
		KeyPatch: v.Patch,
	}
	if a := v.Autopilot; a != nil {
		m[KeyVendorMajor] = a.VendorMajor
		m[KeyVendorMinor] = a.VendorMinor
		m[KeyVendorPatch] = a.VendorPatch
		m[KeyFlightHash] = a.FlightHash
		m[KeyOSMajor] = a.OSMajor
		m[KeyOSMinor] = a.OSMinor
		m[KeyOSPatch] = a.OSPatch
		m[KeyOSHash] = a.OSHash
		m[KeyVendorID] = int(a.VendorID)
		m[KeyProductID] = int(a.ProductID)
	}
	if v.Region != "" {
		m[KeyRegion] = v.Region
	}
	if v.Model != "" {
		m[KeyModel] = v.Model
	}
	return m
}

// DecodeVersion reads the record a component reported. Metadata that does not
// belong to c is dropped and build hashes are cut to BuildHashLen.
func DecodeVersion(c Component, r *Response) (VersionRecord, error) {
	major, ok1 := r.Int(KeyMajor)
	minor, ok2 := r.Int(KeyMinor)
	patch, ok3 := r.Int(KeyPatch)
	if !ok1 || !ok2 || !ok3 {
		return UnknownVersion(), fmt.Errorf("%s reported no version", c)
	}
	v := NewVersion(major, minor, patch)

	switch c {
	case ComponentAutopilot:
		if _, ok := r.Values[KeyFlightHash]; ok {
			a := &AutopilotInfo{}
			a.VendorMajor, _ = r.Int(KeyVendorMajor)
			a.VendorMinor, _ = r.Int(KeyVendorMinor)
			a.VendorPatch, _ = r.Int(KeyVendorPatch)
			a.OSMajor, _ = r.Int(KeyOSMajor)
			a.OSMinor, _ = r.Int(KeyOSMinor)
			a.OSPatch, _ = r.Int(KeyOSPatch)
			a.FlightHash, _ = r.String(KeyFlightHash)
			a.OSHash, _ = r.String(KeyOSHash)
			a.FlightHash = truncate(a.FlightHash, BuildHashLen)
			a.OSHash = truncate(a.OSHash, BuildHashLen)
			var err error
			if a.VendorID, err = usbID(r, KeyVendorID); err != nil {
				return UnknownVersion(), fmt.Errorf("%s reported an invalid version: %w", c, err)
			}
			if a.ProductID, err = usbID(r, KeyProductID); err != nil {
				return UnknownVersion(), fmt.Errorf("%s reported an invalid version: %w", c, err)
			}
			v.Autopilot = a
		}
	case ComponentCamera:
		v.Region, _ = r.String(KeyRegion)
		v.Model, _ = r.String(KeyModel)
	case ComponentGimbal:
		v.Model, _ = r.String(KeyModel)
	}

	if err := v.Validate(); err != nil {
		return UnknownVersion(), fmt.Errorf("%s reported an invalid version: %w", c, err)
	}
	return v, nil
}

// usbID reads a 16-bit vendor or product id. A missing id reads as zero.
func usbID(r *Response, key string) (uint16, error) {
	if _, ok := r.Values[key]; !ok {
		return 0, nil
	}
	n, ok := r.Int(key)
	if !ok || n < 0 || n > math.MaxUint16 {
		return 0, fmt.Errorf("%s %v out of range", key, r.Values[key])
	}
	return uint16(n), nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
