package pubnub

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the SDK version reported in the pnsdk parameter.
const Version = "0.1.0"

// VersionInfo stores semantic version components.
type VersionInfo struct {
	Major uint
	Minor uint
	Patch uint
}

// Number converts version components into a sortable numeric representation.
func (version VersionInfo) Number() uint64 {
	return uint64(version.Major)*1000000 + uint64(version.Minor)*1000 + uint64(version.Patch)
}

// String returns dotted version format.
func (version VersionInfo) String() string {
	return fmt.Sprintf("%d.%d.%d", version.Major, version.Minor, version.Patch)
}

// ParseVersionInfo parses a dotted version string. Parsing stops at the
// first non-numeric component.
func ParseVersionInfo(version string) VersionInfo {
	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	values := []uint{0, 0, 0}
	for index := 0; index < len(parts) && index < 3; index++ {
		value, err := strconv.ParseUint(parts[index], 10, 32)
		if err != nil {
			break
		}
		values[index] = uint(value)
	}
	return VersionInfo{Major: values[0], Minor: values[1], Patch: values[2]}
}

// SDKVersion returns Version as components.
func SDKVersion() VersionInfo {
	return ParseVersionInfo(Version)
}
