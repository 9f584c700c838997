package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ProtocolVersion is the version the server speaks, negotiated at initialize.
const ProtocolVersion = "1.2.0"

// SemVer is a parsed major.minor.patch string.
type SemVer struct {
	Major, Minor, Patch int
}

func (v SemVer) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ParseVersion parses a major.minor.patch string.
func ParseVersion(s string) (SemVer, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return SemVer{}, fmt.Errorf("invalid version %q", s)
	}
	var v SemVer
	for i, dst := range []*int{&v.Major, &v.Minor, &v.Patch} {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return SemVer{}, fmt.Errorf("invalid version %q", s)
		}
		*dst = n
	}
	return v, nil
}

// CheckVersion validates a client version against the server's. Major
// versions must match; a server minor older than the client's is tolerated
// but reported as a warning.
func CheckVersion(client string) (warning string, err error) {
	cv, err := ParseVersion(client)
	if err != nil {
		return "", err
	}
	sv, _ := ParseVersion(ProtocolVersion)
	if cv.Major != sv.Major {
		return "", fmt.Errorf("protocol major version mismatch: server %s, client %s", ProtocolVersion, client)
	}
	if sv.Minor < cv.Minor {
		warning = fmt.Sprintf("server protocol %s is older than client %s", ProtocolVersion, client)
	}
	return warning, nil
}
