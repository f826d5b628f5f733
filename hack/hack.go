// Package hack holds files installed alongside the binary.
package hack

import _ "embed"

// SystemdUnitTemplate is the systemd user unit. /path/to/bhc is replaced
// with the executable path on install.
//
//go:embed bhc.service
var SystemdUnitTemplate string
