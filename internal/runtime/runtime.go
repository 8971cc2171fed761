// Package runtime reports details of the host a report is generated on
package runtime

import (
	"fmt"
	"math"
	goruntime "runtime"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// syscall.RLIM_INFINITY is an int on most architectures and a uint on
// others. Normalise it to uint64.
var unlimited uint64 = syscall.RLIM_INFINITY & math.MaxUint64

// Uname returns the system name, release, machine and node name of the host.
func Uname() (string, error) {
	var buf unix.Utsname

	if err := unix.Uname(&buf); err != nil {
		return "", fmt.Errorf("uname failed: %w", err)
	}

	fields := []string{
		unix.ByteSliceToString(buf.Sysname[:]),
		unix.ByteSliceToString(buf.Release[:]),
		unix.ByteSliceToString(buf.Machine[:]),
		unix.ByteSliceToString(buf.Nodename[:]),
	}

	return "(" + strings.Join(fields, " ") + ")", nil
}

func formatLimit(v uint64) string {
	if v == unlimited {
		return "unlimited"
	}

	return fmt.Sprintf("%d", v)
}

// FdLimits returns the soft and hard limits of open file descriptors.
func FdLimits() (string, error) {
	var rlimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		return "", fmt.Errorf("getrlimit failed: %w", err)
	}

	// Cur and Max are int64 on some platforms
	return fmt.Sprintf("(soft=%s, hard=%s)", formatLimit(uint64(rlimit.Cur)), formatLimit(uint64(rlimit.Max))), nil //nolint:unconvert
}

// Attrs returns host details as slog key value pairs. Details that cannot
// be read are reported as errors in place of their value.
func Attrs() []any {
	attrs := []any{"go_version", goruntime.Version(), "num_cpu", goruntime.NumCPU()}

	for _, d := range []struct {
		key string
		get func() (string, error)
	}{
		{"host_details", Uname},
		{"fd_limits", FdLimits},
	} {
		v, err := d.get()
		if err != nil {
			v = err.Error()
		}

		attrs = append(attrs, d.key, v)
	}

	return attrs
}
