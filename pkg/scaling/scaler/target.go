package scaler

import (
	"runtime"
	"strconv"
	"strings"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

// Full is the target spelling that means one worker per logical CPU.
const Full = "full"

// ParseTarget parses a worker count: a non-negative integer or "full".
func ParseTarget(spec string) (int, error) {
	spec = strings.TrimSpace(spec)
	if strings.EqualFold(spec, Full) {
		return runtime.NumCPU(), nil
	}
	n, err := strconv.Atoi(spec)
	if err != nil {
		return 0, gberrors.NewValidationError("scaler", "target", spec, "not a number").
			WithHint(`use a non-negative integer or "full"`)
	}
	if n < 0 {
		return 0, gberrors.NewValidationError("scaler", "target", n, "must be non-negative")
	}
	return n, nil
}
