package housekeeping

import (
	"strings"
	"time"

	"github.com/flux-framework/flux-core-go/cmn/cos"
)

// ReleaseAfter is the tri-state FSD value of job-manager.housekeeping's
// release-after key (section 4.E): unset means "hold every rank until all
// finish", zero means "free each rank as it finishes", and a positive
// duration delays the first release behind a one-shot timer.
type ReleaseAfter struct {
	set bool
	d   time.Duration
}

// Unset is the default: never release partially.
func Unset() ReleaseAfter { return ReleaseAfter{} }

// Immediate releases each rank as soon as its script exits.
func Immediate() ReleaseAfter { return ReleaseAfter{set: true, d: 0} }

// Delayed arms a one-shot timer of duration d on the first rank to finish.
func Delayed(d time.Duration) ReleaseAfter { return ReleaseAfter{set: true, d: d} }

func (r ReleaseAfter) IsUnset() bool { return !r.set }

func (r ReleaseAfter) IsImmediate() bool { return r.set && r.d == 0 }

// Duration is only meaningful when r is neither unset nor immediate.
func (r ReleaseAfter) Duration() time.Duration { return r.d }

// ParseFSD parses a human-readable duration per section 6's
// `release-after = "30s"` grammar. time.ParseDuration already implements
// the subset of Flux's FSD grammar ("Ns", "Nm", "Nh", ...) this config key
// uses; no package in the retrieval pack offers an FSD-specific parser, so
// this stays a thin stdlib wrapper rather than reimplementing one (see
// DESIGN.md).
func ParseFSD(s string) (ReleaseAfter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unset(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return ReleaseAfter{}, cos.ErrInvalidArgument("housekeeping: release-after: %v", err)
	}
	if d < 0 {
		return ReleaseAfter{}, cos.ErrInvalidArgument("housekeeping: release-after must not be negative")
	}
	return ReleaseAfter{set: true, d: d}, nil
}

// Config is the reload-safe housekeeping configuration of section 6's
// `[job-manager.housekeeping]` TOML fragment. Parsing the fragment itself
// is owned by the enclosing broker bootstrap (section 1); this module
// consumes an already-parsed Config.
type Config struct {
	// Command is the tokenised script command line. A nil/empty Command
	// disables housekeeping entirely.
	Command []string

	ReleaseAfter ReleaseAfter
}

func (c Config) Enabled() bool { return len(c.Command) > 0 }

// envBlocklist is the set of job-scoped environment variables stripped from
// the script environment (section 4.E), ported from housekeeping.c's
// env_blocklist.
var envBlocklist = []string{
	"FLUX_JOB_ID",
	"FLUX_JOB_SIZE",
	"FLUX_JOB_NNODES",
	"FLUX_JOB_TMPDIR",
	"FLUX_TASK_RANK",
	"FLUX_TASK_LOCAL_ID",
	"FLUX_URI",
	"FLUX_KVS_NAMESPACE",
	"FLUX_PROXY_REMOTE",
}

// ScriptEnv derives the script environment from the rank-0 broker's own
// environment, stripping every job-scoped variable.
func ScriptEnv(brokerEnv []string) []string {
	out := make([]string, 0, len(brokerEnv))
	for _, kv := range brokerEnv {
		if !hasBlockedPrefix(kv) {
			out = append(out, kv)
		}
	}
	return out
}

func hasBlockedPrefix(kv string) bool {
	for _, b := range envBlocklist {
		if strings.HasPrefix(kv, b+"=") {
			return true
		}
	}
	return false
}
