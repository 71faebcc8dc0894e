package logger

// Output controls what categories of information are shown at each verbosity level.
//
// Unlike log levels (which filter by severity), output categories control
// WHAT types of information are displayed regardless of severity.
//
// Verbosity Levels:
//
//	0 (default) - User-facing output only: results, errors with hints, final status
//	1 (-v)      - + Progress, startup info, sweep summaries
//	2 (-vv)     - + Timing, config loaded, HTTP requests
//	3 (-vvv)    - + SQL queries, delivery attempts, internal flow
//	4 (-vvvv)   - + Full request/response bodies, data structure dumps

// OutputCategory defines a category of output that can be enabled/disabled
type OutputCategory int

const (
	// Level 0 (default) - Always shown
	OutputResults    OutputCategory = iota // Sweep reports, command output
	OutputErrors                           // Errors with hints and resolution steps
	OutputUserStatus                       // Final success/failure status

	// Level 1 (-v) - Informational
	OutputProgress     // Progress indicators (e.g., "Imported 50/100 rows")
	OutputStartup      // Startup banners, config summary
	OutputSweepSummary // Per-sweep generation summaries

	// Level 2 (-vv) - Detailed
	OutputTiming    // Operation timing (e.g., "sweep took 42ms")
	OutputConfig    // Config values loaded/applied
	OutputHTTPCalls // External HTTP requests made
	OutputDBStats   // Database statistics and connection info

	// Level 3 (-vvv) - Debug
	OutputSQLQueries // Individual SQL queries executed
	OutputDelivery   // Notification delivery attempts
	OutputInternalOp // Internal operation flow

	// Level 4 (-vvvv) - Full dump
	OutputRequestBody  // Full HTTP request bodies
	OutputResponseBody // Full HTTP response bodies
	OutputDataDump     // Full data structure contents
)

// categoryLevels maps each output category to its minimum verbosity level
var categoryLevels = map[OutputCategory]int{
	OutputResults:    VerbosityUser,
	OutputErrors:     VerbosityUser,
	OutputUserStatus: VerbosityUser,

	OutputProgress:     VerbosityInfo,
	OutputStartup:      VerbosityInfo,
	OutputSweepSummary: VerbosityInfo,

	OutputTiming:    VerbosityDebug,
	OutputConfig:    VerbosityDebug,
	OutputHTTPCalls: VerbosityDebug,
	OutputDBStats:   VerbosityDebug,

	OutputSQLQueries: VerbosityTrace,
	OutputDelivery:   VerbosityTrace,
	OutputInternalOp: VerbosityTrace,

	OutputRequestBody:  VerbosityAll,
	OutputResponseBody: VerbosityAll,
	OutputDataDump:     VerbosityAll,
}

// ShouldOutput returns true if the given category should be shown at the given verbosity
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		// Unknown category, default to highest verbosity required
		return verbosity >= VerbosityAll
	}
	return verbosity >= minLevel
}

// VerbosityDescription returns a description of what's shown at each level
func VerbosityDescription(verbosity int) string {
	switch verbosity {
	case VerbosityUser:
		return "results and errors only"
	case VerbosityInfo:
		return "results, errors, progress, and sweep summaries"
	case VerbosityDebug:
		return "above + timing, config details, HTTP requests"
	case VerbosityTrace:
		return "above + SQL, delivery attempts, internal flow"
	case VerbosityAll:
		return "full output including request/response bodies"
	default:
		if verbosity > VerbosityAll {
			return "maximum verbosity"
		}
		return "unknown verbosity level"
	}
}
