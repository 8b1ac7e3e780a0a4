package cycle

// States of one capture cycle
const (
	StateStart       = "START"
	StateCapture     = "CAPTURE"
	StateNotifyPhoto = "NOTIFY_PHOTO"
	StateNotifyError = "NOTIFY_ERROR"

	StateDoneOK              = "DONE_OK"
	StateDoneSkipped         = "DONE_SKIPPED"
	StateDonePartial         = "DONE_PARTIAL"
	StateDoneErrorReported   = "DONE_ERROR_REPORTED"
	StateDoneErrorUnreported = "DONE_ERROR_UNREPORTED"
)

// Process exit codes for the terminal states
const (
	ExitOK              = 0
	ExitPartial         = 2
	ExitErrorReported   = 3
	ExitErrorUnreported = 4
)

var exitCodes = map[string]int{
	StateDoneOK:              ExitOK,
	StateDoneSkipped:         ExitOK,
	StateDonePartial:         ExitPartial,
	StateDoneErrorReported:   ExitErrorReported,
	StateDoneErrorUnreported: ExitErrorUnreported,
}

// ExitCode maps a terminal state to its process exit code
func ExitCode(state string) int {
	if code, ok := exitCodes[state]; ok {
		return code
	}
	return 1
}

// Terminal reports whether state ends a cycle
func Terminal(state string) bool {
	_, ok := exitCodes[state]
	return ok
}
