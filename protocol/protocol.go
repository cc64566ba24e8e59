// Package protocol implements the resin controller line protocol: one
// comma-separated command per newline-terminated line, one response line
// per command.
package protocol

// Version represents the controller firmware version
const Version = "0.3.0"

// Protocol constants
const (
	DefaultPort   = 8899 // TCP command port
	MaxLineLength = 512  // Longest accepted command line, terminator excluded
	Separator     = ","  // Field separator
)

// Command keywords
const (
	CmdConfigAxis      = "CONFIG_AXIS"
	CmdConfigZPeel     = "CONFIG_Z_PEEL"
	CmdConfigAWipe     = "CONFIG_A_WIPE"
	CmdConfigBLevel    = "CONFIG_B_LEVEL"
	CmdNextLayer       = "NEXT_LAYER"
	CmdMoveRel         = "MOVE_REL"
	CmdEnableLevelComp = "ENABLE_LEVEL_COMP"

	// Single-axis firmware peel config, kept for older hosts
	CmdConfig = "CONFIG"
)

// Responses
const (
	RespDone             = "DONE"
	RespConfigReceived   = "OK: Config received."
	RespZPeelConfigured  = "OK: Z peel params configured."
	RespAWipeConfigured  = "OK: A wipe params configured."
	RespBLevelConfigured = "OK: B level params configured."
	RespLevelCompOn      = "OK: Level compensation enabled."
	RespLevelCompOff     = "OK: Level compensation disabled."

	RespUnknownCommand = "ERROR: Unknown command."
	RespInvalidAxis    = "ERROR: Invalid axis."

	// ProcessingFailedPrefix precedes the failure detail
	ProcessingFailedPrefix = "ERROR: Processing command failed: "
)

// AxisConfigured returns the CONFIG_AXIS success response
func AxisConfigured(axis string) string {
	return "OK: Axis " + axis + " configured."
}

// IsError reports whether a response line reports a failure
func IsError(resp string) bool {
	return len(resp) >= 6 && resp[:6] == "ERROR:"
}
