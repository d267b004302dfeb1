package constants

// CLI Commands and Subcommands
const (
	CmdServe      = "serve"
	CmdRun        = "run"
	CmdValidate   = "validate"
	CmdConnect    = "connect"
	CmdApps       = "apps"
	CmdExecutions = "executions"
	CmdList       = "list"
	CmdShow       = "show"
	CmdReplay     = "replay"
)

// CLI Short Descriptions
const (
	DescRoot       = "Trigger and action integration runtime"
	DescServe      = "Start the webhook server and poll scheduler"
	DescRun        = "Run a flow once as a test run"
	DescValidate   = "Validate a flow file"
	DescConnect    = "Verify credentials and create a connection"
	DescApps       = "List registered apps with their triggers and actions"
	DescExecutions = "Inspect executions"
	DescListExecs  = "List executions"
	DescShowExec   = "Show an execution with its steps"
	DescReplay     = "Replay an execution from its stored trigger output"
)

// CLI Flags
const (
	FlagConfig  = "config"
	FlagDebug   = "debug"
	FlagFlow    = "flow"
	FlagStatus  = "status"
	FlagLimit   = "limit"
	FlagUntil   = "until"
	FlagUser    = "user"
	FlagField   = "field"
	FlagAddr    = "addr"
	FlagFlowDir = "flows-dir"
)
