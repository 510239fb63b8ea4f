package app

type Command string

const (
	CommandServe Command = "serve"
	// CommandMigrate opens the database, applies migrations and exits.
	CommandMigrate   Command = "migrate"
	CommandReencrypt Command = "reencrypt"
	CommandSchedule  Command = "schedule"
)

// ParseCommand reads the subcommand from the first argument. Anything
// unrecognized starts the server.
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	switch Command(args[0]) {
	case CommandMigrate, CommandReencrypt, CommandSchedule, CommandServe:
		return Command(args[0])
	default:
		return CommandServe
	}
}
