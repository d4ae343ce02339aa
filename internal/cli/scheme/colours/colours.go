package colours

import "github.com/fatih/color"

// Color scheme for the CLI and the console renderer
var (
	Title   = color.New(color.FgCyan, color.Bold)
	Handle  = color.New(color.FgMagenta)
	Prompt  = color.New(color.FgGreen, color.Bold)
	Error   = color.New(color.FgRed, color.Bold)
	Success = color.New(color.FgGreen)
	Info    = color.New(color.FgBlue)
	Warning = color.New(color.FgYellow)
	Muted   = color.New(color.FgHiBlack)
)
