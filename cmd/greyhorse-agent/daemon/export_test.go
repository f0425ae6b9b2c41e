package daemon

// SetArgs sets the command line arguments for tests.
func (a *App) SetArgs(args ...string) {
	a.cmd.SetArgs(args)
}
