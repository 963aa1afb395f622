package boot

import "github.com/rs/zerolog"

// debugGate drops debug and trace events unless the App's debug option is
// set.
type debugGate struct {
	app *App
}

func (g debugGate) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level <= zerolog.DebugLevel && !g.app.Debug() {
		e.Discard()
	}
}
