/*
Package sequencer wires recall recyclings into a running engine.

Concept

Recalls are effects which follow audio signals. A recall recycling
subscribes to an audio recycling and spawns a child for every signal
whose recall id matches it: same recycling context or its parent,
accepted scope, ready destination. Children run on the audio path and
are marked done when their signal is removed or its stream ends.

Done children are not destroyed on the audio path. The engine runs a
worker which disposes them in background, either on notification or on
ticker in performance mode.

Contexts

Recycling contexts form a tree. Each context carries recall ids for
playback, sequencer and notation scopes. Releasing a context tears down
the recalls instantiated for it:

	e, err := sequencer.New(sequencer.WithSettings(settings))
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.Close()
*/
package sequencer
