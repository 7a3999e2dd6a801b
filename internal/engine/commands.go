package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/raidscope/raidscope/internal/entity"
)

// CommandKind names a presentation command.
type CommandKind string

const (
	CmdHide   CommandKind = "hide"
	CmdWant   CommandKind = "want"
	CmdUnwant CommandKind = "unwant"
)

// ErrNotRunning is returned by commands sent while Run is not consuming.
var ErrNotRunning = errors.New("engine is not running")

type command struct {
	kind  CommandKind
	arg   string
	reply chan error
}

// Do sends a command to the consumer loop and waits until it was applied.
func (e *Engine) Do(ctx context.Context, kind CommandKind, arg string) error {
	switch kind {
	case CmdHide, CmdWant, CmdUnwant:
	default:
		return fmt.Errorf("unknown command %q", kind)
	}
	if !e.running.Load() {
		return ErrNotRunning
	}
	cmd := command{kind: kind, arg: arg, reply: make(chan error, 1)}
	select {
	case e.commands <- cmd:
	case <-e.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hide moves the crate id to the hidden bucket for the rest of the session.
func (e *Engine) Hide(ctx context.Context, id string) error {
	return e.Do(ctx, CmdHide, id)
}

// Want marks a template id wanted in this and every later session.
func (e *Engine) Want(ctx context.Context, templateID string) error {
	return e.Do(ctx, CmdWant, templateID)
}

func (e *Engine) Unwant(ctx context.Context, templateID string) error {
	return e.Do(ctx, CmdUnwant, templateID)
}

// apply runs on the consumer goroutine.
func (e *Engine) apply(cmd command) error {
	w := e.game.World()
	switch cmd.kind {
	case CmdHide:
		if !w.Loot.Hide(cmd.arg) {
			return fmt.Errorf("%s: %w", cmd.arg, ErrUnknownLoot)
		}
	case CmdWant:
		if len(cmd.arg) != entity.IDLen {
			return fmt.Errorf("template %q: %w", cmd.arg, entity.ErrBadID)
		}
		e.wanted[cmd.arg] = true
		w.Loot.Want(cmd.arg)
	case CmdUnwant:
		delete(e.wanted, cmd.arg)
		w.Loot.Unwant(cmd.arg)
	}
	e.logger.Info().
		Str("command", string(cmd.kind)).
		Str("arg", cmd.arg).
		Strs("wanted", e.wantedList()).
		Msg("Command applied")
	e.refresher.Force(w, int(e.packets.Load()), e.uuid.Load().(string))
	return nil
}
