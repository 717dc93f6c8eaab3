// Package whatsapp implements the WhatsApp channel sender on top of a
// browser-automation session against the web client.
//
// The channel is stateful, slow, and flaky: a single long-lived session must
// be launched, paired by a human, and then reused for every send. The
// Automator port isolates the actual browser backend so the session and
// send logic are testable without one.
package whatsapp

import (
	"context"
	"fmt"
	"time"

	"msgblast/internal/sender"
	"msgblast/pkg/logx"
)

// Options tunes the send path. Zero values pick the defaults below.
type Options struct {
	// SendTimeout bounds the wait for the compose view to become
	// interactive after navigation. Default 45s.
	SendTimeout time.Duration

	// SettleDelay is the fixed pause after triggering a send, letting the
	// action propagate before success is reported. Default 3s.
	SettleDelay time.Duration
}

const (
	defaultSendTimeout = 45 * time.Second
	defaultSettleDelay = 3 * time.Second
)

// Sender delivers through the shared Session. If the session is not Ready,
// every record fails immediately without any automation call.
type Sender struct {
	session *Session
	opts    Options
	log     logx.Logger
}

func NewSender(session *Session, opts Options, log logx.Logger) *Sender {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{session: session, opts: opts, log: log}
}

func (w *Sender) Channel() sender.Channel { return sender.ChannelWhatsApp }

// DeliverOne navigates the session to the compose view for the target
// number, waits for it to become interactive, and runs the send strategy
// chain. The whole path holds the session exclusively.
func (w *Sender) DeliverOne(ctx context.Context, msg sender.Message) error {
	return w.session.exclusive(func(a Automator) error {
		target := composeURL(w.session.entryURL, msg.Address, msg.Body)
		if err := a.Navigate(ctx, target); err != nil {
			return fmt.Errorf("open compose view: %w", err)
		}
		if err := a.WaitVisible(ctx, sendButtonSelector, w.opts.SendTimeout); err != nil {
			// The compose view never became interactive; the canonical
			// reason is "timeout" whatever the backend reported.
			return sender.ErrSendTimeout
		}
		if err := w.triggerSend(ctx, a); err != nil {
			return err
		}

		// Let the send propagate before reporting success.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.opts.SettleDelay):
		}
		return nil
	})
}

// strategy is one way of triggering the send affordance. Strategies are
// tried in order until one reports success; the chain is satisfied if any
// step succeeds.
type strategy struct {
	name string
	run  func(ctx context.Context, a Automator) error
}

var sendStrategies = []strategy{
	{
		name: "click",
		run: func(ctx context.Context, a Automator) error {
			return a.Click(ctx, sendButtonSelector)
		},
	},
	{
		name: "force-click",
		run: func(ctx context.Context, a Automator) error {
			ok, err := a.ForceClick(ctx, sendButtonSelector)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("send control not present")
			}
			return nil
		},
	},
	{
		name: "keyboard-enter",
		run: func(ctx context.Context, a Automator) error {
			return a.PressEnter(ctx)
		},
	},
}

func (w *Sender) triggerSend(ctx context.Context, a Automator) error {
	var lastErr error
	for _, st := range sendStrategies {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := st.run(ctx, a)
		if err == nil {
			if st.name != sendStrategies[0].name {
				w.log.Debug("send triggered via fallback", logx.String("strategy", st.name))
			}
			return nil
		}
		lastErr = err
		w.log.Debug("send strategy failed", logx.String("strategy", st.name), logx.Err(err))
	}
	return fmt.Errorf("all send strategies failed: %w", lastErr)
}
