/*
Package limpopo is a dialog session engine for chat bots.

A quiz is an ordinary Go function that asks questions and tells answers. The engine
suspends it on every question, routes the respondent's replies to it, persists each
question/answer pair and restores the dialog from storage after a restart. Side
effects executed through CallOnce are recorded so that a replayed dialog does not
repeat them.

# Architecture

The session engine (pkg/session) is decoupled from its adapters through the ports
in pkg/ports:

  - Storage: memory, redis, postgres and sqlite adapters.
  - Transport: telegram, http (polling and server-sent events) and console adapters.
  - QuestionRenderer: how a question becomes a payload and a reply becomes an answer.

# Usage

	quiz := func(ctx context.Context, d *session.Dialog) error {
		answer, err := d.Ask(ctx, domain.MustQuestion("Choose yes or no!", domain.ChoiceList("Yes", "No")))
		if err != nil {
			return err
		}
		return d.TellText(ctx, "Your choice is "+answer.Text)
	}

	svc, err := limpopo.New(quiz, memory.NewStore(), transport)
	if err != nil {
		log.Fatal(err)
	}
	defer svc.Stop(context.Background())

	// Feed every inbound message of the transport to the service.
	err = svc.Dispatch(ctx, respondent, domain.Message{ID: id, Text: text})

The limpopo binary (cmd/limpopo) wires the same engine from a configuration file.
*/
package limpopo
