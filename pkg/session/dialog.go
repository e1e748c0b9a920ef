package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/ports"
	"github.com/aretw0/limpopo/pkg/retry"
)

// Dialog is the live session of one respondent.
// Ask, Tell and CallOnce are meant to be called from the quiz goroutine only;
// HandleMessage and the accessors are safe for concurrent use.
type Dialog struct {
	svc        *Service
	id         domain.DialogID
	respondent domain.Respondent
	restored   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	running atomic.Bool

	inbox   chan domain.Message
	mailbox *Mailbox
	// armed lets the delivery loop hand the next fresh reply to the mailbox.
	armed chan struct{}

	mu             sync.Mutex
	state          domain.DialogState
	lastQuestionID domain.MessageID
	prepared       map[string]string
	called         map[domain.CallKey]struct{}
	skipNextSend   bool
}

func newDialog(svc *Service, id domain.DialogID, respondent domain.Respondent, opts CreateOptions) *Dialog {
	ctx, cancel := context.WithCancel(svc.baseCtx)
	d := &Dialog{
		svc:        svc,
		id:         id,
		respondent: respondent,
		restored:   opts.ID != 0,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		inbox:      make(chan domain.Message, svc.settings.InboxSize),
		mailbox:    NewMailbox(),
		armed:      make(chan struct{}, 1),
		state:      domain.StateIdle,
		prepared:   make(map[string]string, len(opts.Prepared)),
		called:     make(map[domain.CallKey]struct{}, len(opts.Called)),
	}
	for _, step := range opts.Prepared {
		d.prepared[step.Question] = step.Answer
	}
	for _, key := range opts.Called {
		d.called[key] = struct{}{}
	}
	d.skipNextSend = d.restored && !opts.ReplayPending
	go d.deliver()
	return d
}

// ID returns the storage identifier of the dialog.
func (d *Dialog) ID() domain.DialogID { return d.id }

// Respondent returns the respondent the dialog belongs to.
func (d *Dialog) Respondent() domain.Respondent { return d.respondent }

// Restored reports whether the dialog was rebuilt from storage.
func (d *Dialog) Restored() bool { return d.restored }

// Context is cancelled when the dialog is closed or the service stops.
func (d *Dialog) Context() context.Context { return d.ctx }

// Done is closed once the quiz goroutine of the dialog has finished.
func (d *Dialog) Done() <-chan struct{} { return d.done }

// State returns the current position in the ask cycle.
func (d *Dialog) State() domain.DialogState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastQuestionID returns the transport id of the last question sent.
// Inbound messages with a smaller id are stale.
func (d *Dialog) LastQuestionID() domain.MessageID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastQuestionID
}

func (d *Dialog) setState(state domain.DialogState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != domain.StateClosed {
		d.state = state
	}
}

func (d *Dialog) markClosed() {
	d.mu.Lock()
	d.state = domain.StateClosed
	d.mu.Unlock()
	d.cancel()
}

func (d *Dialog) cachedAnswer(topic string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	text, ok := d.prepared[topic]
	return text, ok
}

// takeSkip reports whether the next question must not be sent, and clears the flag.
func (d *Dialog) takeSkip() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	skip := d.skipNextSend
	d.skipNextSend = false
	return skip
}

func (d *Dialog) logAttrs() []any {
	return []any{"respondent", d.respondent.Key(), "dialog_id", d.id}
}

// Ask sends q and waits for an acceptable answer.
//
// Answers persisted before a restore are replayed without contacting the respondent.
// Replies that do not match a strict question are answered with the wrong-answer
// notice and the wait continues. The whole call is bounded by the answer timeout;
// when it elapses Ask returns domain.ErrTimeout.
func (d *Dialog) Ask(ctx context.Context, q domain.Question) (domain.Answer, error) {
	d.mailbox.Clear()

	topic := q.PlainText()
	if text, ok := d.cachedAnswer(topic); ok {
		d.svc.metrics.Answer("replayed")
		return domain.Answer{Text: text}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.svc.settings.AnswerTimeout)
	defer cancel()
	stop := context.AfterFunc(d.ctx, cancel)
	defer stop()

	if d.takeSkip() {
		d.svc.logger.Debug("question not resent after restore", d.logAttrs()...)
	} else {
		id, err := d.send(ctx, d.svc.renderer.RenderQuestion(q))
		if err != nil {
			return domain.Answer{}, err
		}
		d.mu.Lock()
		d.lastQuestionID = id
		d.mu.Unlock()
	}
	d.await()

	for {
		if err := d.mailbox.Wait(waitCtx); err != nil {
			switch {
			case d.ctx.Err() != nil:
				return domain.Answer{}, fmt.Errorf("%w: %w", domain.ErrDialogClosed, d.ctx.Err())
			case ctx.Err() != nil:
				return domain.Answer{}, ctx.Err()
			}
			d.setState(domain.StateIdle)
			d.svc.metrics.Answer("timeout")
			return domain.Answer{}, fmt.Errorf("%w: no answer to %q within %s", domain.ErrTimeout, topic, d.svc.settings.AnswerTimeout)
		}

		answer := domain.Answer{Text: d.svc.renderer.NormalizeAnswer(q, d.mailbox.Text())}

		if err := q.ValidateAnswer(answer); err != nil {
			d.svc.metrics.Answer("rejected")
			d.svc.logger.Debug("answer rejected", append(d.logAttrs(), "err", err)...)
			if _, err := d.send(ctx, domain.TextPayload(d.svc.settings.Messages.WrongAnswer)); err != nil {
				return domain.Answer{}, err
			}
			d.mailbox.Clear()
			d.await()
			continue
		}

		step := domain.Step{Question: topic, Answer: answer.Text}
		err := d.persist(ctx, ports.OpSaveQuestionAndAnswer, func(ctx context.Context) error {
			return d.svc.storage.SaveQuestionAndAnswer(ctx, d.id, step)
		})
		if err != nil {
			return domain.Answer{}, err
		}
		d.setState(domain.StateAnswered)
		d.svc.metrics.Answer("accepted")
		return answer, nil
	}
}

// await opens the mailbox for the next reply.
func (d *Dialog) await() {
	d.setState(domain.StateAwaitingAnswer)
	select {
	case d.armed <- struct{}{}:
	default:
	}
}

// deliver moves replies from the inbox to the mailbox, one per await, in arrival order.
// Replies older than the last question are dropped. A reply taken while no answer is
// awaited is kept for the next await. It returns when the dialog is closed.
func (d *Dialog) deliver() {
	var held *domain.Message
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.armed:
		}

		for {
			var msg domain.Message
			if held != nil {
				msg, held = *held, nil
			} else {
				select {
				case <-d.ctx.Done():
					return
				case msg = <-d.inbox:
				}
			}

			set, keep := d.offer(msg)
			if keep {
				held = &msg
			}
			if set || keep {
				break
			}
		}
	}
}

// offer sets the mailbox to msg when an answer is awaited. keep reports a fresh reply
// that arrived outside of an Ask.
func (d *Dialog) offer(msg domain.Message) (set, keep bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if msg.ID < d.lastQuestionID {
		d.svc.metrics.Answer("stale")
		d.svc.logger.Debug("stale message dropped", append(d.logAttrs(), "message_id", msg.ID)...)
		return false, false
	}
	if d.state != domain.StateAwaitingAnswer {
		return false, true
	}
	// One reply per await: the mailbox is not overwritten before Ask reads it.
	d.state = domain.StateValidating
	d.mailbox.Set(msg.Text)
	return true, false
}

// Tell sends a payload to the respondent without waiting for a reply.
func (d *Dialog) Tell(ctx context.Context, payload domain.Payload) (domain.MessageID, error) {
	return d.send(ctx, payload)
}

// TellText sends plain text to the respondent.
func (d *Dialog) TellText(ctx context.Context, text string) error {
	_, err := d.send(ctx, domain.TextPayload(text))
	return err
}

func (d *Dialog) send(ctx context.Context, payload domain.Payload) (domain.MessageID, error) {
	id, err := d.svc.transport.Send(ctx, d.respondent.ID, payload)
	if err != nil {
		return 0, fmt.Errorf("send to %s: %w", d.respondent.Key(), err)
	}
	return id, nil
}

// HandleMessage enqueues an inbound message. It blocks while the inbox is full,
// until the message is accepted, the dialog is closed or ctx ends.
func (d *Dialog) HandleMessage(ctx context.Context, msg domain.Message) error {
	if d.ctx.Err() != nil {
		return domain.ErrDialogClosed
	}
	select {
	case d.inbox <- msg:
		return nil
	case <-d.ctx.Done():
		return domain.ErrDialogClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persist runs a storage call under the service retry policy. When the policy is
// exhausted the dialog leaves the registry and domain.ErrDialogStopped is returned.
func (d *Dialog) persist(ctx context.Context, op string, fn func(context.Context) error) error {
	err := d.svc.policy.Do(ctx, op, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, retry.ErrExhausted) {
		d.svc.drop(d)
		return fmt.Errorf("%w: %w", domain.ErrDialogStopped, err)
	}
	return err
}
