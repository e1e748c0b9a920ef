/*
Package session implements the dialog session engine.

A Service owns the registry of live dialogs, one per respondent. Each Dialog runs the
quiz script in its own goroutine and exposes the conversational primitives the script
is written against: Ask, Tell and CallOnce. Inbound messages reach a dialog through
Service.Dispatch, which also interprets the start, cancel, pause and resume commands.

Every storage call made on behalf of a dialog goes through a retry.Policy. When the
policy is exhausted the dialog removes itself from the registry and the script observes
domain.ErrDialogStopped.

A dialog that was interrupted (timeout, shutdown, crash) can be restored from storage.
Restoration replays the persisted answers, so the script re-runs from the top and
reaches the first unanswered question without prompting the respondent again.
*/
package session
