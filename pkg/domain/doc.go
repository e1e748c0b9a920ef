/*
Package domain contains the core domain models of the limpopo dialog engine.

It defines the entities a quiz script and the session engine exchange: respondents,
questions and their choices, answers, inbound messages, outbound payloads and the
persisted footprint of a dialog (steps, idempotency keys, pause records). The package
is kept free of I/O and persistence, following Hexagonal Architecture principles.

# Key Entities

  - Respondent: the end user, identified by (ID, Messenger).
  - Question: a topic plus the set of acceptable choices.
  - Message: an inbound reply carrying the transport's ordered message ID.
  - Payload: a transport-neutral outbound message (text plus button rows).
  - Step: a persisted question/answer pair used to rebuild the replay cache.
  - Outcome: the tri-state result recorded when a dialog is closed.
*/
package domain
