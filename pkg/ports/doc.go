/*
Package ports defines the driven ports (interfaces) of the limpopo dialog engine.

These interfaces decouple the session engine from external implementations, allowing
the same quiz script to run against any storage backend and any chat transport.

# Key Interfaces

  - Storage: persists dialogs, their question/answer steps, idempotency keys and pauses.
  - Transport: delivers outbound payloads and returns the transport's message ID.
  - QuestionRenderer: shapes questions and normalizes answers for one transport.
  - DistributedLocker: provides distributed locking for multi-replica deployments.
*/
package ports
