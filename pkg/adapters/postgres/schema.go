package postgres

// Schema creates the tables used by Store. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS respondents (
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	id          TEXT        NOT NULL,
	messenger   TEXT        NOT NULL CHECK (messenger IN ('telegram', 'viber', 'whatsapp', 'web', 'console')),
	username    TEXT,
	first_name  TEXT,
	last_name   TEXT,
	extra_data  JSONB,
	PRIMARY KEY (id, messenger)
);

CREATE TABLE IF NOT EXISTS dialogs (
	id                   BIGSERIAL   PRIMARY KEY,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at          TIMESTAMPTZ,
	cancelled            BOOLEAN     NOT NULL DEFAULT false,
	completed            BOOLEAN     NOT NULL DEFAULT false,
	respondent_id        TEXT        NOT NULL,
	respondent_messenger TEXT        NOT NULL,
	FOREIGN KEY (respondent_id, respondent_messenger) REFERENCES respondents (id, messenger)
);

CREATE INDEX IF NOT EXISTS dialogs_open_idx
	ON dialogs (respondent_id, respondent_messenger, id) WHERE finished_at IS NULL;

CREATE TABLE IF NOT EXISTS dialogue_pauses (
	id          BIGSERIAL   PRIMARY KEY,
	dialog_id   BIGINT      NOT NULL REFERENCES dialogs (id),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ,
	active      BOOLEAN     DEFAULT true,
	CONSTRAINT one_pause_active UNIQUE (dialog_id, active)
);

CREATE TABLE IF NOT EXISTS called_functions (
	hash       BIGINT      NOT NULL,
	dialog_id  BIGINT      NOT NULL REFERENCES dialogs (id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (hash, dialog_id)
);

CREATE TABLE IF NOT EXISTS dialogue_steps (
	id         BIGSERIAL   PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	dialog_id  BIGINT      NOT NULL REFERENCES dialogs (id),
	question   TEXT        NOT NULL,
	answer     TEXT        NOT NULL
);
`
