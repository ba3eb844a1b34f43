package postgresql

// migrations returns the ordered schema migrations for the PostgreSQL backend.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id           TEXT PRIMARY KEY,
				creator      TEXT NOT NULL,
				name         TEXT NOT NULL,
				description  TEXT NOT NULL DEFAULT '',
				total_budget BIGINT NOT NULL,
				allocated    BIGINT NOT NULL DEFAULT 0,
				reserved     BIGINT NOT NULL DEFAULT 0,
				spent        BIGINT NOT NULL DEFAULT 0,
				deadline     TIMESTAMP WITH TIME ZONE NOT NULL,
				status       TEXT NOT NULL,
				created_at   TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at   TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_creator ON workflows (creator);
			CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows (status);

			CREATE TABLE IF NOT EXISTS workflow_steps (
				id           TEXT PRIMARY KEY,
				workflow_id  TEXT NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
				position     INTEGER NOT NULL,
				name         TEXT NOT NULL,
				capability   TEXT NOT NULL,
				reward       BIGINT NOT NULL,
				kind         TEXT NOT NULL,
				dependencies JSONB NOT NULL DEFAULT '[]',
				agent_id     TEXT NOT NULL DEFAULT '',
				input_ref    TEXT NOT NULL DEFAULT '',
				output_ref   TEXT NOT NULL DEFAULT '',
				status       TEXT NOT NULL,
				created_at   TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at   TIMESTAMP WITH TIME ZONE,
				finished_at  TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_steps_workflow ON workflow_steps (workflow_id, position);

			CREATE TABLE IF NOT EXISTS agents (
				id           TEXT PRIMARY KEY,
				owner        TEXT NOT NULL,
				name         TEXT NOT NULL,
				capabilities JSONB NOT NULL DEFAULT '[]',
				staked       BIGINT NOT NULL DEFAULT 0,
				reputation   BIGINT NOT NULL,
				completed    BIGINT NOT NULL DEFAULT 0,
				failed       BIGINT NOT NULL DEFAULT 0,
				total_earned BIGINT NOT NULL DEFAULT 0,
				active       BOOLEAN NOT NULL DEFAULT TRUE,
				created_at   TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at   TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents (owner);
			CREATE INDEX IF NOT EXISTS idx_agents_capabilities ON agents USING GIN (capabilities);
		`,
	}
}
