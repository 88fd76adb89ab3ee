package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS action_packages (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL UNIQUE,
	directory         TEXT NOT NULL,
	environment_hash  TEXT NOT NULL DEFAULT '',
	env_json          TEXT NOT NULL DEFAULT '{}',
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS actions (
	id                 TEXT PRIMARY KEY,
	action_package_id  TEXT NOT NULL,
	name               TEXT NOT NULL,
	docs               TEXT NOT NULL DEFAULT '',
	file               TEXT NOT NULL DEFAULT '',
	lineno             INTEGER NOT NULL DEFAULT 0,
	input_schema       TEXT NOT NULL DEFAULT '{}',
	output_schema      TEXT NOT NULL DEFAULT '{}',
	is_consequential   INTEGER,
	enabled            INTEGER NOT NULL DEFAULT 1,
	kind               TEXT NOT NULL DEFAULT 'action',
	managed_params     TEXT NOT NULL DEFAULT '[]',
	FOREIGN KEY(action_package_id) REFERENCES action_packages(id) ON DELETE CASCADE,
	UNIQUE(action_package_id, name)
);

CREATE TABLE IF NOT EXISTS counters (
	id    TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS runs (
	id                       TEXT PRIMARY KEY,
	numbered_id              INTEGER NOT NULL,
	status                   TEXT NOT NULL,
	action_id                TEXT NOT NULL,
	start_time               TEXT NOT NULL,
	run_time                 REAL,
	inputs                   TEXT NOT NULL DEFAULT '{}',
	result                   TEXT,
	error_message            TEXT,
	relative_artifacts_dir   TEXT NOT NULL,
	request_id               TEXT NOT NULL DEFAULT '',
	run_type                 TEXT NOT NULL DEFAULT 'action',
	FOREIGN KEY(action_id) REFERENCES actions(id)
);

CREATE TABLE IF NOT EXISTS schedules (
	id                         TEXT PRIMARY KEY,
	name                       TEXT NOT NULL,
	enabled                    INTEGER NOT NULL DEFAULT 1,
	schedule_type              TEXT NOT NULL,
	cron_expression            TEXT NOT NULL DEFAULT '',
	interval_seconds           INTEGER,
	weekday_config_json        TEXT NOT NULL DEFAULT '',
	timezone                   TEXT NOT NULL DEFAULT 'UTC',
	next_run_at                TEXT,
	last_run_at                TEXT,
	priority                   INTEGER NOT NULL DEFAULT 0,
	action_id                  TEXT NOT NULL,
	inputs_json                TEXT NOT NULL DEFAULT '{}',
	execution_mode             TEXT NOT NULL DEFAULT 'run',
	work_item_queue            TEXT NOT NULL DEFAULT '',
	max_concurrent             INTEGER NOT NULL DEFAULT 1,
	skip_if_running            INTEGER NOT NULL DEFAULT 1,
	depends_on_schedule_id     TEXT,
	dependency_mode            TEXT NOT NULL DEFAULT '',
	retry_enabled              INTEGER NOT NULL DEFAULT 0,
	retry_max_attempts         INTEGER NOT NULL DEFAULT 1,
	retry_delay_seconds        INTEGER NOT NULL DEFAULT 0,
	retry_backoff_multiplier   REAL NOT NULL DEFAULT 1,
	rate_limit_enabled         INTEGER NOT NULL DEFAULT 0,
	rate_limit_max_per_hour    INTEGER NOT NULL DEFAULT 0,
	rate_limit_max_per_day     INTEGER NOT NULL DEFAULT 0,
	notify_on_success          INTEGER NOT NULL DEFAULT 0,
	notify_on_failure          INTEGER NOT NULL DEFAULT 0,
	notification_webhook_url  TEXT NOT NULL DEFAULT '',
	notification_email        TEXT NOT NULL DEFAULT '',
	created_at                 TEXT NOT NULL,
	updated_at                 TEXT NOT NULL,
	FOREIGN KEY(action_id) REFERENCES actions(id)
);

CREATE TABLE IF NOT EXISTS schedule_executions (
	id                   TEXT PRIMARY KEY,
	schedule_id          TEXT NOT NULL,
	run_id               TEXT,
	work_item_id         TEXT,
	scheduled_time       TEXT NOT NULL,
	actual_start_time    TEXT,
	actual_end_time      TEXT,
	duration_ms          INTEGER,
	status               TEXT NOT NULL,
	skip_reason          TEXT NOT NULL DEFAULT '',
	attempt_number       INTEGER NOT NULL DEFAULT 1,
	result_json          TEXT,
	error_message        TEXT,
	notification_sent    INTEGER NOT NULL DEFAULT 0,
	notification_error   TEXT NOT NULL DEFAULT '',
	FOREIGN KEY(schedule_id) REFERENCES schedules(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS triggers (
	id                          TEXT PRIMARY KEY,
	name                        TEXT NOT NULL,
	enabled                     INTEGER NOT NULL DEFAULT 1,
	action_id                   TEXT NOT NULL,
	execution_mode              TEXT NOT NULL DEFAULT 'run',
	work_item_queue             TEXT NOT NULL DEFAULT '',
	inputs_template_json        TEXT NOT NULL DEFAULT '{}',
	webhook_secret              TEXT NOT NULL DEFAULT '',
	rate_limit_enabled          INTEGER NOT NULL DEFAULT 0,
	rate_limit_max_per_minute   INTEGER NOT NULL DEFAULT 0,
	last_triggered_at           TEXT,
	trigger_count               INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY(action_id) REFERENCES actions(id)
);

CREATE TABLE IF NOT EXISTS trigger_invocations (
	id             TEXT PRIMARY KEY,
	trigger_id     TEXT NOT NULL,
	invoked_at     TEXT NOT NULL,
	source_ip      TEXT NOT NULL DEFAULT '',
	payload_json   TEXT NOT NULL DEFAULT '{}',
	headers_json   TEXT NOT NULL DEFAULT '{}',
	status         TEXT NOT NULL,
	run_id         TEXT,
	work_item_id   TEXT,
	error_message  TEXT,
	FOREIGN KEY(trigger_id) REFERENCES triggers(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS work_items (
	id                 TEXT PRIMARY KEY,
	queue_name         TEXT NOT NULL,
	state              TEXT NOT NULL DEFAULT 'PENDING',
	payload_json       TEXT NOT NULL DEFAULT '{}',
	created_at         TEXT NOT NULL,
	started_at         TEXT,
	finished_at        TEXT,
	lease_owner        TEXT,
	attempts           INTEGER NOT NULL DEFAULT 0,
	exception_type     TEXT NOT NULL DEFAULT '',
	exception_code     TEXT NOT NULL DEFAULT '',
	exception_message  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_actions_package ON actions(action_package_id);
CREATE INDEX IF NOT EXISTS idx_runs_numbered_id ON runs(numbered_id);
CREATE INDEX IF NOT EXISTS idx_runs_action ON runs(action_id, start_time DESC);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(enabled, next_run_at);
CREATE INDEX IF NOT EXISTS idx_schedule_executions_schedule ON schedule_executions(schedule_id, scheduled_time DESC);
CREATE INDEX IF NOT EXISTS idx_trigger_invocations_trigger ON trigger_invocations(trigger_id, invoked_at DESC);
CREATE INDEX IF NOT EXISTS idx_work_items_queue_state ON work_items(queue_name, state);
`

func (s *Store) createSchema() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return err
	}
	// Additive columns land here via ensureColumn so existing databases
	// upgrade in place without a destructive rebuild.
	return nil
}
