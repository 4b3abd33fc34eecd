package mysql

// migrations are applied in order at startup. Statements must be safe to
// re-run against an already-migrated database.
var migrations = []string{
	// The users relation is normally owned by the accounts service; it is
	// created here only so a fresh database satisfies the foreign key.
	`CREATE TABLE IF NOT EXISTS users (
		id       BIGINT       NOT NULL AUTO_INCREMENT,
		username VARCHAR(255) NOT NULL,
		email    VARCHAR(255) NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uniq_username (username)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS sources (
		source_id  BINARY(24)   NOT NULL,
		user_id    BIGINT       NOT NULL,
		source_schema MEDIUMBLOB NOT NULL,
		name       VARCHAR(255) NOT NULL,
		private    BOOLEAN      NOT NULL DEFAULT TRUE,
		frozen     BOOLEAN      NOT NULL DEFAULT FALSE,
		created    TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (source_id),
		UNIQUE KEY uniq_user_name (user_id, name),
		CONSTRAINT fk_sources_user FOREIGN KEY (user_id) REFERENCES users (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE OR REPLACE VIEW list_sources AS
		SELECT s.source_id, s.user_id, s.source_schema, s.name, s.private,
		       s.frozen, s.created, u.username, u.email
		FROM sources s JOIN users u ON u.id = s.user_id`,
}
