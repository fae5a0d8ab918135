package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (
                      session_uid,
                      start_time,
                      sensor_type,
                      sensor_id,
                      drone_addr,
                      config)
VALUES (?, CURRENT_TIMESTAMP, ?, ?, ?, ?)`

	selectSessionSQL = `
SELECT
    id,
    session_uid,
    start_time,
    sensor_type,
    sensor_id,
    drone_addr,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    s.id,
    s.session_uid,
    s.start_time,
    s.sensor_type,
    s.sensor_id,
    s.drone_addr,
    s.config,
    (SELECT COUNT(*) FROM samples WHERE session_id = s.id),
    (SELECT COUNT(*) FROM commands WHERE session_id = s.id)
FROM sessions s
ORDER BY s.start_time`

	insertSamplesSQL = `
INSERT INTO samples (session_id,
                     seq,
                     timestamp,
                     channels)
VALUES `

	insertCommandSQL = `
INSERT INTO commands (session_id,
                      seq,
                      movement,
                      angle,
                      confidence,
                      outcome,
                      reason,
                      timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	// Indexes are created on Close to keep the write path lean while the
	// session is streaming.
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_samples_session_seq ON samples (session_id, seq);
CREATE INDEX IF NOT EXISTS idx_commands_session_seq ON commands (session_id, seq);`
)

//go:embed schema.sql
var initSchemaSQL string
