package cdrsink

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/shai-nadav/cdr-observatory/internal/cdrleg"
)

// schemaSQL is applied once per PostgresSink, idempotently, grounded on the
// teacher's InitSchema "CREATE ... IF NOT EXISTS" idiom rather than a full
// migration runner (there is exactly one schema version to manage here).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS calls (
	call_id               bigserial PRIMARY KEY,
	batch_id              uuid NOT NULL,
	global_call_id        text NOT NULL,
	thread_id             text NOT NULL,
	call_direction        text NOT NULL,
	total_legs            int NOT NULL,
	is_answered           boolean NOT NULL,
	total_duration        int NOT NULL,
	caller_extension      text,
	caller_external       text,
	dialed_number         text,
	original_dialed_digits text,
	hunt_group_number     text,
	extension             text,
	created_at            timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS call_legs (
	leg_id             bigserial PRIMARY KEY,
	call_id            bigint NOT NULL REFERENCES calls(call_id) ON DELETE CASCADE,
	leg_index          int NOT NULL,
	global_call_id     text NOT NULL,
	thread_id          text NOT NULL,
	call_direction     text NOT NULL,
	calling_number     text,
	called_party       text,
	destination_ext    text,
	dialed_number      text,
	extension          text,
	transfer_from      text,
	transfer_to        text,
	hunt_group_number  text,
	is_answered        boolean NOT NULL,
	is_forwarded       boolean NOT NULL,
	is_pickup          boolean NOT NULL,
	is_voicemail       boolean NOT NULL,
	duration           int NOT NULL,
	ring_time          int,
	in_leg_connect_time   text,
	call_answer_time      text,
	call_release_time     text,
	source_file        text,
	source_line        int
);

CREATE INDEX IF NOT EXISTS call_legs_call_id_idx ON call_legs(call_id);
`

// PostgresSink writes finalized calls and their legs to PostgreSQL. It is a
// genuine analytics consumer of the core's output, not the pending-calls
// cross-session repository spec.md excludes: it never reads in-flight
// calls back, only appends completed ones.
type PostgresSink struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgresSink connects to databaseURL, applies schemaSQL idempotently,
// and returns a ready Sink.
func NewPostgresSink(ctx context.Context, databaseURL string, log zerolog.Logger) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresSink{pool: pool, log: log}, nil
}

// WriteCall inserts one calls row and its call_legs rows in a single
// transaction, batching the leg inserts via pgx.Batch.
func (s *PostgresSink) WriteCall(ctx context.Context, call *cdrleg.Call) error {
	batchID := uuid.New()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	var callID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO calls (
			batch_id, global_call_id, thread_id, call_direction, total_legs,
			is_answered, total_duration, caller_extension, caller_external,
			dialed_number, original_dialed_digits, hunt_group_number, extension
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING call_id
	`,
		batchID, call.GlobalCallID, call.ThreadID, call.CallDirection.String(), call.TotalLegs,
		call.IsAnswered, call.TotalDuration, call.CallerExtension, call.CallerExternal,
		call.DialedNumber, call.OriginalDialedDigits, call.HuntGroupNumber, call.Extension,
	).Scan(&callID)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	batch := &pgx.Batch{}
	for _, leg := range call.Legs {
		if leg.IsHgOnly {
			continue
		}
		batch.Queue(`
			INSERT INTO call_legs (
				call_id, leg_index, global_call_id, thread_id, call_direction,
				calling_number, called_party, destination_ext, dialed_number,
				extension, transfer_from, transfer_to, hunt_group_number,
				is_answered, is_forwarded, is_pickup, is_voicemail,
				duration, ring_time, in_leg_connect_time, call_answer_time,
				call_release_time, source_file, source_line
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		`,
			callID, leg.LegIndex, leg.GlobalCallID, leg.ThreadID, leg.CallDirection.String(),
			leg.CallingNumber, leg.CalledParty, leg.DestinationExt, leg.DialedNumber,
			leg.Extension, leg.TransferFrom, leg.TransferTo, leg.HuntGroupNumber,
			leg.IsAnswered, leg.IsForwarded, leg.IsPickup, leg.IsVoicemail,
			leg.Duration, leg.RingTime, leg.InLegConnectTime, leg.CallAnswerTime,
			leg.CallReleaseTime, leg.SourceFile, leg.SourceLine,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert leg %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.log.Debug().
		Str("global_call_id", call.GlobalCallID).
		Int64("call_id", callID).
		Int("legs", call.TotalLegs).
		Msg("call written")

	return nil
}

// HealthCheck pings the pool, for the /healthz surface.
func (s *PostgresSink) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}
