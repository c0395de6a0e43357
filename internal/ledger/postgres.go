package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/brokermate/messaging/internal/model"
)

// Postgres is the durable ledger behind the dashboard's conversation
// views and broadcast history.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) InsertOptimistic(ctx context.Context, msg *model.Message) error {
	var attURL, attKind, attFilename sql.NullString
	if msg.Attachment != nil {
		attURL = sql.NullString{String: msg.Attachment.URL, Valid: true}
		attKind = sql.NullString{String: string(msg.Attachment.Kind), Valid: true}
		attFilename = sql.NullString{String: msg.Attachment.Filename, Valid: true}
	}
	var broadcastID sql.NullString
	if msg.BroadcastID != "" {
		broadcastID = sql.NullString{String: msg.BroadcastID, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_ref, recipient_ref, channel, content,
			attachment_url, attachment_kind, attachment_filename,
			direction, delivery_status, optimistic, broadcast_id,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', TRUE, $10, now(), now())
	`,
		msg.ID, msg.Conversation, msg.Recipient, string(msg.Channel), msg.Content,
		attURL, attKind, attFilename, string(msg.Direction), broadcastID,
	)
	return err
}

func (p *Postgres) MarkSent(ctx context.Context, id, externalID, note string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE messages
		SET delivery_status = 'sent',
		    optimistic = FALSE,
		    sent_at = now(),
		    external_message_id = NULLIF($2, ''),
		    error_annotation = NULLIF($3, ''),
		    updated_at = now()
		WHERE id = $1
	`, id, externalID, note)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (p *Postgres) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE messages
		SET delivery_status = 'error',
		    optimistic = FALSE,
		    error_annotation = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (p *Postgres) Annotate(ctx context.Context, id, note string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE messages
		SET error_annotation = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, note)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (p *Postgres) Requeue(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE messages
		SET delivery_status = 'pending',
		    optimistic = TRUE,
		    error_annotation = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (p *Postgres) Get(ctx context.Context, id string) (*model.Message, error) {
	row := p.db.QueryRowContext(ctx, selectMessage+` WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

func (p *Postgres) ListRecent(ctx context.Context, conversation string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.db.QueryContext(ctx, selectMessage+`
		WHERE conversation_ref = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, conversation, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

const selectMessage = `
	SELECT id, conversation_ref, recipient_ref, channel, content,
	       attachment_url, attachment_kind, attachment_filename,
	       direction, delivery_status, optimistic, broadcast_id,
	       external_message_id, error_annotation, sent_at, created_at, updated_at
	FROM messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var m model.Message
	var channel, direction, status string
	var attURL, attKind, attFilename sql.NullString
	var broadcastID, externalID, annotation sql.NullString
	var sentAt sql.NullTime

	if err := row.Scan(
		&m.ID, &m.Conversation, &m.Recipient, &channel, &m.Content,
		&attURL, &attKind, &attFilename,
		&direction, &status, &m.Optimistic, &broadcastID,
		&externalID, &annotation, &sentAt, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	m.Channel = model.Channel(channel)
	m.Direction = model.Direction(direction)
	m.Status = model.Status(status)

	if attURL.Valid {
		m.Attachment = &model.Attachment{
			URL:      attURL.String,
			Kind:     model.AttachmentKind(attKind.String),
			Filename: attFilename.String,
		}
	}
	if broadcastID.Valid {
		m.BroadcastID = broadcastID.String
	}
	if externalID.Valid {
		s := externalID.String
		m.ExternalID = &s
	}
	if annotation.Valid {
		s := annotation.String
		m.Annotation = &s
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	return &m, nil
}

func (p *Postgres) CreateBroadcast(ctx context.Context, b *model.Broadcast) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO broadcasts (
			id, template_ref, audience_filter, channel,
			total_recipients, sent_count, failed_count, status, started_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		b.ID, b.TemplateRef, b.AudienceFilter, string(b.Channel),
		b.Total, b.SentCount, b.FailedCount, string(b.Status), b.StartedAt.UTC(),
	)
	return err
}

func (p *Postgres) MarkInProgress(ctx context.Context, id string, startedAt time.Time, total int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE broadcasts
		SET status = 'in_progress', started_at = $2, total_recipients = $3
		WHERE id = $1
	`, id, startedAt.UTC(), total)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (p *Postgres) UpdateProgress(ctx context.Context, id string, sent, failed int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE broadcasts
		SET sent_count = $2, failed_count = $3
		WHERE id = $1
	`, id, sent, failed)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (p *Postgres) FinalizeBroadcast(ctx context.Context, id string, status model.BroadcastStatus, completedAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE broadcasts
		SET status = $2, completed_at = $3
		WHERE id = $1
	`, id, string(status), completedAt.UTC())
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (p *Postgres) GetBroadcast(ctx context.Context, id string) (*model.Broadcast, error) {
	var b model.Broadcast
	var channel, status string
	var completedAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, template_ref, audience_filter, channel,
		       total_recipients, sent_count, failed_count, status,
		       started_at, completed_at
		FROM broadcasts
		WHERE id = $1
	`, id).Scan(
		&b.ID, &b.TemplateRef, &b.AudienceFilter, &channel,
		&b.Total, &b.SentCount, &b.FailedCount, &status,
		&b.StartedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	b.Channel = model.Channel(channel)
	b.Status = model.BroadcastStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	return &b, nil
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
