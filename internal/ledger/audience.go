package ledger

import (
	"context"
	"database/sql"

	"github.com/brokermate/messaging/internal/model"
)

// PostgresAudience resolves broadcast audiences from the dashboard's
// client rows. The filter is a segment tag; the empty filter selects
// every client with an address on the requested channel.
type PostgresAudience struct {
	db *sql.DB
}

func NewPostgresAudience(db *sql.DB) *PostgresAudience {
	return &PostgresAudience{db: db}
}

func (a *PostgresAudience) Resolve(ctx context.Context, ch model.Channel, filter string) ([]model.Recipient, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT c.id, a.address, c.first_name, c.last_name, c.location
		FROM clients c
		JOIN client_channel_addresses a ON a.client_id = c.id
		WHERE a.channel = $1
		  AND ($2 = '' OR c.segment_tag = $2)
		ORDER BY c.id ASC
	`, string(ch), filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Recipient
	for rows.Next() {
		var r model.Recipient
		var firstName, lastName, location sql.NullString
		if err := rows.Scan(&r.Ref, &r.Address, &firstName, &lastName, &location); err != nil {
			return nil, err
		}
		r.Variables = map[string]string{
			"first_name": firstName.String,
			"last_name":  lastName.String,
			"location":   location.String,
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
