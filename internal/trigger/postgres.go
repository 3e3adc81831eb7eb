package trigger

import (
	"context"
	"database/sql"
	"time"
)

// PostgresBindings reads recurring bindings from Postgres. The surrounding
// application owns the table; the engine only selects from it.
type PostgresBindings struct {
	db *sql.DB
}

// NewPostgresBindings creates a source over an open connection pool.
func NewPostgresBindings(db *sql.DB) *PostgresBindings {
	return &PostgresBindings{db: db}
}

// ListForDay returns auto-enabled bindings for the weekday.
func (s *PostgresBindings) ListForDay(ctx context.Context, day time.Weekday) ([]Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, class_id, subject_id, day_of_week, start_time, auto_enabled
		FROM recurring_bindings
		WHERE day_of_week = $1 AND auto_enabled
		ORDER BY start_time
	`, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Binding
	for rows.Next() {
		var b Binding
		var dow int
		if err := rows.Scan(&b.OwnerID, &b.ClassID, &b.SubjectID, &dow, &b.StartTime, &b.AutoEnabled); err != nil {
			return nil, err
		}
		b.DayOfWeek = time.Weekday(dow)
		res = append(res, b)
	}
	return res, rows.Err()
}
