package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/worldsio/detectbridge/domain"
)

var _ domain.EventRepository = (*Repository)(nil)

// dbEventProducer represents an event producer as stored in the database.
type dbEventProducer struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Description sql.NullString `db:"description"`
	Active      bool           `db:"active"`
	Metadata    JSONText       `db:"metadata"`
	CreatedAt   string         `db:"created_at"`
}

// dbEvent represents an event as stored in the database.
type dbEvent struct {
	ID           string         `db:"id"`
	ProducerID   sql.NullString `db:"producer_id"`
	ProducerName sql.NullString `db:"producer_name"`
	Type         string         `db:"type"`
	SubType      sql.NullString `db:"sub_type"`
	StartTime    sql.NullString `db:"start_time"`
	EndTime      sql.NullString `db:"end_time"`
	Draft        bool           `db:"draft"`
	Metadata     JSONText       `db:"metadata"`
	CreatedAt    string         `db:"created_at"`
}

// InsertEventProducer stores a producer. Storing the same id twice replaces the row.
func (repo *Repository) InsertEventProducer(producer *domain.EventProducer) error {
	if producer.ID == "" {
		return errors.New("inserting event producer: empty id")
	}

	row := &dbEventProducer{
		ID:          producer.ID,
		Name:        producer.Name,
		Description: nullString(producer.Description),
		Active:      producer.Active,
		Metadata:    JSONText(producer.Metadata),
		CreatedAt:   domain.FormatTimestamp(producer.CreatedAt),
	}
	query := `INSERT OR REPLACE INTO event_producers (id, name, description, active, metadata, created_at)
	          VALUES (:id, :name, :description, :active, :metadata, :created_at)`

	if _, err := repo.dbConn.NamedExec(query, row); err != nil {
		return fmt.Errorf("inserting event producer %s: %w", producer.ID, err)
	}
	return nil
}

// GetEventProducers returns every stored producer, newest first.
func (repo *Repository) GetEventProducers() ([]*domain.EventProducer, error) {
	var rows []*dbEventProducer
	query := `SELECT * FROM event_producers ORDER BY created_at DESC, id`

	if err := repo.dbConn.Select(&rows, query); err != nil {
		return nil, fmt.Errorf("fetching event producers: %w", err)
	}

	producers := make([]*domain.EventProducer, len(rows))
	for i, row := range rows {
		producers[i] = &domain.EventProducer{
			ID:          row.ID,
			Name:        row.Name,
			Description: row.Description.String,
			Active:      row.Active,
			Metadata:    []byte(row.Metadata),
			CreatedAt:   parseStored(row.CreatedAt),
		}
	}
	return producers, nil
}

// InsertEvent stores an event. Storing the same id twice replaces the row.
func (repo *Repository) InsertEvent(event *domain.Event) error {
	if event.ID == "" {
		return errors.New("inserting event: empty id")
	}

	row := &dbEvent{
		ID:        event.ID,
		Type:      event.Type,
		SubType:   nullString(event.SubType),
		StartTime: nullString(event.StartTime),
		EndTime:   nullString(event.EndTime),
		Draft:     event.Draft,
		Metadata:  JSONText(event.Metadata),
		CreatedAt: domain.FormatTimestamp(event.CreatedAt),
	}
	if event.EventProducer != nil {
		row.ProducerID = nullString(event.EventProducer.ID)
		row.ProducerName = nullString(event.EventProducer.Name)
	}

	query := `INSERT OR REPLACE INTO events (
	              id, producer_id, producer_name, type, sub_type,
	              start_time, end_time, draft, metadata, created_at
	          ) VALUES (
	              :id, :producer_id, :producer_name, :type, :sub_type,
	              :start_time, :end_time, :draft, :metadata, :created_at
	          )`

	if _, err := repo.dbConn.NamedExec(query, row); err != nil {
		return fmt.Errorf("inserting event %s: %w", event.ID, err)
	}
	return nil
}

// GetEvents returns up to limit stored events, newest first.
func (repo *Repository) GetEvents(limit int) ([]*domain.Event, error) {
	var rows []*dbEvent
	query := `SELECT * FROM events ORDER BY created_at DESC, id LIMIT ?`

	if err := repo.dbConn.Select(&rows, query, limit); err != nil {
		return nil, fmt.Errorf("fetching events: %w", err)
	}

	events := make([]*domain.Event, len(rows))
	for i, row := range rows {
		event := &domain.Event{
			ID:        row.ID,
			Type:      row.Type,
			SubType:   row.SubType.String,
			StartTime: row.StartTime.String,
			EndTime:   row.EndTime.String,
			Draft:     row.Draft,
			Metadata:  []byte(row.Metadata),
			CreatedAt: parseStored(row.CreatedAt),
		}
		if row.ProducerID.Valid {
			event.EventProducer = &domain.EventProducerRef{
				ID:   row.ProducerID.String,
				Name: row.ProducerName.String,
			}
		}
		events[i] = event
	}
	return events, nil
}
