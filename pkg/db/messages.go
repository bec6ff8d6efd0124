package db

import (
	"context"
	"fmt"
	"time"

	"github.com/mahaj/livechat/pkg/model"
)

const (
	createMessagesTable = `CREATE TABLE IF NOT EXISTS messages (
		collection text,
		id bigint,
		text text,
		uid text,
		uri text,
		created_at timestamp,
		PRIMARY KEY (collection, id)
	) WITH CLUSTERING ORDER BY (id ASC)`

	insertMessage = `INSERT INTO messages (collection, id, text, uid, uri, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	selectMessages = `SELECT id, text, uid, uri, created_at FROM messages WHERE collection = ? ORDER BY id ASC`
)

// MessageRepository stores the documents of one collection. Rows are
// clustered by snowflake id, which is also creation order.
type MessageRepository struct {
	session    *Session
	collection string
}

func NewMessageRepository(session *Session, collection string) *MessageRepository {
	return &MessageRepository{session: session, collection: collection}
}

func (r *MessageRepository) EnsureSchema(ctx context.Context) error {
	if err := r.session.Query(createMessagesTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	return nil
}

// Insert writes m. Writing the same id twice overwrites the row with equal
// values, so redelivered Kafka messages are harmless.
func (r *MessageRepository) Insert(ctx context.Context, m model.Message) error {
	err := r.session.Query(insertMessage, r.collection, m.ID, m.Text, m.UID, m.URI, m.CreatedAt).
		WithContext(ctx).
		Exec()
	if err != nil {
		return fmt.Errorf("insert message %d: %w", m.ID, err)
	}
	return nil
}

// List returns every message of the collection in creation order.
func (r *MessageRepository) List(ctx context.Context) ([]model.Message, error) {
	iter := r.session.Query(selectMessages, r.collection).WithContext(ctx).Iter()

	var (
		messages  []model.Message
		id        int64
		text      string
		uid       string
		uri       string
		createdAt time.Time
	)
	for iter.Scan(&id, &text, &uid, &uri, &createdAt) {
		messages = append(messages, model.Message{
			ID:        id,
			Text:      text,
			UID:       uid,
			URI:       uri,
			CreatedAt: createdAt.UTC(),
		})
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	return messages, nil
}
