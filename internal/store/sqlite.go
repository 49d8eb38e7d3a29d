package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
)

// SQLiteStore implements all repositories using SQLite.
type SQLiteStore struct {
	db            *sql.DB
	Instances     *SQLiteInstanceRepo
	Conversations *SQLiteConversationRepo
	Messages      *SQLiteMessageRepo
	Chatbots      *SQLiteChatbotRepo
	Transitions   *SQLiteTransitionRepo
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is its own database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store := &SQLiteStore{
		db:            db,
		Instances:     &SQLiteInstanceRepo{db: db},
		Conversations: &SQLiteConversationRepo{db: db},
		Messages:      &SQLiteMessageRepo{db: db},
		Chatbots:      &SQLiteChatbotRepo{db: db},
		Transitions:   &SQLiteTransitionRepo{db: db},
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func runMigrations(db *sql.DB) error {
	migration := `
	-- Instances table
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		session_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'initializing',
		qr_code TEXT NOT NULL DEFAULT '',
		qr_attempt INTEGER NOT NULL DEFAULT 0,
		qr_issued_at TIMESTAMP,
		phone TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (tenant_id, session_name)
	);

	CREATE INDEX IF NOT EXISTS idx_instances_qr ON instances(qr_issued_at) WHERE qr_code != '';

	-- Conversations table
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		contact_address TEXT NOT NULL,
		contact_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		human_handled BOOLEAN NOT NULL DEFAULT FALSE,
		chatbot_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (instance_id, contact_address),
		FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
	);

	-- Messages table
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'text',
		external_id TEXT NOT NULL DEFAULT '',
		from_bot BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_timestamp ON messages(conversation_id, timestamp DESC);

	-- Chatbots table
	CREATE TABLE IF NOT EXISTS chatbots (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		trigger_type TEXT NOT NULL,
		trigger_value TEXT NOT NULL DEFAULT '',
		welcome_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chatbots_tenant_active ON chatbots(tenant_id, is_active);

	-- Transitions history table
	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		trigger TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (instance_id) REFERENCES instances(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_instance ON transitions(instance_id, timestamp DESC);
	`
	_, err := db.Exec(migration)
	return err
}

// now returns the current time in UTC so stored timestamps compare lexically.
func now() time.Time {
	return time.Now().UTC()
}

// SQLiteInstanceRepo implements InstanceRepository.
type SQLiteInstanceRepo struct {
	db *sql.DB
}

const instanceColumns = `id, tenant_id, session_name, status, qr_code, qr_attempt, qr_issued_at, phone, created_at, updated_at`

func (r *SQLiteInstanceRepo) Ensure(ctx context.Context, tenantID, sessionName string) (*Instance, error) {
	ts := now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO instances (id, tenant_id, session_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, session_name) DO NOTHING
	`, uuid.NewString(), tenantID, sessionName, string(state.StateInitializing), ts, ts)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, tenantID, sessionName)
}

func (r *SQLiteInstanceRepo) Get(ctx context.Context, tenantID, sessionName string) (*Instance, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+instanceColumns+" FROM instances WHERE tenant_id = ? AND session_name = ?",
		tenantID, sessionName,
	)
	return scanInstance(row)
}

func (r *SQLiteInstanceRepo) GetByID(ctx context.Context, id string) (*Instance, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+instanceColumns+" FROM instances WHERE id = ?", id)
	return scanInstance(row)
}

// List returns the instances of tenantID, or of every tenant when empty.
func (r *SQLiteInstanceRepo) List(ctx context.Context, tenantID string) ([]Instance, error) {
	query := "SELECT " + instanceColumns + " FROM instances"
	var args []interface{}
	if tenantID != "" {
		query += " WHERE tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY tenant_id, session_name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

func (r *SQLiteInstanceRepo) UpdateStatus(ctx context.Context, id string, u InstanceUpdate) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(u.Status), now()}

	switch {
	case u.QR != nil:
		sets = append(sets, "qr_code = ?", "qr_attempt = ?", "qr_issued_at = ?")
		args = append(args, u.QR.Data, u.QR.Attempt, u.QR.IssuedAt.UTC())
	case u.ClearQR:
		sets = append(sets, "qr_code = ''", "qr_attempt = 0", "qr_issued_at = NULL")
	}
	if u.Phone != "" {
		sets = append(sets, "phone = ?")
		args = append(args, u.Phone)
	}
	args = append(args, id)

	res, err := r.db.ExecContext(ctx,
		"UPDATE instances SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ClearExpiredQR drops QR codes issued before the cutoff.
func (r *SQLiteInstanceRepo) ClearExpiredQR(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE instances SET qr_code = '', qr_attempt = 0, qr_issued_at = NULL, updated_at = ?
		WHERE qr_code != '' AND qr_issued_at < ?
	`, now(), before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteInstanceRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM instances WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner) (*Instance, error) {
	var inst Instance
	var status string
	var issuedAt sql.NullTime

	err := row.Scan(&inst.ID, &inst.TenantID, &inst.SessionName, &status, &inst.QRCode,
		&inst.QRAttempt, &issuedAt, &inst.Phone, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	inst.Status = state.Parse(status)
	if issuedAt.Valid {
		t := issuedAt.Time
		inst.QRIssuedAt = &t
	}
	return &inst, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SQLiteConversationRepo implements ConversationRepository.
type SQLiteConversationRepo struct {
	db *sql.DB
}

const conversationColumns = `id, instance_id, contact_address, contact_name, status, human_handled, chatbot_id, created_at, updated_at`

// FindOrCreate returns the conversation for address on instanceID, creating
// it if needed. The bool reports whether it was created.
func (r *SQLiteConversationRepo) FindOrCreate(ctx context.Context, instanceID, address, name string) (*Conversation, bool, error) {
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, instance_id, contact_address, contact_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, contact_address) DO NOTHING
	`, uuid.NewString(), instanceID, address, name, ConversationActive, ts, ts)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	created := n == 1

	if !created {
		if _, err := r.db.ExecContext(ctx, `
			UPDATE conversations
			SET updated_at = ?, contact_name = CASE WHEN ? != '' THEN ? ELSE contact_name END
			WHERE instance_id = ? AND contact_address = ?
		`, ts, name, name, instanceID, address); err != nil {
			return nil, false, err
		}
	}

	row := r.db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE instance_id = ? AND contact_address = ?",
		instanceID, address,
	)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

func (r *SQLiteConversationRepo) GetByID(ctx context.Context, id string) (*Conversation, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id)
	return scanConversation(row)
}

func (r *SQLiteConversationRepo) ListByInstance(ctx context.Context, instanceID string, limit int) ([]Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE instance_id = ? ORDER BY updated_at DESC LIMIT ?",
		instanceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

func (r *SQLiteConversationRepo) SetHumanHandled(ctx context.Context, id string, handled bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE conversations SET human_handled = ?, updated_at = ? WHERE id = ?", handled, now(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *SQLiteConversationRepo) AssignChatbot(ctx context.Context, id, chatbotID string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE conversations SET chatbot_id = ?, updated_at = ? WHERE id = ?", chatbotID, now(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.InstanceID, &c.ContactAddress, &c.ContactName, &c.Status,
		&c.HumanHandled, &c.ChatbotID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SQLiteMessageRepo implements MessageRepository.
type SQLiteMessageRepo struct {
	db *sql.DB
}

// Save inserts msg, assigning an ID and timestamp when missing.
func (r *SQLiteMessageRepo) Save(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now()
	}
	if msg.Type == "" {
		msg.Type = "text"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, content, direction, type, external_id, from_bot, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Content, msg.Direction, msg.Type, msg.ExternalID, msg.FromBot, msg.Timestamp.UTC())
	return err
}

func (r *SQLiteMessageRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, content, direction, type, external_id, from_bot, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &m.Direction, &m.Type,
			&m.ExternalID, &m.FromBot, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *SQLiteMessageRepo) Count(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&count)
	return count, err
}

// SQLiteChatbotRepo implements ChatbotRepository.
type SQLiteChatbotRepo struct {
	db *sql.DB
}

const chatbotColumns = `id, tenant_id, instance_id, name, is_active, trigger_type, trigger_value, welcome_message, created_at, updated_at`

func (r *SQLiteChatbotRepo) Create(ctx context.Context, bot *Chatbot) error {
	if bot.ID == "" {
		bot.ID = uuid.NewString()
	}
	ts := now()
	bot.CreatedAt, bot.UpdatedAt = ts, ts
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chatbots (`+chatbotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, bot.ID, bot.TenantID, bot.InstanceID, bot.Name, bot.IsActive, bot.TriggerType,
		bot.TriggerValue, bot.WelcomeMessage, ts, ts)
	return err
}

func (r *SQLiteChatbotRepo) List(ctx context.Context, tenantID string) ([]Chatbot, error) {
	return r.query(ctx, "SELECT "+chatbotColumns+" FROM chatbots WHERE tenant_id = ? ORDER BY created_at", tenantID)
}

func (r *SQLiteChatbotRepo) ListActive(ctx context.Context, tenantID string) ([]Chatbot, error) {
	return r.query(ctx, "SELECT "+chatbotColumns+" FROM chatbots WHERE tenant_id = ? AND is_active = TRUE ORDER BY created_at", tenantID)
}

func (r *SQLiteChatbotRepo) CountActive(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chatbots WHERE tenant_id = ? AND is_active = TRUE", tenantID).Scan(&count)
	return count, err
}

func (r *SQLiteChatbotRepo) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE chatbots SET is_active = ?, updated_at = ? WHERE id = ?", active, now(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *SQLiteChatbotRepo) query(ctx context.Context, query string, args ...interface{}) ([]Chatbot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []Chatbot
	for rows.Next() {
		var b Chatbot
		if err := rows.Scan(&b.ID, &b.TenantID, &b.InstanceID, &b.Name, &b.IsActive, &b.TriggerType,
			&b.TriggerValue, &b.WelcomeMessage, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// SQLiteTransitionRepo implements TransitionRepository.
type SQLiteTransitionRepo struct {
	db *sql.DB
}

func (r *SQLiteTransitionRepo) Log(ctx context.Context, instanceID string, from, to state.State, trigger string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO transitions (instance_id, from_state, to_state, trigger, timestamp) VALUES (?, ?, ?, ?, ?)",
		instanceID, string(from), string(to), trigger, now(),
	)
	return err
}

func (r *SQLiteTransitionRepo) History(ctx context.Context, instanceID string, limit int) ([]Transition, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, instance_id, from_state, to_state, trigger, timestamp, error FROM transitions WHERE instance_id = ? ORDER BY id DESC LIMIT ?",
		instanceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		var from, to string
		err := rows.Scan(&t.ID, &t.InstanceID, &from, &to, &t.Trigger, &t.Timestamp, &t.Error)
		if err != nil {
			return nil, err
		}
		t.FromState = state.State(from)
		t.ToState = state.State(to)
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// Prune deletes transitions recorded before the cutoff.
func (r *SQLiteTransitionRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM transitions WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
