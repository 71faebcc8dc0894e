package clients

import (
	"database/sql"
	"time"

	"github.com/crewline/crewline/errors"
)

const dateFormat = "2006-01-02"

// Store handles client and equipment persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new client store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateClient inserts a new client. Assigns an ID when the caller has not.
func (s *Store) CreateClient(c *Client) error {
	if c.ID == "" {
		c.ID = NewClientID()
	}
	if c.Name == "" {
		return errors.NewInvalidRequestError("client name is required")
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO clients (id, tenant_id, name, email, phone, address, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.Name,
		nullable(c.Email), nullable(c.Phone), nullable(c.Address), nullable(c.Notes),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create client")
	}
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(id string) (*Client, error) {
	row := s.db.QueryRow(`
		SELECT id, tenant_id, name, email, phone, address, notes, created_at, updated_at
		FROM clients WHERE id = ?`, id)

	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("client %s not found", id)
		}
		return nil, errors.Wrap(err, "failed to get client")
	}
	return c, nil
}

// ListClients returns all clients for a tenant ordered by name
func (s *Store) ListClients(tenantID string) ([]*Client, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, name, email, phone, address, notes, created_at, updated_at
		FROM clients WHERE tenant_id = ? ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list clients")
	}
	defer rows.Close()

	var out []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan client")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateClient persists contact field changes
func (s *Store) UpdateClient(c *Client) error {
	if c.Name == "" {
		return errors.NewInvalidRequestError("client name is required")
	}

	result, err := s.db.Exec(`
		UPDATE clients
		SET name = ?, email = ?, phone = ?, address = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, nullable(c.Email), nullable(c.Phone), nullable(c.Address), nullable(c.Notes),
		time.Now().UTC().Format(time.RFC3339), c.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update client")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("client %s not found", c.ID)
	}
	return nil
}

// ExistingContactKeys returns the normalized email and phone keys already
// present for a tenant, used by CSV import to skip duplicates.
func (s *Store) ExistingContactKeys(tenantID string) (map[string]bool, error) {
	rows, err := s.db.Query(`
		SELECT email, phone FROM clients WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load contact keys")
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var email, phone sql.NullString
		if err := rows.Scan(&email, &phone); err != nil {
			return nil, errors.Wrap(err, "failed to scan contact keys")
		}
		if email.Valid {
			if k := emailKey(email.String); k != "" {
				keys[k] = true
			}
		}
		if phone.Valid {
			if k := phoneKey(phone.String); k != "" {
				keys[k] = true
			}
		}
	}
	return keys, rows.Err()
}

// CreateEquipment inserts a new equipment record
func (s *Store) CreateEquipment(e *Equipment) error {
	if e.ID == "" {
		e.ID = NewEquipmentID()
	}
	if e.Label == "" {
		return errors.NewInvalidRequestError("equipment label is required")
	}

	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	var clientID interface{}
	if e.ClientID != "" {
		clientID = e.ClientID
	}
	var installDate interface{}
	if e.InstallDate != nil {
		installDate = e.InstallDate.Format(dateFormat)
	}

	_, err := s.db.Exec(`
		INSERT INTO equipment (id, tenant_id, client_id, label, serial_number, install_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, clientID, e.Label, nullable(e.SerialNumber), installDate,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create equipment")
	}
	return nil
}

// ListEquipment returns equipment for a client ordered by label
func (s *Store) ListEquipment(clientID string) ([]*Equipment, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, client_id, label, serial_number, install_date, created_at, updated_at
		FROM equipment WHERE client_id = ? ORDER BY label ASC`, clientID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list equipment")
	}
	defer rows.Close()

	var out []*Equipment
	for rows.Next() {
		var e Equipment
		var clientID, serial, installDate sql.NullString
		var createdAt, updatedAt string

		err := rows.Scan(&e.ID, &e.TenantID, &clientID, &e.Label, &serial, &installDate, &createdAt, &updatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan equipment")
		}

		if clientID.Valid {
			e.ClientID = clientID.String
		}
		if serial.Valid {
			e.SerialNumber = serial.String
		}
		if installDate.Valid {
			parsed, err := time.Parse(dateFormat, installDate.String)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse install_date for equipment %s", e.ID)
			}
			e.InstallDate = &parsed
		}
		e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse created_at for equipment %s", e.ID)
		}
		e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse updated_at for equipment %s", e.ID)
		}

		out = append(out, &e)
	}
	return out, rows.Err()
}

func scanClient(row interface{ Scan(...interface{}) error }) (*Client, error) {
	var c Client
	var email, phone, address, notes sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &email, &phone, &address, &notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if email.Valid {
		c.Email = email.String
	}
	if phone.Valid {
		c.Phone = phone.String
	}
	if address.Valid {
		c.Address = address.String
	}
	if notes.Valid {
		c.Notes = notes.String
	}

	c.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for client %s", c.ID)
	}
	c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for client %s", c.ID)
	}

	return &c, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
