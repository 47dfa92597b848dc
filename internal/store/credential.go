// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/westarle/releasetracker/internal/model"
)

type credentialRow struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Kind        string `db:"type"`
	Token       string `db:"token"`
	Description string `db:"description"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (s *Store) credentialFromRow(r credentialRow) *model.Credential {
	return &model.Credential{
		ID:          r.ID,
		Name:        r.Name,
		Kind:        r.Kind,
		Token:       s.vault.Decrypt(r.Token),
		Description: r.Description,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}
}

// CreateCredential stores a new credential with the token sealed at rest and
// returns its id.
func (s *Store) CreateCredential(c *model.Credential) (int64, error) {
	sealed, err := s.vault.Encrypt(c.Token)
	if err != nil {
		return 0, fmt.Errorf("sealing token for %s: %w", c.Name, err)
	}
	now := formatTime(s.now())
	res, err := s.db.Exec(`INSERT INTO credentials (name, type, token, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.Name, c.Kind, sealed, c.Description, now, now)
	if err != nil {
		return 0, fmt.Errorf("creating credential %s: %w", c.Name, err)
	}
	return res.LastInsertId()
}

// GetCredential returns one credential by id with the token decrypted.
func (s *Store) GetCredential(id int64) (*model.Credential, error) {
	var row credentialRow
	err := s.db.Get(&row, `SELECT * FROM credentials WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential %d: %w", id, err)
	}
	return s.credentialFromRow(row), nil
}

// GetCredentialByName returns one credential by its unique name.
func (s *Store) GetCredentialByName(name string) (*model.Credential, error) {
	var row credentialRow
	err := s.db.Get(&row, `SELECT * FROM credentials WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential %s: %w", name, err)
	}
	return s.credentialFromRow(row), nil
}

// ListCredentials returns all credentials, newest first.
func (s *Store) ListCredentials() ([]*model.Credential, error) {
	var rows []credentialRow
	if err := s.db.Select(&rows, `SELECT * FROM credentials ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	credentials := make([]*model.Credential, len(rows))
	for i, row := range rows {
		credentials[i] = s.credentialFromRow(row)
	}
	return credentials, nil
}

// UpdateCredential rewrites type, token and description. An empty token
// keeps the stored one, so the UI can edit metadata without re-entering it.
func (s *Store) UpdateCredential(id int64, c *model.Credential) error {
	token := c.Token
	if token == "" {
		existing, err := s.GetCredential(id)
		if err != nil {
			return err
		}
		token = existing.Token
	}
	sealed, err := s.vault.Encrypt(token)
	if err != nil {
		return fmt.Errorf("sealing token for credential %d: %w", id, err)
	}
	res, err := s.db.Exec(`UPDATE credentials SET type = ?, token = ?, description = ?, updated_at = ? WHERE id = ?`,
		c.Kind, sealed, c.Description, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("updating credential %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteCredential removes a credential by id.
func (s *Store) DeleteCredential(id int64) error {
	res, err := s.db.Exec(`DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting credential %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}
	return nil
}

// ResolveToken returns the cleartext token for a credential name, or empty
// when name is empty. A missing credential is an error so a tracker does not
// silently poll anonymously.
func (s *Store) ResolveToken(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	c, err := s.GetCredentialByName(name)
	if err != nil {
		return "", err
	}
	return c.Token, nil
}
