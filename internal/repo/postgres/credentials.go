package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/gemini-goats/goats-go/internal/domain"
)

type CredentialsStore struct {
	db DB
}

func NewCredentialsStore(db DB) *CredentialsStore {
	if db == nil {
		return nil
	}
	return &CredentialsStore{db: db}
}

// Get reads a user's stored credentials for a service. Credentials are read
// on demand and never cached across tasks.
func (s *CredentialsStore) Get(ctx context.Context, userID int64, service string) (domain.Credentials, error) {
	if s == nil || s.db == nil {
		return domain.Credentials{}, fmt.Errorf("credentials store not initialized")
	}
	service = strings.TrimSpace(service)
	if userID <= 0 || service == "" {
		return domain.Credentials{}, fmt.Errorf("user id and service are required")
	}
	var creds domain.Credentials
	row := s.db.QueryRowContext(
		ctx,
		`SELECT user_id, service, username, password
		 FROM service_credentials WHERE user_id = $1 AND service = $2`,
		userID,
		service,
	)
	if err := row.Scan(&creds.UserID, &creds.Service, &creds.Username, &creds.Password); err != nil {
		return domain.Credentials{}, handleNotFound(err)
	}
	return creds, nil
}
