package store

import "context"

// Participant operations back the login surface.

func (s *Store) CreateParticipant(ctx context.Context, participantID, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO participants (participant_id, password_hash) VALUES ($1,$2)`,
		participantID, passwordHash)
	return err
}

func (s *Store) GetParticipant(ctx context.Context, participantID string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM participants WHERE participant_id=$1`,
		participantID).Scan(&id, &hash)
	return
}
