package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/nowplaying/internal/shared"
	"golang.org/x/oauth2"
)

// TokenRepository stores one OAuth token per service in the oauth_tokens table.
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new [TokenRepository] with the given database connection
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Save inserts or replaces the token for service.
func (r *TokenRepository) Save(service string, token *oauth2.Token) error {
	if service == "" {
		return fmt.Errorf("%w: service name", shared.ErrMissingArgument)
	}
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: empty token", shared.ErrInvalidInput)
	}

	var expiry sql.NullTime
	if !token.Expiry.IsZero() {
		expiry = sql.NullTime{Time: token.Expiry.UTC(), Valid: true}
	}
	scope, _ := token.Extra("scope").(string)

	query := `
		INSERT INTO oauth_tokens (service, access_token, refresh_token, token_type, expiry, scope, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN oauth_tokens.refresh_token ELSE excluded.refresh_token END,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			scope = CASE WHEN excluded.scope = '' THEN oauth_tokens.scope ELSE excluded.scope END,
			updated_at = excluded.updated_at
	`

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	_, err := r.db.Exec(query, service, token.AccessToken, token.RefreshToken, tokenType, expiry, scope, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Get returns the stored token for service, or [shared.ErrNotFound].
func (r *TokenRepository) Get(service string) (*oauth2.Token, error) {
	query := `
		SELECT access_token, refresh_token, token_type, expiry
		FROM oauth_tokens
		WHERE service = ?
	`

	var (
		access    string
		refresh   string
		tokenType string
		expiry    sql.NullTime
	)

	err := r.db.QueryRow(query, service).Scan(&access, &refresh, &tokenType, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: token for %s", shared.ErrNotFound, service)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}

	token := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: tokenType}
	if expiry.Valid {
		token.Expiry = expiry.Time
	}
	return token, nil
}

// Delete removes the token for service. Deleting a missing token is not an error.
func (r *TokenRepository) Delete(service string) error {
	if _, err := r.db.Exec("DELETE FROM oauth_tokens WHERE service = ?", service); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Services lists the services with a stored token, ordered by name.
func (r *TokenRepository) Services() ([]string, error) {
	rows, err := r.db.Query("SELECT service FROM oauth_tokens ORDER BY service")
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan token row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
