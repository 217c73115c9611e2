package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bizmarket/analysis-pipeline/internal/core"
	"github.com/bizmarket/analysis-pipeline/internal/data/pgxutil"
	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

// ListingRepo reads marketplace listings as a single JSON document.
type ListingRepo struct {
	DB *sql.DB
}

var _ core.ListingRepository = (*ListingRepo)(nil)

// NewListingRepo creates a new ListingRepo.
func NewListingRepo(db *sql.DB) *ListingRepo {
	return &ListingRepo{DB: db}
}

// The document mirrors the listing tables so normalization can pick fields with fallbacks.
const listingDocumentSQL = `
  SELECT jsonb_build_object(
    'id', l.id,
    'title', l.title,
    'industry', l.industry,
    'category', l.category,
    'city', l.city,
    'state', l.state,
    'country', l.country,
    'asking_price', l.asking_price,
    'business_type', l.business_type,
    'year_established', l.year_established,
    'employees', l.employees,
    'reason_for_selling', l.reason_for_selling,
    'financials', (
      SELECT to_jsonb(f) - 'listing_id' FROM listing_financials f WHERE f.listing_id = l.id
    ),
    'profile', (
      SELECT to_jsonb(p) - 'listing_id' FROM listing_profiles p WHERE p.listing_id = l.id
    ),
    'documents', COALESCE((
      SELECT jsonb_agg(jsonb_build_object('kind', d.kind, 'name', d.name) ORDER BY d.uploaded_at)
      FROM listing_documents d WHERE d.listing_id = l.id
    ), '[]'::jsonb)
  )
  FROM listings l
  WHERE l.id = $1`

// GetListing returns the listing document or model.ErrListingNotFound.
func (r *ListingRepo) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, model.ErrListingNotFound
	}

	var doc []byte
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, listingDocumentSQL, id).Scan(&doc)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return &model.Listing{ID: id, Document: json.RawMessage(doc)}, nil
}
