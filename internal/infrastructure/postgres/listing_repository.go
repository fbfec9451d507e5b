package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barterhub/barterhub/internal/domain/listing"
)

// ListingRepository implements listing.Repository.
type ListingRepository struct {
	pool *pgxpool.Pool
}

func NewListingRepository(pool *pgxpool.Pool) *ListingRepository {
	return &ListingRepository{pool: pool}
}

func (r *ListingRepository) Create(ctx context.Context, l *listing.Listing) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO listings (listing_id, owner_id, direction, categories, description, match_expr, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, l.ListingID, l.OwnerID, l.Direction, l.Categories, l.Description, l.MatchExpr, l.Status, l.CreatedAt, l.UpdatedAt)
	return err
}

func (r *ListingRepository) GetByID(ctx context.Context, listingID uuid.UUID) (*listing.Listing, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, listing_id, owner_id, direction, categories, description, match_expr, status, created_at, updated_at
		FROM listings WHERE listing_id=$1
	`, listingID)
	return scanListing(row)
}

func (r *ListingRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*listing.Listing, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, listing_id, owner_id, direction, categories, description, match_expr, status, created_at, updated_at
		FROM listings WHERE owner_id=$1 ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectListings(rows)
}

func (r *ListingRepository) ListActiveByCategory(ctx context.Context, category string) ([]*listing.Listing, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, listing_id, owner_id, direction, categories, description, match_expr, status, created_at, updated_at
		FROM listings WHERE status='ACTIVE' AND $1=ANY(categories) ORDER BY created_at ASC
	`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectListings(rows)
}

// ListByStatus returns listings in a status, oldest first. A limit of
// zero or less means no limit.
func (r *ListingRepository) ListByStatus(ctx context.Context, status listing.Status, limit int) ([]*listing.Listing, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, listing_id, owner_id, direction, categories, description, match_expr, status, created_at, updated_at
		FROM listings WHERE status=$1 ORDER BY created_at ASC LIMIT NULLIF($2, 0)
	`, status, max(limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectListings(rows)
}

// TransitionStatus runs the compare-and-swap as a single conditional
// UPDATE. Concurrent claimants race on the row; the database serializes
// them, so at most one update matches the expected status.
func (r *ListingRepository) TransitionStatus(ctx context.Context, listingID uuid.UUID, expected, next listing.Status) error {
	probe := listing.Listing{Status: expected}
	if !probe.CanTransitionTo(next) {
		return &listing.ValidationError{Field: "status", Reason: string(expected) + " -> " + string(next) + " is not allowed"}
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE listings SET status=$1, updated_at=NOW() WHERE listing_id=$2 AND status=$3
	`, next, listingID, expected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Lost the race or no such listing; read back to report which.
	row := r.pool.QueryRow(ctx, `SELECT status FROM listings WHERE listing_id=$1`, listingID)
	var actual listing.Status
	if err := row.Scan(&actual); err != nil {
		if err == pgx.ErrNoRows {
			return listing.ErrNotFound
		}
		return err
	}
	return &listing.ConflictError{ListingID: listingID, Expected: expected, Actual: actual}
}

func scanListing(row pgx.Row) (*listing.Listing, error) {
	var l listing.Listing
	if err := row.Scan(&l.ID, &l.ListingID, &l.OwnerID, &l.Direction, &l.Categories, &l.Description, &l.MatchExpr, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, listing.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func collectListings(rows pgx.Rows) ([]*listing.Listing, error) {
	var listings []*listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
