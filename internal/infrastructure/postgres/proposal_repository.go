package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barterhub/barterhub/internal/domain/proposal"
)

// ProposalRepository implements proposal.Repository. The cycle and the
// acceptance map are stored as JSONB; a side table of listing references
// makes ListOpenByListing an indexed lookup instead of a JSON scan.
type ProposalRepository struct {
	pool *pgxpool.Pool
}

func NewProposalRepository(pool *pgxpool.Pool) *ProposalRepository {
	return &ProposalRepository{pool: pool}
}

var terminalStates = []string{
	string(proposal.StateExecuted),
	string(proposal.StateRejected),
	string(proposal.StateExpired),
	string(proposal.StateFailed),
}

func (r *ProposalRepository) Create(ctx context.Context, p *proposal.Proposal) error {
	cycle, err := json.Marshal(p.Cycle)
	if err != nil {
		return err
	}
	acceptance, err := json.Marshal(p.Acceptance)
	if err != nil {
		return err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO proposals (proposal_id, cycle, acceptance, state, reason, created_at, expires_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, p.ProposalID, cycle, acceptance, p.State, p.Reason, p.CreatedAt, p.ExpiresAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	for _, id := range p.Cycle.ListingIDs() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO proposal_listings (proposal_id, listing_id) VALUES ($1,$2)
		`, p.ProposalID, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *ProposalRepository) GetByID(ctx context.Context, proposalID uuid.UUID) (*proposal.Proposal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, proposal_id, cycle, acceptance, state, reason, version, created_at, expires_at, updated_at
		FROM proposals WHERE proposal_id=$1
	`, proposalID)
	return scanProposal(row)
}

// Update is a versioned compare-and-swap: the row is only written when
// it still carries the version the caller read, so a concurrent decline
// or expiry can never be overwritten by a slower writer.
func (r *ProposalRepository) Update(ctx context.Context, p *proposal.Proposal) error {
	acceptance, err := json.Marshal(p.Acceptance)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE proposals SET acceptance=$1, state=$2, reason=$3, updated_at=$4, version=version+1
		WHERE proposal_id=$5 AND version=$6
	`, acceptance, p.State, p.Reason, p.UpdatedAt, p.ProposalID, p.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		row := r.pool.QueryRow(ctx, `SELECT 1 FROM proposals WHERE proposal_id=$1`, p.ProposalID)
		var one int
		if err := row.Scan(&one); err != nil {
			if err == pgx.ErrNoRows {
				return proposal.ErrNotFound
			}
			return err
		}
		return proposal.ErrStale
	}
	p.Version++
	return nil
}

func (r *ProposalRepository) UpdateState(ctx context.Context, proposalID uuid.UUID, expected, next proposal.State) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE proposals SET state=$1, updated_at=NOW(), version=version+1 WHERE proposal_id=$2 AND state=$3
	`, next, proposalID, expected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		row := r.pool.QueryRow(ctx, `SELECT 1 FROM proposals WHERE proposal_id=$1`, proposalID)
		var one int
		if err := row.Scan(&one); err != nil {
			if err == pgx.ErrNoRows {
				return proposal.ErrNotFound
			}
			return err
		}
		return proposal.ErrInvalidTransition
	}
	return nil
}

func (r *ProposalRepository) ListByState(ctx context.Context, state proposal.State, limit int) ([]*proposal.Proposal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, proposal_id, cycle, acceptance, state, reason, version, created_at, expires_at, updated_at
		FROM proposals WHERE state=$1 ORDER BY created_at ASC LIMIT $2
	`, state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProposals(rows)
}

func (r *ProposalRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*proposal.Proposal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, proposal_id, cycle, acceptance, state, reason, version, created_at, expires_at, updated_at
		FROM proposals
		WHERE expires_at <= $1
		AND state != 'EXECUTING'
		AND NOT (state = ANY($2))
		ORDER BY expires_at ASC
		LIMIT $3
	`, now, terminalStates, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProposals(rows)
}

func (r *ProposalRepository) ListOpenByListing(ctx context.Context, listingID uuid.UUID) ([]*proposal.Proposal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.proposal_id, p.cycle, p.acceptance, p.state, p.reason, p.version, p.created_at, p.expires_at, p.updated_at
		FROM proposals p
		JOIN proposal_listings pl ON pl.proposal_id = p.proposal_id
		WHERE pl.listing_id = $1
		AND NOT (p.state = ANY($2))
		ORDER BY p.created_at ASC
	`, listingID, terminalStates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProposals(rows)
}

func scanProposal(row pgx.Row) (*proposal.Proposal, error) {
	var p proposal.Proposal
	var cycle json.RawMessage
	var acceptance json.RawMessage
	if err := row.Scan(&p.ID, &p.ProposalID, &cycle, &acceptance, &p.State, &p.Reason, &p.Version, &p.CreatedAt, &p.ExpiresAt, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, proposal.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(cycle, &p.Cycle); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(acceptance, &p.Acceptance); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProposals(rows pgx.Rows) ([]*proposal.Proposal, error) {
	var proposals []*proposal.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}
