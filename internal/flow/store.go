package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	dbpkg "github.com/sectorhub/wagateway/internal/db"
)

// Flow is the active flow of a sector.
type Flow struct {
	ID         int64      `json:"id"`
	SectorID   int64      `json:"sectorId"`
	Name       string     `json:"name"`
	Definition Definition `json:"definition"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Graph      *Graph     `json:"-"`
}

// State is the position of one contact within one flow.
type State struct {
	ID            int64
	ContactID     int64
	FlowID        int64
	CurrentNodeID string
	LastUpdated   time.Time
}

// Repository is the persistence the engine needs.
type Repository interface {
	ActiveFlow(ctx context.Context, sectorID int64) (Flow, error)
	GetOrCreateState(ctx context.Context, contactID, flowID int64, startNodeID string) (State, error)
	UpdateState(ctx context.Context, stateID int64, nodeID string) error
}

// Store keeps flows and contact flow states in the SaaS database.
type Store struct {
	db          dbpkg.Beginner
	startNodeID string
	logger      *slog.Logger
}

func NewStore(log *slog.Logger, conn dbpkg.Beginner, startNodeID string) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:          conn,
		startNodeID: startNodeID,
		logger:      log.With(slog.String("service", "flow_store")),
	}
}

// ActiveFlow loads and compiles the active flow of a sector.
func (s *Store) ActiveFlow(ctx context.Context, sectorID int64) (Flow, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, sector_id, name, definition, updated_at
FROM flows
WHERE sector_id = $1 AND is_active`, sectorID)
	var (
		f   Flow
		raw []byte
	)
	if err := row.Scan(&f.ID, &f.SectorID, &f.Name, &raw, &f.UpdatedAt); err != nil {
		if dbpkg.IsNoRows(err) {
			return Flow{}, ErrNotFound
		}
		return Flow{}, fmt.Errorf("get active flow: %w", err)
	}
	if err := json.Unmarshal(raw, &f.Definition); err != nil {
		return Flow{}, fmt.Errorf("decode flow %d: %w", f.ID, err)
	}
	graph, err := Compile(f.Definition, s.startNodeID)
	if err != nil {
		return Flow{}, fmt.Errorf("compile flow %d: %w", f.ID, err)
	}
	f.Graph = graph
	return f, nil
}

// SaveDefinition validates def and makes it the sector's only active flow.
func (s *Store) SaveDefinition(ctx context.Context, sectorID int64, name string, def Definition) (Flow, error) {
	graph, err := Compile(def, s.startNodeID)
	if err != nil {
		return Flow{}, err
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return Flow{}, fmt.Errorf("encode flow: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "default"
	}

	f := Flow{SectorID: sectorID, Name: name, Definition: def, Graph: graph}
	err = dbpkg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE flows SET is_active = false, updated_at = now() WHERE sector_id = $1 AND is_active`, sectorID); err != nil {
			return dbpkg.WrapWrite("deactivate flows", err)
		}
		row := tx.QueryRow(ctx, `
INSERT INTO flows (sector_id, name, definition)
VALUES ($1, $2, $3)
RETURNING id, updated_at`, sectorID, name, raw)
		if err := row.Scan(&f.ID, &f.UpdatedAt); err != nil {
			return dbpkg.WrapWrite("insert flow", err)
		}
		return nil
	})
	if err != nil {
		return Flow{}, err
	}
	s.logger.Info("flow saved", slog.Int64("sector_id", sectorID), slog.Int64("flow_id", f.ID), slog.Int("nodes", graph.Len()))
	return f, nil
}

// GetOrCreateState returns the contact's state, starting at startNodeID when new.
func (s *Store) GetOrCreateState(ctx context.Context, contactID, flowID int64, startNodeID string) (State, error) {
	row := s.db.QueryRow(ctx, `
INSERT INTO contact_flow_states (contact_id, flow_id, current_node_id)
VALUES ($1, $2, $3)
ON CONFLICT (contact_id, flow_id) DO NOTHING
RETURNING id, contact_id, flow_id, current_node_id, last_updated`, contactID, flowID, startNodeID)
	st, err := scanState(row)
	if err == nil {
		return st, nil
	}
	if !dbpkg.IsNoRows(err) {
		return State{}, dbpkg.WrapWrite("create flow state", err)
	}
	row = s.db.QueryRow(ctx, `
SELECT id, contact_id, flow_id, current_node_id, last_updated
FROM contact_flow_states
WHERE contact_id = $1 AND flow_id = $2`, contactID, flowID)
	st, err = scanState(row)
	if err != nil {
		return State{}, fmt.Errorf("get flow state: %w", err)
	}
	return st, nil
}

// UpdateState moves a state to nodeID.
func (s *Store) UpdateState(ctx context.Context, stateID int64, nodeID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE contact_flow_states SET current_node_id = $2, last_updated = now() WHERE id = $1`, stateID, nodeID)
	if err != nil {
		return dbpkg.WrapWrite("update flow state", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("flow state %d: %w", stateID, ErrNotFound)
	}
	return nil
}

func scanState(row pgx.Row) (State, error) {
	var st State
	err := row.Scan(&st.ID, &st.ContactID, &st.FlowID, &st.CurrentNodeID, &st.LastUpdated)
	return st, err
}
