package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/clock"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func AutoMigrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS playlists (
          id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
          owner_id    TEXT NOT NULL,
          name        TEXT NOT NULL,
          invite_code TEXT NOT NULL UNIQUE,
          created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS playlist_ops (
          playlist_id  uuid NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
          seq          BIGINT NOT NULL,
          id           uuid NOT NULL UNIQUE,
          actor        TEXT NOT NULL,
          op_type      TEXT NOT NULL,
          payload      JSONB NOT NULL,
          vclock       JSONB NOT NULL,
          deps         JSONB NOT NULL DEFAULT '[]',
          submitted_at TIMESTAMPTZ NOT NULL,
          appended_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
          PRIMARY KEY (playlist_id, seq)
      )
    `); err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS playlist_snapshots (
          playlist_id uuid PRIMARY KEY REFERENCES playlists(id) ON DELETE CASCADE,
          state       JSONB NOT NULL,
          last_seq    BIGINT NOT NULL,
          updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
      )
    `); err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS collaborators (
          playlist_id uuid NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
          user_id     TEXT NOT NULL,
          role        TEXT NOT NULL,
          joined_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
          PRIMARY KEY (playlist_id, user_id)
      )
    `); err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
      CREATE TABLE IF NOT EXISTS invitations (
          code        uuid PRIMARY KEY,
          playlist_id uuid NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
          inviter_id  TEXT NOT NULL,
          email       TEXT NOT NULL,
          role        TEXT NOT NULL,
          created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
          expires_at  TIMESTAMPTZ NOT NULL,
          accepted_by TEXT,
          accepted_at TIMESTAMPTZ
      )
    `); err != nil {
		return err
	}

	return nil
}

func (s *PostgresStore) CreatePlaylist(ctx context.Context, meta PlaylistMeta) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO playlists (id, owner_id, name, invite_code, created_at)
        VALUES ($1,$2,$3,$4,$5)
    `, meta.ID, meta.OwnerID, meta.Name, meta.InviteCode, meta.CreatedAt)
	return err
}

func (s *PostgresStore) PlaylistMeta(ctx context.Context, playlistID string) (PlaylistMeta, error) {
	var meta PlaylistMeta
	err := s.pool.QueryRow(ctx, `
        SELECT id, owner_id, name, invite_code, created_at
        FROM playlists WHERE id=$1
    `, playlistID).Scan(&meta.ID, &meta.OwnerID, &meta.Name, &meta.InviteCode, &meta.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PlaylistMeta{}, ErrNotFound
	}
	return meta, err
}

func (s *PostgresStore) FindPlaylistByInviteCode(ctx context.Context, code string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id FROM playlists WHERE invite_code=$1`, code).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

// AppendOperation assigns the next sequence inside the insert itself; when
// two appends race to the same slot the (playlist_id, seq) key rejects one
// and the caller retries. A replayed operation id falls into the ON
// CONFLICT arm and the recorded position is returned instead.
func (s *PostgresStore) AppendOperation(ctx context.Context, op model.Operation) (int64, error) {
	clockJSON, err := json.Marshal(op.Clock)
	if err != nil {
		return 0, err
	}
	deps := op.Deps
	if deps == nil {
		deps = []string{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return 0, err
	}

	var seq int64
	err = s.pool.QueryRow(ctx, `
        INSERT INTO playlist_ops (playlist_id, seq, id, actor, op_type, payload, vclock, deps, submitted_at)
        SELECT $1,
               COALESCE((SELECT MAX(seq) FROM playlist_ops WHERE playlist_id = $1), 0) + 1,
               $2, $3, $4, $5, $6, $7, $8
        ON CONFLICT (id) DO NOTHING
        RETURNING seq
    `, op.PlaylistID, op.ID, op.Actor, string(op.Type), []byte(op.Payload), clockJSON, depsJSON, op.SubmittedAt).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		err = s.pool.QueryRow(ctx, `SELECT seq FROM playlist_ops WHERE id=$1`, op.ID).Scan(&seq)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return seq, nil
}

func (s *PostgresStore) ReadOperations(ctx context.Context, playlistID string, afterSeq int64) ([]Logged, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT seq, id, op_type, actor, payload, vclock, deps, submitted_at
        FROM playlist_ops
        WHERE playlist_id=$1 AND seq > $2
        ORDER BY seq ASC
    `, playlistID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Logged, 0)
	for rows.Next() {
		var (
			lg        Logged
			opType    string
			payload   []byte
			clockJSON []byte
			depsJSON  []byte
		)
		if err := rows.Scan(&lg.Seq, &lg.ID, &opType, &lg.Actor, &payload, &clockJSON, &depsJSON, &lg.SubmittedAt); err != nil {
			return nil, err
		}
		lg.PlaylistID = playlistID
		lg.Type = model.OpType(opType)
		lg.Payload = json.RawMessage(payload)
		lg.Clock = clock.New()
		if err := json.Unmarshal(clockJSON, &lg.Clock); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(depsJSON, &lg.Deps); err != nil {
			return nil, err
		}
		out = append(out, lg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ReadSnapshot(ctx context.Context, playlistID string) (Snapshot, error) {
	snap := Snapshot{PlaylistID: playlistID}
	var state []byte
	err := s.pool.QueryRow(ctx, `
        SELECT state, last_seq, updated_at
        FROM playlist_snapshots WHERE playlist_id=$1
    `, playlistID).Scan(&state, &snap.LastSeq, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	snap.State = json.RawMessage(state)
	return snap, nil
}

// SaveSnapshot keeps the most advanced snapshot only; a stale writer loses
// the upsert and that is fine.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO playlist_snapshots (playlist_id, state, last_seq, updated_at)
        VALUES ($1,$2,$3,now())
        ON CONFLICT (playlist_id) DO UPDATE
        SET state = EXCLUDED.state, last_seq = EXCLUDED.last_seq, updated_at = now()
        WHERE playlist_snapshots.last_seq <= EXCLUDED.last_seq
    `, snap.PlaylistID, []byte(snap.State), snap.LastSeq)
	return err
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, playlistID string) ([]model.Collaborator, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT user_id, role, joined_at
        FROM collaborators WHERE playlist_id=$1 ORDER BY joined_at
    `, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Collaborator, 0)
	for rows.Next() {
		var c model.Collaborator
		var role string
		if err := rows.Scan(&c.UserID, &role, &c.JoinedAt); err != nil {
			return nil, err
		}
		c.Role = model.Role(role)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) UpsertCollaborator(ctx context.Context, playlistID string, c model.Collaborator) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO collaborators (playlist_id, user_id, role, joined_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (playlist_id, user_id) DO UPDATE SET role = EXCLUDED.role
    `, playlistID, c.UserID, string(c.Role), c.JoinedAt)
	return err
}

func (s *PostgresStore) RemoveCollaborator(ctx context.Context, playlistID, userID string) (bool, error) {
	res, err := s.pool.Exec(ctx, `
        DELETE FROM collaborators WHERE playlist_id=$1 AND user_id=$2
    `, playlistID, userID)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *PostgresStore) CreateInvitation(ctx context.Context, inv model.Invitation) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO invitations (code, playlist_id, inviter_id, email, role, created_at, expires_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
    `, inv.Code, inv.PlaylistID, inv.InviterID, inv.Email, string(inv.Role), inv.CreatedAt, inv.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetInvitation(ctx context.Context, code string) (model.Invitation, error) {
	var inv model.Invitation
	var role string
	err := s.pool.QueryRow(ctx, `
        SELECT code, playlist_id, inviter_id, email, role, created_at, expires_at, accepted_by, accepted_at
        FROM invitations WHERE code=$1
    `, code).Scan(
		&inv.Code, &inv.PlaylistID, &inv.InviterID, &inv.Email, &role,
		&inv.CreatedAt, &inv.ExpiresAt, &inv.AcceptedBy, &inv.AcceptedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Invitation{}, ErrNotFound
	}
	if err != nil {
		return model.Invitation{}, err
	}
	inv.Role = model.Role(role)
	return inv, nil
}

func (s *PostgresStore) ConsumeInvitation(ctx context.Context, code, userID string, at time.Time) (bool, error) {
	res, err := s.pool.Exec(ctx, `
        UPDATE invitations SET accepted_by=$2, accepted_at=$3
        WHERE code=$1 AND accepted_by IS NULL AND expires_at > $3
    `, code, userID, at)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}
