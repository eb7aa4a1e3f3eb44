package store

import (
	"context"
	"database/sql"
	"strings"
)

const communityColumns = `id, name, description, visibility, type, created_at`

// PutCommunity inserts or updates a community keyed by id.
func (db *DB) PutCommunity(ctx context.Context, c *Community) error {
	conn, err := db.handle(ctx)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO communities (`+communityColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			visibility = excluded.visibility,
			type = excluded.type,
			created_at = CASE WHEN excluded.created_at != 0 THEN excluded.created_at ELSE communities.created_at END,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Description, string(c.Visibility), string(c.Type), toMillis(c.CreatedAt), nowMillis())
	return err
}

// GetCommunity returns a community by id, or nil if unknown.
func (db *DB) GetCommunity(ctx context.Context, id string) (*Community, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, err
	}
	c, err := scanCommunity(conn.QueryRowContext(ctx, `SELECT `+communityColumns+` FROM communities WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SearchCommunities returns communities whose name or description contains
// keyword, ignoring case. An empty keyword matches everything.
func (db *DB) SearchCommunities(ctx context.Context, keyword string) ([]Community, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return nil, err
	}
	pattern := "%" + escapeLike(strings.ToLower(keyword)) + "%"
	rows, err := conn.QueryContext(ctx, `
		SELECT `+communityColumns+` FROM communities
		WHERE fold(name) LIKE ? ESCAPE '\' OR fold(description) LIKE ? ESCAPE '\'
		ORDER BY name`, pattern, pattern)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommunity(row rowScanner) (*Community, error) {
	var (
		c          Community
		visibility string
		typ        string
		createdAt  int64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &visibility, &typ, &createdAt); err != nil {
		return nil, err
	}
	c.Visibility = Visibility(visibility)
	c.Type = CommunityType(typ)
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
