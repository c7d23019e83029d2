package mapping

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/filecloud/pushgate/internal/user"
)

// SQLLoader loads access rows from the app database. Table names are
// the configured prefix plus the fixed suffixes "mounts" and
// "filecache"; the two are joined on root_id = fileid.
type SQLLoader struct {
	db    *sql.DB
	query string
}

func NewSQLLoader(db *sql.DB, prefix string) *SQLLoader {
	return &SQLLoader{
		db: db,
		query: fmt.Sprintf(
			"SELECT user_id, path FROM %smounts INNER JOIN %sfilecache ON root_id = fileid WHERE storage_id = $1",
			prefix, prefix,
		),
	}
}

func (l *SQLLoader) LoadStorageMapping(ctx context.Context, storage uint32) ([]UserStorageAccess, error) {
	rows, err := l.db.QueryContext(ctx, l.query, storage)
	if err != nil {
		return nil, fmt.Errorf("load storage mapping for %d: %w", storage, err)
	}
	defer rows.Close()

	var access []UserStorageAccess
	for rows.Next() {
		var userID, root string
		if err := rows.Scan(&userID, &root); err != nil {
			return nil, fmt.Errorf("scan storage mapping row: %w", err)
		}
		access = append(access, UserStorageAccess{User: user.ID(userID), Root: root})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate storage mapping rows: %w", err)
	}
	return access, nil
}
