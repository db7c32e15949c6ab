package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"serverlist-backend/internal/models"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by the single row lookups.
var ErrNotFound = errors.New("record not found")

const serverColumns = "id, name, ip, type, version, description, link, is_member, is_hide, auth_mode, tags, cover_hash_id, gallery_id"

type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// ServerFilter narrows the listing query. A nil IsMember or an empty slice
// means the column is not filtered on.
type ServerFilter struct {
	IsMember  *bool
	Types     []string
	AuthModes []string
}

// in expands the IN (?) placeholders and rebinds for the current driver.
func (s *Store) in(query string, args ...any) (string, []any, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return s.db.Rebind(query), args, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// FindServers returns every matching server ordered by id. There is no
// paging here, callers get the whole filtered set.
func (s *Store) FindServers(ctx context.Context, filter ServerFilter) ([]models.Server, error) {
	query := "SELECT " + serverColumns + " FROM servers WHERE 1 = 1"
	var args []any

	if filter.IsMember != nil {
		query += " AND is_member = ?"
		args = append(args, *filter.IsMember)
	}
	if len(filter.Types) > 0 {
		query += " AND type IN (?)"
		args = append(args, filter.Types)
	}
	if len(filter.AuthModes) > 0 {
		query += " AND auth_mode IN (?)"
		args = append(args, filter.AuthModes)
	}
	query += " ORDER BY id ASC"

	query, args, err := s.in(query, args...)
	if err != nil {
		return nil, err
	}

	var servers []models.Server
	if err := s.db.SelectContext(ctx, &servers, query, args...); err != nil {
		return nil, fmt.Errorf("find servers: %w", err)
	}
	return servers, nil
}

func (s *Store) AllServers(ctx context.Context) ([]models.Server, error) {
	return s.FindServers(ctx, ServerFilter{})
}

func (s *Store) GetServer(ctx context.Context, id int64) (*models.Server, error) {
	var server models.Server
	err := s.db.GetContext(ctx, &server, s.db.Rebind("SELECT "+serverColumns+" FROM servers WHERE id = ?"), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &server, nil
}

// LatestStats keeps only the newest stats row of each server and parses its
// payload. A server whose newest payload isn't a JSON object gets no status.
func (s *Store) LatestStats(ctx context.Context, serverIDs []int64) (map[int64]*models.ServerStatus, error) {
	latest := make(map[int64]*models.ServerStatus, len(serverIDs))
	if len(serverIDs) == 0 {
		return latest, nil
	}

	query, args, err := s.in("SELECT id, server_id, stat_data, timestamp FROM server_stats WHERE server_id IN (?) ORDER BY timestamp DESC", serverIDs)
	if err != nil {
		return nil, err
	}

	var rows []models.ServerStats
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("latest stats of %v: %w", serverIDs, err)
	}

	for _, row := range rows {
		if _, seen := latest[row.ServerID]; seen {
			continue
		}
		latest[row.ServerID], _ = models.ParseStats(row.StatData)
	}
	return latest, nil
}

// AllStats is ordered newest first.
func (s *Store) AllStats(ctx context.Context) ([]models.ServerStats, error) {
	var rows []models.ServerStats
	if err := s.db.SelectContext(ctx, &rows, "SELECT id, server_id, stat_data, timestamp FROM server_stats ORDER BY timestamp DESC"); err != nil {
		return nil, fmt.Errorf("all stats: %w", err)
	}
	return rows, nil
}

func (s *Store) InsertStats(ctx context.Context, stats models.ServerStats) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind("INSERT INTO server_stats (id, server_id, stat_data, timestamp) VALUES (?, ?, ?, ?)"),
		stats.ID, stats.ServerID, string(stats.StatData), stats.Timestamp)
	return err
}

// Permissions maps server id to the user's role for the given servers.
func (s *Store) Permissions(ctx context.Context, userID int64, serverIDs []int64) (map[int64]string, error) {
	roles := make(map[int64]string, len(serverIDs))
	if len(serverIDs) == 0 {
		return roles, nil
	}

	query, args, err := s.in("SELECT user_id, server_id, role FROM user_server WHERE user_id = ? AND server_id IN (?)", userID, serverIDs)
	if err != nil {
		return nil, err
	}

	var rows []models.Permission
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("permissions of user %d: %w", userID, err)
	}

	for _, row := range rows {
		roles[row.ServerID] = row.Role
	}
	return roles, nil
}

// Permission returns "" when the user has no role on the server.
func (s *Store) Permission(ctx context.Context, userID int64, serverID int64) (string, error) {
	var role string
	err := s.db.GetContext(ctx, &role, s.db.Rebind("SELECT role FROM user_server WHERE user_id = ? AND server_id = ?"), userID, serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("permission of user %d on server %d: %w", userID, serverID, err)
	}
	return role, nil
}

func (s *Store) InsertPermission(ctx context.Context, permission models.Permission) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind("INSERT INTO user_server (user_id, server_id, role) VALUES (?, ?, ?)"),
		permission.UserID, permission.ServerID, permission.Role)
	return err
}

// FilesByHash maps hash to stored path.
func (s *Store) FilesByHash(ctx context.Context, hashes []string) (map[string]string, error) {
	paths := make(map[string]string, len(hashes))
	if len(hashes) == 0 {
		return paths, nil
	}

	query, args, err := s.in("SELECT hash_value, file_path FROM files WHERE hash_value IN (?)", hashes)
	if err != nil {
		return nil, err
	}

	var rows []models.File
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("files by hash: %w", err)
	}

	for _, row := range rows {
		paths[row.HashValue] = row.FilePath
	}
	return paths, nil
}

func (s *Store) FileByHash(ctx context.Context, hash string) (*models.File, error) {
	var file models.File
	err := s.db.GetContext(ctx, &file, s.db.Rebind("SELECT hash_value, file_path FROM files WHERE hash_value = ?"), hash)
	if err != nil {
		return nil, notFound(err)
	}
	return &file, nil
}

func (s *Store) InsertFile(ctx context.Context, file models.File) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind("INSERT INTO files (hash_value, file_path) VALUES (?, ?)"), file.HashValue, file.FilePath)
	return err
}

func (s *Store) DeleteFile(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM files WHERE hash_value = ?"), hash)
	return err
}

// FileInUse reports whether a gallery image, server cover or user avatar
// still points at hash.
func (s *Store) FileInUse(ctx context.Context, hash string) (bool, error) {
	var refs int
	err := s.db.GetContext(ctx, &refs, s.db.Rebind(`
		SELECT (SELECT COUNT(*) FROM gallery_image WHERE image_hash_id = ?)
			+ (SELECT COUNT(*) FROM servers WHERE cover_hash_id = ?)
			+ (SELECT COUNT(*) FROM users WHERE avatar_hash_id = ?)`), hash, hash, hash)
	if err != nil {
		return false, fmt.Errorf("references of file %s: %w", hash, err)
	}
	return refs > 0, nil
}

func (s *Store) InsertServer(ctx context.Context, server models.Server) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO servers (`+serverColumns+`)
		VALUES (:id, :name, :ip, :type, :version, :description, :link, :is_member, :is_hide, :auth_mode, :tags, :cover_hash_id, :gallery_id)`, server)
	return err
}

// UpdateServer writes back the editable columns of server.
func (s *Store) UpdateServer(ctx context.Context, server models.Server) error {
	_, err := s.db.NamedExecContext(ctx, `UPDATE servers SET
		name = :name, ip = :ip, description = :description, tags = :tags,
		version = :version, link = :link, cover_hash_id = :cover_hash_id
		WHERE id = :id`, server)
	if err != nil {
		return fmt.Errorf("update server %d: %w", server.ID, err)
	}
	return nil
}

// EnsureGallery returns the server's gallery id, creating and linking a new
// gallery under newID if it has none yet.
func (s *Store) EnsureGallery(ctx context.Context, serverID int64, newID int64, createdAt int64) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var galleryID sql.NullInt64
	if err := tx.GetContext(ctx, &galleryID, tx.Rebind("SELECT gallery_id FROM servers WHERE id = ?"), serverID); err != nil {
		return 0, notFound(err)
	}
	if galleryID.Valid {
		return galleryID.Int64, nil
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO gallery (id, created_at) VALUES (?, ?)"), newID, createdAt); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("UPDATE servers SET gallery_id = ? WHERE id = ?"), newID, serverID); err != nil {
		return 0, err
	}

	return newID, tx.Commit()
}

func (s *Store) GalleryImages(ctx context.Context, galleryID int64) ([]models.GalleryImage, error) {
	var images []models.GalleryImage
	err := s.db.SelectContext(ctx, &images, s.db.Rebind("SELECT id, gallery_id, title, description, image_hash_id FROM gallery_image WHERE gallery_id = ? ORDER BY id"), galleryID)
	if err != nil {
		return nil, fmt.Errorf("images of gallery %d: %w", galleryID, err)
	}
	return images, nil
}

func (s *Store) GetGalleryImage(ctx context.Context, imageID int64) (*models.GalleryImage, error) {
	var image models.GalleryImage
	err := s.db.GetContext(ctx, &image, s.db.Rebind("SELECT id, gallery_id, title, description, image_hash_id FROM gallery_image WHERE id = ?"), imageID)
	if err != nil {
		return nil, notFound(err)
	}
	return &image, nil
}

func (s *Store) InsertGalleryImage(ctx context.Context, image models.GalleryImage) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO gallery_image (id, gallery_id, title, description, image_hash_id)
		VALUES (:id, :gallery_id, :title, :description, :image_hash_id)`, image)
	return err
}

func (s *Store) DeleteGalleryImage(ctx context.Context, imageID int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM gallery_image WHERE id = ?"), imageID)
	return err
}

func (s *Store) Managers(ctx context.Context, serverID int64) ([]models.Manager, error) {
	var managers []models.Manager
	err := s.db.SelectContext(ctx, &managers, s.db.Rebind(`
		SELECT us.role, u.id, u.display_name, u.is_active, u.avatar_hash_id
		FROM user_server us
		JOIN users u ON u.id = us.user_id
		WHERE us.server_id = ?
		ORDER BY u.id`), serverID)
	if err != nil {
		return nil, fmt.Errorf("managers of server %d: %w", serverID, err)
	}
	return managers, nil
}

const userColumns = "id, username, email, display_name, hashed_password, role, is_active, created_at, last_login, last_login_ip, avatar_hash_id"

// UserByLogin looks the user up by email when login contains an @, by
// username otherwise.
func (s *Store) UserByLogin(ctx context.Context, login string, isEmail bool) (*models.User, error) {
	column := "username"
	if isEmail {
		column = "email"
	}

	var user models.User
	err := s.db.GetContext(ctx, &user, s.db.Rebind("SELECT "+userColumns+" FROM users WHERE "+column+" = ?"), login)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) UserExists(ctx context.Context, username string, email string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, s.db.Rebind("SELECT EXISTS(SELECT 1 FROM users WHERE username = ? OR email = ?)"), username, email)
	return exists, err
}

func (s *Store) CreateUser(ctx context.Context, user models.User) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO users (id, username, email, display_name, hashed_password, role, is_active, created_at)
		VALUES (:id, :username, :email, :display_name, :hashed_password, :role, :is_active, :created_at)`, user)
	return err
}

func (s *Store) UpdateLastLogin(ctx context.Context, userID int64, at int64, ip string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE users SET last_login = ?, last_login_ip = ? WHERE id = ?"), at, ip, userID)
	return err
}
