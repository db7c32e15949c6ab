package models

import (
	"database/sql"
	"encoding/json"
	"strings"
)

type ServerType string

const (
	ServerTypeJava    ServerType = "JAVA"
	ServerTypeBedrock ServerType = "BEDROCK"
)

// ParseServerType falls back to JAVA for anything it doesn't recognize.
func ParseServerType(s string) ServerType {
	switch ServerType(strings.ToUpper(s)) {
	case ServerTypeBedrock:
		return ServerTypeBedrock
	default:
		return ServerTypeJava
	}
}

type AuthMode string

const (
	AuthModeOfficial  AuthMode = "OFFICIAL"
	AuthModeOffline   AuthMode = "OFFLINE"
	AuthModeYggdrasil AuthMode = "YGGDRASIL"
)

// ParseAuthMode falls back to OFFICIAL for anything it doesn't recognize.
func ParseAuthMode(s string) AuthMode {
	switch AuthMode(strings.ToUpper(s)) {
	case AuthModeOffline:
		return AuthModeOffline
	case AuthModeYggdrasil:
		return AuthModeYggdrasil
	default:
		return AuthModeOfficial
	}
}

const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
	RoleGuest = "guest"
)

type User struct {
	ID             int64          `db:"id" json:"id"`
	Username       string         `db:"username" json:"username"`
	Email          string         `db:"email" json:"email,omitempty"`
	DisplayName    string         `db:"display_name" json:"display_name"`
	HashedPassword string         `db:"hashed_password" json:"-"`
	Role           string         `db:"role" json:"role"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	CreatedAt      int64          `db:"created_at" json:"created_at"`
	LastLogin      sql.NullInt64  `db:"last_login" json:"-"`
	LastLoginIP    sql.NullString `db:"last_login_ip" json:"-"`
	AvatarHashID   sql.NullString `db:"avatar_hash_id" json:"-"`
}

// Server is a row of the servers table. Tags are kept as a JSON array in a
// text column, so filtering on them happens after the fetch.
type Server struct {
	ID          int64          `db:"id"`
	Name        string         `db:"name"`
	IP          string         `db:"ip"`
	Type        string         `db:"type"`
	Version     string         `db:"version"`
	Desc        string         `db:"description"`
	Link        string         `db:"link"`
	IsMember    bool           `db:"is_member"`
	IsHide      bool           `db:"is_hide"`
	AuthMode    string         `db:"auth_mode"`
	Tags        sql.NullString `db:"tags"`
	CoverHashID sql.NullString `db:"cover_hash_id"`
	GalleryID   sql.NullInt64  `db:"gallery_id"`
}

// TagList decodes the serialized tag array. A NULL column or anything that
// isn't a JSON array of strings yields nil.
func (s *Server) TagList() []string {
	if !s.Tags.Valid {
		return nil
	}

	var raw []any
	if err := json.Unmarshal([]byte(s.Tags.String), &raw); err != nil {
		return nil
	}

	tags := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			tags = append(tags, str)
		}
	}
	return tags
}

type ServerStats struct {
	ID        int64  `db:"id"`
	ServerID  int64  `db:"server_id"`
	StatData  []byte `db:"stat_data"`
	Timestamp int64  `db:"timestamp"`
}

type Permission struct {
	UserID   int64  `db:"user_id"`
	ServerID int64  `db:"server_id"`
	Role     string `db:"role"`
}

type File struct {
	HashValue string `db:"hash_value" json:"hash_value"`
	FilePath  string `db:"file_path" json:"file_path"`
}

type Gallery struct {
	ID        int64 `db:"id"`
	CreatedAt int64 `db:"created_at"`
}

type GalleryImage struct {
	ID          int64  `db:"id"`
	GalleryID   int64  `db:"gallery_id"`
	Title       string `db:"title"`
	Description string `db:"description"`
	ImageHashID string `db:"image_hash_id"`
}

// Manager is a user joined with their role on one server.
type Manager struct {
	Role         string         `db:"role"`
	UserID       int64          `db:"id"`
	DisplayName  string         `db:"display_name"`
	IsActive     bool           `db:"is_active"`
	AvatarHashID sql.NullString `db:"avatar_hash_id"`
}
