package database

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"testing"

	"serverlist-backend/internal/models"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := OpenSqlite(":memory:", zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}

	return NewStore(db)
}

func insertServer(t *testing.T, store *Store, server models.Server) {
	t.Helper()

	if server.Type == "" {
		server.Type = "JAVA"
	}
	if server.AuthMode == "" {
		server.AuthMode = "OFFICIAL"
	}
	if err := store.InsertServer(context.Background(), server); err != nil {
		t.Fatal(err)
	}
}

func serverIDs(servers []models.Server) []int64 {
	ids := make([]int64, len(servers))
	for i, server := range servers {
		ids[i] = server.ID
	}
	return ids
}

func TestFindServers(t *testing.T) {
	store := newTestStore(t)
	insertServer(t, store, models.Server{ID: 1, Name: "a", IsMember: true})
	insertServer(t, store, models.Server{ID: 2, Name: "b", IsMember: true, Type: "BEDROCK"})
	insertServer(t, store, models.Server{ID: 3, Name: "c", AuthMode: "OFFLINE"})
	insertServer(t, store, models.Server{ID: 4, Name: "d", IsMember: true, AuthMode: "YGGDRASIL"})

	member := true

	tests := []struct {
		name   string
		filter ServerFilter
		want   []int64
	}{
		{name: "No filter", filter: ServerFilter{}, want: []int64{1, 2, 3, 4}},
		{name: "Members", filter: ServerFilter{IsMember: &member}, want: []int64{1, 2, 4}},
		{name: "Type", filter: ServerFilter{Types: []string{"BEDROCK"}}, want: []int64{2}},
		{name: "Auth modes", filter: ServerFilter{AuthModes: []string{"OFFLINE", "YGGDRASIL"}}, want: []int64{3, 4}},
		{
			name:   "Combined",
			filter: ServerFilter{IsMember: &member, Types: []string{"JAVA"}, AuthModes: []string{"OFFICIAL"}},
			want:   []int64{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			servers, err := store.FindServers(context.Background(), tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if got := serverIDs(servers); !slices.Equal(got, tt.want) {
				t.Errorf("FindServers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetServerNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetServer(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetServer() error = %v, want ErrNotFound", err)
	}
}

func TestLatestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertServer(t, store, models.Server{ID: 1})
	insertServer(t, store, models.Server{ID: 2})
	insertServer(t, store, models.Server{ID: 3})

	rows := []models.ServerStats{
		{ID: 1, ServerID: 1, StatData: []byte(`{"version":"old"}`), Timestamp: 100},
		{ID: 2, ServerID: 1, StatData: []byte(`{"version":"new","players":{"online":3}}`), Timestamp: 200},
		{ID: 3, ServerID: 2, StatData: []byte(`[1,2,3]`), Timestamp: 150},
	}
	for _, row := range rows {
		if err := store.InsertStats(ctx, row); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := store.LatestStats(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}

	if status := latest[1]; status == nil || status.Version != "new" || status.Players["online"] != 3 {
		t.Errorf("server 1 status = %+v, want the newest row", status)
	}
	if status, ok := latest[2]; !ok || status != nil {
		t.Errorf("server 2 status = %+v, want a nil status for a non object payload", status)
	}
	if _, ok := latest[3]; ok {
		t.Error("server 3 has no stats but got an entry")
	}

	empty, err := store.LatestStats(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("LatestStats(nil) = %v, %v", empty, err)
	}
}

func TestPermissions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertServer(t, store, models.Server{ID: 1})
	insertServer(t, store, models.Server{ID: 2})

	user := models.User{ID: 10, Username: "steve", Email: "steve@example.com", DisplayName: "Steve", HashedPassword: "x", Role: "user", IsActive: true}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertPermission(ctx, models.Permission{UserID: 10, ServerID: 1, Role: models.RoleOwner}); err != nil {
		t.Fatal(err)
	}

	roles, err := store.Permissions(ctx, 10, []int64{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[1] != models.RoleOwner {
		t.Errorf("Permissions() = %v, want only server 1 as owner", roles)
	}

	role, err := store.Permission(ctx, 10, 2)
	if err != nil || role != "" {
		t.Errorf("Permission() = %q, %v, want no role", role, err)
	}

	managers, err := store.Managers(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(managers) != 1 || managers[0].UserID != 10 || managers[0].Role != models.RoleOwner {
		t.Errorf("Managers() = %+v", managers)
	}
}

func TestEnsureGallery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertServer(t, store, models.Server{ID: 1})

	first, err := store.EnsureGallery(ctx, 1, 500, 1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.EnsureGallery(ctx, 1, 600, 2)
	if err != nil {
		t.Fatal(err)
	}
	if first != 500 || second != 500 {
		t.Errorf("EnsureGallery() = %d then %d, want 500 both times", first, second)
	}

	server, err := store.GetServer(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if server.GalleryID != (sql.NullInt64{Int64: 500, Valid: true}) {
		t.Errorf("server gallery = %+v, want 500", server.GalleryID)
	}

	if _, err := store.EnsureGallery(ctx, 2, 700, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("EnsureGallery() on a missing server error = %v, want ErrNotFound", err)
	}
}

func TestFileInUse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertServer(t, store, models.Server{ID: 1, CoverHashID: sql.NullString{String: "cover", Valid: true}})
	galleryID, err := store.EnsureGallery(ctx, 1, 500, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.InsertGalleryImage(ctx, models.GalleryImage{ID: 1, GalleryID: galleryID, Title: "shot", ImageHashID: "shot"}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateUser(ctx, models.User{ID: 1, Username: "alex", Email: "alex@example.com", DisplayName: "Alex", HashedPassword: "hash", Role: "user", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.ExecContext(ctx, "UPDATE users SET avatar_hash_id = 'avatar' WHERE id = 1"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		hash string
		want bool
	}{
		{name: "Gallery image", hash: "shot", want: true},
		{name: "Server cover", hash: "cover", want: true},
		{name: "User avatar", hash: "avatar", want: true},
		{name: "Unreferenced", hash: "orphan", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.FileInUse(ctx, tt.hash)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("FileInUse(%q) = %v, want %v", tt.hash, got, tt.want)
			}
		})
	}

	if err := store.DeleteGalleryImage(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if inUse, err := store.FileInUse(ctx, "shot"); err != nil || inUse {
		t.Errorf("FileInUse() after deleting the image = %v, %v, want false", inUse, err)
	}
}

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := models.User{ID: 1, Username: "alex", Email: "alex@example.com", DisplayName: "Alex", HashedPassword: "hash", Role: "user", IsActive: true, CreatedAt: 5}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		login   string
		isEmail bool
		wantErr error
	}{
		{name: "By username", login: "alex"},
		{name: "By email", login: "alex@example.com", isEmail: true},
		{name: "Unknown", login: "nobody", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.UserByLogin(ctx, tt.login, tt.isEmail)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("UserByLogin() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got.ID != 1 {
				t.Errorf("UserByLogin() id = %d, want 1", got.ID)
			}
		})
	}

	exists, err := store.UserExists(ctx, "someone", "alex@example.com")
	if err != nil || !exists {
		t.Errorf("UserExists() = %v, %v, want true", exists, err)
	}

	if err := store.UpdateLastLogin(ctx, 1, 99, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	got, err := store.UserByLogin(ctx, "alex", false)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastLogin.Int64 != 99 || got.LastLoginIP.String != "10.0.0.1" {
		t.Errorf("last login = %v from %v", got.LastLogin, got.LastLoginIP)
	}
}
