package servers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"serverlist-backend/internal/apierror"
	"serverlist-backend/internal/database"
	"serverlist-backend/internal/fileHandlers"
	"serverlist-backend/internal/models"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	FindServers(ctx context.Context, filter database.ServerFilter) ([]models.Server, error)
	GetServer(ctx context.Context, id int64) (*models.Server, error)
	LatestStats(ctx context.Context, serverIDs []int64) (map[int64]*models.ServerStatus, error)
	AllStats(ctx context.Context) ([]models.ServerStats, error)
	Permissions(ctx context.Context, userID int64, serverIDs []int64) (map[int64]string, error)
	Permission(ctx context.Context, userID int64, serverID int64) (string, error)
	FilesByHash(ctx context.Context, hashes []string) (map[string]string, error)
	UpdateServer(ctx context.Context, server models.Server) error
	EnsureGallery(ctx context.Context, serverID int64, newID int64, createdAt int64) (int64, error)
	GalleryImages(ctx context.Context, galleryID int64) ([]models.GalleryImage, error)
	GetGalleryImage(ctx context.Context, imageID int64) (*models.GalleryImage, error)
	InsertGalleryImage(ctx context.Context, image models.GalleryImage) error
	DeleteGalleryImage(ctx context.Context, imageID int64) error
	FileInUse(ctx context.Context, hash string) (bool, error)
	Managers(ctx context.Context, serverID int64) ([]models.Manager, error)
}

type Files interface {
	Upload(ctx context.Context, content []byte, filename string) (*models.File, error)
	Delete(ctx context.Context, hash string) error
}

type IDGenerator interface {
	Generate() (int64, error)
}

type Service struct {
	sugar      *zap.SugaredLogger
	store      Store
	files      Files
	ids        IDGenerator
	validate   *validator.Validate
	staticBase string
}

// staticBase prefixes stored file paths that aren't already full URLs,
// "/static/" when empty.
func New(sugar *zap.SugaredLogger, store Store, files Files, ids IDGenerator, validate *validator.Validate, staticBase string) *Service {
	if staticBase == "" {
		staticBase = "/static/"
	}
	if !strings.HasSuffix(staticBase, "/") {
		staticBase += "/"
	}

	return &Service{
		sugar:      sugar,
		store:      store,
		files:      files,
		ids:        ids,
		validate:   validate,
		staticBase: staticBase,
	}
}

type ListQuery struct {
	Page      int64
	PageSize  int64
	IsMember  bool
	Types     []string
	AuthModes []string
	Tags      []string
	Seed      *int64
}

const (
	DefaultPage     = 1
	DefaultPageSize = 5
)

type ListResult struct {
	Data  []models.ServerDetail
	Total int64
}

// TotalPages is ceil(total / pageSize).
func TotalPages(total int64, pageSize int64) int64 {
	if pageSize <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(total) / float64(pageSize)))
}

// List returns one page of the filtered servers in a shuffled order. The same
// seed over the same filtered set always gives the same order.
func (s *Service) List(ctx context.Context, query ListQuery, userID *int64) (*ListResult, error) {
	if query.Page < 1 || query.PageSize < 1 {
		return nil, apierror.BadRequest("page and page_size must not be less than 1")
	}

	filter := database.ServerFilter{
		Types:     query.Types,
		AuthModes: query.AuthModes,
	}
	// is_member=false means no filter, not "only non-members"
	if query.IsMember {
		filter.IsMember = &query.IsMember
	}

	servers, err := s.store.FindServers(ctx, filter)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	if len(query.Tags) > 0 {
		servers = filterByTags(servers, mapset.NewSet(query.Tags...))
	}

	total := int64(len(servers))

	shuffle(servers, query.Seed)

	page := pageOf(servers, query.Page, query.PageSize)
	if len(page) == 0 {
		return &ListResult{Data: []models.ServerDetail{}, Total: total}, nil
	}

	details, err := s.enrich(ctx, page, userID)
	if err != nil {
		return nil, err
	}

	return &ListResult{Data: details, Total: total}, nil
}

// filterByTags keeps servers sharing at least one tag with wanted.
func filterByTags(servers []models.Server, wanted mapset.Set[string]) []models.Server {
	kept := servers[:0]
	for _, server := range servers {
		tags := server.TagList()
		if len(tags) == 0 {
			continue
		}
		if mapset.NewSet(tags...).Intersect(wanted).Cardinality() > 0 {
			kept = append(kept, server)
		}
	}
	return kept
}

func shuffle(servers []models.Server, seed *int64) {
	var source rand.Source
	if seed != nil {
		source = rand.NewSource(*seed)
	} else {
		source = rand.NewSource(time.Now().UnixNano())
	}

	rng := rand.New(source)
	rng.Shuffle(len(servers), func(i, j int) {
		servers[i], servers[j] = servers[j], servers[i]
	})
}

func pageOf(servers []models.Server, page int64, pageSize int64) []models.Server {
	count := int64(len(servers))
	// checked before multiplying so a huge page can't overflow
	if page-1 > count/pageSize {
		return nil
	}

	start := (page - 1) * pageSize
	if start >= count {
		return nil
	}
	end := min(start+pageSize, count)
	return servers[start:end]
}

// Detail serves a single server. With requireLogin the caller must hold a
// role on it, and a missing server answers the same as a missing role.
func (s *Service) Detail(ctx context.Context, id int64, userID *int64, requireLogin bool) (*models.ServerDetail, error) {
	if requireLogin && userID == nil {
		return nil, apierror.Unauthorized("login required")
	}

	server, err := s.store.GetServer(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		if requireLogin {
			return nil, apierror.Unauthorized("no permission to access this server")
		}
		return nil, apierror.NotFound("server")
	} else if err != nil {
		return nil, apierror.Internal(err)
	}

	details, err := s.enrich(ctx, []models.Server{*server}, userID)
	if err != nil {
		return nil, err
	}
	detail := details[0]

	if requireLogin && detail.Permission == models.RoleGuest {
		return nil, apierror.Unauthorized("no permission to access this server")
	}

	return &detail, nil
}

// enrich fetches status, permission and cover of every server at once and
// fails as a whole if any of the three lookups fails.
func (s *Service) enrich(ctx context.Context, servers []models.Server, userID *int64) ([]models.ServerDetail, error) {
	ids := make([]int64, len(servers))
	coverHashes := mapset.NewThreadUnsafeSet[string]()
	for i, server := range servers {
		ids[i] = server.ID
		if server.CoverHashID.Valid {
			coverHashes.Add(server.CoverHashID.String)
		}
	}

	var (
		stats       map[int64]*models.ServerStatus
		permissions map[int64]string
		covers      map[string]string
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		stats, err = s.store.LatestStats(gctx, ids)
		return err
	})

	g.Go(func() error {
		if userID == nil {
			permissions = map[int64]string{}
			return nil
		}
		var err error
		permissions, err = s.store.Permissions(gctx, *userID, ids)
		return err
	})

	g.Go(func() error {
		var err error
		covers, err = s.store.FilesByHash(gctx, coverHashes.ToSlice())
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, apierror.Internal(fmt.Errorf("enrich servers %v: %w", ids, err))
	}

	details := make([]models.ServerDetail, len(servers))
	for i, server := range servers {
		details[i] = s.merge(server, stats[server.ID], permissions[server.ID], covers)
	}
	return details, nil
}

func (s *Service) merge(server models.Server, status *models.ServerStatus, role string, covers map[string]string) models.ServerDetail {
	detail := models.ServerDetail{
		ID:         server.ID,
		Name:       server.Name,
		Type:       models.ParseServerType(server.Type),
		Version:    server.Version,
		Desc:       server.Desc,
		Link:       server.Link,
		IsMember:   server.IsMember,
		AuthMode:   models.ParseAuthMode(server.AuthMode),
		IsHide:     server.IsHide,
		Tags:       server.TagList(),
		Status:     status,
		Permission: role,
	}

	if !server.IsHide {
		ip := server.IP
		detail.IP = &ip
	}

	if detail.Permission == "" {
		detail.Permission = models.RoleGuest
	}

	if server.CoverHashID.Valid {
		if path, ok := covers[server.CoverHashID.String]; ok {
			coverURL := s.imageURL(path)
			detail.CoverURL = &coverURL
		}
	}

	return detail
}

// imageURL keeps full URLs as they are and puts anything else under the
// static base path.
func (s *Service) imageURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return s.staticBase + strings.TrimPrefix(path, "/")
}

// TotalPlayers adds up players.online over the newest stats row of every
// server.
func (s *Service) TotalPlayers(ctx context.Context) (*models.ServerTotalPlayers, error) {
	rows, err := s.store.AllStats(ctx)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	seen := mapset.NewThreadUnsafeSet[int64]()
	var total int64
	for _, row := range rows {
		if !seen.Add(row.ServerID) {
			continue
		}
		total += models.OnlinePlayers(row.StatData)
	}

	return &models.ServerTotalPlayers{TotalPlayers: total}, nil
}

func storageError(err error) error {
	if errors.Is(err, fileHandlers.ErrStorage) {
		return apierror.Unavailable(err)
	}
	return apierror.From(err)
}
