package servers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"serverlist-backend/internal/apierror"
	"serverlist-backend/internal/database"
	"serverlist-backend/internal/fileHandlers"
	"serverlist-backend/internal/models"

	"github.com/go-playground/validator/v10"
)

type UpdateRequest struct {
	Name    string   `json:"name" validate:"min=1,max=50"`
	IP      string   `json:"ip" validate:"ip|hostname_port"`
	Desc    string   `json:"desc" validate:"min=100"`
	Tags    []string `json:"tags" validate:"max=7"`
	Version string   `json:"version" validate:"min=1,max=20"`
	Link    string   `json:"link" validate:"url"`
	// optional, the cover is kept when nil
	Cover         []byte `json:"-"`
	CoverFilename string `json:"-"`
}

type GalleryImageRequest struct {
	Title       string `validate:"min=1,max=64"`
	Description string `validate:"max=500"`
	Image       []byte `validate:"required"`
	Filename    string
}

func (s *Service) validationError(err error) error {
	var validateErrs validator.ValidationErrors
	if !errors.As(err, &validateErrs) {
		return apierror.Internal(err)
	}

	fields := make([]string, 0, len(validateErrs))
	for _, e := range validateErrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", strings.ToLower(e.Field()), e.Tag()))
	}
	return apierror.Validation("invalid fields: %s", strings.Join(fields, ", "))
}

func (s *Service) getServer(ctx context.Context, id int64) (*models.Server, error) {
	server, err := s.store.GetServer(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apierror.NotFound("server")
	} else if err != nil {
		return nil, apierror.Internal(err)
	}
	return server, nil
}

// requireEditor passes owners and admins of the server.
func (s *Service) requireEditor(ctx context.Context, userID int64, serverID int64) error {
	role, err := s.store.Permission(ctx, userID, serverID)
	if err != nil {
		return apierror.Internal(err)
	}
	if role != models.RoleOwner && role != models.RoleAdmin {
		return apierror.Forbidden("no permission to edit this server")
	}
	return nil
}

// Update rewrites the editable fields of a server and answers with its
// fresh detail.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest, userID int64) (*models.ServerDetail, error) {
	server, err := s.getServer(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.requireEditor(ctx, userID, id); err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Name) == "" && strings.TrimSpace(req.IP) == "" && strings.TrimSpace(req.Desc) == "" {
		return nil, apierror.BadRequest("name, ip and desc can't all be empty")
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, s.validationError(err)
	}

	if req.Cover != nil {
		if err := fileHandlers.ValidateImage(req.Cover, fileHandlers.CoverImage); err != nil {
			return nil, err
		}

		filename := req.CoverFilename
		if filename == "" {
			filename = "cover.jpg"
		}

		cover, err := s.files.Upload(ctx, req.Cover, filename)
		if err != nil {
			return nil, storageError(err)
		}
		server.CoverHashID.String = cover.HashValue
		server.CoverHashID.Valid = true
	}

	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	server.Name = req.Name
	server.IP = req.IP
	server.Desc = req.Desc
	server.Tags.String = string(tagsJSON)
	server.Tags.Valid = true
	server.Version = req.Version
	server.Link = req.Link

	if err := s.store.UpdateServer(ctx, *server); err != nil {
		return nil, apierror.Internal(err)
	}

	s.sugar.Infow("server updated", "serverID", id, "userID", userID)

	return s.Detail(ctx, id, &userID, true)
}

func (s *Service) Gallery(ctx context.Context, id int64) (*models.ServerGallery, error) {
	if id <= 0 {
		return nil, apierror.BadRequest("server id must be greater than 0")
	}

	server, err := s.getServer(ctx, id)
	if err != nil {
		return nil, err
	}

	gallery := &models.ServerGallery{
		ID:            server.ID,
		Name:          server.Name,
		GalleryImages: []models.GalleryImageDetail{},
	}
	if !server.GalleryID.Valid {
		return gallery, nil
	}

	images, err := s.store.GalleryImages(ctx, server.GalleryID.Int64)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	if len(images) == 0 {
		return gallery, nil
	}

	hashes := make([]string, len(images))
	for i, image := range images {
		hashes[i] = image.ImageHashID
	}

	paths, err := s.store.FilesByHash(ctx, hashes)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	var missing []string
	for _, image := range images {
		path, ok := paths[image.ImageHashID]
		if !ok {
			missing = append(missing, image.ImageHashID)
			continue
		}
		gallery.GalleryImages = append(gallery.GalleryImages, models.GalleryImageDetail{
			ID:          image.ID,
			Title:       image.Title,
			Description: image.Description,
			ImageURL:    s.imageURL(path),
		})
	}

	if len(missing) > 0 {
		s.sugar.Warnw("gallery images without a file", "galleryID", server.GalleryID.Int64, "hashes", missing)
	}

	return gallery, nil
}

// AddGalleryImage creates the server's gallery on its first image.
func (s *Service) AddGalleryImage(ctx context.Context, id int64, req GalleryImageRequest, userID int64) error {
	if _, err := s.getServer(ctx, id); err != nil {
		return err
	}

	if err := s.requireEditor(ctx, userID, id); err != nil {
		return err
	}

	if err := s.validate.Struct(req); err != nil {
		return s.validationError(err)
	}

	if err := fileHandlers.ValidateImage(req.Image, fileHandlers.GalleryImage); err != nil {
		return err
	}

	newGalleryID, err := s.ids.Generate()
	if err != nil {
		return apierror.Internal(err)
	}

	galleryID, err := s.store.EnsureGallery(ctx, id, newGalleryID, time.Now().UnixMilli())
	if err != nil {
		return apierror.Internal(err)
	}

	filename := req.Filename
	if filename == "" {
		filename = "image.jpg"
	}

	file, err := s.files.Upload(ctx, req.Image, filename)
	if err != nil {
		return storageError(err)
	}

	imageID, err := s.ids.Generate()
	if err != nil {
		return apierror.Internal(err)
	}

	err = s.store.InsertGalleryImage(ctx, models.GalleryImage{
		ID:          imageID,
		GalleryID:   galleryID,
		Title:       req.Title,
		Description: req.Description,
		ImageHashID: file.HashValue,
	})
	if err != nil {
		return apierror.Internal(err)
	}

	return nil
}

// DeleteGalleryImage removes the image row, then the stored object and its
// files row once nothing else references the hash.
func (s *Service) DeleteGalleryImage(ctx context.Context, id int64, imageID int64, userID int64) error {
	server, err := s.getServer(ctx, id)
	if err != nil {
		return err
	}

	if err := s.requireEditor(ctx, userID, id); err != nil {
		return err
	}

	if !server.GalleryID.Valid {
		return apierror.NotFound("gallery")
	}

	image, err := s.store.GetGalleryImage(ctx, imageID)
	if errors.Is(err, database.ErrNotFound) {
		return apierror.NotFound("image")
	} else if err != nil {
		return apierror.Internal(err)
	}

	if image.GalleryID != server.GalleryID.Int64 {
		return apierror.Forbidden("image does not belong to this server")
	}

	if err := s.store.DeleteGalleryImage(ctx, imageID); err != nil {
		return apierror.Internal(err)
	}

	// files are deduplicated by hash, a cover or avatar may share this one
	inUse, err := s.store.FileInUse(ctx, image.ImageHashID)
	if err != nil {
		s.sugar.Errorw("checking file references failed", "hash", image.ImageHashID, "error", err)
		return nil
	}
	if inUse {
		return nil
	}

	if err := s.files.Delete(ctx, image.ImageHashID); err != nil {
		s.sugar.Errorw("deleting unreferenced file failed", "hash", image.ImageHashID, "error", err)
	}

	return nil
}

func (s *Service) Managers(ctx context.Context, id int64) (*models.ServerManagersResponse, error) {
	if _, err := s.getServer(ctx, id); err != nil {
		return nil, err
	}

	managers, err := s.store.Managers(ctx, id)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	avatarHashes := make([]string, 0, len(managers))
	for _, manager := range managers {
		if manager.AvatarHashID.Valid {
			avatarHashes = append(avatarHashes, manager.AvatarHashID.String)
		}
	}

	avatars, err := s.store.FilesByHash(ctx, avatarHashes)
	if err != nil {
		return nil, apierror.Internal(err)
	}

	response := &models.ServerManagersResponse{
		Owners: []models.ManagerInfo{},
		Admins: []models.ManagerInfo{},
	}

	for _, manager := range managers {
		info := models.ManagerInfo{
			ID:          manager.UserID,
			DisplayName: manager.DisplayName,
			IsActive:    manager.IsActive,
		}
		if path, ok := avatars[manager.AvatarHashID.String]; ok && manager.AvatarHashID.Valid {
			info.AvatarURL = s.imageURL(path)
		}

		switch manager.Role {
		case models.RoleOwner:
			response.Owners = append(response.Owners, info)
		case models.RoleAdmin:
			response.Admins = append(response.Admins, info)
		}
	}

	return response, nil
}
