package handlers

import (
	"net/http"

	"serverlist-backend/internal/apierror"
	"serverlist-backend/internal/models"
	"serverlist-backend/internal/servers"
)

func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", servers.DefaultPage)
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	pageSize, err := queryInt(r, "page_size", servers.DefaultPageSize)
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	seed, err := queryOptionalInt(r, "seed")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	isMember, err := queryBool(r, "is_member")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	query := servers.ListQuery{
		Page:      page,
		PageSize:  pageSize,
		IsMember:  isMember == nil || *isMember,
		Types:     queryList(r, "type"),
		AuthModes: queryList(r, "auth_mode"),
		Tags:      queryList(r, "tags"),
		Seed:      seed,
	}

	result, err := h.servers.List(r.Context(), query, userID(r))
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	h.writeJSON(w, http.StatusOK, models.ServerListResponse{
		Data:       result.Data,
		Total:      result.Total,
		TotalPages: servers.TotalPages(result.Total, pageSize),
	})
}

func (h *Handler) TotalPlayers(w http.ResponseWriter, r *http.Request) {
	total, err := h.servers.TotalPlayers(r.Context())
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	h.writeJSON(w, http.StatusOK, total)
}

func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	requireLogin, err := queryBool(r, "require_login")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	detail, err := h.servers.Detail(r.Context(), id, userID(r), requireLogin != nil && *requireLogin)
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	if err := parseMultipart(w, r); err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	cover, coverName, err := formFile(r, "cover")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	request := servers.UpdateRequest{
		Name:          r.FormValue("name"),
		IP:            r.FormValue("ip"),
		Desc:          r.FormValue("desc"),
		Tags:          r.MultipartForm.Value["tags"],
		Version:       r.FormValue("version"),
		Link:          r.FormValue("link"),
		Cover:         cover,
		CoverFilename: coverName,
	}

	detail, err := h.servers.Update(r.Context(), id, request, userToken(r).UserID)
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) GetManagers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	managers, err := h.servers.Managers(r.Context(), id)
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	h.writeJSON(w, http.StatusOK, managers)
}

func (h *Handler) GetGallery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	gallery, err := h.servers.Gallery(r.Context(), id)
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	h.writeJSON(w, http.StatusOK, gallery)
}

func (h *Handler) UploadGalleryImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	if err := parseMultipart(w, r); err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	image, filename, err := formFile(r, "image")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	if image == nil {
		apierror.Write(w, h.sugar, apierror.BadRequest("image is required"))
		return
	}

	request := servers.GalleryImageRequest{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Image:       image,
		Filename:    filename,
	}

	if err := h.servers.AddGalleryImage(r.Context(), id, request, userToken(r).UserID); err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	h.writeJSON(w, http.StatusOK, models.SuccessResponse{Message: "image uploaded"})
}

func (h *Handler) DeleteGalleryImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	imageID, err := pathID(r, "imageID")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	if err := h.servers.DeleteGalleryImage(r.Context(), id, imageID, userToken(r).UserID); err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	h.writeJSON(w, http.StatusOK, models.SuccessResponse{Message: "image deleted"})
}
