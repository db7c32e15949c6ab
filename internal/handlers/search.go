package handlers

import (
	"errors"
	"net/http"

	"serverlist-backend/internal/apierror"
	"serverlist-backend/internal/search"
)

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		apierror.Write(w, h.sugar, apierror.Unavailable(search.ErrUnavailable))
		return
	}

	query := r.URL.Query()

	limit, err := queryOptionalInt(r, "limit")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}
	if offset < 0 || (limit != nil && *limit < 1) {
		apierror.Write(w, h.sugar, apierror.BadRequest("limit must be positive and offset can't be negative"))
		return
	}
	isMember, err := queryBool(r, "is_member")
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	params := search.Params{
		Query:    query.Get("q"),
		Offset:   int(offset),
		Type:     query.Get("type"),
		Tags:     query.Get("tags"),
		AuthMode: query.Get("auth_mode"),
		IsMember: isMember,
		Sort:     query.Get("sort"),
	}
	if limit != nil {
		l := int(*limit)
		params.Limit = &l
	}

	response, err := h.search.Search(r.Context(), params)
	if err != nil {
		apierror.Write(w, h.sugar, searchError(err))
		return
	}

	h.writeJSON(w, http.StatusOK, response)
}

func searchError(err error) error {
	switch {
	case errors.Is(err, search.ErrInvalidQuery):
		return apierror.BadRequest("the search engine rejected this query")
	case errors.Is(err, search.ErrUnavailable):
		return apierror.Unavailable(err)
	}
	return err
}

func (h *Handler) SearchStats(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		apierror.Write(w, h.sugar, apierror.Unavailable(search.ErrUnavailable))
		return
	}

	stats, err := h.search.Stats(r.Context())
	if err != nil {
		apierror.Write(w, h.sugar, searchError(err))
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}
