package models

// ServerDetail is the only shape a server is ever served in. IP is nil
// whenever the server is hidden.
type ServerDetail struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	IP         *string       `json:"ip"`
	Type       ServerType    `json:"type"`
	Version    string        `json:"version"`
	Desc       string        `json:"desc"`
	Link       string        `json:"link"`
	IsMember   bool          `json:"is_member"`
	AuthMode   AuthMode      `json:"auth_mode"`
	IsHide     bool          `json:"is_hide"`
	Tags       []string      `json:"tags"`
	Status     *ServerStatus `json:"status"`
	Permission string        `json:"permission"`
	CoverURL   *string       `json:"cover_url"`
}

type ServerListResponse struct {
	Data       []ServerDetail `json:"data"`
	Total      int64          `json:"total"`
	TotalPages int64          `json:"total_pages"`
}

type GalleryImageDetail struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

type ServerGallery struct {
	ID            int64                `json:"id"`
	Name          string               `json:"name"`
	GalleryImages []GalleryImageDetail `json:"gallery_images"`
}

type ManagerInfo struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	IsActive    bool   `json:"is_active"`
	AvatarURL   string `json:"avatar_url"`
}

type ServerManagersResponse struct {
	Owners []ManagerInfo `json:"owners"`
	Admins []ManagerInfo `json:"admins"`
}

type ServerTotalPlayers struct {
	TotalPlayers int64 `json:"total_players"`
}

type AuthToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}
