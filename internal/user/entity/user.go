package entity

import orgentity "github.com/ovaphlow/pitchfork/service-user-management/internal/org/entity"

// User represents a row in the `users` table.
// SupervisorID is a weak reference to another user, never an ownership edge.
type User struct {
	ID                int64   `db:"id"`
	FirstName         string  `db:"first_name"`
	LastName          string  `db:"last_name"`
	Email             string  `db:"email"`
	PasswordHash      string  `db:"password_hash"`
	SupervisorID      *int64  `db:"supervisor_id"`
	RoleID            int64   `db:"role_id"`
	LayerID           int64   `db:"layer_id"`
	CompanyID         int64   `db:"company_id"`
	GroupID           int64   `db:"group_id"`
	ProfilePictureURL *string `db:"profile_picture_url"`
}

// SupervisorRef is the part of a supervisor shown on a subordinate's view.
type SupervisorRef struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UserView is the enriched projection returned to clients: related rows are
// resolved, foreign key ids and the password hash are left out.
type UserView struct {
	ID                int64             `json:"id"`
	FirstName         string            `json:"first_name"`
	LastName          string            `json:"last_name"`
	Email             string            `json:"email"`
	ProfilePictureURL *string           `json:"profile_picture_url"`
	Company           orgentity.Company `json:"company"`
	Role              orgentity.Role    `json:"role"`
	Group             orgentity.Group   `json:"group"`
	Layer             orgentity.Layer   `json:"layer"`
	Supervisor        *SupervisorRef    `json:"supervisor"`
}

// ChainLink is the minimal projection used to walk supervisor chains.
type ChainLink struct {
	ID           int64  `db:"id"`
	SupervisorID *int64 `db:"supervisor_id"`
	LayerID      int64  `db:"layer_id"`
	LayerNumber  int    `db:"layer_number"`
}
