package domain

// Roles carried in the JWT "role" claim.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
