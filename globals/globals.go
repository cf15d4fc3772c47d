package globals

// Context keys
type ContextKey string

const (
	IdentityKey  ContextKey = "identity"
	RequestIDKey ContextKey = "requestId"
)

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
