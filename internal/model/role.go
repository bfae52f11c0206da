package model

// Role is the marketplace role a caller acts under.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "service_provider"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleProvider
}

// Opposite returns the counterpart role in a negotiation.
func (r Role) Opposite() Role {
	if r == RoleClient {
		return RoleProvider
	}
	return RoleClient
}

// Caller is the identity supplied by the identity collaborator. The engine
// trusts it as-is.
type Caller struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

