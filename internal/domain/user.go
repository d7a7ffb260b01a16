package domain

// Role enumerates user roles.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleAgent    Role = "AGENT"
	RoleCustomer Role = "CUSTOMER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAgent, RoleCustomer:
		return true
	}
	return false
}

// User is a customer, agent or administrator account.
type User struct {
	ID       int64
	Username string
	Email    string
	Role     Role
}

// Agent is a user with the AGENT role and its current ticket load.
type Agent struct {
	User
	// Load counts tickets bound to the agent that are not closed.
	Load int
}
