package controllers

var validRoles = map[string]struct{}{
	"admin":      {},
	"supervisor": {},
	"agent":      {},
}

func IsValidRole(role string) bool {
	_, ok := validRoles[role]
	return ok
}
