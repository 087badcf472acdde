package auth

import "instaq/internal/apperr"

// Operation names an action on attendance records.
type Operation string

const (
	OpCreate       Operation = "create"
	OpList         Operation = "list"
	OpGet          Operation = "get"
	OpStats        Operation = "stats"
	OpUpdateStatus Operation = "update_status"
	OpDelete       Operation = "delete"
)

// Authorize decides whether p may perform op. Reads are open to every
// authenticated principal; mutations beyond create need the admin role.
// The decision never depends on the target record, so a denial says nothing
// about whether it exists.
func Authorize(p *Principal, op Operation) error {
	if p == nil || p.ID == "" {
		return apperr.ErrUnauthenticated
	}
	switch op {
	case OpCreate, OpList, OpGet, OpStats:
		return nil
	case OpUpdateStatus, OpDelete:
		if p.Elevated() {
			return nil
		}
		return apperr.ErrForbidden
	default:
		return apperr.ErrForbidden
	}
}
