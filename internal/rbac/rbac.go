package rbac

// Role constants
const (
	RoleAdmin   = "admin"
	RoleMaestro = "maestro"
)

// Permission constants
const (
	PermViewDeals      = "view_deals"
	PermManageDeals    = "manage_deals"
	PermApproveDeal    = "approve_deal"
	PermManagePayments = "manage_payments"
	PermRefund         = "refund"
	PermViewLedger     = "view_ledger"
	PermApproveLedger  = "approve_ledger"
	PermExecutePayouts = "execute_payouts"
	PermViewReports    = "view_reports"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleAdmin: {
		PermViewDeals, PermManageDeals, PermApproveDeal,
		PermManagePayments, PermRefund,
		PermViewLedger, PermApproveLedger, PermExecutePayouts,
		PermViewReports,
	},
	RoleMaestro: {
		PermViewDeals, PermApproveDeal,
		// Maestro CANNOT touch money
	},
}

func IsValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsFinancialOperation checks if permission moves money (admin-only).
func IsFinancialOperation(permission string) bool {
	switch permission {
	case PermManagePayments, PermRefund, PermApproveLedger, PermExecutePayouts:
		return true
	}
	return false
}
