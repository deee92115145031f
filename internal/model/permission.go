package model

import "strings"

// Permission names referenced from code. Every name here must exist in the seeded
// permission table; the API refuses to start otherwise.
const (
	PermPatientsView   = "patients.view"
	PermPatientsCreate = "patients.create"
	PermPatientsUpdate = "patients.update"
	PermPatientsDelete = "patients.delete"

	PermAppointmentsView   = "appointments.view"
	PermAppointmentsCreate = "appointments.create"

	PermPrescriptionsCreate = "prescriptions.create"
	PermBillingView         = "billing.view"
	PermBillingManage       = "billing.manage"

	PermUsersView   = "users.view"
	PermUsersManage = "users.manage"

	PermRolesManage = "roles.manage"
	PermAuditView   = "audit.view"

	PermLicenseView   = "license.view"
	PermLicenseManage = "license.manage"
	PermLicenseKeys   = "license.keys"
)

// ReferencedPermissions lists every permission name used by route guards and services.
func ReferencedPermissions() []string {
	return []string{
		PermPatientsView, PermPatientsCreate, PermPatientsUpdate, PermPatientsDelete,
		PermAppointmentsView, PermAppointmentsCreate,
		PermPrescriptionsCreate, PermBillingView, PermBillingManage,
		PermUsersView, PermUsersManage,
		PermRolesManage, PermAuditView,
		PermLicenseView, PermLicenseManage, PermLicenseKeys,
	}
}

// NewPermission builds a Permission from its "module.action" name.
func NewPermission(name, description string) Permission {
	module, action, _ := strings.Cut(name, ".")
	return Permission{Name: name, Module: module, Action: action, Description: description}
}
