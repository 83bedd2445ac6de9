package platform

import (
	"fmt"
	"slices"
	"sort"

	"emoney-portal/internal/status"
)

// Tenants allowed to open a screen.
const (
	TenantPrincipal      = "principal"
	TenantCommunityOwner = "co"
)

// Resource describes one list screen of the dashboard and the platform path behind it.
type Resource struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Tenants   []string `json:"tenants"`
	Filters   []string `json:"filters"`
	Sortable  []string `json:"sortable"`
	DateRange bool     `json:"date_range"`
	Mutable   bool     `json:"mutable"`
	Export    string   `json:"export,omitempty"`
}

func (r Resource) AllowsTenant(tenant string) bool {
	return slices.Contains(r.Tenants, tenant)
}

func (r Resource) AllowsFilter(name string) bool {
	return slices.Contains(r.Filters, name)
}

func (r Resource) AllowsSort(field string) bool {
	return slices.Contains(r.Sortable, field)
}

var both = []string{TenantPrincipal, TenantCommunityOwner}

var resources = map[string]Resource{
	"users": {
		Path: PathUser, Tenants: both, Mutable: true,
		Filters:  []string{"username", "email", "status", "roleId"},
		Sortable: []string{"username", "createdAt"},
	},
	"roles": {
		Path: PathRole, Tenants: []string{TenantPrincipal}, Mutable: true,
		Filters:  []string{"name"},
		Sortable: []string{"name", "createdAt"},
	},
	"merchants": {
		Path: PathMerchant, Tenants: both, Mutable: true,
		Filters:  []string{"merchantCode", "name", "status"},
		Sortable: []string{"merchantCode", "name", "createdAt"},
	},
	"members": {
		Path: PathMember, Tenants: []string{TenantCommunityOwner},
		Filters:  []string{"phoneNumber", "name", "status"},
		Sortable: []string{"name", "createdAt"},
	},
	"community-owners": {
		Path: PathCommunityOwner, Tenants: []string{TenantPrincipal}, Mutable: true,
		Filters:  []string{"code", "name"},
		Sortable: []string{"code", "name"},
	},
	"account-rules": {
		Path: PathAccountRule, Tenants: []string{TenantPrincipal}, Mutable: true,
		Filters:  []string{"accountType", "status"},
		Sortable: []string{"accountType", "updatedAt"},
	},
	"holidays": {
		Path: PathHoliday, Tenants: []string{TenantPrincipal}, Mutable: true, DateRange: true,
		Filters:  []string{"type"},
		Sortable: []string{"date"},
	},
	"transaction-types": {
		Path: PathTransactionType, Tenants: []string{TenantPrincipal}, Mutable: true,
		Filters:  []string{"code", "category"},
		Sortable: []string{"code", "name"},
	},
	"email-templates": {
		Path: PathEmailContent, Tenants: both, Mutable: true,
		Filters:  []string{"event", "language"},
		Sortable: []string{"event", "updatedAt"},
	},
	"sms-templates": {
		Path: PathSMSContent, Tenants: both, Mutable: true,
		Filters:  []string{"event", "language"},
		Sortable: []string{"event", "updatedAt"},
	},
	"transaction-report": {
		Path: PathReportTransaction, Tenants: both, DateRange: true,
		Filters:  []string{"transactionType", "status", "merchantCode", "referenceNumber"},
		Sortable: []string{"transactionDate", "amount"},
		Export:   PathReportTransaction + "/export",
	},
	"settlement-report": {
		Path: PathReportSettlement, Tenants: both, DateRange: true,
		Filters:  []string{"merchantCode", "status"},
		Sortable: []string{"settlementDate", "amount"},
		Export:   PathReportSettlement + "/export",
	},
	"balance-report": {
		Path: PathReportBalance, Tenants: []string{TenantPrincipal}, DateRange: true,
		Filters:  []string{"accountType"},
		Sortable: []string{"balanceDate"},
		Export:   PathReportBalance + "/export",
	},
}

// LookupResource returns the catalog entry for name.
func LookupResource(name string) (Resource, error) {
	r, ok := resources[name]
	if !ok {
		return Resource{}, fmt.Errorf("%w: %s", status.ErrUnknownResource, name)
	}
	r.Name = name
	return r, nil
}

// Catalog lists the resources visible to tenant, sorted by name.
func Catalog(tenant string) []Resource {
	out := make([]Resource, 0, len(resources))
	for name, r := range resources {
		if tenant != "" && !r.AllowsTenant(tenant) {
			continue
		}
		r.Name = name
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
