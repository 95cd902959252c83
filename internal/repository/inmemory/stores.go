package inmemory

// Stores bundles one instance of every repository implementation
type Stores struct {
	Plans         *PlanStore
	Subscriptions *SubscriptionStore
	Entitlements  *EntitlementStore
	Invoices      *InvoiceStore
	RevenueShares *RevenueShareStore
}

// NewStores creates a fresh, empty set of stores
func NewStores() *Stores {
	return &Stores{
		Plans:         NewPlanStore(),
		Subscriptions: NewSubscriptionStore(),
		Entitlements:  NewEntitlementStore(),
		Invoices:      NewInvoiceStore(),
		RevenueShares: NewRevenueShareStore(),
	}
}
