package billing

// TenantConfig maps a tenant's internal product codes to the billing
// provider's subscription item identifiers. It is read-only from the
// metering pipeline's perspective; lifecycle is owned by tenant onboarding.
// Only tenants present in the configuration index are visited by either
// engine - a tenant absent from the index is silently skipped.
type TenantConfig struct {
	TenantID          string
	SubscriptionItems map[ProductCode]string
}

// SubscriptionItem resolves the billing subscription item for a product
// code. The second return is false when the tenant has no mapping for it.
func (c TenantConfig) SubscriptionItem(code ProductCode) (string, bool) {
	item, ok := c.SubscriptionItems[code]
	if !ok || item == "" {
		return "", false
	}
	return item, true
}
