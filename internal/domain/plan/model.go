package plan

import (
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
	"github.com/shopspring/decimal"
)

// Plan is an immutable-per-version catalog entry owned by a vendor.
// Subscriptions reference a plan id + version and never mutate it; pricing
// changes create a new version.
type Plan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	VendorID    string `json:"vendor_id"`
	Version     int    `json:"version"`

	Price       PriceConfig         `json:"price"`
	BillingType types.BillingType   `json:"billing_type"`
	Terms       types.PaymentTerms  `json:"terms,omitempty"`

	// PlatformFeePercent is the platform's cut of every settled gross amount
	PlatformFeePercent decimal.Decimal `json:"platform_fee_percent"`

	// TrialConfigs are keyed by trial intent; DefaultTrialIntent selects the
	// config used when the caller does not name one
	TrialConfigs       map[string]TrialConfig `json:"trial_configs,omitempty"`
	DefaultTrialIntent string                 `json:"default_trial_intent,omitempty"`

	Entitlements []EntitlementDefinition `json:"entitlements,omitempty"`

	// Metadata recognized keys: "display_group", "upgrade_path", "catalog_tag"
	Metadata map[string]string `json:"metadata,omitempty"`

	types.BaseModel
}

// PriceConfig is the pricing configuration for one plan version
type PriceConfig struct {
	Model              types.PricingModel  `json:"model"`
	Currency           string              `json:"currency"`
	Amount             decimal.Decimal     `json:"amount"`
	PricePerSeat       decimal.Decimal     `json:"price_per_seat"`
	IncludedSeats      int                 `json:"included_seats"`
	PricePerUnit       decimal.Decimal     `json:"price_per_unit"`
	IncludedUnits      decimal.Decimal     `json:"included_units"`
	BillingPeriod      types.BillingPeriod `json:"billing_period"`
	BillingPeriodCount int                 `json:"billing_period_count"`

	// VolumeDiscounts apply to per_seat pricing; the steepest applicable tier
	// wins
	VolumeDiscounts []VolumeDiscountTier `json:"volume_discounts,omitempty"`

	// Tiers apply to tiered pricing as graduated seat bands
	Tiers []PriceTier `json:"tiers,omitempty"`
}

// VolumeDiscountTier discounts the whole per-seat amount once the seat count
// reaches MinQuantity
type VolumeDiscountTier struct {
	MinQuantity     int             `json:"min_quantity"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// PriceTier is one graduated band of tiered pricing. UpTo is nil for the
// final unbounded band.
type PriceTier struct {
	UpTo       *int64          `json:"up_to,omitempty"`
	UnitAmount decimal.Decimal `json:"unit_amount"`
}

// TrialConfig describes a trial keyed by intent. EntitlementKeys, when set,
// restricts the trial to a subset of the plan's entitlements.
type TrialConfig struct {
	Intent          string   `json:"intent"`
	DurationDays    int      `json:"duration_days"`
	EntitlementKeys []string `json:"entitlement_keys,omitempty"`
	SeatLimit       int      `json:"seat_limit,omitempty"`
}

// EntitlementDefinition is a capability the plan grants, optionally gated by
// an external credential
type EntitlementDefinition struct {
	Key                string                `json:"key"`
	Type               types.EntitlementType `json:"type"`
	Value              string                `json:"value,omitempty"`
	RequiredCredential types.CredentialType  `json:"required_credential,omitempty"`
	MustBeValid        bool                  `json:"must_be_valid,omitempty"`
}

// TrialConfigFor resolves the trial config for an intent, falling back to the
// plan default. Returns nil when the plan offers no matching trial.
func (p *Plan) TrialConfigFor(intent string) *TrialConfig {
	if len(p.TrialConfigs) == 0 {
		return nil
	}
	if intent == "" {
		intent = p.DefaultTrialIntent
	}
	if cfg, ok := p.TrialConfigs[intent]; ok {
		return &cfg
	}
	if cfg, ok := p.TrialConfigs[p.DefaultTrialIntent]; ok {
		return &cfg
	}
	return nil
}

// TrialEntitlements returns the entitlement definitions in scope for a trial
// config. An empty key list means the full plan set.
func (p *Plan) TrialEntitlements(cfg *TrialConfig) []EntitlementDefinition {
	if cfg == nil || len(cfg.EntitlementKeys) == 0 {
		return p.Entitlements
	}
	keys := make(map[string]struct{}, len(cfg.EntitlementKeys))
	for _, k := range cfg.EntitlementKeys {
		keys[k] = struct{}{}
	}
	var out []EntitlementDefinition
	for _, def := range p.Entitlements {
		if _, ok := keys[def.Key]; ok {
			out = append(out, def)
		}
	}
	return out
}

// EntitlementByKey returns the definition with the given key, or nil
func (p *Plan) EntitlementByKey(key string) *EntitlementDefinition {
	for i := range p.Entitlements {
		if p.Entitlements[i].Key == key {
			return &p.Entitlements[i]
		}
	}
	return nil
}

// Validate validates the plan
func (p *Plan) Validate() error {
	if p.Name == "" {
		return ierr.NewError("plan name is required").
			WithHint("Provide a plan name").
			Mark(ierr.ErrValidation)
	}
	if p.VendorID == "" {
		return ierr.NewError("vendor_id is required").
			WithHint("Provide the owning vendor id").
			Mark(ierr.ErrValidation)
	}
	if err := p.Price.Validate(); err != nil {
		return err
	}
	if err := p.BillingType.Validate(); err != nil {
		return err
	}
	if p.BillingType == types.BillingTypeInvoice {
		if err := p.Terms.Validate(); err != nil {
			return err
		}
	}
	if p.PlatformFeePercent.IsNegative() || p.PlatformFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		return ierr.NewError("platform_fee_percent must be between 0 and 100").
			WithReportableDetails(map[string]any{"platform_fee_percent": p.PlatformFeePercent.String()}).
			Mark(ierr.ErrValidation)
	}
	for _, def := range p.Entitlements {
		if def.Key == "" {
			return ierr.NewError("entitlement key is required").
				WithHint("Every entitlement definition needs a key").
				Mark(ierr.ErrValidation)
		}
		if err := def.Type.Validate(); err != nil {
			return err
		}
	}
	for intent, cfg := range p.TrialConfigs {
		if cfg.DurationDays <= 0 {
			return ierr.NewErrorf("trial duration must be positive for intent %s", intent).
				WithHint("Set duration_days to 1 or more").
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

// Validate validates the price configuration
func (c *PriceConfig) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if len(c.Currency) != 3 {
		return ierr.NewError("currency must be a 3-letter code").
			WithHint("Provide a valid 3-letter currency code (e.g. USD)").
			WithReportableDetails(map[string]any{"currency": c.Currency}).
			Mark(ierr.ErrValidation)
	}
	if err := c.BillingPeriod.Validate(); err != nil {
		return err
	}
	if c.BillingPeriodCount < 1 {
		return ierr.NewError("billing_period_count must be greater than 0").
			WithHint("Set billing_period_count to 1 or more").
			WithReportableDetails(map[string]any{"billing_period_count": c.BillingPeriodCount}).
			Mark(ierr.ErrValidation)
	}
	if c.Amount.IsNegative() || c.PricePerSeat.IsNegative() || c.PricePerUnit.IsNegative() {
		return ierr.NewError("amounts cannot be negative").
			WithHint("Provide non-negative amounts").
			Mark(ierr.ErrValidation)
	}
	if c.IncludedSeats < 0 || c.IncludedUnits.IsNegative() {
		return ierr.NewError("included allotments cannot be negative").
			Mark(ierr.ErrValidation)
	}
	for _, tier := range c.VolumeDiscounts {
		if tier.MinQuantity < 1 {
			return ierr.NewError("volume discount min_quantity must be at least 1").
				Mark(ierr.ErrValidation)
		}
		if tier.DiscountPercent.IsNegative() || tier.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
			return ierr.NewError("volume discount percent must be between 0 and 100").
				WithReportableDetails(map[string]any{"discount_percent": tier.DiscountPercent.String()}).
				Mark(ierr.ErrValidation)
		}
	}
	if c.Model == types.PricingModelTiered && len(c.Tiers) == 0 {
		return ierr.NewError("tiered pricing requires at least one tier").
			WithHint("Add price tiers to the plan").
			Mark(ierr.ErrValidation)
	}
	return nil
}
