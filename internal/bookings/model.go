package bookings

import (
	"fmt"
	"time"
)

// Category selects which logical table an event targets. It is fixed by the
// inbound route before any lookup happens.
type Category int

const (
	CategoryBooking Category = iota + 1
	CategoryNDISReservation
	CategorySalesReservation
)

// String returns the category's stable name.
func (c Category) String() string {
	switch c {
	case CategoryBooking:
		return "booking"
	case CategoryNDISReservation:
		return "ndis_reservation"
	case CategorySalesReservation:
		return "sales_reservation"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ParseCategory maps a category name back onto the enum.
func ParseCategory(name string) (Category, bool) {
	for _, c := range Categories() {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}

// Categories lists every known category.
func Categories() []Category {
	return []Category{CategoryBooking, CategoryNDISReservation, CategorySalesReservation}
}

// Strategy carries the per-category behaviour of the reconciler.
type Strategy struct {
	Table string
	// Promotes marks the standard booking table: writing it converts
	// matching NOT_COMPLETE reservations.
	Promotes bool
	// Reservation tables hard delete on cancellation when no booking exists.
	DeletesOnCancel bool
}

var strategies = map[Category]Strategy{
	CategoryBooking:          {Table: "bookings", Promotes: true},
	CategoryNDISReservation:  {Table: "ndis_reservations", DeletesOnCancel: true},
	CategorySalesReservation: {Table: "sales_reservations", DeletesOnCancel: true},
}

// StrategyFor returns the strategy for c.
func StrategyFor(c Category) (Strategy, error) {
	s, ok := strategies[c]
	if !ok {
		return Strategy{}, fmt.Errorf("bookings: unknown category %d", int(c))
	}
	return s, nil
}

// Status is the lifecycle state of a record.
type Status string

const (
	StatusNotComplete Status = "NOT_COMPLETE"
	StatusCompleted   Status = "COMPLETED"
	StatusCancelled   Status = "CANCELLED"
	StatusConverted   Status = "CONVERTED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotComplete, StatusCompleted, StatusCancelled, StatusConverted:
		return true
	}
	return false
}

// Record is the canonical row shared by bookings, NDIS reservations and sales
// reservations. Money is integer cents. Nil pointers are NULL columns.
type Record struct {
	ExternalID int64  `json:"booking_id"`
	Status     Status `json:"booking_status"`

	CreatedAt            *time.Time `json:"created_at"`
	UpdatedAt            *time.Time `json:"updated_at"`
	ServiceDate          *time.Time `json:"service_date"`
	NextBookingDate      *time.Time `json:"next_booking_date"`
	CancellationDate     *time.Time `json:"cancellation_date"`
	CancellationDatetime *time.Time `json:"cancellation_datetime"`

	FinalPrice             *int64 `json:"final_price"`
	ExtrasPrice            *int64 `json:"extras_price"`
	Subtotal               *int64 `json:"subtotal"`
	Tip                    *int64 `json:"tip"`
	DiscountFromCode       *int64 `json:"discount_from_code"`
	GiftcardAmount         *int64 `json:"giftcard_amount"`
	TeamShare              *int64 `json:"team_share"`
	CancellationFee        *int64 `json:"cancellation_fee"`
	PriceAdjustment        *int64 `json:"price_adjustment"`
	PricingParametersPrice *int64 `json:"pricing_parameters_price"`

	ServiceTime            *string `json:"service_time"`
	Duration               *string `json:"duration"`
	PaymentMethod          *string `json:"payment_method"`
	Frequency              *string `json:"frequency"`
	DiscountCode           *string `json:"discount_code"`
	TeamAssignedNames      *string `json:"team_assigned_names"`
	TeamAssignedIDs        *string `json:"team_assigned_ids"`
	TeamShareSummary       *string `json:"team_share_summary"`
	TeamHasKey             *string `json:"team_has_key"`
	TeamRequested          *string `json:"team_requested"`
	CreatedBy              *string `json:"created_by"`
	ServiceCategory        *string `json:"service_category"`
	Service                *string `json:"service"`
	CustomerNotes          *string `json:"customer_notes"`
	StaffNotes             *string `json:"staff_notes"`
	CancellationType       *string `json:"cancellation_type"`
	CancelledBy            *string `json:"cancelled_by"`
	CancellationReason     *string `json:"cancellation_reason"`
	PriceAdjustmentComment *string `json:"price_adjustment_comment"`
	Extras                 *string `json:"extras"`
	Source                 *string `json:"source"`
	PricingParameters      *string `json:"pricing_parameters"`

	IsFirstRecurring        bool  `json:"is_first_recurring"`
	IsNewCustomer           bool  `json:"is_new_customer"`
	WasFirstRecurring       bool  `json:"was_first_recurring"`
	WasNewCustomer          bool  `json:"was_new_customer"`
	SMSNotificationsEnabled *bool `json:"sms_notifications_enabled"`

	CustomerExternalID *int64 `json:"customer_id"`

	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Name        *string `json:"name"`
	CompanyName *string `json:"company_name"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Address     *string `json:"address"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	Postcode    *string `json:"postcode"`
	Location    *string `json:"location"`

	CustomAttributes
}

// CustomAttributes are the destination columns for upstream custom form
// fields.
type CustomAttributes struct {
	LeadSource            *string `json:"lead_source"`
	BookedBy              *string `json:"booked_by"`
	InvoiceToBeEmailed    *bool   `json:"invoice_tobe_emailed"`
	InvoiceName           *string `json:"invoice_name"`
	NDISWhoPays           *string `json:"ndis_who_pays"`
	InvoiceEmail          *string `json:"invoice_email"`
	LastService           *string `json:"last_service"`
	InvoiceReference      *string `json:"invoice_reference"`
	InvoiceReferenceExtra *string `json:"invoice_reference_extra"`
	NDISReference         *string `json:"ndis_reference"`
	FlexibleDateTime      *string `json:"flexible_date_time"`
	HourlyNotes           *string `json:"hourly_notes"`
}

// Clone returns a copy that shares no pointers with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	for _, p := range c.timePtrs() {
		*p = cloneValue(*p)
	}
	for _, p := range c.moneyPtrs() {
		*p = cloneValue(*p)
	}
	for _, p := range c.stringPtrs() {
		*p = cloneValue(*p)
	}
	c.SMSNotificationsEnabled = cloneValue(c.SMSNotificationsEnabled)
	c.InvoiceToBeEmailed = cloneValue(c.InvoiceToBeEmailed)
	c.CustomerExternalID = cloneValue(c.CustomerExternalID)
	return &c
}

// Validate checks the invariants the store relies on.
func (r *Record) Validate() error {
	if r.ExternalID <= 0 {
		return fmt.Errorf("%w: external id must be positive", ErrDataConstraint)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrDataConstraint, r.Status)
	}
	for name, p := range r.moneyFields() {
		if p != nil && *p < 0 {
			return fmt.Errorf("%w: %s is negative", ErrDataConstraint, name)
		}
	}
	if r.Status != StatusCancelled && (r.CancellationDate != nil || r.CancellationDatetime != nil) {
		return fmt.Errorf("%w: cancellation date set on %s record", ErrDataConstraint, r.Status)
	}
	return nil
}

func (r *Record) moneyFields() map[string]*int64 {
	return map[string]*int64{
		"final_price":              r.FinalPrice,
		"extras_price":             r.ExtrasPrice,
		"subtotal":                 r.Subtotal,
		"tip":                      r.Tip,
		"discount_from_code":       r.DiscountFromCode,
		"giftcard_amount":          r.GiftcardAmount,
		"team_share":               r.TeamShare,
		"cancellation_fee":         r.CancellationFee,
		"price_adjustment":         r.PriceAdjustment,
		"pricing_parameters_price": r.PricingParametersPrice,
	}
}

func (r *Record) timePtrs() []**time.Time {
	return []**time.Time{&r.CreatedAt, &r.UpdatedAt, &r.ServiceDate, &r.NextBookingDate, &r.CancellationDate, &r.CancellationDatetime}
}

func (r *Record) moneyPtrs() []**int64 {
	return []**int64{
		&r.FinalPrice, &r.ExtrasPrice, &r.Subtotal, &r.Tip, &r.DiscountFromCode,
		&r.GiftcardAmount, &r.TeamShare, &r.CancellationFee, &r.PriceAdjustment, &r.PricingParametersPrice,
	}
}

func (r *Record) stringPtrs() []**string {
	return []**string{
		&r.ServiceTime, &r.Duration, &r.PaymentMethod, &r.Frequency, &r.DiscountCode,
		&r.TeamAssignedNames, &r.TeamAssignedIDs, &r.TeamShareSummary, &r.TeamHasKey, &r.TeamRequested,
		&r.CreatedBy, &r.ServiceCategory, &r.Service, &r.CustomerNotes, &r.StaffNotes,
		&r.CancellationType, &r.CancelledBy, &r.CancellationReason, &r.PriceAdjustmentComment,
		&r.Extras, &r.Source, &r.PricingParameters,
		&r.FirstName, &r.LastName, &r.Name, &r.CompanyName, &r.Email, &r.Phone,
		&r.Address, &r.City, &r.State, &r.Postcode, &r.Location,
		&r.LeadSource, &r.BookedBy, &r.InvoiceName, &r.NDISWhoPays, &r.InvoiceEmail,
		&r.LastService, &r.InvoiceReference, &r.InvoiceReferenceExtra, &r.NDISReference,
		&r.FlexibleDateTime, &r.HourlyNotes,
	}
}

// Customer is the canonical customer row.
type Customer struct {
	ExternalID  int64      `json:"customer_id"`
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	Title       *string    `json:"title"`
	FirstName   *string    `json:"first_name"`
	LastName    *string    `json:"last_name"`
	Name        *string    `json:"name"`
	Email       *string    `json:"email"`
	Phone       *string    `json:"phone"`
	Address     *string    `json:"address"`
	City        *string    `json:"city"`
	State       *string    `json:"state"`
	CompanyName *string    `json:"company_name"`
	Postcode    *string    `json:"postcode"`
	Location    *string    `json:"location"`
	Tags        *string    `json:"tags"`
	Notes       *string    `json:"notes"`
}

// Clone returns a copy that shares no pointers with c.
func (c *Customer) Clone() *Customer {
	if c == nil {
		return nil
	}
	out := *c
	out.CreatedAt = cloneValue(c.CreatedAt)
	out.UpdatedAt = cloneValue(c.UpdatedAt)
	for _, p := range []**string{
		&out.Title, &out.FirstName, &out.LastName, &out.Name, &out.Email, &out.Phone,
		&out.Address, &out.City, &out.State, &out.CompanyName, &out.Postcode,
		&out.Location, &out.Tags, &out.Notes,
	} {
		*p = cloneValue(*p)
	}
	return &out
}

func cloneValue[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// sameInstant compares two optional timestamps. Both must be present.
func sameInstant(a, b *time.Time) bool {
	return a != nil && b != nil && a.Equal(*b)
}
