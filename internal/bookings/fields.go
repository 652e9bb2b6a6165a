package bookings

import "time"

// Patch is one normalized field from an event. Set reports whether the event
// carried the key at all; a set patch with a nil Value writes NULL.
type Patch[T any] struct {
	Set   bool
	Value *T
}

// Value returns a set patch holding v.
func Value[T any](v T) Patch[T] {
	return Patch[T]{Set: true, Value: &v}
}

// Null returns a set patch that clears the column.
func Null[T any]() Patch[T] {
	return Patch[T]{Set: true}
}

// Of wraps an optional value: nil pointers become NULL.
func Of[T any](v *T) Patch[T] {
	return Patch[T]{Set: true, Value: cloneValue(v)}
}

func (p Patch[T]) applyTo(dst **T) {
	if p.Set {
		*dst = cloneValue(p.Value)
	}
}

// Fields is the typed field-set produced by normalization for one booking
// event. Zero-valued patches leave the record untouched.
type Fields struct {
	Status Patch[Status]

	CreatedAt            Patch[time.Time]
	UpdatedAt            Patch[time.Time]
	ServiceDate          Patch[time.Time]
	NextBookingDate      Patch[time.Time]
	CancellationDate     Patch[time.Time]
	CancellationDatetime Patch[time.Time]

	FinalPrice             Patch[int64]
	ExtrasPrice            Patch[int64]
	Subtotal               Patch[int64]
	Tip                    Patch[int64]
	DiscountFromCode       Patch[int64]
	GiftcardAmount         Patch[int64]
	TeamShare              Patch[int64]
	CancellationFee        Patch[int64]
	PriceAdjustment        Patch[int64]
	PricingParametersPrice Patch[int64]

	ServiceTime            Patch[string]
	Duration               Patch[string]
	PaymentMethod          Patch[string]
	Frequency              Patch[string]
	DiscountCode           Patch[string]
	TeamAssignedNames      Patch[string]
	TeamAssignedIDs        Patch[string]
	TeamShareSummary       Patch[string]
	TeamHasKey             Patch[string]
	TeamRequested          Patch[string]
	CreatedBy              Patch[string]
	ServiceCategory        Patch[string]
	Service                Patch[string]
	CustomerNotes          Patch[string]
	StaffNotes             Patch[string]
	CancellationType       Patch[string]
	CancelledBy            Patch[string]
	CancellationReason     Patch[string]
	PriceAdjustmentComment Patch[string]
	Extras                 Patch[string]
	Source                 Patch[string]
	PricingParameters      Patch[string]

	IsFirstRecurring        Patch[bool]
	IsNewCustomer           Patch[bool]
	SMSNotificationsEnabled Patch[bool]

	CustomerExternalID Patch[int64]

	FirstName   Patch[string]
	LastName    Patch[string]
	Name        Patch[string]
	CompanyName Patch[string]
	Email       Patch[string]
	Phone       Patch[string]
	Address     Patch[string]
	City        Patch[string]
	State       Patch[string]
	Postcode    Patch[string]
	Location    Patch[string]

	Custom CustomPatch
}

// CustomPatch holds the custom-field attribute patches.
type CustomPatch struct {
	LeadSource            Patch[string]
	BookedBy              Patch[string]
	InvoiceToBeEmailed    Patch[bool]
	InvoiceName           Patch[string]
	NDISWhoPays           Patch[string]
	InvoiceEmail          Patch[string]
	LastService           Patch[string]
	InvoiceReference      Patch[string]
	InvoiceReferenceExtra Patch[string]
	NDISReference         Patch[string]
	FlexibleDateTime      Patch[string]
	HourlyNotes           Patch[string]
}

// Apply writes every set patch onto r in one step.
func (f *Fields) Apply(r *Record) {
	f.applyStatus(r)

	f.CreatedAt.applyTo(&r.CreatedAt)
	f.UpdatedAt.applyTo(&r.UpdatedAt)
	f.ServiceDate.applyTo(&r.ServiceDate)
	f.NextBookingDate.applyTo(&r.NextBookingDate)
	f.CancellationDate.applyTo(&r.CancellationDate)
	f.CancellationDatetime.applyTo(&r.CancellationDatetime)

	f.FinalPrice.applyTo(&r.FinalPrice)
	f.ExtrasPrice.applyTo(&r.ExtrasPrice)
	f.Subtotal.applyTo(&r.Subtotal)
	f.Tip.applyTo(&r.Tip)
	f.DiscountFromCode.applyTo(&r.DiscountFromCode)
	f.GiftcardAmount.applyTo(&r.GiftcardAmount)
	f.TeamShare.applyTo(&r.TeamShare)
	f.CancellationFee.applyTo(&r.CancellationFee)
	f.PriceAdjustment.applyTo(&r.PriceAdjustment)
	f.PricingParametersPrice.applyTo(&r.PricingParametersPrice)

	f.ServiceTime.applyTo(&r.ServiceTime)
	f.Duration.applyTo(&r.Duration)
	f.PaymentMethod.applyTo(&r.PaymentMethod)
	f.Frequency.applyTo(&r.Frequency)
	f.DiscountCode.applyTo(&r.DiscountCode)
	f.TeamAssignedNames.applyTo(&r.TeamAssignedNames)
	f.TeamAssignedIDs.applyTo(&r.TeamAssignedIDs)
	f.TeamShareSummary.applyTo(&r.TeamShareSummary)
	f.TeamHasKey.applyTo(&r.TeamHasKey)
	f.TeamRequested.applyTo(&r.TeamRequested)
	f.CreatedBy.applyTo(&r.CreatedBy)
	f.ServiceCategory.applyTo(&r.ServiceCategory)
	f.Service.applyTo(&r.Service)
	f.CustomerNotes.applyTo(&r.CustomerNotes)
	f.StaffNotes.applyTo(&r.StaffNotes)
	f.CancellationType.applyTo(&r.CancellationType)
	f.CancelledBy.applyTo(&r.CancelledBy)
	f.CancellationReason.applyTo(&r.CancellationReason)
	f.PriceAdjustmentComment.applyTo(&r.PriceAdjustmentComment)
	f.Extras.applyTo(&r.Extras)
	f.Source.applyTo(&r.Source)
	f.PricingParameters.applyTo(&r.PricingParameters)

	if f.IsFirstRecurring.Set {
		r.IsFirstRecurring = f.IsFirstRecurring.Value != nil && *f.IsFirstRecurring.Value
		r.WasFirstRecurring = r.WasFirstRecurring || r.IsFirstRecurring
	}
	if f.IsNewCustomer.Set {
		r.IsNewCustomer = f.IsNewCustomer.Value != nil && *f.IsNewCustomer.Value
		r.WasNewCustomer = r.WasNewCustomer || r.IsNewCustomer
	}
	f.SMSNotificationsEnabled.applyTo(&r.SMSNotificationsEnabled)
	f.CustomerExternalID.applyTo(&r.CustomerExternalID)

	f.FirstName.applyTo(&r.FirstName)
	f.LastName.applyTo(&r.LastName)
	f.Name.applyTo(&r.Name)
	f.CompanyName.applyTo(&r.CompanyName)
	f.Email.applyTo(&r.Email)
	f.Phone.applyTo(&r.Phone)
	f.Address.applyTo(&r.Address)
	f.City.applyTo(&r.City)
	f.State.applyTo(&r.State)
	f.Postcode.applyTo(&r.Postcode)
	f.Location.applyTo(&r.Location)

	c := &f.Custom
	c.LeadSource.applyTo(&r.LeadSource)
	c.BookedBy.applyTo(&r.BookedBy)
	c.InvoiceToBeEmailed.applyTo(&r.InvoiceToBeEmailed)
	c.InvoiceName.applyTo(&r.InvoiceName)
	c.NDISWhoPays.applyTo(&r.NDISWhoPays)
	c.InvoiceEmail.applyTo(&r.InvoiceEmail)
	c.LastService.applyTo(&r.LastService)
	c.InvoiceReference.applyTo(&r.InvoiceReference)
	c.InvoiceReferenceExtra.applyTo(&r.InvoiceReferenceExtra)
	c.NDISReference.applyTo(&r.NDISReference)
	c.FlexibleDateTime.applyTo(&r.FlexibleDateTime)
	c.HourlyNotes.applyTo(&r.HourlyNotes)

	clearStaleCancellation(r)
}

// ApplyCancellation writes only the cancellation subset of f onto r.
func (f *Fields) ApplyCancellation(r *Record) {
	f.applyStatus(r)
	f.CancellationDate.applyTo(&r.CancellationDate)
	f.CancellationDatetime.applyTo(&r.CancellationDatetime)
	f.CancellationType.applyTo(&r.CancellationType)
	f.CancelledBy.applyTo(&r.CancelledBy)
	f.CancellationReason.applyTo(&r.CancellationReason)
	f.CancellationFee.applyTo(&r.CancellationFee)
	clearStaleCancellation(r)
}

func (f *Fields) applyStatus(r *Record) {
	// CONVERTED is terminal.
	if !f.Status.Set || f.Status.Value == nil || r.Status == StatusConverted {
		return
	}
	r.Status = *f.Status.Value
}

func clearStaleCancellation(r *Record) {
	if r.Status != StatusCancelled {
		r.CancellationDate = nil
		r.CancellationDatetime = nil
	}
}

// CustomerFields is the typed field-set for a customer payload.
type CustomerFields struct {
	ExternalID int64

	CreatedAt   Patch[time.Time]
	UpdatedAt   Patch[time.Time]
	Title       Patch[string]
	FirstName   Patch[string]
	LastName    Patch[string]
	Name        Patch[string]
	Email       Patch[string]
	Phone       Patch[string]
	Address     Patch[string]
	City        Patch[string]
	State       Patch[string]
	CompanyName Patch[string]
	Postcode    Patch[string]
	Location    Patch[string]
	Tags        Patch[string]
	Notes       Patch[string]
}

// Apply writes every set patch onto c.
func (f *CustomerFields) Apply(c *Customer) {
	f.CreatedAt.applyTo(&c.CreatedAt)
	f.UpdatedAt.applyTo(&c.UpdatedAt)
	f.Title.applyTo(&c.Title)
	f.FirstName.applyTo(&c.FirstName)
	f.LastName.applyTo(&c.LastName)
	f.Name.applyTo(&c.Name)
	f.Email.applyTo(&c.Email)
	f.Phone.applyTo(&c.Phone)
	f.Address.applyTo(&c.Address)
	f.City.applyTo(&c.City)
	f.State.applyTo(&c.State)
	f.CompanyName.applyTo(&c.CompanyName)
	f.Postcode.applyTo(&c.Postcode)
	f.Location.applyTo(&c.Location)
	f.Tags.applyTo(&c.Tags)
	f.Notes.applyTo(&c.Notes)
}
