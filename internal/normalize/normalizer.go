package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

// LocationResolver maps a postcode onto a location name.
type LocationResolver interface {
	Resolve(ctx context.Context, postcode string) (string, bool, error)
}

// Options configures a Normalizer.
type Options struct {
	// Location is the zone for naive datetimes.
	Location *time.Location
	// CustomFields maps a custom attribute name (lead_source, booked_by, ...)
	// to the upstream custom field id.
	CustomFields map[string]string
	Locations    LocationResolver
	Logger       *logging.Logger
	Now          func() time.Time
}

// Normalizer turns decoded events into typed field-sets. It never touches
// the store; the only I/O is the optional location lookup.
type Normalizer struct {
	loc       *time.Location
	custom    map[string]string
	locations LocationResolver
	logger    *logging.Logger
	now       func() time.Time
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Normalizer{
		loc:       opts.Location,
		custom:    opts.CustomFields,
		locations: opts.Locations,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

type stringField struct {
	key   string
	width int // 0 is unbounded
	dst   func(*bookings.Fields) *bookings.Patch[string]
}

var bookingStrings = []stringField{
	{"service_time", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.ServiceTime }},
	{"duration", 32, func(f *bookings.Fields) *bookings.Patch[string] { return &f.Duration }},
	{"payment_method", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.PaymentMethod }},
	{"frequency", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.Frequency }},
	{"discount_code", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.DiscountCode }},
	{"team_share_total", 128, func(f *bookings.Fields) *bookings.Patch[string] { return &f.TeamShareSummary }},
	{"team_has_key", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.TeamHasKey }},
	{"team_requested", 80, func(f *bookings.Fields) *bookings.Patch[string] { return &f.TeamRequested }},
	{"created_by", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.CreatedBy }},
	{"service_category", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.ServiceCategory }},
	{"service", 128, func(f *bookings.Fields) *bookings.Patch[string] { return &f.Service }},
	{"customer_notes", 0, func(f *bookings.Fields) *bookings.Patch[string] { return &f.CustomerNotes }},
	{"staff_notes", 0, func(f *bookings.Fields) *bookings.Patch[string] { return &f.StaffNotes }},
	{"cancellation_type", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.CancellationType }},
	{"cancelled_by", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.CancelledBy }},
	{"cancellation_reason", 0, func(f *bookings.Fields) *bookings.Patch[string] { return &f.CancellationReason }},
	{"price_adjustment_comment", 0, func(f *bookings.Fields) *bookings.Patch[string] { return &f.PriceAdjustmentComment }},
	{"extras", 0, func(f *bookings.Fields) *bookings.Patch[string] { return &f.Extras }},
	{"source", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.Source }},
	{"address", 128, func(f *bookings.Fields) *bookings.Patch[string] { return &f.Address }},
	{"first_name", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.FirstName }},
	{"last_name", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.LastName }},
	{"name", 128, func(f *bookings.Fields) *bookings.Patch[string] { return &f.Name }},
	{"company_name", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.CompanyName }},
	{"email", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.Email }},
	{"phone", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.Phone }},
	{"city", 64, func(f *bookings.Fields) *bookings.Patch[string] { return &f.City }},
	{"state", 32, func(f *bookings.Fields) *bookings.Patch[string] { return &f.State }},
}

type moneyField struct {
	key string
	dst func(*bookings.Fields) *bookings.Patch[int64]
}

var bookingMoney = []moneyField{
	{"final_price", func(f *bookings.Fields) *bookings.Patch[int64] { return &f.FinalPrice }},
	{"extras_price", func(f *bookings.Fields) *bookings.Patch[int64] { return &f.ExtrasPrice }},
	{"subtotal", func(f *bookings.Fields) *bookings.Patch[int64] { return &f.Subtotal }},
	{"tip", func(f *bookings.Fields) *bookings.Patch[int64] { return &f.Tip }},
	{"discount_amount", func(f *bookings.Fields) *bookings.Patch[int64] { return &f.DiscountFromCode }},
	{"giftcard_amount", func(f *bookings.Fields) *bookings.Patch[int64] { return &f.GiftcardAmount }},
	{"cancellation_fee", func(f *bookings.Fields) *bookings.Patch[int64] { return &f.CancellationFee }},
	{"price_adjustment", func(f *bookings.Fields) *bookings.Patch[int64] { return &f.PriceAdjustment }},
	{"pricing_parameters_price", func(f *bookings.Fields) *bookings.Patch[int64] { return &f.PricingParametersPrice }},
}

type customString struct {
	attr  string
	width int
	dst   func(*bookings.CustomPatch) *bookings.Patch[string]
}

var customStrings = []customString{
	{"lead_source", 64, func(c *bookings.CustomPatch) *bookings.Patch[string] { return &c.LeadSource }},
	{"booked_by", 64, func(c *bookings.CustomPatch) *bookings.Patch[string] { return &c.BookedBy }},
	{"invoice_name", 128, func(c *bookings.CustomPatch) *bookings.Patch[string] { return &c.InvoiceName }},
	{"ndis_who_pays", 64, func(c *bookings.CustomPatch) *bookings.Patch[string] { return &c.NDISWhoPays }},
	{"invoice_email", 64, func(c *bookings.CustomPatch) *bookings.Patch[string] { return &c.InvoiceEmail }},
	{"last_service", 80, func(c *bookings.CustomPatch) *bookings.Patch[string] { return &c.LastService }},
	{"invoice_reference", 80, func(c *bookings.CustomPatch) *bookings.Patch[string] { return &c.InvoiceReference }},
	{"invoice_reference_extra", 80, func(c *bookings.CustomPatch) *bookings.Patch[string] { return &c.InvoiceReferenceExtra }},
	{"ndis_reference", 64, func(c *bookings.CustomPatch) *bookings.Patch[string] { return &c.NDISReference }},
	{"flexible_date_time", 64, func(c *bookings.CustomPatch) *bookings.Patch[string] { return &c.FlexibleDateTime }},
	{"hourly_notes", 0, func(c *bookings.CustomPatch) *bookings.Patch[string] { return &c.HourlyNotes }},
}

// Booking normalizes a booking or reservation event. The customer field-set
// is nil when the event kind does not write customers or the payload has no
// usable nested customer.
func (n *Normalizer) Booking(ctx context.Context, ev *Event) (*bookings.Fields, *bookings.CustomerFields, error) {
	r := n.reader(ev.Raw, ev.ExternalID)
	f := &bookings.Fields{}

	if status, forced := ev.Kind.Status(); forced {
		f.Status = bookings.Value(status)
	} else if p := r.str("booking_status", 64); p.Set && p.Value != nil {
		status := bookings.Status(strings.ToUpper(strings.TrimSpace(*p.Value)))
		if !status.Valid() {
			return nil, nil, &DataError{Field: "booking_status", Err: fmt.Errorf("unknown status %q", *p.Value)}
		}
		f.Status = bookings.Value(status)
	}
	if ev.Kind.IsCancellation() {
		f.CancellationDatetime = bookings.Value(n.now().UTC())
	}

	f.CreatedAt = r.datetime("created_at")
	f.UpdatedAt = r.datetime("updated_at")
	f.ServiceDate = r.date("service_date")
	f.NextBookingDate = r.datetime("next_booking_date")
	f.CancellationDate = r.date("cancellation_date")

	for _, s := range bookingStrings {
		*s.dst(f) = r.str(s.key, s.width)
	}
	for _, m := range bookingMoney {
		*m.dst(f) = r.money(m.key)
	}

	if p := r.str("pricing_parameters", 64); p.Set && p.Value != nil {
		f.PricingParameters = bookings.Value(strings.ReplaceAll(*p.Value, "<br/>", ", "))
	} else {
		f.PricingParameters = p
	}

	if err := n.teams(r, f); err != nil {
		return nil, nil, err
	}

	f.IsFirstRecurring = bookings.Value(ParseBool(ev.Raw["is_first_recurring"]))
	f.IsNewCustomer = bookings.Value(ParseBool(ev.Raw["is_new_customer"]))
	f.SMSNotificationsEnabled = r.optBool("sms_notifications_enabled")

	f.Postcode = r.postcode()
	f.Location = n.location(ctx, r, f.Postcode)

	if cf, ok := ev.Raw["custom_fields"].(map[string]any); ok {
		n.customFields(r, cf, &f.Custom)
	}

	var customer *bookings.CustomerFields
	if raw, ok := ev.Customer(); ok {
		id, err := ParseID(raw["id"])
		switch {
		case err != nil || id <= 0:
			n.logger.Warn("booking has no usable customer id", "record_id", ev.ExternalID, "error", err)
		default:
			f.CustomerExternalID = bookings.Value(id)
			if ev.Kind.UpsertsCustomer() {
				customer = n.Customer(ctx, raw, id)
			}
		}
	}
	return f, customer, nil
}

func (n *Normalizer) teams(r *reader, f *bookings.Fields) error {
	if v, ok := r.raw["team_details"]; ok {
		s, _ := asString(v)
		names, err := ParseTeamList(s, "title")
		if err != nil {
			return &DataError{Field: "team_details", Err: err}
		}
		ids, err := ParseTeamList(s, "id")
		if err != nil {
			return &DataError{Field: "team_details", Err: err}
		}
		f.TeamAssignedNames = r.text("team_details", names, 80)
		f.TeamAssignedIDs = r.text("team_details", ids, 80)
	}

	if v, ok := r.raw["team_share_amount"]; ok {
		switch s, present := asString(v); {
		case !present || strings.TrimSpace(s) == "":
			f.TeamShare = bookings.Null[int64]()
		default:
			cents, ok, err := ParseTeamShare(s)
			switch {
			case err != nil:
				r.logError("team_share_amount", s, err)
				f.TeamShare = bookings.Null[int64]()
			case !ok:
				n.logger.Info("multi-team share skipped", "record_id", r.id, "value", s)
			case cents < 0:
				r.logError("team_share_amount", s, errNegative)
				f.TeamShare = bookings.Null[int64]()
			default:
				f.TeamShare = bookings.Value(cents)
			}
		}
	}
	return nil
}

func (n *Normalizer) customFields(r *reader, cf map[string]any, dst *bookings.CustomPatch) {
	sub := &reader{n: n, raw: cf, id: r.id}
	for _, c := range customStrings {
		id, ok := n.custom[c.attr]
		if !ok {
			continue
		}
		p := sub.str(id, c.width)
		if p.Set {
			*c.dst(dst) = p
		}
	}
	if id, ok := n.custom["invoice_tobe_emailed"]; ok {
		dst.InvoiceToBeEmailed = sub.optBool(id)
	}
}

// Customer normalizes a customer object, either nested in a booking or
// delivered on its own.
func (n *Normalizer) Customer(ctx context.Context, raw map[string]any, id int64) *bookings.CustomerFields {
	r := n.reader(raw, id)
	c := &bookings.CustomerFields{
		ExternalID:  id,
		CreatedAt:   r.datetime("created_at"),
		UpdatedAt:   r.datetime("updated_at"),
		Title:       r.str("title", 16),
		FirstName:   r.str("first_name", 64),
		LastName:    r.str("last_name", 64),
		Name:        r.str("name", 128),
		Email:       r.str("email", 64),
		Phone:       r.str("phone", 64),
		Address:     r.str("address", 128),
		City:        r.str("city", 64),
		State:       r.str("state", 32),
		CompanyName: r.str("company_name", 64),
		Notes:       r.str("notes", 0),
		Tags:        r.str("tags", 256),
	}
	c.Postcode = r.postcode()
	c.Location = n.location(ctx, r, c.Postcode)
	return c
}

// location keeps a payload location and otherwise resolves the postcode.
// Lookup failures leave the field untouched.
func (n *Normalizer) location(ctx context.Context, r *reader, postcode bookings.Patch[string]) bookings.Patch[string] {
	if s, ok := asString(r.raw["location"]); ok && strings.TrimSpace(s) != "" {
		return r.text("location", s, 64)
	}
	if n.locations == nil || postcode.Value == nil {
		return bookings.Patch[string]{}
	}
	name, found, err := n.locations.Resolve(ctx, *postcode.Value)
	if err != nil {
		n.logger.Warn("location lookup failed", "record_id", r.id, "postcode", *postcode.Value, "error", err)
		return bookings.Patch[string]{}
	}
	if !found {
		return bookings.Patch[string]{}
	}
	return r.text("location", name, 64)
}

var errNegative = errors.New("negative amount")

// reader extracts patches from one raw object. Absent keys give unset
// patches; explicit nulls and unparseable values give NULL patches.
type reader struct {
	n   *Normalizer
	raw map[string]any
	id  int64
}

func (n *Normalizer) reader(raw map[string]any, id int64) *reader {
	return &reader{n: n, raw: raw, id: id}
}

func (r *reader) logError(field string, value any, err error) {
	r.n.logger.Error("field value dropped", "record_id", r.id, "field", field, "value", value, "error", err)
}

func (r *reader) text(field, value string, width int) bookings.Patch[string] {
	out, cut := TruncateString(value, width)
	if cut {
		r.n.logger.Warn("field truncated", "record_id", r.id, "field", field, "width", width, "length", len([]rune(value)))
	}
	return bookings.Value(out)
}

func (r *reader) str(key string, width int) bookings.Patch[string] {
	v, ok := r.raw[key]
	if !ok {
		return bookings.Patch[string]{}
	}
	s, present := asString(v)
	if !present {
		return bookings.Null[string]()
	}
	return r.text(key, s, width)
}

func (r *reader) timeValue(key string, parse func(string, *time.Location) (time.Time, error)) bookings.Patch[time.Time] {
	v, ok := r.raw[key]
	if !ok {
		return bookings.Patch[time.Time]{}
	}
	s, present := asString(v)
	if !present || strings.TrimSpace(s) == "" {
		return bookings.Null[time.Time]()
	}
	t, err := parse(s, r.n.loc)
	if err != nil {
		r.logError(key, s, err)
		return bookings.Null[time.Time]()
	}
	return bookings.Value(t)
}

func (r *reader) datetime(key string) bookings.Patch[time.Time] {
	return r.timeValue(key, ParseDateTime)
}

func (r *reader) date(key string) bookings.Patch[time.Time] {
	return r.timeValue(key, ParseDate)
}

func (r *reader) money(key string) bookings.Patch[int64] {
	v, ok := r.raw[key]
	if !ok {
		return bookings.Patch[int64]{}
	}
	cents, err := DollarStringToCents(v)
	switch {
	case errors.Is(err, errEmpty):
		return bookings.Null[int64]()
	case err != nil:
		r.logError(key, v, err)
		return bookings.Null[int64]()
	case cents < 0:
		r.logError(key, v, errNegative)
		return bookings.Null[int64]()
	}
	return bookings.Value(cents)
}

func (r *reader) optBool(key string) bookings.Patch[bool] {
	v, ok := r.raw[key]
	if !ok {
		return bookings.Patch[bool]{}
	}
	if v == nil {
		return bookings.Null[bool]()
	}
	return bookings.Value(ParseBool(v))
}

func (r *reader) postcode() bookings.Patch[string] {
	v, ok := r.raw["zip"]
	if !ok {
		return bookings.Patch[string]{}
	}
	s, present := asString(v)
	if !present || strings.TrimSpace(s) == "" {
		return bookings.Null[string]()
	}
	code, valid := CheckPostcode(s)
	if !valid {
		r.logError("zip", s, errors.New("postcode is not numeric"))
		return bookings.Null[string]()
	}
	return r.text("zip", code, 16)
}
